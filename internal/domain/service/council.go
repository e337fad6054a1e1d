package service

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/llm-council/llm-council/gateway/internal/domain/entity"
	"go.uber.org/zap"
)

// CouncilConfig is the roster snapshot a run operates on. It is captured
// once when the run starts and used unchanged through all three stages, so a
// concurrent roster update never splits a deliberation across two rosters.
type CouncilConfig struct {
	Members  []string
	Chairman string
}

// ConfigProvider hands the engine the current roster. Implemented by the
// configuration store; the engine never reads environment or files itself.
type ConfigProvider interface {
	CouncilConfig() CouncilConfig
}

// CouncilEngine runs the three-stage deliberation:
//
//	Stage 1  parallel fan-out of the wrapped user query to every member
//	Stage 2  blind peer ranking of anonymized Stage 1 replies
//	Stage 3  chairman synthesis with self-reported metadata
//
// Individual member failures are absorbed stage-locally; the engine degrades
// rather than aborts, except when Stage 1 produces nothing at all.
type CouncilEngine struct {
	client       ModelClient
	config       ConfigProvider
	titleTimeout time.Duration
	logger       *zap.Logger
}

// NewCouncilEngine wires the engine to a backend client and a roster source.
func NewCouncilEngine(client ModelClient, config ConfigProvider, logger *zap.Logger) *CouncilEngine {
	return &CouncilEngine{
		client:       client,
		config:       config,
		titleTimeout: 30 * time.Second,
		logger:       logger.With(zap.String("component", "council-engine")),
	}
}

// Run executes the full deliberation for one user query. It always returns a
// result: when the whole council fails the synthesis carries the "error"
// model id, and when only the chairman fails the synthesis carries the fixed
// degraded content. Callers distinguish via Stage3.IsError().
func (e *CouncilEngine) Run(ctx context.Context, userQuery string) *entity.CouncilResult {
	cfg := e.config.CouncilConfig()
	rs := newRunState(len(cfg.Members), e.logger)

	if len(cfg.Members) == 0 {
		e.logger.Error("No council models configured")
		_ = rs.transition(StateErrorEnd)
		return errorResult()
	}

	// Stage 1
	_ = rs.transition(StateStage1)
	stage1 := e.stage1CollectResponses(ctx, cfg.Members, userQuery, rs)
	rs.mu.Lock()
	rs.stage1Successes = len(stage1)
	rs.mu.Unlock()

	if len(stage1) == 0 {
		e.logger.Error("All council members failed in Stage 1",
			zap.Strings("roster", cfg.Members))
		_ = rs.transition(StateErrorEnd)
		return errorResult()
	}

	// Stage 2
	_ = rs.transition(StateStage2)
	labels, labelToModel := makeLabels(stage1)
	stage2 := e.stage2CollectRankings(ctx, cfg.Members, userQuery, stage1, labels, rs)
	rs.mu.Lock()
	rs.stage2Rankings = len(stage2)
	rs.mu.Unlock()

	aggregate := CalculateAggregateRankings(stage2, labelToModel)

	// Stage 3
	_ = rs.transition(StateStage3)
	synthesis, ok := e.stage3Synthesize(ctx, cfg.Chairman, userQuery, stage1, stage2, aggregate, rs)
	if ok {
		_ = rs.transition(StateEnd)
	} else {
		_ = rs.transition(StateFallback)
	}

	snap := rs.snapshot()
	e.logger.Info("Council run completed",
		zap.String("state", string(snap.State)),
		zap.Int("stage1_successes", snap.Stage1Successes),
		zap.Int("stage2_rankings", snap.Stage2Rankings),
		zap.Duration("elapsed", snap.Elapsed),
	)

	return &entity.CouncilResult{
		Stage1: stage1,
		Stage2: stage2,
		Stage3: synthesis,
		Metadata: entity.CouncilMetadata{
			LabelToModel:      labelToModel,
			AggregateRankings: aggregate,
			PromptTokens:      snap.PromptTokens,
			CompletionTokens:  snap.CompletionTokens,
		},
	}
}

func errorResult() *entity.CouncilResult {
	return &entity.CouncilResult{
		Stage3: entity.Synthesis{
			Model:      entity.ErrorModelID,
			Content:    "All models failed to respond. Check that the backend is running and the configured council models are available.",
			Confidence: 0,
		},
		Metadata: entity.CouncilMetadata{LabelToModel: map[string]string{}},
	}
}

// stage1CollectResponses fans the wrapped query out across the roster and
// keeps replies that succeeded with non-empty content, in roster order.
func (e *CouncilEngine) stage1CollectResponses(ctx context.Context, members []string, userQuery string, rs *runState) []entity.ModelReply {
	messages := []ChatMessage{{Role: entity.RoleUser, Content: buildSolutionPrompt(userQuery)}}
	results := FanOut(ctx, e.client, members, messages)

	replies := make([]entity.ModelReply, 0, len(members))
	for _, model := range members {
		res := results[model]
		if res.Err != nil {
			e.logger.Warn("Council member dropped in Stage 1",
				zap.String("model", model),
				zap.Error(res.Err),
			)
			continue
		}
		if res.Reply == nil || res.Reply.Content == "" {
			e.logger.Warn("Council member returned empty content in Stage 1",
				zap.String("model", model))
			continue
		}
		rs.addTokens(res.Reply.PromptTokens, res.Reply.CompletionTokens)
		replies = append(replies, *res.Reply)
	}
	return replies
}

// stage2CollectRankings fans the ranking prompt out across the same roster
// and parses each returned text. Unparseable texts yield rankings with an
// empty Parsed list, retained for audit.
func (e *CouncilEngine) stage2CollectRankings(ctx context.Context, members []string, userQuery string, stage1 []entity.ModelReply, labels []string, rs *runState) []entity.Ranking {
	prompt := buildRankingPrompt(userQuery, stage1, labels)
	messages := []ChatMessage{{Role: entity.RoleUser, Content: prompt}}
	results := FanOut(ctx, e.client, members, messages)

	rankings := make([]entity.Ranking, 0, len(members))
	for _, model := range members {
		res := results[model]
		if res.Err != nil || res.Reply == nil {
			e.logger.Warn("Council member dropped in Stage 2",
				zap.String("model", model),
				zap.Error(res.Err),
			)
			continue
		}
		rs.addTokens(res.Reply.PromptTokens, res.Reply.CompletionTokens)
		rankings = append(rankings, entity.Ranking{
			Model:            model,
			Raw:              res.Reply.Content,
			Parsed:           ParseRanking(res.Reply.Content),
			PromptTokens:     res.Reply.PromptTokens,
			CompletionTokens: res.Reply.CompletionTokens,
		})
	}
	return rankings
}

// stage3Synthesize asks the chairman for the final answer and derives
// metadata from it. The bool result is false when the chairman call failed
// and the degraded synthesis was substituted.
func (e *CouncilEngine) stage3Synthesize(ctx context.Context, chairman, userQuery string, stage1 []entity.ModelReply, stage2 []entity.Ranking, aggregate []entity.AggregateRanking, rs *runState) (entity.Synthesis, bool) {
	topModel := ""
	if len(aggregate) > 0 {
		topModel = aggregate[0].Model
	}

	prompt := buildChairmanPrompt(userQuery, stage1, stage2)
	reply, err := e.client.Query(ctx, chairman, []ChatMessage{{Role: entity.RoleUser, Content: prompt}})
	if err != nil || reply == nil {
		e.logger.Error("Chairman synthesis failed",
			zap.String("chairman", chairman),
			zap.Error(err),
		)
		return entity.Synthesis{
			Model:          chairman,
			Content:        entity.SynthesisFailureText,
			TopRankedModel: topModel,
			Confidence:     consensusConfidence(aggregate),
		}, false
	}
	rs.addTokens(reply.PromptTokens, reply.CompletionTokens)

	content := reply.Content
	primarySource := parsePrimarySource(content)
	confidence, selfReported := parseConfidence(content)

	if primarySource == "" && topModel != "" {
		primarySource = topModel
	}
	if primarySource == "" {
		primarySource = chairman
	}
	if !selfReported {
		confidence = consensusConfidence(aggregate)
	}

	return entity.Synthesis{
		Model:            chairman,
		Content:          content,
		PrimarySource:    primarySource,
		TopRankedModel:   topModel,
		Confidence:       confidence,
		PromptTokens:     reply.PromptTokens,
		CompletionTokens: reply.CompletionTokens,
	}, true
}

var confidenceRe = regexp.MustCompile(`(\d+)%`)

// parsePrimarySource extracts the value of the first "# Primary source:"
// line, or "" when absent.
func parsePrimarySource(content string) string {
	for _, line := range strings.Split(content, "\n") {
		if idx := strings.Index(line, primarySourcePrefix); idx >= 0 {
			return strings.TrimSpace(line[idx+len(primarySourcePrefix):])
		}
	}
	return ""
}

// parseConfidence extracts the integer before '%' on the first
// "# Confidence:" line, clamped to [0,100]. The bool result is false when no
// parseable value was found.
func parseConfidence(content string) (int, bool) {
	for _, line := range strings.Split(content, "\n") {
		idx := strings.Index(line, confidencePrefix)
		if idx < 0 {
			continue
		}
		match := confidenceRe.FindStringSubmatch(line[idx+len(confidencePrefix):])
		if match == nil {
			continue
		}
		value, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		if value < 0 {
			value = 0
		}
		if value > 100 {
			value = 100
		}
		return value, true
	}
	return 0, false
}

// consensusConfidence derives confidence from how clearly the aggregate
// separates the top two models: a larger gap means stronger consensus.
func consensusConfidence(aggregate []entity.AggregateRanking) int {
	switch {
	case len(aggregate) >= 2:
		gap := aggregate[1].AverageRank - aggregate[0].AverageRank
		confidence := 70 + int(gap*10)
		if confidence < 60 {
			confidence = 60
		}
		if confidence > 90 {
			confidence = 90
		}
		return confidence
	case len(aggregate) == 1:
		return 75
	default:
		return 70
	}
}

// GenerateTitle asks the chairman for a 3-5 word conversation title. Failures
// fall back to a generic title; this runs off the request path and must
// never block it for long, so it uses a short timeout.
func (e *CouncilEngine) GenerateTitle(ctx context.Context, userQuery string) string {
	cfg := e.config.CouncilConfig()
	ctx, cancel := context.WithTimeout(ctx, e.titleTimeout)
	defer cancel()

	reply, err := e.client.Query(ctx, cfg.Chairman, []ChatMessage{
		{Role: entity.RoleUser, Content: buildTitlePrompt(userQuery)},
	})
	if err != nil || reply == nil {
		return "New Conversation"
	}

	title := strings.TrimSpace(reply.Content)
	title = strings.Trim(title, `"'`)
	if title == "" {
		return "New Conversation"
	}
	if runes := []rune(title); len(runes) > 50 {
		title = string(runes[:47]) + "..."
	}
	return title
}
