package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/llm-council/llm-council/gateway/internal/domain/entity"
)

// tableClient answers models from a fixed table; missing models fail.
type tableClient struct {
	answers map[string]string
}

func (c *tableClient) Query(ctx context.Context, model string, messages []ChatMessage) (*entity.ModelReply, error) {
	answer, ok := c.answers[model]
	if !ok {
		return nil, &BackendFailure{Kind: FailureTransport, Model: model, Err: errors.New("unreachable")}
	}
	return &entity.ModelReply{Model: model, Content: answer, PromptTokens: 10, CompletionTokens: 20}, nil
}

func (c *tableClient) Preload(ctx context.Context, model string) error { return nil }

func (c *tableClient) Validate(ctx context.Context, models []string) map[string]bool {
	out := map[string]bool{}
	for _, m := range models {
		out[m] = true
	}
	return out
}

type roster struct {
	members  []string
	chairman string
}

func (r roster) CouncilConfig() CouncilConfig {
	return CouncilConfig{Members: r.members, Chairman: r.chairman}
}

func newEngine(client ModelClient, members []string, chairman string) *CouncilEngine {
	return NewCouncilEngine(client, roster{members: members, chairman: chairman}, zap.NewNop())
}

func TestRunFullDeliberation(t *testing.T) {
	client := &tableClient{answers: map[string]string{
		"m1":    "first answer\n\nFINAL RANKING:\n1. Response A\n2. Response B",
		"m2":    "second answer\n\nFINAL RANKING:\n1. Response A\n2. Response B",
		"chair": "synthesis text\n\n# Primary source: m1\n# Confidence: 88%",
	}}
	engine := newEngine(client, []string{"m1", "m2"}, "chair")

	result := engine.Run(context.Background(), "question")

	if len(result.Stage1) != 2 {
		t.Fatalf("stage1 = %d replies", len(result.Stage1))
	}
	if result.Stage1[0].Model != "m1" || result.Stage1[1].Model != "m2" {
		t.Fatalf("stage1 order = %s,%s", result.Stage1[0].Model, result.Stage1[1].Model)
	}
	if len(result.Stage2) != 2 {
		t.Fatalf("stage2 = %d rankings", len(result.Stage2))
	}
	if result.Stage3.IsError() {
		t.Fatalf("unexpected error synthesis: %+v", result.Stage3)
	}
	if result.Stage3.PrimarySource != "m1" {
		t.Fatalf("primary source = %q", result.Stage3.PrimarySource)
	}
	if result.Stage3.Confidence != 88 {
		t.Fatalf("confidence = %d", result.Stage3.Confidence)
	}
	if result.Metadata.AggregateRankings[0].Model != "m1" {
		t.Fatalf("aggregate = %+v", result.Metadata.AggregateRankings)
	}
	if result.Metadata.LabelToModel["Response A"] != "m1" {
		t.Fatalf("bijection = %v", result.Metadata.LabelToModel)
	}
}

func TestRunSurvivesPartialStage1Failure(t *testing.T) {
	client := &tableClient{answers: map[string]string{
		"m1":    "only answer\n\nFINAL RANKING:\n1. Response A",
		"chair": "synthesis\n\n# Primary source: m1\n# Confidence: 70%",
	}}
	engine := newEngine(client, []string{"m1", "m2", "m3"}, "chair")

	result := engine.Run(context.Background(), "question")

	if len(result.Stage1) != 1 || result.Stage1[0].Model != "m1" {
		t.Fatalf("stage1 = %+v", result.Stage1)
	}
	if result.Stage3.IsError() {
		t.Fatal("partial failure must still synthesize")
	}
}

func TestRunAllFailedYieldsErrorSynthesis(t *testing.T) {
	engine := newEngine(&tableClient{answers: map[string]string{}}, []string{"m1", "m2"}, "chair")

	result := engine.Run(context.Background(), "question")

	if !result.Stage3.IsError() {
		t.Fatalf("synthesis model = %q, want error id", result.Stage3.Model)
	}
	if result.Stage3.Confidence != 0 {
		t.Fatalf("confidence = %d, want 0", result.Stage3.Confidence)
	}
	if len(result.Stage1) != 0 || len(result.Stage2) != 0 {
		t.Fatal("error result must carry no stage output")
	}
}

func TestRunEmptyRosterYieldsErrorSynthesis(t *testing.T) {
	engine := newEngine(&tableClient{answers: map[string]string{}}, nil, "chair")
	result := engine.Run(context.Background(), "question")
	if !result.Stage3.IsError() {
		t.Fatal("empty roster must produce error synthesis")
	}
}

func TestRunChairmanFailureDegrades(t *testing.T) {
	client := &tableClient{answers: map[string]string{
		"m1": "a\n\nFINAL RANKING:\n1. Response A\n2. Response B",
		"m2": "b\n\nFINAL RANKING:\n1. Response A\n2. Response B",
		// chairman missing -> fails
	}}
	engine := newEngine(client, []string{"m1", "m2"}, "chair")

	result := engine.Run(context.Background(), "question")

	if result.Stage3.IsError() {
		t.Fatal("chairman failure is degradation, not error")
	}
	if result.Stage3.Content != entity.SynthesisFailureText {
		t.Fatalf("content = %q", result.Stage3.Content)
	}
	if result.Stage3.Model != "chair" {
		t.Fatalf("model = %q", result.Stage3.Model)
	}
	// Both rankers agree: gap is 2-1=1, consensus confidence 70+10=80.
	if result.Stage3.Confidence != 80 {
		t.Fatalf("confidence = %d, want consensus value 80", result.Stage3.Confidence)
	}
	if result.Stage3.TopRankedModel != "m1" {
		t.Fatalf("top ranked = %q", result.Stage3.TopRankedModel)
	}
}

func TestRunChairmanWithoutMetadataFallsBack(t *testing.T) {
	client := &tableClient{answers: map[string]string{
		"m1":    "a\n\nFINAL RANKING:\n1. Response B\n2. Response A",
		"m2":    "b\n\nFINAL RANKING:\n1. Response B\n2. Response A",
		"chair": "plain synthesis with no metadata lines",
	}}
	engine := newEngine(client, []string{"m1", "m2"}, "chair")

	result := engine.Run(context.Background(), "question")

	// Missing primary source falls back to the top ranked model.
	if result.Stage3.PrimarySource != "m2" {
		t.Fatalf("primary source = %q, want top ranked m2", result.Stage3.PrimarySource)
	}
	// Missing confidence falls back to consensus.
	if result.Stage3.Confidence != 80 {
		t.Fatalf("confidence = %d, want 80", result.Stage3.Confidence)
	}
}

func TestParseConfidenceClamping(t *testing.T) {
	got, ok := parseConfidence("# Confidence: 250%")
	if !ok || got != 100 {
		t.Fatalf("got %d ok=%v, want 100", got, ok)
	}
	if _, ok := parseConfidence("# Confidence: very high"); ok {
		t.Fatal("non-numeric confidence must not parse")
	}
	if _, ok := parseConfidence("no metadata at all"); ok {
		t.Fatal("absent line must not parse")
	}
}

func TestConsensusConfidenceRules(t *testing.T) {
	cases := []struct {
		name      string
		aggregate []entity.AggregateRanking
		want      int
	}{
		{"empty", nil, 70},
		{"single", []entity.AggregateRanking{{Model: "a", AverageRank: 1}}, 75},
		{"small gap", []entity.AggregateRanking{
			{Model: "a", AverageRank: 1.5}, {Model: "b", AverageRank: 1.6},
		}, 71},
		{"large gap clamps high", []entity.AggregateRanking{
			{Model: "a", AverageRank: 1}, {Model: "b", AverageRank: 4},
		}, 90},
	}
	for _, tc := range cases {
		if got := consensusConfidence(tc.aggregate); got != tc.want {
			t.Errorf("%s: got %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestGenerateTitleTruncatesAndTrims(t *testing.T) {
	long := strings.Repeat("word ", 30)
	client := &tableClient{answers: map[string]string{
		"chair": `"` + long + `"`,
	}}
	engine := newEngine(client, []string{"m1"}, "chair")

	title := engine.GenerateTitle(context.Background(), "whatever")
	if strings.HasPrefix(title, `"`) {
		t.Fatalf("quotes not stripped: %q", title)
	}
	if len([]rune(title)) > 50 {
		t.Fatalf("title too long: %d runes", len([]rune(title)))
	}
	if !strings.HasSuffix(title, "...") {
		t.Fatalf("truncated title missing ellipsis: %q", title)
	}
}

func TestGenerateTitleFallsBackOnFailure(t *testing.T) {
	engine := newEngine(&tableClient{answers: map[string]string{}}, []string{"m1"}, "chair")
	if got := engine.GenerateTitle(context.Background(), "q"); got != "New Conversation" {
		t.Fatalf("got %q", got)
	}
}
