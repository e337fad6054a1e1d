package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/llm-council/llm-council/gateway/internal/domain/entity"
	"github.com/llm-council/llm-council/gateway/internal/domain/repository"
	"github.com/llm-council/llm-council/gateway/internal/domain/service"
	"github.com/llm-council/llm-council/gateway/internal/infrastructure/markdown"
	domainErrors "github.com/llm-council/llm-council/gateway/pkg/errors"
	"github.com/llm-council/llm-council/gateway/pkg/safego"
)

// CouncilChatResult is what the transport layer renders: the final answer
// text plus enough metadata to build an OpenAI-compatible response.
type CouncilChatResult struct {
	ConversationID   string
	Content          string
	Query            string // composed query, for usage estimation when the backend reports none
	Model            string
	PromptTokens     int
	CompletionTokens int
	ResponseTime     time.Duration
}

// CouncilRunError is returned when the whole council failed. It carries the
// conversation id so clients can still locate the logged question.
type CouncilRunError struct {
	ConversationID string
	Err            *domainErrors.AppError
}

func (e *CouncilRunError) Error() string { return e.Err.Error() }
func (e *CouncilRunError) Unwrap() error { return e.Err }

// CouncilChatUseCase orchestrates one chat turn: conversation bookkeeping
// around a council run, then response post-processing.
type CouncilChatUseCase struct {
	engine         *service.CouncilEngine
	repo           repository.ConversationRepository
	enableMarkdown bool
	logger         *zap.Logger
}

// NewCouncilChatUseCase creates the chat usecase.
func NewCouncilChatUseCase(
	engine *service.CouncilEngine,
	repo repository.ConversationRepository,
	enableMarkdown bool,
	logger *zap.Logger,
) *CouncilChatUseCase {
	return &CouncilChatUseCase{
		engine:         engine,
		repo:           repo,
		enableMarkdown: enableMarkdown,
		logger:         logger.With(zap.String("component", "council-chat")),
	}
}

// Execute runs one chat turn for an OpenAI-style message array. The user
// message is persisted before the council runs, so an aborted deliberation
// still leaves the question in the log. Returns a council error (carrying
// the conversation id) when every member failed.
func (uc *CouncilChatUseCase) Execute(ctx context.Context, messages []service.ChatMessage) (*CouncilChatResult, error) {
	if len(messages) == 0 {
		return nil, domainErrors.NewInvalidInputError("messages must not be empty")
	}

	query, err := service.ComposeQuery(messages)
	if err != nil {
		return nil, domainErrors.NewInvalidInputError(err.Error())
	}

	convID := service.ConversationID(messages)
	lastUser := lastUserMessage(messages)

	uc.ensureConversation(ctx, convID, messages)
	if err := uc.repo.AppendMessage(ctx, convID, entity.NewUserMessage(lastUser)); err != nil {
		uc.logger.Warn("Failed to persist user message",
			zap.String("conversation_id", convID), zap.Error(err))
	}

	start := time.Now()
	result := uc.engine.Run(ctx, query)
	elapsed := time.Since(start)

	if result.Stage3.IsError() {
		// A failed run leaves only the user message behind; the failure
		// travels in the error, not in the conversation log.
		return nil, &CouncilRunError{
			ConversationID: convID,
			Err:            domainErrors.NewCouncilError(result.Stage3.Content),
		}
	}

	content := uc.renderFinalContent(result, elapsed)
	uc.persistAssistant(ctx, convID, content, result)

	return &CouncilChatResult{
		ConversationID:   convID,
		Content:          content,
		Query:            query,
		Model:            result.Stage3.Model,
		PromptTokens:     result.Stage3.PromptTokens,
		CompletionTokens: result.Stage3.CompletionTokens,
		ResponseTime:     elapsed,
	}, nil
}

// ensureConversation creates the conversation row on first contact and kicks
// off title generation in the background.
func (uc *CouncilChatUseCase) ensureConversation(ctx context.Context, convID string, messages []service.ChatMessage) {
	if _, err := uc.repo.Get(ctx, convID); err == nil {
		return
	} else if !domainErrors.IsNotFound(err) {
		uc.logger.Warn("Conversation lookup failed",
			zap.String("conversation_id", convID), zap.Error(err))
		return
	}

	firstUser := service.FirstUserMessage(messages)
	now := time.Now().UnixMilli()
	conv := &entity.Conversation{
		ID:        convID,
		Title:     service.DefaultTitle(firstUser),
		Source:    entity.SourceContinue,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := uc.repo.Create(ctx, conv); err != nil {
		uc.logger.Warn("Failed to create conversation",
			zap.String("conversation_id", convID), zap.Error(err))
		return
	}

	// Title generation costs a chairman call; run it off the request path.
	safego.Go(uc.logger, "generate-title", func() {
		title := uc.engine.GenerateTitle(context.Background(), firstUser)
		if err := uc.repo.UpdateTitle(context.Background(), convID, title); err != nil {
			uc.logger.Warn("Failed to store generated title",
				zap.String("conversation_id", convID), zap.Error(err))
		}
	})
}

func (uc *CouncilChatUseCase) persistAssistant(ctx context.Context, convID, content string, result *entity.CouncilResult) {
	if err := uc.repo.AppendMessage(ctx, convID, entity.NewAssistantMessage(content, result)); err != nil {
		uc.logger.Warn("Failed to persist assistant message",
			zap.String("conversation_id", convID), zap.Error(err))
	}
}

// renderFinalContent turns the synthesis into the text shown to the user:
// metadata lines stripped, markdown normalized, attribution footer appended.
func (uc *CouncilChatUseCase) renderFinalContent(result *entity.CouncilResult, elapsed time.Duration) string {
	content := stripMetadataLines(result.Stage3.Content)
	if uc.enableMarkdown {
		content = markdown.Normalize(content)
	}

	footer := fmt.Sprintf("*Model: %s* | *Response time: %.2fs* | *Confidence: %d%%*",
		result.Stage3.PrimarySource, elapsed.Seconds(), result.Stage3.Confidence)
	return content + "\n\n" + footer
}

// stripMetadataLines removes the chairman's self-report lines; their values
// already live in the synthesis struct.
func stripMetadataLines(content string) string {
	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# Primary source:") || strings.HasPrefix(trimmed, "# Confidence:") {
			continue
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func lastUserMessage(messages []service.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == entity.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
