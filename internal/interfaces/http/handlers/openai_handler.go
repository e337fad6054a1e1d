package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/llm-council/llm-council/gateway/internal/application/usecase"
	"github.com/llm-council/llm-council/gateway/internal/domain/repository"
	"github.com/llm-council/llm-council/gateway/internal/domain/service"
	domainErrors "github.com/llm-council/llm-council/gateway/pkg/errors"
)

// CouncilModelID is the single model the gateway advertises. Clients select
// it like any OpenAI model; the roster behind it is server-side config.
const CouncilModelID = "council"

// OpenAIHandler implements the OpenAI Chat Completions compatible surface.
type OpenAIHandler struct {
	usecase        *usecase.CouncilChatUseCase
	repo           repository.ConversationRepository
	forceStreaming bool
	logger         *zap.Logger
}

// ChatCompletionRequest mirrors OpenAI's request format. Sampling parameters
// are accepted and ignored; each council member uses its own defaults.
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	User        string        `json:"user,omitempty"`
}

// ChatMessage represents a message in the conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionResponse mirrors OpenAI's response format.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *ChatUsage   `json:"usage,omitempty"`
}

// ChatChoice represents a completion choice.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatUsage represents token usage.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatStreamChunk represents a streaming chunk.
type ChatStreamChunk struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []ChatStreamChoice `json:"choices"`
}

// ChatStreamChoice represents a streaming choice delta.
type ChatStreamChoice struct {
	Index        int             `json:"index"`
	Delta        ChatStreamDelta `json:"delta"`
	FinishReason *string         `json:"finish_reason"`
}

// ChatStreamDelta represents the delta in a streaming choice.
type ChatStreamDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// OpenAIModel represents a model in the /v1/models response.
type OpenAIModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelsResponse mirrors OpenAI's models list response.
type ModelsResponse struct {
	Object string        `json:"object"`
	Data   []OpenAIModel `json:"data"`
}

// NewOpenAIHandler creates the OpenAI-compatible handler. forceStreaming
// upgrades every completion to SSE regardless of the request's stream flag,
// for clients that render progressively but forget to ask.
func NewOpenAIHandler(uc *usecase.CouncilChatUseCase, repo repository.ConversationRepository, forceStreaming bool, logger *zap.Logger) *OpenAIHandler {
	return &OpenAIHandler{
		usecase:        uc,
		repo:           repo,
		forceStreaming: forceStreaming,
		logger:         logger,
	}
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *OpenAIHandler) ChatCompletions(c *gin.Context) {
	var req ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error(), "invalid_request_error", ""))
		return
	}
	if len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, errorResponse("messages array must not be empty", "invalid_request_error", ""))
		return
	}

	messages := make([]service.ChatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, service.ChatMessage{Role: m.Role, Content: m.Content})
	}

	if req.Stream || h.forceStreaming {
		h.handleStream(c, messages)
		return
	}
	h.handleNonStream(c, messages)
}

func (h *OpenAIHandler) handleNonStream(c *gin.Context, messages []service.ChatMessage) {
	// A disconnect must not abort the deliberation; the run and its
	// persistence finish regardless of the client.
	result, err := h.usecase.Execute(context.WithoutCancel(c.Request.Context()), messages)
	if err != nil {
		h.writeUseCaseError(c, err)
		return
	}

	c.JSON(http.StatusOK, ChatCompletionResponse{
		ID:      fmt.Sprintf("chatcmpl-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   CouncilModelID,
		Choices: []ChatChoice{
			{
				Index: 0,
				Message: ChatMessage{
					Role:    "assistant",
					Content: result.Content,
				},
				FinishReason: "stop",
			},
		},
		Usage: usageFor(result),
	})
}

// handleStream replays the buffered council answer as an SSE stream: role
// delta, content in small chunks, finish chunk, [DONE]. The council cannot
// stream token-by-token because synthesis needs every Stage 1 reply first,
// so the run completes and persists before the first response byte goes out.
func (h *OpenAIHandler) handleStream(c *gin.Context, messages []service.ChatMessage) {
	// A disconnect must not abort the deliberation; the run and its
	// persistence finish regardless of the client.
	result, err := h.usecase.Execute(context.WithoutCancel(c.Request.Context()), messages)
	if err != nil {
		h.writeUseCaseError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	completionID := fmt.Sprintf("chatcmpl-%d", time.Now().UnixNano())
	created := time.Now().Unix()

	h.writeSSEChunk(c.Writer, ChatStreamChunk{
		ID:      completionID,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   CouncilModelID,
		Choices: []ChatStreamChoice{
			{Index: 0, Delta: ChatStreamDelta{Role: "assistant"}},
		},
	})
	c.Writer.Flush()

	h.streamContent(c, completionID, created, result.Content)
}

func (h *OpenAIHandler) streamContent(c *gin.Context, completionID string, created int64, content string) {
	for _, chunk := range splitIntoChunks(content, 50) {
		h.writeSSEChunk(c.Writer, ChatStreamChunk{
			ID:      completionID,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   CouncilModelID,
			Choices: []ChatStreamChoice{
				{Index: 0, Delta: ChatStreamDelta{Content: chunk}},
			},
		})
		c.Writer.Flush()
	}

	finishReason := "stop"
	h.writeSSEChunk(c.Writer, ChatStreamChunk{
		ID:      completionID,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   CouncilModelID,
		Choices: []ChatStreamChoice{
			{Index: 0, Delta: ChatStreamDelta{}, FinishReason: &finishReason},
		},
	})
	c.Writer.Flush()

	io.WriteString(c.Writer, "data: [DONE]\n\n")
	c.Writer.Flush()
}

// DeleteConversation handles DELETE /v1/chat/completions/:id, removing the
// stored conversation behind a completion.
func (h *OpenAIHandler) DeleteConversation(c *gin.Context) {
	id := c.Param("id")
	err := h.repo.Delete(c.Request.Context(), id)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"id": id, "deleted": true})
	case domainErrors.IsNotFound(err):
		c.JSON(http.StatusOK, gin.H{"id": id, "deleted": false})
	default:
		h.logger.Error("Failed to delete conversation", zap.String("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse("failed to delete conversation", "server_error", ""))
	}
}

// ListModels handles GET /v1/models. The gateway exposes exactly one model.
func (h *OpenAIHandler) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, ModelsResponse{
		Object: "list",
		Data: []OpenAIModel{
			{ID: CouncilModelID, Object: "model", Created: time.Now().Unix(), OwnedBy: "llm-council"},
		},
	})
}

func (h *OpenAIHandler) writeUseCaseError(c *gin.Context, err error) {
	var runErr *usecase.CouncilRunError
	switch {
	case errors.As(err, &runErr):
		body := errorResponse(clientMessage(err), "internal_error", "council_error")
		body["conversation_id"] = runErr.ConversationID
		c.JSON(http.StatusInternalServerError, body)
	case domainErrors.IsInvalidInput(err):
		c.JSON(http.StatusBadRequest, errorResponse(clientMessage(err), "invalid_request_error", ""))
	default:
		h.logger.Error("Chat completion failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse("internal error", "server_error", ""))
	}
}

// clientMessage unwraps the safe message from an AppError chain.
func clientMessage(err error) string {
	var appErr *domainErrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

// errorResponse constructs an OpenAI-compatible error envelope.
func errorResponse(message, errType, code string) gin.H {
	inner := gin.H{"message": message, "type": errType}
	if code != "" {
		inner["code"] = code
	}
	return gin.H{"error": inner}
}

// writeSSEChunk writes a single SSE event.
func (h *OpenAIHandler) writeSSEChunk(w io.Writer, chunk ChatStreamChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		h.logger.Error("Failed to marshal SSE chunk", zap.Error(err))
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// splitIntoChunks slices text into pieces of at most maxLen bytes, breaking
// after whitespace where possible and never inside a rune. Concatenating the
// pieces reproduces the input byte for byte.
func splitIntoChunks(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > maxLen {
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if idx := strings.LastIndexAny(text[:cut], " \t\n"); idx > 0 {
			cut = idx + 1
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	return append(chunks, text)
}

func usageFor(result *usecase.CouncilChatResult) *ChatUsage {
	prompt := result.PromptTokens
	completion := result.CompletionTokens
	if prompt == 0 && completion == 0 {
		// Backend reported no usage; estimate both sides from word counts.
		prompt = len(strings.Fields(result.Query))
		completion = len(strings.Fields(result.Content))
	}
	return &ChatUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}
