// Package local implements the council backend against an Ollama-style
// local inference server: plain HTTP, models addressed by name, no auth.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/llm-council/llm-council/gateway/internal/domain/entity"
	"github.com/llm-council/llm-council/gateway/internal/domain/service"
	"github.com/llm-council/llm-council/gateway/internal/infrastructure/llm"
)

func init() {
	llm.RegisterFactory("local", func(cfg llm.ClientConfig, logger *zap.Logger) service.ModelClient {
		return New(cfg, logger)
	})
}

// Client talks to a local inference server over its native chat API.
type Client struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
	logger  *zap.Logger
}

// New creates a local backend client.
func New(cfg llm.ClientConfig, logger *zap.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &Client{
		baseURL: baseURL,
		timeout: cfg.Timeout,
		client:  llm.NewHTTPClient(),
		logger:  logger.With(zap.String("backend", "local")),
	}
}

var _ service.ModelClient = (*Client)(nil)

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

// Query sends one buffered chat completion to the named model.
func (c *Client) Query(ctx context.Context, model string, messages []service.ChatMessage) (*entity.ModelReply, error) {
	ctx, cancel := llm.WithCallTimeout(ctx, c.timeout)
	defer cancel()

	req := chatRequest{Model: model, Stream: false}
	for _, m := range messages {
		req.Messages = append(req.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &service.BackendFailure{Kind: service.FailureMalformed, Model: model, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, &service.BackendFailure{Kind: service.FailureTransport, Model: model, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, llm.ClassifyTransportError(ctx, model, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, llm.ClassifyTransportError(ctx, model, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &service.BackendFailure{
			Kind:   service.FailureHTTPStatus,
			Model:  model,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("backend returned %d: %s", resp.StatusCode, truncate(respBody, 200)),
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &service.BackendFailure{Kind: service.FailureMalformed, Model: model, Err: err}
	}

	return &entity.ModelReply{
		Model:            model,
		Content:          parsed.Message.Content,
		PromptTokens:     parsed.PromptEvalCount,
		CompletionTokens: parsed.EvalCount,
	}, nil
}

// Preload issues a tiny generation so the server loads the model weights
// before real traffic arrives.
func (c *Client) Preload(ctx context.Context, model string) error {
	_, err := c.Query(ctx, model, []service.ChatMessage{{Role: entity.RoleUser, Content: "OK"}})
	return err
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Validate checks the requested models against the server's installed model
// list. Names match on the part before the tag separator, so "llama3"
// accepts "llama3:8b". Backend errors report every model as valid; a dead
// backend must not block configuration updates.
func (c *Client) Validate(ctx context.Context, models []string) map[string]bool {
	result := make(map[string]bool, len(models))

	installed, err := c.listInstalled(ctx)
	if err != nil {
		c.logger.Warn("Model validation skipped, backend unreachable", zap.Error(err))
		for _, m := range models {
			result[m] = true
		}
		return result
	}

	for _, m := range models {
		result[m] = installed[baseName(m)]
	}
	return result
}

func (c *Client) listInstalled(ctx context.Context) (map[string]bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend returned %d", resp.StatusCode)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, err
	}

	installed := make(map[string]bool, len(tags.Models))
	for _, m := range tags.Models {
		installed[baseName(m.Name)] = true
	}
	return installed, nil
}

func baseName(model string) string {
	if idx := strings.Index(model, ":"); idx >= 0 {
		return model[:idx]
	}
	return model
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
