// Package remote implements the council backend against an OpenAI-compatible
// hosted API: HTTPS, bearer auth, models addressed by provider-scoped ids.
package remote

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
	llm.RegisterFactory("remote", func(cfg llm.ClientConfig, logger *zap.Logger) service.ModelClient {
		return New(cfg, logger)
	})
}

// Client talks to an OpenAI-compatible aggregator.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
	logger  *zap.Logger
}

// New creates a remote backend client.
func New(cfg llm.ClientConfig, logger *zap.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		client:  llm.NewHTTPClient(),
		logger:  logger.With(zap.String("backend", "remote")),
	}
}

var _ service.ModelClient = (*Client)(nil)

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Query sends one buffered chat completion to the named model.
func (c *Client) Query(ctx context.Context, model string, messages []service.ChatMessage) (*entity.ModelReply, error) {
	ctx, cancel := llm.WithCallTimeout(ctx, c.timeout)
	defer cancel()

	req := chatRequest{Model: model}
	for _, m := range messages {
		req.Messages = append(req.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &service.BackendFailure{Kind: service.FailureMalformed, Model: model, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &service.BackendFailure{Kind: service.FailureTransport, Model: model, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

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
	if len(parsed.Choices) == 0 {
		return nil, &service.BackendFailure{
			Kind:  service.FailureMalformed,
			Model: model,
			Err:   fmt.Errorf("empty response: no choices"),
		}
	}

	return &entity.ModelReply{
		Model:            model,
		Content:          parsed.Choices[0].Message.Content,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
	}, nil
}

// Preload is a no-op for hosted backends; there are no local weights to warm.
func (c *Client) Preload(ctx context.Context, model string) error {
	return nil
}

type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Validate checks the requested models against the aggregator's catalog.
// Backend errors report every model as valid; a dead backend must not block
// configuration updates.
func (c *Client) Validate(ctx context.Context, models []string) map[string]bool {
	result := make(map[string]bool, len(models))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return optimistic(result, models)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.logger.Warn("Model validation skipped, backend unreachable", zap.Error(err))
		return optimistic(result, models)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return optimistic(result, models)
	}

	var catalog modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&catalog); err != nil {
		return optimistic(result, models)
	}

	known := make(map[string]bool, len(catalog.Data))
	for _, m := range catalog.Data {
		known[m.ID] = true
	}
	for _, m := range models {
		result[m] = known[m]
	}
	return result
}

func optimistic(result map[string]bool, models []string) map[string]bool {
	for _, m := range models {
		result[m] = true
	}
	return result
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
