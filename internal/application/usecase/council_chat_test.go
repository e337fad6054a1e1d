package usecase

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/llm-council/llm-council/gateway/internal/domain/entity"
	"github.com/llm-council/llm-council/gateway/internal/domain/service"
	"github.com/llm-council/llm-council/gateway/internal/infrastructure/persistence"
)

// scriptedClient answers every model from a fixed table. A nil entry makes
// that model fail with a transport error.
type scriptedClient struct {
	answers map[string]string
	calls   atomic.Int64
}

func (c *scriptedClient) Query(ctx context.Context, model string, messages []service.ChatMessage) (*entity.ModelReply, error) {
	c.calls.Add(1)
	answer, ok := c.answers[model]
	if !ok {
		return nil, &service.BackendFailure{Kind: service.FailureTransport, Model: model, Err: errors.New("down")}
	}
	return &entity.ModelReply{Model: model, Content: answer, PromptTokens: 1, CompletionTokens: 2}, nil
}

func (c *scriptedClient) Preload(ctx context.Context, model string) error { return nil }

func (c *scriptedClient) Validate(ctx context.Context, models []string) map[string]bool {
	out := make(map[string]bool, len(models))
	for _, m := range models {
		out[m] = true
	}
	return out
}

type staticConfig struct {
	members  []string
	chairman string
}

func (s staticConfig) CouncilConfig() service.CouncilConfig {
	return service.CouncilConfig{Members: s.members, Chairman: s.chairman}
}

func newChatUseCase(t *testing.T, client service.ModelClient) (*CouncilChatUseCase, *persistence.MemoryConversationRepository) {
	t.Helper()
	logger := zap.NewNop()
	engine := service.NewCouncilEngine(client, staticConfig{
		members:  []string{"m1", "m2"},
		chairman: "chair",
	}, logger)
	repo := persistence.NewMemoryConversationRepository().(*persistence.MemoryConversationRepository)
	return NewCouncilChatUseCase(engine, repo, true, logger), repo
}

func chairmanAnswer(body string) string {
	return body + "\n\n# Primary source: m1\n# Confidence: 85%"
}

func TestExecuteHappyPath(t *testing.T) {
	client := &scriptedClient{answers: map[string]string{
		"m1":    "answer one\n\nFINAL RANKING:\n1. Response A\n2. Response B",
		"m2":    "answer two\n\nFINAL RANKING:\n1. Response A\n2. Response B",
		"chair": chairmanAnswer("The synthesized answer."),
	}}
	uc, repo := newChatUseCase(t, client)

	res, err := uc.Execute(context.Background(), []service.ChatMessage{
		{Role: entity.RoleUser, Content: "what is a monad"},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if !strings.Contains(res.Content, "The synthesized answer.") {
		t.Fatalf("content missing synthesis: %q", res.Content)
	}
	if strings.Contains(res.Content, "# Primary source:") || strings.Contains(res.Content, "# Confidence:") {
		t.Fatalf("metadata lines not stripped: %q", res.Content)
	}
	if !strings.Contains(res.Content, "*Model: m1*") {
		t.Fatalf("footer missing primary source: %q", res.Content)
	}
	if !strings.Contains(res.Content, "*Confidence: 85%*") {
		t.Fatalf("footer missing confidence: %q", res.Content)
	}
	if res.Model != "chair" {
		t.Fatalf("model = %q, want chair", res.Model)
	}

	conv, err := repo.Get(context.Background(), res.ConversationID)
	if err != nil {
		t.Fatalf("conversation not persisted: %v", err)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("message count = %d, want user+assistant", len(conv.Messages))
	}
	if conv.Messages[0].Role != entity.RoleUser || conv.Messages[1].Role != entity.RoleAssistant {
		t.Fatalf("message roles = %s,%s", conv.Messages[0].Role, conv.Messages[1].Role)
	}
	if conv.Messages[1].Stage3 == nil {
		t.Fatal("assistant message missing stage artifacts")
	}
}

func TestExecuteDeterministicConversationID(t *testing.T) {
	client := &scriptedClient{answers: map[string]string{
		"m1":    "a",
		"m2":    "b",
		"chair": chairmanAnswer("synth"),
	}}
	uc, repo := newChatUseCase(t, client)

	first := []service.ChatMessage{{Role: entity.RoleUser, Content: "same opener"}}
	res1, err := uc.Execute(context.Background(), first)
	if err != nil {
		t.Fatal(err)
	}

	// Same conversation replayed with the assistant turn and a follow-up.
	followUp := []service.ChatMessage{
		{Role: entity.RoleUser, Content: "same opener"},
		{Role: entity.RoleAssistant, Content: res1.Content},
		{Role: entity.RoleUser, Content: "follow up"},
	}
	res2, err := uc.Execute(context.Background(), followUp)
	if err != nil {
		t.Fatal(err)
	}

	if res1.ConversationID != res2.ConversationID {
		t.Fatalf("ids differ: %s vs %s", res1.ConversationID, res2.ConversationID)
	}

	conv, err := repo.Get(context.Background(), res1.ConversationID)
	if err != nil {
		t.Fatal(err)
	}
	// Two turns: user+assistant, user+assistant.
	if len(conv.Messages) != 4 {
		t.Fatalf("message count = %d, want 4", len(conv.Messages))
	}
}

func TestExecuteAllModelsFailed(t *testing.T) {
	client := &scriptedClient{answers: map[string]string{}}
	uc, repo := newChatUseCase(t, client)

	_, err := uc.Execute(context.Background(), []service.ChatMessage{
		{Role: entity.RoleUser, Content: "doomed"},
	})
	if err == nil {
		t.Fatal("expected council error")
	}

	var runErr *CouncilRunError
	if !errors.As(err, &runErr) {
		t.Fatalf("error is %T, want *CouncilRunError", err)
	}
	if runErr.ConversationID == "" {
		t.Fatal("council error must carry the conversation id")
	}

	// The user message survives the failed run; the failure itself is not
	// recorded as an assistant message.
	conv, err := repo.Get(context.Background(), runErr.ConversationID)
	if err != nil {
		t.Fatal(err)
	}
	if len(conv.Messages) != 1 {
		t.Fatalf("message count = %d, want just the user message", len(conv.Messages))
	}
	if conv.Messages[0].Role != entity.RoleUser {
		t.Fatalf("role = %s, want user", conv.Messages[0].Role)
	}
	for _, m := range conv.Messages {
		if m.Role == entity.RoleAssistant {
			t.Fatalf("assistant message persisted for a failed run: %+v", m)
		}
	}
}

func TestExecuteRejectsEmptyMessages(t *testing.T) {
	client := &scriptedClient{answers: map[string]string{}}
	uc, _ := newChatUseCase(t, client)

	if _, err := uc.Execute(context.Background(), nil); err == nil {
		t.Fatal("expected invalid input error")
	}
	if _, err := uc.Execute(context.Background(), []service.ChatMessage{
		{Role: entity.RoleSystem, Content: "only system"},
	}); err == nil {
		t.Fatal("expected error when no user message exists")
	}
}

func TestExecuteTitleGenerationRunsAsync(t *testing.T) {
	client := &scriptedClient{answers: map[string]string{
		"m1":    "a",
		"m2":    "b",
		"chair": chairmanAnswer("synth"),
	}}
	uc, repo := newChatUseCase(t, client)

	res, err := uc.Execute(context.Background(), []service.ChatMessage{
		{Role: entity.RoleUser, Content: "explain goroutines in depth"},
	})
	if err != nil {
		t.Fatal(err)
	}

	// The background title call uses the chairman; wait for the default
	// title to be replaced with its answer.
	defaultTitle := "explain goroutines in depth"
	deadline := time.After(2 * time.Second)
	for {
		conv, err := repo.Get(context.Background(), res.ConversationID)
		if err != nil {
			t.Fatal(err)
		}
		if conv.Title != defaultTitle {
			if strings.HasPrefix(conv.Title, "synth") {
				return
			}
			t.Fatalf("unexpected generated title %q", conv.Title)
		}
		select {
		case <-deadline:
			t.Fatalf("generated title never stored, still %q", conv.Title)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
