package persistence

import (
	"context"
	"testing"

	"github.com/llm-council/llm-council/gateway/internal/domain/entity"
	"github.com/llm-council/llm-council/gateway/pkg/errors"
)

func newConversation(id, firstMsg string, createdAt int64) *entity.Conversation {
	return &entity.Conversation{
		ID:        id,
		Title:     "t-" + id,
		Source:    entity.SourceContinue,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
		Messages:  []entity.Message{entity.NewUserMessage(firstMsg)},
	}
}

func TestCreateGetRoundTrip(t *testing.T) {
	repo := NewMemoryConversationRepository()
	ctx := context.Background()

	if err := repo.Create(ctx, newConversation("c1", "hello", 1000)); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "t-c1" || len(got.Messages) != 1 {
		t.Fatalf("unexpected conversation: %+v", got)
	}
}

func TestGetUnknownIsNotFound(t *testing.T) {
	repo := NewMemoryConversationRepository()
	_, err := repo.Get(context.Background(), "nope")
	if !errors.IsNotFound(err) {
		t.Fatalf("err = %v, want NotFound", err)
	}
}

func TestAppendMessagePreservesOrder(t *testing.T) {
	repo := NewMemoryConversationRepository()
	ctx := context.Background()

	if err := repo.Create(ctx, newConversation("c1", "first", 1000)); err != nil {
		t.Fatal(err)
	}
	if err := repo.AppendMessage(ctx, "c1", entity.NewAssistantMessage("reply", nil)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := repo.AppendMessage(ctx, "c1", entity.NewUserMessage("second")); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := repo.Get(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	roles := []string{got.Messages[0].Role, got.Messages[1].Role, got.Messages[2].Role}
	want := []string{entity.RoleUser, entity.RoleAssistant, entity.RoleUser}
	for i := range want {
		if roles[i] != want[i] {
			t.Fatalf("message order = %v, want %v", roles, want)
		}
	}
}

func TestAppendToUnknownIsNotFound(t *testing.T) {
	repo := NewMemoryConversationRepository()
	err := repo.AppendMessage(context.Background(), "nope", entity.NewUserMessage("x"))
	if !errors.IsNotFound(err) {
		t.Fatalf("err = %v, want NotFound", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	repo := NewMemoryConversationRepository()
	ctx := context.Background()

	for _, c := range []*entity.Conversation{
		newConversation("old", "a", 1000),
		newConversation("new", "b", 3000),
		newConversation("mid", "c", 2000),
	} {
		if err := repo.Create(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	list, err := repo.List(ctx, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	if list[0].ID != "new" || list[1].ID != "mid" || list[2].ID != "old" {
		t.Fatalf("order = %s,%s,%s", list[0].ID, list[1].ID, list[2].ID)
	}
}

func TestDeleteIsIdempotencyAware(t *testing.T) {
	repo := NewMemoryConversationRepository()
	ctx := context.Background()

	if err := repo.Create(ctx, newConversation("c1", "x", 1000)); err != nil {
		t.Fatal(err)
	}
	if err := repo.Delete(ctx, "c1"); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := repo.Delete(ctx, "c1"); !errors.IsNotFound(err) {
		t.Fatalf("second delete err = %v, want NotFound", err)
	}
}

func TestFindByFirstMessageMatchesPrefix(t *testing.T) {
	repo := NewMemoryConversationRepository()
	ctx := context.Background()

	long := ""
	for i := 0; i < 30; i++ {
		long += "abcdefghij" // 300 chars, prefix rule kicks in at 100
	}
	if err := repo.Create(ctx, newConversation("c1", long, 1000)); err != nil {
		t.Fatal(err)
	}

	// Same first 100 chars, different tail.
	id, err := repo.FindByFirstMessage(ctx, long[:150]+"DIFFERENT TAIL")
	if err != nil {
		t.Fatal(err)
	}
	if id != "c1" {
		t.Fatalf("id = %q, want c1", id)
	}

	id, err = repo.FindByFirstMessage(ctx, "unrelated")
	if err != nil {
		t.Fatal(err)
	}
	if id != "" {
		t.Fatalf("id = %q, want empty", id)
	}
}
