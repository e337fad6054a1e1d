package repository

import (
	"context"

	"github.com/llm-council/llm-council/gateway/internal/domain/entity"
)

// ConversationRepository is the persistence contract for the append-only
// conversation log. Implementations: GORM-backed (postgres or sqlite) and
// in-memory (ENABLE_DB_STORAGE=false, tests).
type ConversationRepository interface {
	// Create inserts a new conversation. Returns an AlreadyExists-style
	// internal error if the id is taken; callers use Get first.
	Create(ctx context.Context, conv *entity.Conversation) error

	// Get returns the full conversation including parsed stage artifacts,
	// or a NotFound error.
	Get(ctx context.Context, id string) (*entity.Conversation, error)

	// AppendMessage appends one message and bumps updated_at. Returns a
	// NotFound error when the id is unknown.
	AppendMessage(ctx context.Context, id string, msg entity.Message) error

	// UpdateTitle replaces the title and bumps updated_at.
	UpdateTitle(ctx context.Context, id string, title string) error

	// List returns metadata sorted by created_at descending.
	List(ctx context.Context, limit, offset int) ([]entity.ConversationMetadata, error)

	// Delete removes a conversation. Returns a NotFound error when the id
	// is unknown, so a second delete of the same id reports false upstream.
	Delete(ctx context.Context, id string) error

	// FindByFirstMessage scans the most recent conversations for one whose
	// first user message matches the given text on its first 100
	// characters. Returns "" when nothing matches.
	FindByFirstMessage(ctx context.Context, firstUserMessage string) (string, error)
}
