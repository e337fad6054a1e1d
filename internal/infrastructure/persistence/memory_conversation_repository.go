package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/llm-council/llm-council/gateway/internal/domain/entity"
	"github.com/llm-council/llm-council/gateway/internal/domain/repository"
	"github.com/llm-council/llm-council/gateway/pkg/errors"
)

// MemoryConversationRepository keeps conversations in process memory. Used
// when database storage is disabled, and in tests. Same contract as the
// GORM implementation, including the NotFound behavior.
type MemoryConversationRepository struct {
	mu            sync.RWMutex
	conversations map[string]*entity.Conversation
}

// NewMemoryConversationRepository creates an in-memory conversation store.
func NewMemoryConversationRepository() repository.ConversationRepository {
	return &MemoryConversationRepository{
		conversations: make(map[string]*entity.Conversation),
	}
}

func (r *MemoryConversationRepository) Create(ctx context.Context, conv *entity.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *conv
	clone.Messages = append([]entity.Message(nil), conv.Messages...)
	r.conversations[conv.ID] = &clone
	return nil
}

func (r *MemoryConversationRepository) Get(ctx context.Context, id string) (*entity.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conv, ok := r.conversations[id]
	if !ok {
		return nil, errors.NewNotFoundError("conversation not found")
	}
	clone := *conv
	clone.Messages = append([]entity.Message(nil), conv.Messages...)
	return &clone, nil
}

func (r *MemoryConversationRepository) AppendMessage(ctx context.Context, id string, msg entity.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[id]
	if !ok {
		return errors.NewNotFoundError("conversation not found")
	}
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = time.Now().UnixMilli()
	return nil
}

func (r *MemoryConversationRepository) UpdateTitle(ctx context.Context, id string, title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[id]
	if !ok {
		return errors.NewNotFoundError("conversation not found")
	}
	conv.Title = title
	conv.UpdatedAt = time.Now().UnixMilli()
	return nil
}

func (r *MemoryConversationRepository) List(ctx context.Context, limit, offset int) ([]entity.ConversationMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	all := make([]*entity.Conversation, 0, len(r.conversations))
	for _, conv := range r.conversations {
		all = append(all, conv)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt > all[j].CreatedAt
	})

	if offset >= len(all) {
		return []entity.ConversationMetadata{}, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}

	out := make([]entity.ConversationMetadata, 0, len(all))
	for _, conv := range all {
		out = append(out, entity.ConversationMetadata{
			ID:           conv.ID,
			Title:        conv.Title,
			MessageCount: len(conv.Messages),
			CreatedAt:    conv.CreatedAtISO(),
			UpdatedAt:    conv.UpdatedAtISO(),
		})
	}
	return out, nil
}

func (r *MemoryConversationRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conversations[id]; !ok {
		return errors.NewNotFoundError("conversation not found")
	}
	delete(r.conversations, id)
	return nil
}

func (r *MemoryConversationRepository) FindByFirstMessage(ctx context.Context, firstUserMessage string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if firstUserMessage == "" {
		return "", nil
	}
	want := prefix100(firstUserMessage)
	for _, conv := range r.conversations {
		if prefix100(conv.FirstUserMessage()) == want {
			return conv.ID, nil
		}
	}
	return "", nil
}
