package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/llm-council/llm-council/gateway/internal/domain/entity"
	"github.com/llm-council/llm-council/gateway/internal/domain/repository"
	"github.com/llm-council/llm-council/gateway/internal/infrastructure/persistence/models"
	domainErrors "github.com/llm-council/llm-council/gateway/pkg/errors"
)

// conversationUserID owns every council-written row in the shared table.
const conversationUserID = "continue-user"

// chatDocument is the JSON payload stored in the chat column. The message
// array carries the council artifacts inline.
type chatDocument struct {
	Messages []entity.Message `json:"messages"`
}

// GormConversationRepository persists conversations in the shared chat table.
type GormConversationRepository struct {
	db *gorm.DB

	// The archived column exists only in newer Open WebUI schemas and is
	// NOT NULL there, so inserts must include it exactly when present.
	archivedOnce sync.Once
	hasArchived  bool
}

// NewGormConversationRepository creates a GORM-backed conversation repository.
func NewGormConversationRepository(db *gorm.DB) repository.ConversationRepository {
	return &GormConversationRepository{db: db}
}

func (r *GormConversationRepository) archivedColumnPresent() bool {
	r.archivedOnce.Do(func() {
		r.hasArchived = r.db.Migrator().HasColumn(&models.ConversationModel{}, "archived")
	})
	return r.hasArchived
}

// Create inserts a new conversation row.
func (r *GormConversationRepository) Create(ctx context.Context, conv *entity.Conversation) error {
	doc, err := json.Marshal(chatDocument{Messages: conv.Messages})
	if err != nil {
		return domainErrors.NewInternalErrorWithCause("marshal chat document", err)
	}
	meta, err := json.Marshal(conv.Meta)
	if err != nil {
		return domainErrors.NewInternalErrorWithCause("marshal chat meta", err)
	}
	if conv.Meta == nil {
		meta = []byte("{}")
	}

	row := map[string]interface{}{
		"id":         conv.ID,
		"user_id":    conversationUserID,
		"title":      conv.Title,
		"chat":       string(doc),
		"meta":       string(meta),
		"source":     conv.Source,
		"created_at": conv.CreatedAt,
		"updated_at": conv.UpdatedAt,
	}
	if r.archivedColumnPresent() {
		row["archived"] = false
	}

	if err := r.db.WithContext(ctx).Table("chat").Create(row).Error; err != nil {
		return domainErrors.NewStorageError("create conversation", err)
	}
	return nil
}

// Get loads one conversation including its parsed message log.
func (r *GormConversationRepository) Get(ctx context.Context, id string) (*entity.Conversation, error) {
	var row conversationRow
	err := r.db.WithContext(ctx).Table("chat").
		Select("id, title, chat, meta, source, created_at, updated_at").
		Where("id = ?", id).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("conversation not found")
		}
		return nil, domainErrors.NewStorageError("load conversation", err)
	}
	return row.toEntity()
}

// AppendMessage appends one message to the stored document and bumps
// updated_at.
func (r *GormConversationRepository) AppendMessage(ctx context.Context, id string, msg entity.Message) error {
	conv, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	conv.Messages = append(conv.Messages, msg)
	doc, err := json.Marshal(chatDocument{Messages: conv.Messages})
	if err != nil {
		return domainErrors.NewInternalErrorWithCause("marshal chat document", err)
	}

	err = r.db.WithContext(ctx).Table("chat").
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"chat":       string(doc),
			"updated_at": time.Now().UnixMilli(),
		}).Error
	if err != nil {
		return domainErrors.NewStorageError("append message", err)
	}
	return nil
}

// UpdateTitle replaces the title and bumps updated_at.
func (r *GormConversationRepository) UpdateTitle(ctx context.Context, id string, title string) error {
	result := r.db.WithContext(ctx).Table("chat").
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"title":      title,
			"updated_at": time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return domainErrors.NewStorageError("update title", result.Error)
	}
	if result.RowsAffected == 0 {
		return domainErrors.NewNotFoundError("conversation not found")
	}
	return nil
}

// List returns conversation metadata, newest first.
func (r *GormConversationRepository) List(ctx context.Context, limit, offset int) ([]entity.ConversationMetadata, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []conversationRow
	err := r.db.WithContext(ctx).Table("chat").
		Select("id, title, chat, created_at, updated_at").
		Where("source = ?", entity.SourceContinue).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewStorageError("list conversations", err)
	}

	out := make([]entity.ConversationMetadata, 0, len(rows))
	for _, row := range rows {
		conv, err := row.toEntity()
		if err != nil {
			continue // skip rows with documents we did not write
		}
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

// Delete removes a conversation row.
func (r *GormConversationRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.ConversationModel{}, "id = ?", id)
	if result.Error != nil {
		return domainErrors.NewStorageError("delete conversation", result.Error)
	}
	if result.RowsAffected == 0 {
		return domainErrors.NewNotFoundError("conversation not found")
	}
	return nil
}

// FindByFirstMessage scans recent council conversations for one opening with
// the same text, matched on the first 100 characters.
func (r *GormConversationRepository) FindByFirstMessage(ctx context.Context, firstUserMessage string) (string, error) {
	if firstUserMessage == "" {
		return "", nil
	}

	var rows []conversationRow
	err := r.db.WithContext(ctx).Table("chat").
		Select("id, chat").
		Where("source = ?", entity.SourceContinue).
		Order("updated_at DESC").
		Limit(100).
		Find(&rows).Error
	if err != nil {
		return "", domainErrors.NewStorageError("scan conversations", err)
	}

	want := prefix100(firstUserMessage)
	for _, row := range rows {
		conv, err := row.toEntity()
		if err != nil {
			continue
		}
		if prefix100(conv.FirstUserMessage()) == want {
			return conv.ID, nil
		}
	}
	return "", nil
}

func prefix100(s string) string {
	runes := []rune(s)
	if len(runes) > 100 {
		return string(runes[:100])
	}
	return s
}

// conversationRow is the scan target for raw table reads.
type conversationRow struct {
	ID        string
	Title     string
	Chat      string
	Meta      string
	Source    string
	CreatedAt int64
	UpdatedAt int64
}

func (row conversationRow) toEntity() (*entity.Conversation, error) {
	var doc chatDocument
	if row.Chat != "" {
		if err := json.Unmarshal([]byte(row.Chat), &doc); err != nil {
			return nil, domainErrors.NewInternalErrorWithCause("parse chat document", err)
		}
	}
	var meta map[string]interface{}
	if row.Meta != "" {
		_ = json.Unmarshal([]byte(row.Meta), &meta)
	}
	return &entity.Conversation{
		ID:        row.ID,
		Title:     row.Title,
		Source:    row.Source,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
		Messages:  doc.Messages,
		Meta:      meta,
	}, nil
}
