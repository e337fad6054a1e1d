package entity

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// SourceContinue tags conversations created through the chat-completions
// surface by a code-assistant plugin.
const SourceContinue = "continue"

// Timestamp serializes as an ISO 8601 string but unmarshals from either an
// ISO string or a millisecond epoch integer. Stored conversations from older
// deployments use both representations.
type Timestamp struct {
	time.Time
}

// Now returns the current UTC timestamp.
func Now() Timestamp {
	return Timestamp{time.Now().UTC()}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		return nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return &time.ParseError{Layout: time.RFC3339, Value: raw}
}

// Message is one entry in a conversation log. Immutable once appended.
// Stage artifacts are present only on assistant messages.
type Message struct {
	Role      string       `json:"role"`
	Content   string       `json:"content"`
	Timestamp Timestamp    `json:"timestamp"`
	Stage1    []ModelReply `json:"stage1,omitempty"`
	Stage2    []Ranking    `json:"stage2,omitempty"`
	Stage3    *Synthesis   `json:"stage3,omitempty"`
}

// NewUserMessage creates a user message stamped now.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, Timestamp: Now()}
}

// NewAssistantMessage creates an assistant message carrying the full set of
// stage artifacts from a deliberation.
func NewAssistantMessage(content string, result *CouncilResult) Message {
	msg := Message{Role: RoleAssistant, Content: content, Timestamp: Now()}
	if result != nil {
		msg.Stage1 = result.Stage1
		msg.Stage2 = result.Stage2
		stage3 := result.Stage3
		msg.Stage3 = &stage3
	}
	return msg
}

// Conversation is an append-only message log with a deterministic id.
// Timestamps are milliseconds since epoch, matching the persisted schema.
type Conversation struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Source    string         `json:"source"`
	CreatedAt int64          `json:"created_at"`
	UpdatedAt int64          `json:"updated_at"`
	Messages  []Message      `json:"messages"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// FirstUserMessage returns the content of the earliest user message, or "".
func (c *Conversation) FirstUserMessage() string {
	for _, msg := range c.Messages {
		if msg.Role == RoleUser {
			return msg.Content
		}
	}
	return ""
}

// CreatedAtISO renders the creation time as an ISO 8601 string.
func (c *Conversation) CreatedAtISO() string {
	return msToISO(c.CreatedAt)
}

// UpdatedAtISO renders the last-update time as an ISO 8601 string.
func (c *Conversation) UpdatedAtISO() string {
	return msToISO(c.UpdatedAt)
}

func msToISO(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// ConversationMetadata is the list-view projection of a conversation.
// Timestamps are normalized to ISO strings on output.
type ConversationMetadata struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	MessageCount int    `json:"message_count"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}
