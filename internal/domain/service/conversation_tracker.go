package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/llm-council/llm-council/gateway/internal/domain/entity"
)

// Conversation identity for clients that replay their full message history
// on every request. The id must be a pure function of the first user message
// so that successive requests in the same client conversation land on the
// same row ("continuity over uniqueness": two conversations opening with
// identical text intentionally collide).

// conversationIDPrefix namespaces the hashed value so ids from other sources
// can never collide with plugin conversations.
const conversationIDPrefix = "continue:"

// ConversationID derives the deterministic conversation id for a message
// array: UUIDv5 over the first user message. When no user message exists the
// canonical JSON of the whole array is hashed instead.
func ConversationID(messages []ChatMessage) string {
	for _, msg := range messages {
		if msg.Role == entity.RoleUser {
			return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(conversationIDPrefix+msg.Content)).String()
		}
	}
	raw, err := json.Marshal(messages)
	if err != nil {
		raw = fmt.Appendf(nil, "%v", messages)
	}
	return uuid.NewSHA1(uuid.NameSpaceDNS, append([]byte(conversationIDPrefix), raw...)).String()
}

// FirstUserMessage returns the content of the earliest user message, or "".
func FirstUserMessage(messages []ChatMessage) string {
	for _, msg := range messages {
		if msg.Role == entity.RoleUser {
			return msg.Content
		}
	}
	return ""
}

// DefaultTitle derives a list-view title from the first user message:
// the first 50 characters, with a "..." tail when truncated.
func DefaultTitle(firstUserMessage string) string {
	runes := []rune(firstUserMessage)
	if len(runes) > 50 {
		return string(runes[:50]) + "..."
	}
	return firstUserMessage
}

// ComposeQuery flattens an OpenAI-style message array into the single query
// the council deliberates on. The last user message is the question; system
// messages (file context, instructions) and prior assistant turns are
// prepended as context. Returns an error when no user message exists.
func ComposeQuery(messages []ChatMessage) (string, error) {
	var contextParts []string
	var userQueries []string

	for _, msg := range messages {
		switch msg.Role {
		case entity.RoleSystem:
			contextParts = append(contextParts, msg.Content)
		case entity.RoleAssistant:
			contextParts = append(contextParts, "Previous response: "+msg.Content)
		case entity.RoleUser:
			userQueries = append(userQueries, msg.Content)
		}
	}

	if len(userQueries) == 0 {
		return "", fmt.Errorf("no user message found")
	}

	query := userQueries[len(userQueries)-1]
	if len(contextParts) == 0 {
		return query, nil
	}

	return fmt.Sprintf(`Context and file contents:
%s

User's question or request:
%s

Please provide a helpful response based on the context provided above.`,
		strings.Join(contextParts, "\n\n"), query), nil
}
