package models

// ConversationModel maps to the "chat" table shared with Open WebUI, so
// council conversations show up in its history view. Timestamps are unix
// milliseconds; the message log and council artifacts live inside the Chat
// JSON document rather than in normalized rows.
type ConversationModel struct {
	ID        string `gorm:"column:id;primaryKey"`
	UserID    string `gorm:"column:user_id;index"`
	Title     string `gorm:"column:title"`
	Chat      string `gorm:"column:chat;type:text"`
	Meta      string `gorm:"column:meta;type:text"`
	Source    string `gorm:"column:source"`
	CreatedAt int64  `gorm:"column:created_at"`
	UpdatedAt int64  `gorm:"column:updated_at"`
}

// TableName keeps GORM on the shared table instead of a pluralized default.
func (ConversationModel) TableName() string {
	return "chat"
}
