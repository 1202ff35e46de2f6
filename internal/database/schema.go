package database

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser      string = "user"
	RoleAssistant string = "assistant"
)

// DefaultTitle is the placeholder assigned to new conversations and used as
// the fallback whenever title generation cannot produce a usable title.
const DefaultTitle = "新对话"

type Conversation struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Title     string `gorm:"size:100;not null"`
	ModelName string `gorm:"size:50;not null"`

	CreatedAt time.Time `gorm:"autoCreateTime"`

	// TitleGenerated flips to true once the one-time title generation step
	// has run for this conversation, successfully or with the fallback.
	TitleGenerated bool `gorm:"default:false"`
}

// Message carries only a back-reference to its conversation, no foreign key
// constraint. Deleting a conversation keeps its messages so history outlives
// the conversation record.
type Message struct {
	Id uint `gorm:"primaryKey"`

	ConversationId uuid.UUID `gorm:"type:uuid;index;not null"`

	Role    string `gorm:"size:20;not null"`
	Content string

	Timestamp time.Time `gorm:"autoCreateTime;index"`

	Deleted bool `gorm:"default:false"`
}
