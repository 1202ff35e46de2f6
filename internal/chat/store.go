package chat

import (
	"sync"

	"chat-backend/internal/database"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SQLite only supports one writer at a time, so we need a lock
// whenever we write to the database
var dbMutex sync.Mutex

func GetConversations(db *gorm.DB, limit, offset int) ([]database.Conversation, error) {
	var conversations []database.Conversation
	query := db.Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit).Offset(offset)
	}
	err := query.Find(&conversations).Error
	return conversations, err
}

func CreateConversation(db *gorm.DB, conversation *database.Conversation) error {
	dbMutex.Lock()
	defer dbMutex.Unlock()
	return db.Create(conversation).Error
}

func GetConversation(db *gorm.DB, conversationID uuid.UUID) (database.Conversation, error) {
	var conversation database.Conversation
	err := db.First(&conversation, "id = ?", conversationID).Error
	return conversation, err
}

// UpdateConversationTitle records the one-time title generation outcome. The
// title_generated flag is set in the same update so the step can never fire
// twice.
func UpdateConversationTitle(db *gorm.DB, conversationID uuid.UUID, title string) error {
	dbMutex.Lock()
	defer dbMutex.Unlock()
	return db.Model(&database.Conversation{Id: conversationID}).
		Updates(map[string]any{"title": title, "title_generated": true}).Error
}

func RenameConversation(db *gorm.DB, conversationID uuid.UUID, title string) error {
	dbMutex.Lock()
	defer dbMutex.Unlock()
	return db.Model(&database.Conversation{Id: conversationID}).Update("title", title).Error
}

func UpdateConversationModel(db *gorm.DB, conversationID uuid.UUID, modelName string) error {
	dbMutex.Lock()
	defer dbMutex.Unlock()
	return db.Model(&database.Conversation{Id: conversationID}).Update("model_name", modelName).Error
}

// DeleteConversation removes only the conversation record. Its messages are
// kept so history remains auditable.
func DeleteConversation(db *gorm.DB, conversationID uuid.UUID) error {
	dbMutex.Lock()
	defer dbMutex.Unlock()
	return db.Delete(&database.Conversation{}, "id = ?", conversationID).Error
}

func SaveMessage(db *gorm.DB, message *database.Message) error {
	dbMutex.Lock()
	defer dbMutex.Unlock()
	return db.Create(message).Error
}

// GetMessages returns the visible messages of a conversation ordered by
// timestamp, ties broken by insertion order.
func GetMessages(db *gorm.DB, conversationID uuid.UUID) ([]database.Message, error) {
	var messages []database.Message
	err := db.
		Where("conversation_id = ? AND deleted = ?", conversationID, false).
		Order("timestamp ASC, id ASC").
		Find(&messages).Error
	return messages, err
}

// CountMessages counts every message of the conversation, soft-deleted rows
// included, since the title trigger keys off total turns taken.
func CountMessages(db *gorm.DB, conversationID uuid.UUID) (int64, error) {
	var count int64
	err := db.Model(&database.Message{}).
		Where("conversation_id = ?", conversationID).
		Count(&count).Error
	return count, err
}

func SoftDeleteMessage(db *gorm.DB, messageID uint) error {
	dbMutex.Lock()
	defer dbMutex.Unlock()
	return db.Model(&database.Message{Id: messageID}).Update("deleted", true).Error
}
