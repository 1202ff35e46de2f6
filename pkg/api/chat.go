package api

import "github.com/google/uuid"

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	ConversationId uuid.UUID     `json:"conversation_id"`
	Model          string        `json:"model"`
	Messages       []ChatMessage `json:"messages"`
}

type ConversationMetadata struct {
	Id        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Model     string    `json:"model"`
	CreatedAt string    `json:"created_at"`
}

type ChatResponse struct {
	Response     string               `json:"response"`
	Conversation ConversationMetadata `json:"conversation"`
}

type NewConversationRequest struct {
	Model string `json:"model"`
	Title string `json:"title"`
}

type NewConversationResponse struct {
	Id    uuid.UUID `json:"id"`
	Title string    `json:"title"`
}

type RenameConversationRequest struct {
	Title string `json:"title"`
}

type UpdateModelRequest struct {
	Model string `json:"model"`
}

type ListConversationsParams struct {
	Limit  int `schema:"limit"`
	Offset int `schema:"offset"`
}

type MessageItem struct {
	Id      uint   `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
	Time    string `json:"time"`
}
