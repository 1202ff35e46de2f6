package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"chat-backend/internal/chat"
	"chat-backend/internal/database"
	"chat-backend/internal/ollama"
	"chat-backend/pkg/api"
)

const (
	createdAtFormat   = "2006-01-02 15:04"
	messageTimeFormat = "15:04"
)

type ModelRegistry interface {
	ListModels(ctx context.Context) ([]string, error)
	ValidateModel(ctx context.Context, name string) bool
}

type ChatService struct {
	db       *gorm.DB
	turns    *chat.Orchestrator
	registry ModelRegistry
}

func NewChatService(db *gorm.DB, turns *chat.Orchestrator, registry ModelRegistry) *ChatService {
	return &ChatService{
		db:       db,
		turns:    turns,
		registry: registry,
	}
}

func (s *ChatService) AddRoutes(r chi.Router) {
	r.Route("/conversations", func(r chi.Router) {
		r.Get("/", RestHandler(s.ListConversations))
		r.Post("/", RestHandler(s.NewConversation))
		r.Delete("/{conversation_id}", RestHandler(s.DeleteConversation))
		r.Post("/{conversation_id}/rename", RestHandler(s.RenameConversation))
		r.Post("/{conversation_id}/model", RestHandler(s.UpdateConversationModel))
		r.Get("/{conversation_id}/messages", RestHandler(s.GetMessages))
	})
	r.Post("/chat", RestHandler(s.Chat))
	r.Get("/models", RestHandler(s.GetModels))
}

func (s *ChatService) ListConversations(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[api.ListConversationsParams](r)
	if err != nil {
		return nil, err
	}

	conversations, err := chat.GetConversations(s.db, params.Limit, params.Offset)
	if err != nil {
		return nil, err
	}

	resp := make([]api.ConversationMetadata, 0, len(conversations))
	for _, conv := range conversations {
		resp = append(resp, conversationMetadata(conv))
	}
	return resp, nil
}

func (s *ChatService) NewConversation(r *http.Request) (any, error) {
	req, err := ParseRequest[api.NewConversationRequest](r)
	if err != nil {
		return nil, err
	}

	if req.Model == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "model is required")
	}

	title := req.Title
	if title == "" {
		title = database.DefaultTitle
	}

	conv := database.Conversation{
		Id:        uuid.New(),
		Title:     title,
		ModelName: req.Model,
	}
	if err := chat.CreateConversation(s.db, &conv); err != nil {
		return nil, err
	}

	return api.NewConversationResponse{Id: conv.Id, Title: conv.Title}, nil
}

func (s *ChatService) DeleteConversation(r *http.Request) (any, error) {
	conversationID, err := URLParamUUID(r, "conversation_id")
	if err != nil {
		return nil, err
	}

	if _, err := chat.GetConversation(s.db, conversationID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "conversation not found")
		}
		return nil, err
	}

	// Only the conversation record is removed; its messages are retained.
	if err := chat.DeleteConversation(s.db, conversationID); err != nil {
		return nil, err
	}

	return nil, nil
}

func (s *ChatService) RenameConversation(r *http.Request) (any, error) {
	conversationID, err := URLParamUUID(r, "conversation_id")
	if err != nil {
		return nil, err
	}
	req, err := ParseRequest[api.RenameConversationRequest](r)
	if err != nil {
		return nil, err
	}

	if req.Title == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "title is required")
	}

	if _, err := chat.GetConversation(s.db, conversationID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "conversation not found")
		}
		return nil, err
	}

	if err := chat.RenameConversation(s.db, conversationID, req.Title); err != nil {
		return nil, err
	}

	return api.RenameConversationRequest{Title: req.Title}, nil
}

func (s *ChatService) UpdateConversationModel(r *http.Request) (any, error) {
	conversationID, err := URLParamUUID(r, "conversation_id")
	if err != nil {
		return nil, err
	}
	req, err := ParseRequest[api.UpdateModelRequest](r)
	if err != nil {
		return nil, err
	}

	if err := s.turns.SwitchModel(r.Context(), conversationID, req.Model); err != nil {
		return nil, mapTurnError(err)
	}

	return nil, nil
}

func (s *ChatService) GetMessages(r *http.Request) (any, error) {
	conversationID, err := URLParamUUID(r, "conversation_id")
	if err != nil {
		return nil, err
	}

	messages, err := chat.GetMessages(s.db, conversationID)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, CodedErrorf(http.StatusNotFound, "no messages found")
	}

	resp := make([]api.MessageItem, 0, len(messages))
	for _, msg := range messages {
		resp = append(resp, api.MessageItem{
			Id:      msg.Id,
			Role:    msg.Role,
			Content: msg.Content,
			Time:    msg.Timestamp.Format(messageTimeFormat),
		})
	}
	return resp, nil
}

func (s *ChatService) Chat(r *http.Request) (any, error) {
	req, err := ParseRequest[api.ChatRequest](r)
	if err != nil {
		return nil, err
	}

	messages := make([]ollama.ChatMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, ollama.ChatMessage{Role: msg.Role, Content: msg.Content})
	}

	result, err := s.turns.ExecuteTurn(r.Context(), chat.TurnRequest{
		ConversationId: req.ConversationId,
		Model:          req.Model,
		Messages:       messages,
	})
	if err != nil {
		return nil, mapTurnError(err)
	}

	return api.ChatResponse{
		Response:     result.Reply,
		Conversation: conversationMetadata(result.Conversation),
	}, nil
}

func (s *ChatService) GetModels(r *http.Request) (any, error) {
	models, err := s.registry.ListModels(r.Context())
	if err != nil {
		return nil, CodedErrorf(http.StatusServiceUnavailable, "model service unavailable")
	}
	return models, nil
}

func conversationMetadata(conv database.Conversation) api.ConversationMetadata {
	return api.ConversationMetadata{
		Id:        conv.Id,
		Title:     conv.Title,
		Model:     conv.ModelName,
		CreatedAt: conv.CreatedAt.Format(createdAtFormat),
	}
}

func mapTurnError(err error) error {
	var missing *chat.MissingParamsError
	var inference *chat.InferenceError

	switch {
	case errors.As(err, &missing):
		return CodedError(http.StatusBadRequest, err)
	case errors.Is(err, chat.ErrInvalidMessage):
		return CodedError(http.StatusBadRequest, err)
	case errors.Is(err, chat.ErrModelNotAvailable):
		return CodedError(http.StatusBadRequest, err)
	case errors.Is(err, chat.ErrConversationNotFound):
		return CodedError(http.StatusNotFound, err)
	case errors.As(err, &inference):
		return CodedError(http.StatusBadGateway, err)
	default:
		return err
	}
}
