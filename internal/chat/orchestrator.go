package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"chat-backend/internal/database"
	"chat-backend/internal/ollama"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []ollama.ChatMessage) (string, error)
}

type ModelRegistry interface {
	ValidateModel(ctx context.Context, name string) bool
}

// Titler produces a short conversation title from the first exchange. It
// never fails: internal errors degrade to a fallback title.
type Titler interface {
	Summarize(ctx context.Context, exchange string) string
}

// Orchestrator runs a chat turn end to end: persist the user message, call
// the inference backend, persist the reply, and derive a conversation title
// on the first completed exchange.
type Orchestrator struct {
	db       *gorm.DB
	llm      LLMClient
	registry ModelRegistry
	titler   Titler
}

func NewOrchestrator(db *gorm.DB, llm LLMClient, registry ModelRegistry, titler Titler) *Orchestrator {
	return &Orchestrator{db: db, llm: llm, registry: registry, titler: titler}
}

type TurnRequest struct {
	ConversationId uuid.UUID
	Model          string
	Messages       []ollama.ChatMessage
}

type TurnResult struct {
	Reply        string
	Conversation database.Conversation
}

// ExecuteTurn is strictly sequential: each step depends on the previous one.
// An inference failure leaves the user message persisted with no assistant
// message; the caller may retry the same message.
func (o *Orchestrator) ExecuteTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	var missing []string
	if req.ConversationId == uuid.Nil {
		missing = append(missing, "conversation_id")
	}
	if len(req.Messages) == 0 {
		missing = append(missing, "messages")
	}
	if req.Model == "" {
		missing = append(missing, "model")
	}
	if len(missing) > 0 {
		return nil, &MissingParamsError{Fields: missing}
	}

	conv, err := GetConversation(o.db, req.ConversationId)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("error loading conversation: %w", err)
	}

	last := req.Messages[len(req.Messages)-1]
	if last.Content == "" {
		return nil, ErrInvalidMessage
	}

	// The message count from previous turns decides whether this turn ends
	// the second completed exchange, which is when the one-time title
	// generation runs. Counted before this turn's pair is persisted.
	priorCount, countErr := CountMessages(o.db, req.ConversationId)
	if countErr != nil {
		slog.Error("error counting messages", "conversation_id", req.ConversationId, "error", countErr)
	}

	userMsg := database.Message{
		ConversationId: conv.Id,
		Role:           database.RoleUser,
		Content:        last.Content,
	}
	if err := SaveMessage(o.db, &userMsg); err != nil {
		return nil, fmt.Errorf("error saving user message: %w", err)
	}

	reply, err := o.llm.Chat(ctx, conv.ModelName, req.Messages)
	if err != nil {
		return nil, &InferenceError{Err: err}
	}

	assistantMsg := database.Message{
		ConversationId: conv.Id,
		Role:           database.RoleAssistant,
		Content:        reply,
	}
	if err := SaveMessage(o.db, &assistantMsg); err != nil {
		return nil, fmt.Errorf("error saving assistant message: %w", err)
	}

	if countErr == nil && priorCount == 2 && !conv.TitleGenerated {
		o.generateTitle(ctx, &conv, userMsg.Content, reply)
	}

	return &TurnResult{Reply: reply, Conversation: conv}, nil
}

// generateTitle runs once per conversation. It must never abort the turn:
// failures are logged and the conversation keeps its current title.
func (o *Orchestrator) generateTitle(ctx context.Context, conv *database.Conversation, userText, reply string) {
	transcript := fmt.Sprintf("用户：%s\n助手：%s", userText, stripReasoning(reply))
	title := displayTitle(o.titler.Summarize(ctx, transcript))

	if err := UpdateConversationTitle(o.db, conv.Id, title); err != nil {
		slog.Error("error saving generated title", "conversation_id", conv.Id, "error", err)
		return
	}
	conv.Title = title
	conv.TitleGenerated = true
}

// SwitchModel binds the conversation to a new model after confirming the
// backend serves it. An unconfirmed model leaves the conversation unchanged.
func (o *Orchestrator) SwitchModel(ctx context.Context, conversationID uuid.UUID, modelName string) error {
	if modelName == "" {
		return &MissingParamsError{Fields: []string{"model"}}
	}

	if !o.registry.ValidateModel(ctx, modelName) {
		return ErrModelNotAvailable
	}

	if _, err := GetConversation(o.db, conversationID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrConversationNotFound
		}
		return fmt.Errorf("error loading conversation: %w", err)
	}

	return UpdateConversationModel(o.db, conversationID, modelName)
}

// Reasoning models wrap their chain of thought in <think> tags; the title
// transcript uses only the visible part of the reply.
var reasoningTagPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

func stripReasoning(s string) string {
	return reasoningTagPattern.ReplaceAllString(s, "")
}

const titleDisplayRunes = 10

// displayTitle truncates an overlong title to its first 10 runes with an
// ellipsis marker.
func displayTitle(title string) string {
	runes := []rune(title)
	if len(runes) > titleDisplayRunes {
		return string(runes[:titleDisplayRunes]) + "..."
	}
	return title
}
