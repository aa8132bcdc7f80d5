package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"inkwell/api/internal/assistant"
	"inkwell/api/internal/metrics"
	"inkwell/api/internal/rbac"
	"inkwell/api/internal/store"
	"inkwell/api/internal/util"
)

// stylePreferenceKey is the preference whose value steers the
// assistant's tone.
const stylePreferenceKey = "assistant.style"

type AssistantMessageInput struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
	Scope          string `json:"scope"`
}

// SendAssistantMessage runs one assistant turn against a document: spend
// a credit, retrieve context, call the model, persist both sides of the
// exchange. A failed model call refunds the credit.
func (s *Service) SendAssistantMessage(ctx context.Context, session Session, documentID string, input AssistantMessageInput) (map[string]any, error) {
	if s.assist == nil {
		return nil, domainError(http.StatusServiceUnavailable, "ASSISTANT_UNAVAILABLE", "The assistant is not configured", nil)
	}
	doc, _, err := s.requireDocumentAction(ctx, session.UserID, documentID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}

	message := strings.TrimSpace(input.Message)
	if message == "" {
		return nil, domainError(http.StatusBadRequest, "EMPTY_MESSAGE", "A message is required", nil)
	}

	conv, created, err := s.conversationFor(ctx, session.UserID, documentID, input.ConversationID, message)
	if err != nil {
		return nil, err
	}

	// The newest turns matter most; truncation inside the pipeline trims
	// from the oldest end of this window.
	var history []store.Message
	if !created {
		history, err = s.store.ListRecentMessages(ctx, conv.ID, 20)
		if err != nil {
			return nil, err
		}
	}

	docIDs, err := s.retrievalScope(ctx, session.UserID, doc, input.Scope)
	if err != nil {
		return nil, err
	}

	// First turn against a document that predates the index: chunk it
	// now so retrieval has something to search.
	if count, err := s.store.CountDocumentChunks(ctx, documentID); err == nil && count == 0 && doc.ContentText != "" {
		if _, err := s.assist.ReindexDocument(ctx, documentID, doc.ContentText); err != nil {
			s.logger.Warn("lazy chunk index failed", "documentId", documentID, "error", err)
		}
	}

	balance, err := s.store.SpendCredit(ctx, session.UserID, creditReasonAssistant, &conv.ID)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientCredits) {
			metrics.AssistantRun("insufficient_credits")
		}
		return nil, err
	}
	metrics.CreditSpent()

	result, err := s.assist.Respond(ctx, assistant.RespondRequest{
		Query:       message,
		DocumentIDs: docIDs,
		History:     history,
		StyleHints:  s.styleHints(ctx, session.UserID),
	})
	if err != nil {
		s.logger.Error("assistant turn failed", "conversationId", conv.ID, "error", err)
		if refunded, rerr := s.store.AdjustCredits(ctx, session.UserID, 1, creditReasonRefund, &conv.ID); rerr != nil {
			s.logger.Error("credit refund failed", "userId", session.UserID, "error", rerr)
		} else {
			balance = refunded
		}
		metrics.AssistantRun("error")
		return nil, domainError(http.StatusBadGateway, "ASSISTANT_FAILED", "The assistant could not answer; your credit was refunded", nil)
	}

	s.persistExchange(ctx, conv.ID, message, result)
	metrics.AssistantRun("ok")

	return map[string]any{
		"conversationId":   conv.ID,
		"reply":            result.Reply,
		"sources":          result.Sources,
		"degraded":         result.Degraded,
		"creditsRemaining": balance,
		"usage": map[string]any{
			"promptTokens":     result.Usage.PromptTokens,
			"completionTokens": result.Usage.CompletionTokens,
			"totalTokens":      result.Usage.TotalTokens,
		},
	}, nil
}

// conversationFor loads the named conversation or starts a new one
// titled after the first message.
func (s *Service) conversationFor(ctx context.Context, userID, documentID, conversationID, message string) (store.Conversation, bool, error) {
	if conversationID != "" {
		conv, err := s.store.GetConversation(ctx, conversationID)
		if err != nil {
			return store.Conversation{}, false, err
		}
		if conv.UserID != userID || conv.DocumentID != documentID {
			return store.Conversation{}, false, sql.ErrNoRows
		}
		return conv, false, nil
	}

	conv := store.Conversation{
		ID:         util.NewID("conv"),
		DocumentID: documentID,
		UserID:     userID,
		Title:      conversationTitle(message),
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return store.Conversation{}, false, err
	}
	return conv, true, nil
}

// retrievalScope returns the document IDs retrieval may search: the
// document itself, or every project document the caller can read when
// scope is "project".
func (s *Service) retrievalScope(ctx context.Context, userID string, doc store.Document, scope string) ([]string, error) {
	if scope != "project" || doc.ProjectID == nil {
		return []string{doc.ID}, nil
	}
	docs, err := s.store.ListDocumentsForUser(ctx, userID, doc.ProjectID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	if len(ids) == 0 {
		ids = []string{doc.ID}
	}
	return ids, nil
}

// styleHints reads the assistant.style preference. The value is stored
// as JSON; a plain string unquotes, anything else goes in verbatim.
func (s *Service) styleHints(ctx context.Context, userID string) string {
	pref, err := s.store.GetPreference(ctx, userID, stylePreferenceKey)
	if err != nil {
		return ""
	}
	var text string
	if json.Unmarshal(pref.Value, &text) == nil {
		return text
	}
	return string(pref.Value)
}

// persistExchange appends the user message and the reply. The reply is
// already on its way to the caller, so persistence failures are logged
// rather than surfaced.
func (s *Service) persistExchange(ctx context.Context, conversationID, message string, result assistant.RespondResult) {
	userMsg := store.Message{
		ID:             util.NewID("msg"),
		ConversationID: conversationID,
		Role:           "user",
		Content:        message,
		TokenEstimate:  assistant.EstimateTokens(message),
	}
	if err := s.store.AppendMessage(ctx, userMsg); err != nil {
		s.logger.Warn("append user message failed", "conversationId", conversationID, "error", err)
	}

	assistantMsg := store.Message{
		ID:             util.NewID("msg"),
		ConversationID: conversationID,
		Role:           "assistant",
		Content:        result.Reply,
		Model:          s.cfg.ChatModel,
		TokenEstimate:  result.Usage.CompletionTokens,
	}
	if assistantMsg.TokenEstimate == 0 {
		assistantMsg.TokenEstimate = assistant.EstimateTokens(result.Reply)
	}
	if len(result.Sources) > 0 {
		if sources, err := json.Marshal(result.Sources); err == nil {
			assistantMsg.Sources = sources
		}
	}
	if err := s.store.AppendMessage(ctx, assistantMsg); err != nil {
		s.logger.Warn("append assistant message failed", "conversationId", conversationID, "error", err)
	}
}

func conversationTitle(message string) string {
	runes := []rune(message)
	if len(runes) <= 60 {
		return message
	}
	return string(runes[:60]) + "…"
}

// ReindexDocumentChunks re-chunks and re-embeds a document on demand.
func (s *Service) ReindexDocumentChunks(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	if s.assist == nil {
		return nil, domainError(http.StatusServiceUnavailable, "ASSISTANT_UNAVAILABLE", "The assistant is not configured", nil)
	}
	doc, _, err := s.requireDocumentAction(ctx, session.UserID, documentID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	count, err := s.assist.ReindexDocument(ctx, documentID, doc.ContentText)
	if err != nil {
		return nil, err
	}
	return map[string]any{"documentId": documentID, "chunks": count}, nil
}

// ---- conversations

func (s *Service) ListConversations(ctx context.Context, session Session, documentID string) ([]map[string]any, error) {
	if _, _, err := s.requireDocumentAction(ctx, session.UserID, documentID, rbac.ActionRead); err != nil {
		return nil, err
	}
	convs, err := s.store.ListConversations(ctx, session.UserID, documentID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(convs))
	for _, conv := range convs {
		items = append(items, conversationPayload(conv))
	}
	return items, nil
}

// GetConversation returns a conversation with its messages. Only the
// conversation's owner may read it; assistant exchanges are private even
// between collaborators.
func (s *Service) GetConversation(ctx context.Context, session Session, conversationID string) (map[string]any, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.UserID != session.UserID {
		return nil, sql.ErrNoRows
	}
	messages, err := s.store.ListMessages(ctx, conversationID, 200)
	if err != nil {
		return nil, err
	}

	msgItems := make([]map[string]any, 0, len(messages))
	for _, msg := range messages {
		msgItems = append(msgItems, messagePayload(msg))
	}
	payload := conversationPayload(conv)
	payload["messages"] = msgItems
	return payload, nil
}

func (s *Service) DeleteConversation(ctx context.Context, session Session, conversationID string) error {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.UserID != session.UserID {
		return sql.ErrNoRows
	}
	return s.store.DeleteConversation(ctx, conversationID)
}

func conversationPayload(conv store.Conversation) map[string]any {
	return map[string]any{
		"id":           conv.ID,
		"documentId":   conv.DocumentID,
		"title":        conv.Title,
		"messageCount": conv.MessageCount,
		"createdAt":    conv.CreatedAt,
		"updatedAt":    conv.UpdatedAt,
	}
}

func messagePayload(msg store.Message) map[string]any {
	payload := map[string]any{
		"id":        msg.ID,
		"role":      msg.Role,
		"content":   msg.Content,
		"createdAt": msg.CreatedAt,
	}
	if msg.Model != "" {
		payload["model"] = msg.Model
	}
	if len(msg.Sources) > 0 {
		var sources []assistant.Source
		if err := json.Unmarshal(msg.Sources, &sources); err == nil {
			payload["sources"] = sources
		}
	}
	return payload
}
