package app

import (
	"net/http"
)

// handleDocumentAssistant serves the assistant routes scoped to a
// document: messages, reindex and the conversation list.
func (s *HTTPServer) handleDocumentAssistant(w http.ResponseWriter, r *http.Request, session Session, documentID, action string) {
	switch {
	case action == "messages" && r.Method == http.MethodPost:
		var body AssistantMessageInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.SendAssistantMessage(r.Context(), session, documentID, body)
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case action == "reindex" && r.Method == http.MethodPost:
		payload, err := s.service.ReindexDocumentChunks(r.Context(), session, documentID)
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case action == "conversations" && r.Method == http.MethodGet:
		payload, err := s.service.ListConversations(r.Context(), session, documentID)
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"conversations": payload})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleAssistant(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 3 && parts[1] == "conversations" {
		conversationID := parts[2]
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetConversation(r.Context(), session, conversationID)
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case http.MethodDelete:
			if err := s.service.DeleteConversation(r.Context(), session, conversationID); err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
			return
		}
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}
