package app

import (
	"fmt"
	"net/http"
	"strconv"
)

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			query := r.URL.Query()
			trashed := query.Get("trashed") == "true"
			payload, err := s.service.ListDocuments(r.Context(), session, query.Get("project"), trashed)
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"documents": payload})
			return
		case http.MethodPost:
			var body CreateDocumentInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateDocument(r.Context(), session, body)
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
			return
		}
	}

	if len(parts) < 2 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	documentID := parts[1]

	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetDocument(r.Context(), session, documentID)
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case http.MethodPatch:
			var body UpdateDocumentInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateDocument(r.Context(), session, documentID, body)
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case http.MethodDelete:
			payload, err := s.service.DeleteDocument(r.Context(), session, documentID)
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}
	}

	if len(parts) == 3 && parts[2] == "restore" && r.Method == http.MethodPost {
		payload, err := s.service.RestoreFromTrash(r.Context(), session, documentID)
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 3 && parts[2] == "duplicate" && r.Method == http.MethodPost {
		payload, err := s.service.DuplicateDocument(r.Context(), session, documentID)
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	if len(parts) == 3 && parts[2] == "history" && r.Method == http.MethodGet {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		payload, err := s.service.History(r.Context(), session, documentID, limit)
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 4 && parts[2] == "history" && r.Method == http.MethodGet {
		payload, err := s.service.GetRevision(r.Context(), session, documentID, parts[3])
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 5 && parts[2] == "history" && parts[4] == "restore" && r.Method == http.MethodPost {
		payload, err := s.service.RestoreRevision(r.Context(), session, documentID, parts[3])
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 3 && parts[2] == "export" && r.Method == http.MethodGet {
		query := r.URL.Query()
		result, err := s.service.ExportDocument(r.Context(), session, documentID, query.Get("format"), query.Get("version"))
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
		w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
		return
	}

	if len(parts) >= 3 && parts[2] == "permissions" {
		s.handleResourcePermissions(w, r, session, resourceDocument, documentID, parts[3:])
		return
	}

	if len(parts) == 3 && parts[2] == "links" {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListShareLinks(r.Context(), session, documentID)
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"links": payload})
			return
		case http.MethodPost:
			var body CreateShareLinkInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateShareLink(r.Context(), session, documentID, body)
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
			return
		}
	}

	if len(parts) == 4 && parts[2] == "assistant" {
		s.handleDocumentAssistant(w, r, session, documentID, parts[3])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleLinks(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 2 && r.Method == http.MethodDelete {
		if err := s.service.RevokeShareLink(r.Context(), session, parts[1]); err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"revoked": true})
		return
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleShare resolves a public share token. No session; the password,
// when the link has one, arrives in a header so it stays out of logs.
func (s *HTTPServer) handleShare(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 2 && r.Method == http.MethodGet {
		payload, err := s.service.ResolveShareLink(r.Context(), parts[1], r.Header.Get("X-Share-Password"))
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 1 && r.Method == http.MethodGet {
		query := r.URL.Query()
		limit, _ := strconv.Atoi(query.Get("limit"))
		offset, _ := strconv.Atoi(query.Get("offset"))
		response := s.service.SearchDocuments(r.Context(), session, query.Get("q"), query.Get("project"), limit, offset)
		writeJSON(w, http.StatusOK, response)
		return
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}
