package app

import (
	"net/http"
)

func (s *HTTPServer) handleProjects(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			includeArchived := r.URL.Query().Get("includeArchived") == "true"
			payload, err := s.service.ListProjects(r.Context(), session, includeArchived)
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"projects": payload})
			return
		case http.MethodPost:
			var body ProjectInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateProject(r.Context(), session, body)
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
			return
		}
	}

	if len(parts) == 2 {
		projectID := parts[1]
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetProject(r.Context(), session, projectID)
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case http.MethodPatch:
			var body ProjectInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateProject(r.Context(), session, projectID, body)
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case http.MethodDelete:
			if err := s.service.DeleteProject(r.Context(), session, projectID); err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
			return
		}
	}

	if len(parts) == 3 && parts[2] == "documents" && r.Method == http.MethodGet {
		payload, err := s.service.ListProjectDocuments(r.Context(), session, parts[1])
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": payload})
		return
	}

	if len(parts) >= 3 && parts[2] == "permissions" {
		s.handleResourcePermissions(w, r, session, resourceProject, parts[1], parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleResourcePermissions serves the permission sub-routes shared by
// documents and projects. rest is the path after "permissions".
func (s *HTTPServer) handleResourcePermissions(w http.ResponseWriter, r *http.Request, session Session, resourceType, resourceID string, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListPermissions(r.Context(), session, resourceType, resourceID)
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"permissions": payload})
			return
		case http.MethodPost:
			var body GrantPermissionInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.GrantPermission(r.Context(), session, resourceType, resourceID, body)
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
			return
		}
	}

	if len(rest) == 1 {
		permID := rest[0]
		switch r.Method {
		case http.MethodPatch:
			var body struct {
				Role string `json:"role"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdatePermission(r.Context(), session, resourceType, resourceID, permID, body.Role)
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case http.MethodDelete:
			if err := s.service.RevokePermission(r.Context(), session, resourceType, resourceID, permID); err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"revoked": true})
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}
