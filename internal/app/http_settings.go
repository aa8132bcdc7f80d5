package app

import (
	"encoding/json"
	"net/http"

	"inkwell/api/internal/storage"
)

func (s *HTTPServer) handleKeybindings(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			bindings, err := s.service.ListKeybindings(r.Context(), session)
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"keybindings": bindings})
			return
		case http.MethodDelete:
			bindings, err := s.service.ResetKeybindings(r.Context(), session)
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"keybindings": bindings})
			return
		}
	}

	if len(parts) == 2 {
		command := parts[1]
		switch r.Method {
		case http.MethodPut:
			var body struct {
				Combo string `json:"combo"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			binding, err := s.service.PutKeybinding(r.Context(), session, command, body.Combo)
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, binding)
			return
		case http.MethodDelete:
			binding, err := s.service.DeleteKeybinding(r.Context(), session, command)
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, binding)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handlePreferences(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 1 && r.Method == http.MethodGet {
		prefs, err := s.service.ListPreferences(r.Context(), session)
		if err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"preferences": prefs})
		return
	}

	if len(parts) == 2 {
		key := parts[1]
		switch r.Method {
		case http.MethodPut:
			// The body is the preference value itself, any JSON shape.
			var value json.RawMessage
			if err := decodeBody(r, &value); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.PutPreference(r.Context(), session, key, value)
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case http.MethodDelete:
			if err := s.service.DeletePreference(r.Context(), session, key); err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleBackgrounds(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListBackgrounds(r.Context(), session)
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"backgrounds": payload})
			return
		case http.MethodPost:
			// Multipart upload; the form limit leaves headroom over the
			// image cap so the size check in the service answers first.
			r.Body = http.MaxBytesReader(w, r.Body, storage.MaxUploadBytes+(64<<10))
			if err := r.ParseMultipartForm(storage.MaxUploadBytes); err != nil {
				writeError(w, http.StatusRequestEntityTooLarge, "IMAGE_TOO_LARGE", "Background images are capped at 10 MiB", nil)
				return
			}
			file, header, err := r.FormFile("file")
			if err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", "A file form field is required", nil)
				return
			}
			defer file.Close()

			payload, err := s.service.UploadBackground(r.Context(), session, header.Filename, header.Header.Get("Content-Type"), file, header.Size)
			if err != nil {
				s.writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
			return
		}
	}

	if len(parts) == 2 && r.Method == http.MethodDelete {
		if err := s.service.DeleteBackground(r.Context(), session, parts[1]); err != nil {
			s.writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}
