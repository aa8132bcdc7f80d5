package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"inkwell/api/internal/auth"
	"inkwell/api/internal/export"
	"inkwell/api/internal/gitrepo"
	"inkwell/api/internal/logging"
	"inkwell/api/internal/metrics"
	"inkwell/api/internal/session"
	"inkwell/api/internal/store"
	"inkwell/api/internal/util"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	limiter    *rateLimiter
	logger     logging.Logger
}

func NewHTTPServer(service *Service) *HTTPServer {
	return &HTTPServer{
		service:    service,
		corsOrigin: service.cfg.CORSOrigin,
		limiter:    newRateLimiter(service.cfg.RateLimitRPS, service.cfg.RateLimitBurst),
		logger:     service.logger,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/healthz" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/readyz" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		metrics.Handler().ServeHTTP(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "v1" {
		if !s.limiter.Allow(clientIP(r)) {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", nil)
			return
		}
		s.handleAPI(w, r, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleAPI dispatches on the first segment after /api/v1. Auth and
// share-link resolution run without a session; everything else requires
// a bearer token.
func (s *HTTPServer) handleAPI(w http.ResponseWriter, r *http.Request, parts []string) {
	switch parts[0] {
	case "auth":
		s.handleAuth(w, r, parts)
		return
	case "share":
		s.handleShare(w, r, parts)
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	switch parts[0] {
	case "me":
		s.handleMe(w, r, session, parts)
	case "users":
		s.handleUsers(w, r, session, parts)
	case "projects":
		s.handleProjects(w, r, session, parts)
	case "documents":
		s.handleDocuments(w, r, session, parts)
	case "links":
		s.handleLinks(w, r, session, parts)
	case "search":
		s.handleSearch(w, r, session, parts)
	case "keybindings":
		s.handleKeybindings(w, r, session, parts)
	case "preferences":
		s.handlePreferences(w, r, session, parts)
	case "backgrounds":
		s.handleBackgrounds(w, r, session, parts)
	case "assistant":
		s.handleAssistant(w, r, session, parts)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		// The server's WriteTimeout is left unset; the write budget is
		// enforced here so export renders, which can legitimately take
		// longer than an API response, keep their connection.
		if !exportRoute(r.URL.Path) {
			_ = http.NewResponseController(w).SetWriteDeadline(time.Now().Add(writeBudget))
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		elapsed := time.Since(started)
		metrics.ObserveHTTPRequest(r.Method, routeLabel(r.URL.Path), writer.status, elapsed)
		s.logger.Info("http request",
			"requestId", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"durationMs", elapsed.Milliseconds(),
		)
	})
}

type requestIDKey struct{}

// writeBudget bounds how long a response may take to write out.
const writeBudget = 30 * time.Second

// exportRoute matches GET /api/v1/documents/{id}/export, the one path
// whose response (a chromedp PDF or pandoc DOCX render) may outlast the
// standard write budget.
func exportRoute(path string) bool {
	parts := splitPath(path)
	return len(parts) == 5 &&
		parts[0] == "api" && parts[1] == "v1" &&
		parts[2] == "documents" && parts[4] == "export"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// routeWords are the literal path segments the API serves. Anything
// else in a path is an identifier and collapses to {id} in the metrics
// route label, keeping label cardinality bounded.
var routeWords = map[string]bool{
	"api": true, "v1": true,
	"auth": true, "signup": true, "signin": true, "verify-email": true,
	"reset-password": true, "request": true, "confirm": true,
	"refresh": true, "logout": true,
	"me": true, "credits": true, "users": true,
	"projects": true, "documents": true, "permissions": true,
	"links": true, "share": true, "search": true,
	"keybindings": true, "preferences": true, "backgrounds": true,
	"assistant": true, "messages": true, "reindex": true, "conversations": true,
	"history": true, "restore": true, "duplicate": true, "export": true,
	"healthz": true, "readyz": true, "metrics": true,
}

func routeLabel(path string) string {
	parts := splitPath(path)
	if parts == nil {
		return "/"
	}
	for i, part := range parts {
		if !routeWords[part] {
			parts[i] = "{id}"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Share-Password")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func (s *HTTPServer) writeMapped(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if errors.Is(err, session.ErrNotFound) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil
	}
	if errors.Is(err, store.ErrInsufficientCredits) {
		return http.StatusPaymentRequired, "insufficient_credits", "You are out of credits", nil
	}
	if errors.Is(err, gitrepo.ErrRevisionNotFound) {
		return http.StatusNotFound, "REVISION_NOT_FOUND", "No such revision", nil
	}
	if errors.Is(err, export.ErrUnsupportedFormat) {
		return http.StatusBadRequest, "INVALID_FORMAT", "Format must be pdf, docx, md or html", nil
	}
	if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
		return http.StatusNotImplemented, "EXPORT_UNAVAILABLE", "That export format is not available on this server", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
