package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"chatgate/internal/app"
	"chatgate/internal/googletoken"
	"chatgate/internal/ratelimit"
	"chatgate/internal/sessiontoken"
	"chatgate/internal/util"
)

const refreshCookieName = "refresh_token"

// Config wires required dependencies for the HTTP server.
type Config struct {
	App           *app.App
	Tokens        *sessiontoken.Service
	QueryLimiter  *ratelimit.FixedWindowLimiter
	AllowedOrigin string
}

// Server exposes the HTTP surface of the chat gateway.
type Server struct {
	app           *app.App
	tokens        *sessiontoken.Service
	queryLimiter  *ratelimit.FixedWindowLimiter
	allowedOrigin string
	mux           *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server requires the application core")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("server requires the token service")
	}
	if cfg.QueryLimiter == nil {
		return nil, errors.New("server requires the query rate limiter")
	}
	s := &Server{
		app:           cfg.App,
		tokens:        cfg.Tokens,
		queryLimiter:  cfg.QueryLimiter,
		allowedOrigin: cfg.AllowedOrigin,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(
		util.WithRequestLog(
			util.WithSecurityHeaders(
				util.WithCORS(s.allowedOrigin, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/login", s.handleLogin)
	s.mux.HandleFunc("/refresh-token", s.handleRefreshToken)
	s.mux.Handle("/user-info", s.authenticated(s.handleUserInfo))
	s.mux.Handle("/query", s.rateLimited(s.authenticated(s.handleQuery)))
	s.mux.Handle("/add-session", s.authenticated(s.handleAddSession))
	s.mux.Handle("/get-sessions", s.authenticated(s.handleGetSessions))
	s.mux.Handle("/sessions/", s.authenticated(s.handleSessionByID))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Per-request identity travels in the request context, never in shared
// state.
type emailContextKey struct{}

func contextWithEmail(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, emailContextKey{}, email)
}

func emailFromContext(ctx context.Context) string {
	email, _ := ctx.Value(emailContextKey{}).(string)
	return email
}

type authHandler func(http.ResponseWriter, *http.Request, string)

// authenticated verifies the access token and threads the caller's email
// through the request context. An expired token gets a distinct status so
// clients know to retry via refresh.
func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := sessiontoken.BearerToken(r)
		if !ok {
			s.audit(r, "auth.verify", "fail", "reason", "missing_token")
			writeError(w, http.StatusUnauthorized, "Missing or malformed Authorization header")
			return
		}
		email, err := s.tokens.VerifyAccess(token)
		if err != nil {
			switch {
			case errors.Is(err, sessiontoken.ErrExpired):
				s.audit(r, "auth.verify", "fail", "reason", "expired")
				writeError(w, http.StatusForbidden, "Token expired")
			case errors.Is(err, sessiontoken.ErrWrongType):
				s.audit(r, "auth.verify", "fail", "reason", "wrong_type")
				writeError(w, http.StatusUnauthorized, "Invalid token type")
			default:
				s.audit(r, "auth.verify", "fail", "reason", "invalid")
				writeError(w, http.StatusUnauthorized, "Invalid token")
			}
			return
		}
		r = r.WithContext(contextWithEmail(r.Context(), email))
		next(w, r, email)
	})
}

// rateLimited enforces the per-token query quota before any token
// verification or LLM work happens. The raw bearer token is the quota key.
func (s *Server) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := sessiontoken.BearerToken(r)
		if ok && !s.queryLimiter.Allow(token) {
			s.audit(r, "query.rate", "rate_limited")
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	idToken, ok := sessiontoken.BearerToken(r)
	if !ok {
		s.audit(r, "login", "fail", "reason", "missing_token")
		writeError(w, http.StatusUnauthorized, "Missing or malformed Authorization header")
		return
	}
	result, err := s.app.Login(idToken)
	if err != nil {
		switch {
		case errors.Is(err, googletoken.ErrInvalidIdentityToken):
			s.audit(r, "login", "fail", "reason", "invalid_identity_token")
			writeError(w, http.StatusUnauthorized, "Invalid ID token")
		case errors.Is(err, app.ErrEmailRequired):
			s.audit(r, "login", "fail", "reason", "missing_email")
			writeError(w, http.StatusBadRequest, "email is required")
		default:
			s.serverError(w, r, "login", err)
		}
		return
	}
	s.audit(r, "login", "success", "email", result.Email)
	s.setRefreshCookie(w, result.RefreshToken)
	writeJSON(w, http.StatusOK, loginResponse{
		Message:     "User logged in successfully",
		AccessToken: result.AccessToken,
	})
}

func (s *Server) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || strings.TrimSpace(cookie.Value) == "" {
		s.audit(r, "refresh", "fail", "reason", "missing_cookie")
		writeError(w, http.StatusUnauthorized, "Missing refresh token")
		return
	}
	access, err := s.app.RefreshAccess(cookie.Value)
	if err != nil {
		switch {
		case errors.Is(err, sessiontoken.ErrExpired):
			s.audit(r, "refresh", "fail", "reason", "expired")
			writeError(w, http.StatusForbidden, "Token expired")
		default:
			s.audit(r, "refresh", "fail", "reason", "invalid")
			writeError(w, http.StatusUnauthorized, "Invalid token")
		}
		return
	}
	s.audit(r, "refresh", "success")
	writeJSON(w, http.StatusOK, refreshResponse{AccessToken: access})
}

func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request, email string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	user, err := s.app.UserInfo(email)
	if err != nil {
		if errors.Is(err, app.ErrUserNotFound) {
			writeError(w, http.StatusInternalServerError, "User not found")
			return
		}
		s.serverError(w, r, "user_info", err)
		return
	}
	writeJSON(w, http.StatusOK, userInfoResponse{
		User: userPayload{Email: user.Email, ProfileURL: user.ProfileURL},
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request, email string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req queryRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := s.app.Query(r.Context(), email, req.InputQuery, req.SessionID)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInputRequired):
			// The web client treats this as a generic failure, matching
			// the contract it was built against.
			writeError(w, http.StatusInternalServerError, "Input query is required")
		case errors.Is(err, app.ErrUpstreamLLM):
			s.serverError(w, r, "query.llm", err)
		default:
			s.serverError(w, r, "query", err)
		}
		return
	}
	resp := queryResponse{Response: result.Response}
	if result.SessionID != "" {
		resp.SessionID = result.SessionID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAddSession(w http.ResponseWriter, r *http.Request, email string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	session, err := s.app.AddSession(email)
	if err != nil {
		s.serverError(w, r, "add_session", err)
		return
	}
	writeJSON(w, http.StatusOK, sessionEnvelope{Session: sessionPayload{
		ID:        session.ID,
		CreatedAt: session.CreatedAt,
	}})
}

func (s *Server) handleGetSessions(w http.ResponseWriter, r *http.Request, email string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	sessions, err := s.app.ListSessions(email)
	if err != nil {
		s.serverError(w, r, "get_sessions", err)
		return
	}
	payload := make([]sessionPayload, 0, len(sessions))
	for _, session := range sessions {
		payload = append(payload, sessionPayload{
			ID:        session.ID,
			Title:     session.Title,
			CreatedAt: session.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, sessionsResponse{Sessions: payload})
}

// handleSessionByID dispatches /sessions/{id}/messages and
// /sessions/{id}/title.
func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request, email string) {
	path := strings.TrimPrefix(r.URL.Path, "/sessions/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	sessionID := parts[0]
	switch parts[1] {
	case "messages":
		s.handleSessionMessages(w, r, sessionID)
	case "title":
		s.handleSessionTitle(w, r, email, sessionID)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	msgs, err := s.app.SessionMessages(sessionID)
	if err != nil {
		s.serverError(w, r, "session_messages", err)
		return
	}
	payload := make([]messagePayload, 0, len(msgs))
	for _, msg := range msgs {
		payload = append(payload, messagePayload{Role: msg.Role, Content: msg.Content})
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleSessionTitle(w http.ResponseWriter, r *http.Request, email, sessionID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	var req titleRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	session, err := s.app.RenameSession(email, sessionID, req.Title)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrTitleRequired):
			writeError(w, http.StatusBadRequest, "Title is required")
		case errors.Is(err, app.ErrSessionNotFound):
			writeError(w, http.StatusNotFound, "Session not found or access denied")
		default:
			s.serverError(w, r, "session_title", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, sessionEnvelope{Session: sessionPayload{
		ID:    session.ID,
		Title: session.Title,
	}})
}

func (s *Server) setRefreshCookie(w http.ResponseWriter, refreshToken string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    refreshToken,
		Path:     "/",
		MaxAge:   int(s.tokens.RefreshTTL() / time.Second),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, event string, err error) {
	util.LoggerFromContext(r.Context()).Error("request failed", "event", event, "err", err)
	writeError(w, http.StatusInternalServerError, "Something went wrong!")
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r),
		"request_id", util.RequestIDFromRequest(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type loginResponse struct {
	Message     string `json:"message"`
	AccessToken string `json:"access_token"`
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
}

type userPayload struct {
	Email      string `json:"email"`
	ProfileURL string `json:"profile_url"`
}

type userInfoResponse struct {
	User userPayload `json:"user"`
}

type queryRequest struct {
	InputQuery string `json:"input_query"`
	SessionID  string `json:"session_id,omitempty"`
}

type queryResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id,omitempty"`
}

type sessionPayload struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

type sessionEnvelope struct {
	Session sessionPayload `json:"session"`
}

type sessionsResponse struct {
	Sessions []sessionPayload `json:"sessions"`
}

type messagePayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type titleRequest struct {
	Title string `json:"title"`
}
