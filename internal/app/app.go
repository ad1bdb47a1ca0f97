package app

import (
	"context"
	"fmt"
	"strings"

	"chatgate/internal/googletoken"
	"chatgate/internal/sessiontoken"
	"chatgate/internal/store"
)

// IdentityVerifier proves an external identity from an OAuth ID token.
type IdentityVerifier interface {
	Verify(token string) (googletoken.Identity, error)
}

// Generator produces an assistant response for a prompt.
type Generator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// Config wires the application's collaborators.
type Config struct {
	Store    store.Store
	Tokens   *sessiontoken.Service
	Identity IdentityVerifier
	LLM      Generator
}

// App is the core application service: login, token refresh, chat queries,
// and session bookkeeping.
type App struct {
	store    store.Store
	tokens   *sessiontoken.Service
	identity IdentityVerifier
	llm      Generator
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token service is required")
	}
	if cfg.Identity == nil {
		return nil, fmt.Errorf("identity verifier is required")
	}
	if cfg.LLM == nil {
		return nil, fmt.Errorf("llm generator is required")
	}
	return &App{
		store:    cfg.Store,
		tokens:   cfg.Tokens,
		identity: cfg.Identity,
		llm:      cfg.LLM,
	}, nil
}

// LoginResult carries the credentials issued on a successful login.
type LoginResult struct {
	Email        string
	AccessToken  string
	RefreshToken string
}

// Login verifies a Google ID token, registers the user on first sight, and
// issues the session token pair. The upsert is insert-or-ignore: repeat
// logins never overwrite stored profile data.
func (a *App) Login(idToken string) (LoginResult, error) {
	identity, err := a.identity.Verify(idToken)
	if err != nil {
		return LoginResult{}, err
	}
	if strings.TrimSpace(identity.Email) == "" {
		return LoginResult{}, ErrEmailRequired
	}
	if err := a.store.UpsertUser(identity.Email, identity.Picture); err != nil {
		return LoginResult{}, fmt.Errorf("upsert user: %w", err)
	}
	access, refresh, err := a.tokens.Issue(identity.Email)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue tokens: %w", err)
	}
	return LoginResult{Email: identity.Email, AccessToken: access, RefreshToken: refresh}, nil
}

// RefreshAccess mints a new access token from a valid refresh token.
func (a *App) RefreshAccess(refreshToken string) (string, error) {
	email, err := a.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return "", err
	}
	return a.tokens.IssueAccess(email)
}

// UserInfo returns the stored profile for an authenticated email.
func (a *App) UserInfo(email string) (store.User, error) {
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return store.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return store.User{}, ErrUserNotFound
	}
	return user, nil
}

// ResolvedSession is the stable return shape for session resolution: the
// session plus an explicit flag for whether it was created by this call.
type ResolvedSession struct {
	Session store.Session
	IsNew   bool
}

// ResolveOrCreateSession disambiguates "continue a conversation" from
// "start a new one". A supplied id must match both id and owner; otherwise
// (including another user's session) a fresh session is created.
func (a *App) ResolveOrCreateSession(userID, sessionID string) (ResolvedSession, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID != "" {
		session, ok, err := a.store.GetSessionForUser(sessionID, userID)
		if err != nil {
			return ResolvedSession{}, fmt.Errorf("resolve session: %w", err)
		}
		if ok {
			return ResolvedSession{Session: session}, nil
		}
	}
	session, err := a.store.CreateSession(userID)
	if err != nil {
		return ResolvedSession{}, fmt.Errorf("create session: %w", err)
	}
	return ResolvedSession{Session: session, IsNew: true}, nil
}

// QueryResult is the outcome of one chat turn. SessionID is set only when
// this turn created the session, since a continuing client already knows it.
type QueryResult struct {
	Response  string
	SessionID string
}

// Query runs one chat turn: resolve the session, persist the user message,
// ask the model, persist its answer, and auto-title the session on its
// first turn.
func (a *App) Query(ctx context.Context, email, inputQuery, sessionID string) (QueryResult, error) {
	inputQuery = strings.TrimSpace(inputQuery)
	if inputQuery == "" {
		return QueryResult{}, ErrInputRequired
	}
	userID, err := a.internalUserID(email)
	if err != nil {
		return QueryResult{}, err
	}
	resolved, err := a.ResolveOrCreateSession(userID, sessionID)
	if err != nil {
		return QueryResult{}, err
	}
	// Checked before this turn's user message lands, otherwise the first
	// turn would always see its own row and never title the session.
	hadMessages, err := a.store.SessionHasMessages(resolved.Session.ID)
	if err != nil {
		return QueryResult{}, fmt.Errorf("check session messages: %w", err)
	}
	if err := a.store.AppendMessage(store.Message{
		SessionID: resolved.Session.ID,
		Role:      store.RoleUser,
		Content:   inputQuery,
	}); err != nil {
		return QueryResult{}, fmt.Errorf("append user message: %w", err)
	}
	response, err := a.llm.GenerateText(ctx, inputQuery)
	if err != nil {
		return QueryResult{}, fmt.Errorf("%w: %v", ErrUpstreamLLM, err)
	}
	if err := a.store.AppendMessage(store.Message{
		SessionID: resolved.Session.ID,
		Role:      store.RoleAssistant,
		Content:   response,
	}); err != nil {
		return QueryResult{}, fmt.Errorf("append assistant message: %w", err)
	}
	if !hadMessages {
		if title := deriveTitle(response); title != "" {
			if err := a.store.SetSessionTitle(resolved.Session.ID, title); err != nil {
				return QueryResult{}, fmt.Errorf("set session title: %w", err)
			}
		}
	}
	result := QueryResult{Response: response}
	if resolved.IsNew {
		result.SessionID = resolved.Session.ID
	}
	return result, nil
}

// AddSession creates an empty session for the authenticated user.
func (a *App) AddSession(email string) (store.Session, error) {
	userID, err := a.internalUserID(email)
	if err != nil {
		return store.Session{}, err
	}
	session, err := a.store.CreateSession(userID)
	if err != nil {
		return store.Session{}, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// ListSessions returns the user's sessions, most recent first.
func (a *App) ListSessions(email string) ([]store.Session, error) {
	userID, err := a.internalUserID(email)
	if err != nil {
		return nil, err
	}
	sessions, err := a.store.ListSessions(userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// SessionMessages returns a session's messages in ascending creation order.
func (a *App) SessionMessages(sessionID string) ([]store.Message, error) {
	msgs, err := a.store.ListMessages(sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// RenameSession sets a session title for its owner. A session that is absent
// or owned by someone else is reported identically as not found.
func (a *App) RenameSession(email, sessionID, title string) (store.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return store.Session{}, ErrTitleRequired
	}
	userID, err := a.internalUserID(email)
	if err != nil {
		return store.Session{}, err
	}
	session, ok, err := a.store.RenameSession(sessionID, userID, title)
	if err != nil {
		return store.Session{}, fmt.Errorf("rename session: %w", err)
	}
	if !ok {
		return store.Session{}, ErrSessionNotFound
	}
	return session, nil
}

func (a *App) internalUserID(email string) (string, error) {
	userID, ok, err := a.store.UserIDByEmail(email)
	if err != nil {
		return "", fmt.Errorf("resolve user id: %w", err)
	}
	if !ok {
		return "", ErrUserNotFound
	}
	return userID, nil
}
