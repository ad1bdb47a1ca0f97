package app

import (
	"context"
	"errors"
	"testing"

	"chatgate/internal/googletoken"
	"chatgate/internal/sessiontoken"
	"chatgate/internal/store"
)

type fakeIdentity struct {
	identity googletoken.Identity
	err      error
}

func (f fakeIdentity) Verify(string) (googletoken.Identity, error) {
	return f.identity, f.err
}

type fakeLLM struct {
	response string
	err      error
	calls    int
}

func (f *fakeLLM) GenerateText(context.Context, string) (string, error) {
	f.calls++
	return f.response, f.err
}

func newTestApp(t *testing.T, identity IdentityVerifier, llm Generator) (*App, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	tokens, err := sessiontoken.New(sessiontoken.Options{Secret: "test-secret"})
	if err != nil {
		t.Fatalf("new token service: %v", err)
	}
	if identity == nil {
		identity = fakeIdentity{identity: googletoken.Identity{Email: "u@example.com", Picture: "p.png"}}
	}
	if llm == nil {
		llm = &fakeLLM{response: "ok"}
	}
	a, err := New(Config{Store: mem, Tokens: tokens, Identity: identity, LLM: llm})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, mem
}

func loginTestUser(t *testing.T, a *App) string {
	t.Helper()
	result, err := a.Login("id-token")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return result.Email
}

func TestLoginUpsertsUserAndIssuesTokens(t *testing.T) {
	a, mem := newTestApp(t, nil, nil)
	result, err := a.Login("id-token")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if result.AccessToken == "" || result.RefreshToken == "" {
		t.Fatalf("expected both tokens issued")
	}
	user, ok, _ := mem.GetUserByEmail("u@example.com")
	if !ok {
		t.Fatalf("user not upserted")
	}
	if user.ProfileURL != "p.png" {
		t.Fatalf("unexpected profile url: %s", user.ProfileURL)
	}
}

func TestLoginRepeatedKeepsFirstProfileURL(t *testing.T) {
	a, mem := newTestApp(t, nil, nil)
	if _, err := a.Login("id-token"); err != nil {
		t.Fatalf("first login: %v", err)
	}
	a.identity = fakeIdentity{identity: googletoken.Identity{Email: "u@example.com", Picture: "new.png"}}
	if _, err := a.Login("id-token"); err != nil {
		t.Fatalf("second login: %v", err)
	}
	user, _, _ := mem.GetUserByEmail("u@example.com")
	if user.ProfileURL != "p.png" {
		t.Fatalf("profile url overwritten on repeat login: %s", user.ProfileURL)
	}
}

func TestLoginRejectsInvalidIdentityToken(t *testing.T) {
	a, _ := newTestApp(t, fakeIdentity{err: googletoken.ErrInvalidIdentityToken}, nil)
	if _, err := a.Login("bad"); !errors.Is(err, googletoken.ErrInvalidIdentityToken) {
		t.Fatalf("expected identity error, got %v", err)
	}
}

func TestRefreshAccessRoundTrip(t *testing.T) {
	a, _ := newTestApp(t, nil, nil)
	result, err := a.Login("id-token")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	access, err := a.RefreshAccess(result.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if email, err := a.tokens.VerifyAccess(access); err != nil || email != "u@example.com" {
		t.Fatalf("minted access token invalid: email=%s err=%v", email, err)
	}
}

func TestRefreshAccessRejectsAccessToken(t *testing.T) {
	a, _ := newTestApp(t, nil, nil)
	result, err := a.Login("id-token")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := a.RefreshAccess(result.AccessToken); !errors.Is(err, sessiontoken.ErrWrongType) {
		t.Fatalf("expected ErrWrongType, got %v", err)
	}
}

func TestUserInfoUnknownEmail(t *testing.T) {
	a, _ := newTestApp(t, nil, nil)
	if _, err := a.UserInfo("ghost@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestResolveOrCreateSessionSemantics(t *testing.T) {
	a, mem := newTestApp(t, nil, nil)
	email := loginTestUser(t, a)
	userID, _, _ := mem.UserIDByEmail(email)

	// No id supplied: always a fresh session with IsNew set.
	first, err := a.ResolveOrCreateSession(userID, "")
	if err != nil {
		t.Fatalf("resolve empty: %v", err)
	}
	if !first.IsNew || first.Session.ID == "" {
		t.Fatalf("expected new session, got %+v", first)
	}

	// Same id back: same session, IsNew false.
	again, err := a.ResolveOrCreateSession(userID, first.Session.ID)
	if err != nil {
		t.Fatalf("resolve existing: %v", err)
	}
	if again.IsNew || again.Session.ID != first.Session.ID {
		t.Fatalf("expected existing session, got %+v", again)
	}
}

func TestResolveOrCreateSessionForeignIDCreatesNew(t *testing.T) {
	a, mem := newTestApp(t, nil, nil)
	foreign, err := mem.CreateSession("someone-else")
	if err != nil {
		t.Fatalf("create foreign: %v", err)
	}
	email := loginTestUser(t, a)
	userID, _, _ := mem.UserIDByEmail(email)

	resolved, err := a.ResolveOrCreateSession(userID, foreign.ID)
	if err != nil {
		t.Fatalf("resolve foreign: %v", err)
	}
	if !resolved.IsNew || resolved.Session.ID == foreign.ID {
		t.Fatalf("foreign session id must behave like absent, got %+v", resolved)
	}
}

func TestQueryPersistsOrderedTurnAndReturnsSessionID(t *testing.T) {
	llm := &fakeLLM{response: "Hello there friend, welcome to chat"}
	a, _ := newTestApp(t, nil, llm)
	email := loginTestUser(t, a)

	result, err := a.Query(context.Background(), email, "hi", "")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if result.SessionID == "" {
		t.Fatalf("first turn must return the new session id")
	}
	if result.Response != llm.response {
		t.Fatalf("unexpected response: %s", result.Response)
	}
	msgs, err := a.SessionMessages(result.SessionID)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != store.RoleUser || msgs[0].Content != "hi" {
		t.Fatalf("user message not first: %+v", msgs[0])
	}
	if msgs[1].Role != store.RoleAssistant || msgs[1].Content != llm.response {
		t.Fatalf("assistant message not second: %+v", msgs[1])
	}

	// Continuing turn: session id omitted from the result.
	second, err := a.Query(context.Background(), email, "more", result.SessionID)
	if err != nil {
		t.Fatalf("second query: %v", err)
	}
	if second.SessionID != "" {
		t.Fatalf("continuing turn must not repeat the session id")
	}
}

func TestQueryAutoTitlesFirstTurnOnly(t *testing.T) {
	llm := &fakeLLM{response: "Hello there friend, welcome to chat"}
	a, mem := newTestApp(t, nil, llm)
	email := loginTestUser(t, a)

	result, err := a.Query(context.Background(), email, "hi", "")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	userID, _, _ := mem.UserIDByEmail(email)
	session, ok, _ := mem.GetSessionForUser(result.SessionID, userID)
	if !ok {
		t.Fatalf("session missing")
	}
	if session.Title != "Hello there friend, welcome" {
		t.Fatalf("unexpected title: %q", session.Title)
	}

	llm.response = "Entirely different words now"
	if _, err := a.Query(context.Background(), email, "again", result.SessionID); err != nil {
		t.Fatalf("second query: %v", err)
	}
	session, _, _ = mem.GetSessionForUser(result.SessionID, userID)
	if session.Title != "Hello there friend, welcome" {
		t.Fatalf("title overwritten on second turn: %q", session.Title)
	}
}

func TestQueryEmptyResponseLeavesTitleUnset(t *testing.T) {
	llm := &fakeLLM{response: "   "}
	a, mem := newTestApp(t, nil, llm)
	email := loginTestUser(t, a)

	result, err := a.Query(context.Background(), email, "hi", "")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	userID, _, _ := mem.UserIDByEmail(email)
	session, _, _ := mem.GetSessionForUser(result.SessionID, userID)
	if session.Title != "" {
		t.Fatalf("empty response must not set a title, got %q", session.Title)
	}
}

func TestQueryRequiresInput(t *testing.T) {
	a, _ := newTestApp(t, nil, nil)
	email := loginTestUser(t, a)
	if _, err := a.Query(context.Background(), email, "   ", ""); !errors.Is(err, ErrInputRequired) {
		t.Fatalf("expected ErrInputRequired, got %v", err)
	}
}

func TestQueryLLMFailure(t *testing.T) {
	llm := &fakeLLM{err: errors.New("boom")}
	a, _ := newTestApp(t, nil, llm)
	email := loginTestUser(t, a)
	if _, err := a.Query(context.Background(), email, "hi", ""); !errors.Is(err, ErrUpstreamLLM) {
		t.Fatalf("expected ErrUpstreamLLM, got %v", err)
	}
}

func TestRenameSessionOwnershipAndValidation(t *testing.T) {
	a, mem := newTestApp(t, nil, nil)
	email := loginTestUser(t, a)
	session, err := a.AddSession(email)
	if err != nil {
		t.Fatalf("add session: %v", err)
	}

	if _, err := a.RenameSession(email, session.ID, "  "); !errors.Is(err, ErrTitleRequired) {
		t.Fatalf("expected ErrTitleRequired, got %v", err)
	}

	renamed, err := a.RenameSession(email, session.ID, "My chat")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if renamed.Title != "My chat" {
		t.Fatalf("unexpected title: %s", renamed.Title)
	}

	foreign, _ := mem.CreateSession("someone-else")
	if _, err := a.RenameSession(email, foreign.ID, "stolen"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	userID, _, _ := mem.UserIDByEmail(email)
	if got, ok, _ := mem.GetSessionForUser(session.ID, userID); !ok || got.Title != "My chat" {
		t.Fatalf("own title lost: %+v", got)
	}
}

func TestListSessionsDescendingPerUser(t *testing.T) {
	a, _ := newTestApp(t, nil, nil)
	email := loginTestUser(t, a)
	first, _ := a.AddSession(email)
	second, _ := a.AddSession(email)
	sessions, err := a.ListSessions(email)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != second.ID || sessions[1].ID != first.ID {
		t.Fatalf("unexpected order: %+v", sessions)
	}
}
