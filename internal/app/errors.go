package app

import "errors"

var (
	// ErrUserNotFound means the authenticated email has no directory row.
	ErrUserNotFound = errors.New("user not found")
	// ErrSessionNotFound covers both absent and not-owned sessions, so an
	// existence probe learns nothing.
	ErrSessionNotFound = errors.New("session not found")
	// ErrEmailRequired is returned when an identity token carries no email.
	ErrEmailRequired = errors.New("email is required")
	// ErrInputRequired is returned for a query without input text.
	ErrInputRequired = errors.New("input query is required")
	// ErrTitleRequired is returned for a rename without a title.
	ErrTitleRequired = errors.New("title is required")
	// ErrUpstreamLLM wraps model-provider failures.
	ErrUpstreamLLM = errors.New("llm request failed")
)
