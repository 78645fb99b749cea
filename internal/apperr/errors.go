// Package apperr holds the error taxonomy shared by the server and client.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPathTraversal rejects a file operation whose path escapes its root.
	ErrPathTraversal = errors.New("path traversal rejected")
	// ErrEmbeddingUnavailable is returned when text cannot be embedded.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	// ErrRecallUnavailable is returned when nearest-turn lookup fails.
	ErrRecallUnavailable = errors.New("recall unavailable")
	// ErrCancelledByUser is the cancellation cause of a generation the user
	// stopped explicitly, as opposed to a dropped connection.
	ErrCancelledByUser = errors.New("cancelled by user")
)

// ValidationError rejects a malformed request before any model call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s %s", e.Field, e.Reason)
}

// ProviderError wraps a failed model call.
type ProviderError struct {
	Provider string
	Quota    bool
	Err      error
}

func (e *ProviderError) Error() string {
	kind := "provider error"
	if e.Quota {
		kind = "provider quota error"
	}
	return fmt.Sprintf("%s [%s]: %v", kind, e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ParseError reports model output that is not a valid action object.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// UnknownActionError reports an action name outside the fixed schema.
type UnknownActionError struct {
	Name string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action: %q", e.Name)
}

// ActionValidationError reports a missing or mistyped action parameter.
type ActionValidationError struct {
	Action string
	Field  string
	Reason string
}

func (e *ActionValidationError) Error() string {
	return fmt.Sprintf("invalid %s action: %s %s", e.Action, e.Field, e.Reason)
}

// PathTraversalError names the offending path; it matches ErrPathTraversal.
// OutsideRoot is set when the path resolves outside its root rather than
// carrying a ".." segment.
type PathTraversalError struct {
	Path        string
	OutsideRoot bool
}

func (e *PathTraversalError) Error() string {
	return fmt.Sprintf("%v: %s", ErrPathTraversal, e.Path)
}

func (e *PathTraversalError) Unwrap() error {
	return ErrPathTraversal
}

var quotaMarkers = []string{
	"quota",
	"resource_exhausted",
	"429",
	"rate limit",
	"ratelimit",
	"insufficient_quota",
	"too many requests",
}

// IsQuotaMessage reports whether a provider error text looks like a quota or
// rate-limit failure. The match is substring based so that no single
// provider's error types are required.
func IsQuotaMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range quotaMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// IsQuota reports whether err is (or wraps) a quota failure.
func IsQuota(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Quota {
		return true
	}
	return IsQuotaMessage(err.Error())
}
