package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsQuotaMessage(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"Error 429: Too Many Requests", true},
		{"googleapi: Error 429: RESOURCE_EXHAUSTED", true},
		{"You exceeded your current quota, please check your plan", true},
		{"insufficient_quota", true},
		{"Rate limit reached for gpt-4o", true},
		{"connection reset by peer", false},
		{"invalid api key", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsQuotaMessage(tc.msg); got != tc.want {
			t.Fatalf("IsQuotaMessage(%q)=%v, want %v", tc.msg, got, tc.want)
		}
	}
}

func TestIsQuota_Wrapped(t *testing.T) {
	err := fmt.Errorf("generate: %w", &ProviderError{Provider: "gemini", Quota: true, Err: errors.New("boom")})
	if !IsQuota(err) {
		t.Fatalf("IsQuota should see through wrapping")
	}
	if IsQuota(nil) {
		t.Fatalf("IsQuota(nil) should be false")
	}
	if IsQuota(errors.New("dial tcp: timeout")) {
		t.Fatalf("plain network error is not quota")
	}
}

func TestPathTraversalError_Is(t *testing.T) {
	err := fmt.Errorf("edit: %w", &PathTraversalError{Path: "../etc/passwd"})
	if !errors.Is(err, ErrPathTraversal) {
		t.Fatalf("errors.Is(err, ErrPathTraversal)=false")
	}
	var pt *PathTraversalError
	if !errors.As(err, &pt) || pt.Path != "../etc/passwd" {
		t.Fatalf("errors.As PathTraversalError failed: %+v", pt)
	}
}

func TestParseError_Unwrap(t *testing.T) {
	inner := errors.New("unexpected end of JSON input")
	err := &ParseError{Raw: "{", Err: inner}
	if !errors.Is(err, inner) {
		t.Fatalf("ParseError should unwrap to its cause")
	}
}
