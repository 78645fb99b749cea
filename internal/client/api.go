// Package client is the desktop side of the protocol: it consumes the NDJSON
// stream, executes remote actions on this machine and feeds their results
// back as the next turn.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"deskagent/internal/chat"
	"deskagent/internal/storage"
	"deskagent/internal/stream"
)

// HeaderUserID mirrors the server's identity header.
const HeaderUserID = "X-User-Id"

// GenerateRequest is the body of POST /agent/generate.
type GenerateRequest struct {
	SessionID   string `json:"sessionId,omitempty"`
	Message     string `json:"message"`
	Platform    string `json:"platform"`
	ImageBase64 string `json:"imageBase64,omitempty"`
}

// API 服务端 HTTP 客户端
// API talks to a deskagent server on behalf of one user
type API struct {
	baseURL string
	userID  string
	http    *http.Client
}

func NewAPI(baseURL, userID string, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &API{baseURL: strings.TrimRight(baseURL, "/"), userID: userID, http: httpClient}
}

// EventStream is an open generation response.
type EventStream struct {
	*stream.Decoder
	body io.ReadCloser
}

func (s *EventStream) Close() error {
	return s.body.Close()
}

// Generate starts a turn. The caller must Close the returned stream.
func (a *API) Generate(ctx context.Context, req GenerateRequest) (*EventStream, error) {
	resp, err := a.do(ctx, http.MethodPost, "/agent/generate", req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, responseError(resp)
	}
	return &EventStream{Decoder: stream.NewDecoder(resp.Body), body: resp.Body}, nil
}

// Cancel asks the server to stop the session's in-flight generation.
func (a *API) Cancel(ctx context.Context, sessionID string) (bool, error) {
	var out struct {
		Cancelled bool `json:"cancelled"`
	}
	if err := a.call(ctx, http.MethodPost, "/agent/cancel", map[string]string{"sessionId": sessionID}, &out); err != nil {
		return false, err
	}
	return out.Cancelled, nil
}

// SessionPage is one page of GET /session.
type SessionPage struct {
	Sessions []storage.Session `json:"sessions"`
	Total    int               `json:"total"`
}

func (a *API) Sessions(ctx context.Context, page, limit int) (SessionPage, error) {
	var out SessionPage
	err := a.call(ctx, http.MethodGet, "/session?"+pageQuery(page, limit), nil, &out)
	return out, err
}

// ConversationPage is one page of a session's turns, newest first.
type ConversationPage struct {
	Conversations      []chat.Turn `json:"conversations"`
	TotalConversations int         `json:"totalConversations"`
}

func (a *API) Conversations(ctx context.Context, sessionID string, page, limit int) (ConversationPage, error) {
	var out ConversationPage
	path := "/session/" + url.PathEscape(sessionID) + "/conversations?" + pageQuery(page, limit)
	err := a.call(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func pageQuery(page, limit int) string {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q.Encode()
}

func (a *API) call(ctx context.Context, method, path string, body, out any) error {
	resp, err := a.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return responseError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (a *API) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(HeaderUserID, a.userID)
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

// StatusError is a non-2xx server response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

func responseError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &StatusError{Code: resp.StatusCode, Message: msg}
}
