// Package client is a typed HTTP client for the parley REST API. It
// satisfies the driver's Advancer and SnapshotSource, so a multi-turn run
// can be driven from outside the server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zhouzirui/z-parley/backend/internal/handler/apierror"
	"github.com/zhouzirui/z-parley/backend/internal/model/conversation"
	"github.com/zhouzirui/z-parley/backend/internal/model/persona"
	convservice "github.com/zhouzirui/z-parley/backend/internal/service/conversation"
	"github.com/zhouzirui/z-parley/backend/internal/service/driver"
)

// APIError is a non-2xx response. It unwraps to the sentinel matching Code,
// so errors.Is(err, conversation.ErrInvalidTurnOrder) works across HTTP.
type APIError struct {
	Status  int               `json:"-"`
	Code    string            `json:"code"`
	Message string            `json:"error"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("parley api: status %d", e.Status)
	}
	return fmt.Sprintf("parley api: %s (status %d)", e.Message, e.Status)
}

func (e *APIError) Unwrap() error {
	if e.Code == apierror.CodeAlreadyRunning {
		return driver.ErrAlreadyRunning
	}
	return convservice.SentinelForCode(e.Code)
}

// Client talks to one parley server.
type Client struct {
	baseURL string
	http    *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the default client, which times out after 90s.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 90 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot fetches the current conversation.
func (c *Client) Snapshot(ctx context.Context) (conversation.Snapshot, error) {
	var snap conversation.Snapshot
	err := c.do(ctx, http.MethodGet, "/api/conversations/current", nil, &snap)
	return snap, err
}

// Lookup fetches a conversation by id, whatever its status.
func (c *Client) Lookup(ctx context.Context, id int64) (conversation.Snapshot, error) {
	var snap conversation.Snapshot
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/conversations/%d", id), nil, &snap)
	return snap, err
}

// AdvanceTurn asks the server to run one turn.
func (c *Client) AdvanceTurn(ctx context.Context, id int64) (conversation.Message, error) {
	var msg conversation.Message
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/conversations/%d/next", id), nil, &msg)
	return msg, err
}

func (c *Client) CreateConversation(ctx context.Context, in conversation.CreateInput) (conversation.Conversation, error) {
	var conv conversation.Conversation
	err := c.do(ctx, http.MethodPost, "/api/conversations", in, &conv)
	return conv, err
}

func (c *Client) ClearConversations(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/conversations", nil, nil)
}

func (c *Client) ListPersonas(ctx context.Context) ([]persona.Persona, error) {
	var items []persona.Persona
	err := c.do(ctx, http.MethodGet, "/api/personas", nil, &items)
	return items, err
}

func (c *Client) CreatePersona(ctx context.Context, in persona.Input) (persona.Persona, error) {
	var p persona.Persona
	err := c.do(ctx, http.MethodPost, "/api/personas", in, &p)
	return p, err
}

func (c *Client) ListModels(ctx context.Context) ([]persona.ModelInfo, error) {
	var items []persona.ModelInfo
	err := c.do(ctx, http.MethodGet, "/api/models", nil, &items)
	return items, err
}

// DriverStatus mirrors GET /api/driver.
type DriverStatus struct {
	Running       bool                  `json:"running"`
	Notifications []driver.Notification `json:"notifications"`
}

// StartRun starts a server-side run of up to turns turns.
func (c *Client) StartRun(ctx context.Context, turns int) error {
	return c.do(ctx, http.MethodPost, "/api/conversations/current/run", map[string]int{"turns": turns}, nil)
}

func (c *Client) DriverStatus(ctx context.Context) (DriverStatus, error) {
	var status DriverStatus
	err := c.do(ctx, http.MethodGet, "/api/driver", nil, &status)
	return status, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, apiErr); err != nil || (apiErr.Message == "" && apiErr.Code == "") {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

// IsConflict reports whether err is a 409 from the server.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict
}
