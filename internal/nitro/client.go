// Package nitro is the JSON-RPC client for the Nitro question-answering
// backend. Answers may arrive as plain JSON or as a server-sent-event
// stream; both are normalized into one envelope before the result is read.
package nitro

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"nitrobot/internal/domain"
	"nitrobot/internal/identity"
)

const (
	methodToolsCall = "tools/call"
	methodToolsList = "tools/list"
	askToolName     = "ask-nitro"

	acceptHeader = "application/json, text/event-stream"
)

// Transport labels reported to the Observer.
const (
	TransportJSON = "json"
	TransportSSE  = "sse"
	TransportNone = "none"
)

// Outcome labels reported to the Observer.
const (
	OutcomeOK             = "ok"
	OutcomeTransportError = "transport_error"
	OutcomeBackendError   = "backend_error"
	OutcomeMalformed      = "malformed"
)

// Observer receives one callback per backend call.
type Observer interface {
	ObserveCall(method, transport, outcome string, elapsed time.Duration)
}

// Question is one outbound ask.
type Question struct {
	Text   string
	UserID string // platform user id; empty for anonymous calls
	Email  string
	Model  string // overrides the client default when set
	// History is sent as the messages argument when non-empty.
	History []domain.ConversationTurn
}

// Tool describes a tool advertised by the backend.
type Tool struct {
	Name        string         `json:"name"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client // optional, built from Timeout when nil
	Observer   Observer     // optional
	Logger     *slog.Logger
}

// Client talks to the backend. It holds no per-call state and is safe for
// concurrent use.
type Client struct {
	endpoint string
	model    string
	http     *http.Client
	observer Observer
	logger   *slog.Logger
}

// NewClient creates a Client. BaseURL and APIKey are required.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingCredentials
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", u.Redacted())
	}
	q := u.Query()
	q.Set("api_key", cfg.APIKey)
	u.RawQuery = q.Encode()

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = NewHTTPClient(cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		endpoint: u.String(),
		model:    cfg.Model,
		http:     cfg.HTTPClient,
		observer: cfg.Observer,
		logger:   cfg.Logger,
	}, nil
}

type askArguments struct {
	Question string                    `json:"question"`
	UserID   string                    `json:"user_id"`
	Email    string                    `json:"email,omitempty"`
	Model    string                    `json:"model,omitempty"`
	Messages []domain.ConversationTurn `json:"messages,omitempty"`
}

type toolCallParams struct {
	Name      string       `json:"name"`
	Arguments askArguments `json:"arguments"`
}

// Ask sends q to the ask-nitro tool and returns the answer text.
func (c *Client) Ask(ctx context.Context, q Question) (string, error) {
	userID := identity.Anonymous()
	if q.UserID != "" {
		userID = identity.Map(q.UserID)
	}
	model := q.Model
	if model == "" {
		model = c.model
	}

	params := toolCallParams{
		Name: askToolName,
		Arguments: askArguments{
			Question: q.Text,
			UserID:   userID,
			Email:    q.Email,
			Model:    model,
			Messages: q.History,
		},
	}

	c.logger.Debug("asking nitro", "question_len", len(q.Text), "history", len(q.History), "anonymous", q.UserID == "")
	result, err := c.call(ctx, methodToolsCall, params)
	if err != nil {
		return "", err
	}
	return extractText(result), nil
}

// ListTools returns the tools the backend advertises.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	result, err := c.call(ctx, methodToolsList, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Tools []Tool `json:"tools"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("decode tools: %w", err)
	}
	return out.Tools, nil
}

// call performs one JSON-RPC round trip and returns the result payload.
func (c *Client) call(ctx context.Context, method string, params any) (result json.RawMessage, err error) {
	start := time.Now()
	transport := TransportNone
	defer func() {
		c.observe(method, transport, err, time.Since(start))
	}()

	body, err := json.Marshal(rpcRequest{
		JSONRPC: jsonRPCVersion,
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", acceptHeader)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Err: redactURLError(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn("nitro http error", "method", method, "status", resp.StatusCode)
		return nil, &TransportError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var env *rpcResponse
	if isEventStream(resp.Header.Get("Content-Type")) {
		transport = TransportSSE
		env, err = decodeEventStream(resp.Body, func(payload string, perr error) {
			c.logger.Debug("skipping unparseable event data", "bytes", len(payload), "err", perr)
		})
	} else {
		transport = TransportJSON
		env, err = decodeJSON(resp.Body)
	}
	if err != nil {
		return nil, err
	}
	return env.unwrap()
}

// isEventStream reports whether a Content-Type header names an SSE body.
// Media types compare case-insensitively.
func isEventStream(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/event-stream"
}

func (c *Client) observe(method, transport string, err error, elapsed time.Duration) {
	if c.observer == nil {
		return
	}
	c.observer.ObserveCall(method, transport, Outcome(err), elapsed)
}

// Outcome classifies an error returned by Ask or ListTools.
func Outcome(err error) string {
	var (
		backend   *BackendError
		malformed *MalformedStreamError
	)
	switch {
	case err == nil:
		return OutcomeOK
	case errors.As(err, &backend):
		return OutcomeBackendError
	case errors.As(err, &malformed):
		return OutcomeMalformed
	default:
		return OutcomeTransportError
	}
}

// redactURLError drops the request URL, which carries the API key, from
// net/http errors.
func redactURLError(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s: %w", uerr.Op, uerr.Err)
	}
	return err
}
