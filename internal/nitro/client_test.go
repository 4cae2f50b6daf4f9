package nitro

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"nitrobot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type capturedRequest struct {
	Method string
	Query  string
	Accept string
	Body   map[string]any
}

// fakeBackend serves a fixed body with a fixed content type and records the
// last request.
type fakeBackend struct {
	mu          sync.Mutex
	status      int
	contentType string
	body        string
	last        capturedRequest
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	f.mu.Lock()
	f.last = capturedRequest{
		Method: r.Method,
		Query:  r.URL.Query().Get("api_key"),
		Accept: r.Header.Get("Accept"),
		Body:   body,
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", f.contentType)
	if f.status != 0 {
		w.WriteHeader(f.status)
	}
	_, _ = io.WriteString(w, f.body)
}

func (f *fakeBackend) request() capturedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func newTestClient(t *testing.T, backend *fakeBackend, obs Observer) *Client {
	t.Helper()
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	c, err := NewClient(ClientConfig{
		BaseURL:  srv.URL + "/mcp",
		APIKey:   "secret-key",
		Observer: obs,
		Logger:   testLogger(),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func jsonBackend(body string) *fakeBackend {
	return &fakeBackend{contentType: "application/json", body: body}
}

func sseBackend(lines ...string) *fakeBackend {
	return &fakeBackend{contentType: "text/event-stream", body: strings.Join(lines, "\n") + "\n"}
}

func arguments(t *testing.T, req capturedRequest) map[string]any {
	t.Helper()
	params, ok := req.Body["params"].(map[string]any)
	if !ok {
		t.Fatalf("request has no params: %v", req.Body)
	}
	args, ok := params["arguments"].(map[string]any)
	if !ok {
		t.Fatalf("request has no arguments: %v", params)
	}
	return args
}

func TestNewClient_MissingCredentials(t *testing.T) {
	for _, cfg := range []ClientConfig{
		{BaseURL: "https://nitro.example/mcp"},
		{APIKey: "k"},
		{BaseURL: "  ", APIKey: "k"},
	} {
		if _, err := NewClient(cfg); !errors.Is(err, ErrMissingCredentials) {
			t.Fatalf("expected ErrMissingCredentials for %+v, got %v", cfg, err)
		}
	}
}

func TestNewClient_RejectsNonHTTPScheme(t *testing.T) {
	if _, err := NewClient(ClientConfig{BaseURL: "ftp://nitro.example", APIKey: "k"}); err == nil {
		t.Fatal("expected error for ftp scheme")
	}
}

func TestAsk_PlainJSON(t *testing.T) {
	backend := jsonBackend(`{"jsonrpc":"2.0","id":"1","result":{"content":[{"type":"text","text":"4"}]}}`)
	c := newTestClient(t, backend, nil)

	got, err := c.Ask(context.Background(), Question{Text: "What is 2+2?", UserID: "123456789012345678"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if got != "4" {
		t.Fatalf("expected \"4\", got %q", got)
	}
}

func TestAsk_RequestShape(t *testing.T) {
	backend := jsonBackend(`{"jsonrpc":"2.0","id":"1","result":{"content":[{"type":"text","text":"ok"}]}}`)
	c := newTestClient(t, backend, nil)

	_, err := c.Ask(context.Background(), Question{
		Text:   "What is 2+2?",
		UserID: "123456789012345678",
		Email:  "a@example.com",
		Model:  "fast",
	})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}

	req := backend.request()
	if req.Method != http.MethodPost {
		t.Errorf("expected POST, got %s", req.Method)
	}
	if req.Query != "secret-key" {
		t.Errorf("expected api_key query param, got %q", req.Query)
	}
	if !strings.Contains(req.Accept, "application/json") || !strings.Contains(req.Accept, "text/event-stream") {
		t.Errorf("Accept header must list both content types, got %q", req.Accept)
	}
	if req.Body["jsonrpc"] != "2.0" || req.Body["method"] != "tools/call" {
		t.Errorf("unexpected envelope: %v", req.Body)
	}
	if id, _ := req.Body["id"].(string); id == "" {
		t.Error("request id must be set")
	}
	params := req.Body["params"].(map[string]any)
	if params["name"] != "ask-nitro" {
		t.Errorf("expected tool ask-nitro, got %v", params["name"])
	}

	want := map[string]any{
		"question": "What is 2+2?",
		"user_id":  "00000000-0000-0000-01b6-9b4ba630f34e",
		"email":    "a@example.com",
		"model":    "fast",
	}
	if diff := cmp.Diff(want, arguments(t, req)); diff != "" {
		t.Fatalf("arguments mismatch (-want +got):\n%s", diff)
	}
}

func TestAsk_HistorySentAsMessages(t *testing.T) {
	backend := jsonBackend(`{"result":{"content":[{"type":"text","text":"ok"}]}}`)
	c := newTestClient(t, backend, nil)

	history := []domain.ConversationTurn{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, Content: "hello"},
	}
	if _, err := c.Ask(context.Background(), Question{Text: "and?", UserID: "1", History: history}); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	want := []any{
		map[string]any{"role": "user", "content": "hi"},
		map[string]any{"role": "assistant", "content": "hello"},
	}
	if diff := cmp.Diff(want, arguments(t, backend.request())["messages"]); diff != "" {
		t.Fatalf("messages mismatch (-want +got):\n%s", diff)
	}
}

func TestAsk_AnonymousUserGetsFreshID(t *testing.T) {
	backend := jsonBackend(`{"result":{"content":[{"type":"text","text":"ok"}]}}`)
	c := newTestClient(t, backend, nil)

	var ids []string
	for range 2 {
		if _, err := c.Ask(context.Background(), Question{Text: "hi"}); err != nil {
			t.Fatalf("Ask: %v", err)
		}
		args := arguments(t, backend.request())
		if _, ok := args["messages"]; ok {
			t.Error("empty history must be omitted")
		}
		ids = append(ids, args["user_id"].(string))
	}
	if ids[0] == "" || ids[0] == ids[1] {
		t.Fatalf("anonymous ids must be random, got %v", ids)
	}
}

func TestAsk_EventStreamSkipsUnparseableLines(t *testing.T) {
	backend := sseBackend(
		"event: message",
		"data: ping",
		`data: {"jsonrpc":"2.0","id":"1","result":{"content":[{"type":"text","text":"streamed answer"}]}}`,
		"data: [DONE]",
	)
	c := newTestClient(t, backend, nil)

	got, err := c.Ask(context.Background(), Question{Text: "q", UserID: "1"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if got != "streamed answer" {
		t.Fatalf("expected streamed answer, got %q", got)
	}
}

func TestAsk_EventStreamLastPayloadWins(t *testing.T) {
	backend := sseBackend(
		`data: {"result":{"content":[{"type":"text","text":"first"}]}}`,
		"",
		`data: {"result":{"content":[{"type":"text","text":"second"}]}}`,
	)
	c := newTestClient(t, backend, nil)

	got, err := c.Ask(context.Background(), Question{Text: "q"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if got != "second" {
		t.Fatalf("expected last payload to win, got %q", got)
	}
}

func TestAsk_EventStreamWithoutPayload(t *testing.T) {
	backend := sseBackend("data: keepalive", "data: [DONE]")
	c := newTestClient(t, backend, nil)

	_, err := c.Ask(context.Background(), Question{Text: "q"})
	var malformed *MalformedStreamError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedStreamError, got %v", err)
	}
	if malformed.DataLines != 2 {
		t.Fatalf("expected 2 data lines counted, got %d", malformed.DataLines)
	}
}

func TestAsk_EventStreamBareResult(t *testing.T) {
	backend := sseBackend(`data: {"content":[{"type":"text","text":"bare"}]}`)
	c := newTestClient(t, backend, nil)

	got, err := c.Ask(context.Background(), Question{Text: "q"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if got != "bare" {
		t.Fatalf("payload without envelope should be read as the result, got %q", got)
	}
}

func TestAsk_EventStreamTrailingNonObjectsKeepResult(t *testing.T) {
	backend := sseBackend(
		`data: {"result":{"content":[{"type":"text","text":"4"}]}}`,
		"data: 42",
		"data: null",
		`data: "done"`,
	)
	c := newTestClient(t, backend, nil)

	got, err := c.Ask(context.Background(), Question{Text: "2+2"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if got != "4" {
		t.Fatalf("non-object payloads must not replace the result, got %q", got)
	}
}

func TestAsk_EventStreamContentTypeCaseInsensitive(t *testing.T) {
	backend := sseBackend(`data: {"result":{"content":[{"type":"text","text":"streamed"}]}}`)
	backend.contentType = "Text/Event-Stream; charset=utf-8"
	c := newTestClient(t, backend, nil)

	got, err := c.Ask(context.Background(), Question{Text: "q"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if got != "streamed" {
		t.Fatalf("expected event stream to be decoded, got %q", got)
	}
}

func TestIsEventStream(t *testing.T) {
	for ct, want := range map[string]bool{
		"text/event-stream":                     true,
		"TEXT/EVENT-STREAM":                     true,
		"text/event-stream; charset=utf-8":      true,
		"application/json":                      false,
		"application/json; x=text/event-stream": false,
		"":                                      false,
	} {
		if got := isEventStream(ct); got != want {
			t.Errorf("isEventStream(%q) = %v, want %v", ct, got, want)
		}
	}
}

func TestAsk_BackendErrorEnvelope(t *testing.T) {
	for name, backend := range map[string]*fakeBackend{
		"json": jsonBackend(`{"jsonrpc":"2.0","id":"1","error":{"code":-32000,"message":"quota exceeded"}}`),
		"sse":  sseBackend(`data: {"jsonrpc":"2.0","id":"1","error":{"code":-32000,"message":"quota exceeded"}}`),
	} {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, backend, nil)
			_, err := c.Ask(context.Background(), Question{Text: "q"})
			var be *BackendError
			if !errors.As(err, &be) {
				t.Fatalf("expected BackendError, got %v", err)
			}
			if be.Code != -32000 || be.Message != "quota exceeded" {
				t.Fatalf("unexpected backend error %+v", be)
			}
		})
	}
}

func TestAsk_NonSuccessStatus(t *testing.T) {
	backend := &fakeBackend{status: http.StatusBadGateway, contentType: "text/plain", body: "upstream down\n"}
	c := newTestClient(t, backend, nil)

	_, err := c.Ask(context.Background(), Question{Text: "q"})
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.StatusCode != http.StatusBadGateway || te.Body != "upstream down" {
		t.Fatalf("unexpected transport error %+v", te)
	}
}

func TestAsk_NetworkErrorHidesAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(ClientConfig{BaseURL: url, APIKey: "secret-key", Logger: testLogger()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = c.Ask(context.Background(), Question{Text: "q"})
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if strings.Contains(err.Error(), "secret-key") {
		t.Fatalf("error leaks the api key: %v", err)
	}
}

func TestAsk_EmptyContentYieldsPlaceholder(t *testing.T) {
	for name, body := range map[string]string{
		"no content":   `{"result":{"content":[]}}`,
		"only markers": `{"result":{"content":[{"type":"text","text":"{\"tool\":\"books\"}"}]}}`,
		"non-text":     `{"result":{"content":[{"type":"image","text":""}]}}`,
	} {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, jsonBackend(body), nil)
			got, err := c.Ask(context.Background(), Question{Text: "q"})
			if err != nil {
				t.Fatalf("Ask: %v", err)
			}
			if got != NoResponsePlaceholder {
				t.Fatalf("expected placeholder, got %q", got)
			}
		})
	}
}

func TestAsk_JoinsTextBlocksAndStripsMarkers(t *testing.T) {
	body := `{"result":{"content":[` +
		`{"type":"text","text":"{\"tool\":\"books\"} Dune is a novel."},` +
		`{"type":"image","text":"ignored"},` +
		`{"type":"text","text":"It was published in 1965. {\"tool\":\"search\"}"}]}}`
	c := newTestClient(t, jsonBackend(body), nil)

	got, err := c.Ask(context.Background(), Question{Text: "q"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	want := "Dune is a novel.\nIt was published in 1965."
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestListTools(t *testing.T) {
	backend := sseBackend(`data: {"result":{"tools":[{"name":"ask-nitro","title":"Ask Nitro","description":"Ask a question"}]}}`)
	c := newTestClient(t, backend, nil)

	tools, err := c.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	want := []Tool{{Name: "ask-nitro", Title: "Ask Nitro", Description: "Ask a question"}}
	if diff := cmp.Diff(want, tools); diff != "" {
		t.Fatalf("tools mismatch (-want +got):\n%s", diff)
	}
	if backend.request().Body["method"] != "tools/list" {
		t.Fatalf("expected tools/list, got %v", backend.request().Body["method"])
	}
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingObserver) ObserveCall(method, transport, outcome string, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, method+"/"+transport+"/"+outcome)
}

func TestAsk_ReportsToObserver(t *testing.T) {
	obs := &recordingObserver{}
	c := newTestClient(t, sseBackend("data: nope"), obs)
	_, _ = c.Ask(context.Background(), Question{Text: "q"})

	c = newTestClient(t, jsonBackend(`{"result":{"content":[{"type":"text","text":"ok"}]}}`), obs)
	_, _ = c.Ask(context.Background(), Question{Text: "q"})

	want := []string{"tools/call/sse/malformed", "tools/call/json/ok"}
	if diff := cmp.Diff(want, obs.calls); diff != "" {
		t.Fatalf("observer calls mismatch (-want +got):\n%s", diff)
	}
}

func TestStripToolMarkers(t *testing.T) {
	cases := map[string]string{
		`{"tool":"books"}`:             "",
		`  answer {"tool":"a-b_c"}  `:  "answer",
		`keep {"tool":""} literal`:     `keep {"tool":""} literal`,
		`{"tool": "spaced"} not a tag`: `{"tool": "spaced"} not a tag`,
	}
	for in, want := range cases {
		if got := StripToolMarkers(in); got != want {
			t.Errorf("StripToolMarkers(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOutcome(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, OutcomeOK},
		{&BackendError{Code: 1}, OutcomeBackendError},
		{&MalformedStreamError{}, OutcomeMalformed},
		{&TransportError{StatusCode: 500}, OutcomeTransportError},
		{errors.New("other"), OutcomeTransportError},
	}
	for _, tc := range cases {
		if got := Outcome(tc.err); got != tc.want {
			t.Errorf("Outcome(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
