package nitro

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	jsonRPCVersion = "2.0"
	sseDataPrefix  = "data: "
	sseDoneMarker  = "[DONE]"
	maxSSELine     = 4 * 1024 * 1024
)

var errNotObject = errors.New("payload is not a JSON object")

// rpcRequest is a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcResponse is the normalized backend envelope, whichever transport
// delivered it.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`

	raw json.RawMessage
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// parseEnvelope decodes one JSON object. Other JSON values, null included,
// are rejected so they never stand in for a response.
func parseEnvelope(data []byte) (*rpcResponse, error) {
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errNotObject
	}
	var env rpcResponse
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	env.raw = json.RawMessage(bytes.Clone(data))
	return &env, nil
}

// unwrap returns the result payload or the backend error. An envelope that
// carries neither is taken as the result itself.
func (r *rpcResponse) unwrap() (json.RawMessage, error) {
	if r.Error != nil {
		return nil, &BackendError{Code: r.Error.Code, Message: r.Error.Message}
	}
	if len(r.Result) > 0 && !bytes.Equal(r.Result, []byte("null")) {
		return r.Result, nil
	}
	return r.raw, nil
}

// decodeJSON reads a plain application/json response body.
func decodeJSON(body io.Reader) (*rpcResponse, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	env, err := parseEnvelope(data)
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return env, nil
}

// decodeEventStream reads a text/event-stream body. Every "data: " line is
// a candidate; the last one that parses as an envelope wins. Keep-alives
// and other unparseable payloads are skipped.
func decodeEventStream(body io.Reader, skipped func(payload string, err error)) (*rpcResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)

	var (
		last  *rpcResponse
		lines int
	)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, sseDataPrefix) {
			continue
		}
		lines++
		payload := strings.TrimSpace(line[len(sseDataPrefix):])
		if payload == "" || payload == sseDoneMarker {
			continue
		}
		env, err := parseEnvelope([]byte(payload))
		if err != nil {
			if skipped != nil {
				skipped(payload, err)
			}
			continue
		}
		last = env
	}
	if err := scanner.Err(); err != nil {
		return nil, &TransportError{Err: fmt.Errorf("read event stream: %w", err)}
	}
	if last == nil {
		return nil, &MalformedStreamError{DataLines: lines}
	}
	return last, nil
}
