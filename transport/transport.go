// Package transport defines the structured model transport: send a
// conversation, get JSON back that conforms to a named output schema.
// Provider adapters live in the openai and anthropic subpackages; Mock is a
// deterministic in-memory implementation for tests.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hupe1980/postpilot/conversation"
	"github.com/hupe1980/postpilot/internal/util"
)

// Schema names an expected output shape. Definition is a JSON schema object
// derived from the response struct the caller decodes into.
type Schema struct {
	Name       string
	Definition map[string]any
}

// SchemaFor derives a Schema from a prototype response struct via reflection.
func SchemaFor(name string, prototype any) Schema {
	return Schema{Name: name, Definition: util.CreateSchema(prototype)}
}

// TransportError reports a network or HTTP level failure talking to the
// model provider. Fatal to the current run; the caller decides about retries.
type TransportError struct {
	Provider string
	Message  string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("model transport (%s): %s", e.Provider, e.Message)
}

// SchemaError reports model output that does not parse against the requested
// schema. Fatal to the current run, never auto-corrected.
type SchemaError struct {
	Schema  string
	Message string
	Raw     string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("model output does not match schema %q: %s", e.Schema, e.Message)
}

// Transport sends the full ordered turn sequence and decodes the model's
// structured JSON answer into out.
type Transport interface {
	Request(ctx context.Context, turns []conversation.Turn, schema Schema, out any) error
}

// Decode parses raw model output into out, mapping parse failures to SchemaError.
func Decode(schema Schema, raw string, out any) error {
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return &SchemaError{Schema: schema.Name, Message: err.Error(), Raw: raw}
	}
	return nil
}

// RecordedRequest captures one Mock invocation for assertions.
type RecordedRequest struct {
	Turns  []conversation.Turn
	Schema string
}

// Mock is an in-memory Transport that replays canned responses in FIFO
// order. Responses may be raw JSON strings or Go values that are marshalled
// on the way out. Safe for concurrent use.
type Mock struct {
	mu        sync.Mutex
	responses []any
	errs      []error
	Requests  []RecordedRequest
}

// NewMock constructs an empty Mock transport.
func NewMock() *Mock {
	return &Mock{}
}

// Enqueue appends a canned response (raw JSON string or marshallable value).
func (m *Mock) Enqueue(response any) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, response)
	m.errs = append(m.errs, nil)
	return m
}

// EnqueueError appends a canned failure.
func (m *Mock) EnqueueError(err error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, nil)
	m.errs = append(m.errs, err)
	return m
}

// Request implements Transport.
func (m *Mock) Request(_ context.Context, turns []conversation.Turn, schema Schema, out any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make([]conversation.Turn, len(turns))
	copy(copied, turns)
	m.Requests = append(m.Requests, RecordedRequest{Turns: copied, Schema: schema.Name})

	if len(m.responses) == 0 {
		return &TransportError{Provider: "mock", Message: "no canned response left"}
	}
	resp, err := m.responses[0], m.errs[0]
	m.responses = m.responses[1:]
	m.errs = m.errs[1:]

	if err != nil {
		return err
	}

	raw, ok := resp.(string)
	if !ok {
		encoded, mErr := json.Marshal(resp)
		if mErr != nil {
			return &TransportError{Provider: "mock", Message: mErr.Error()}
		}
		raw = string(encoded)
	}
	return Decode(schema, raw, out)
}
