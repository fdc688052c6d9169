// Package capability implements the capability subsystem that lets the agent
// invoke a small, bounded set of external actions (web search, image
// generation) planned by the language model. A Registry maps capability names
// to invocable functions plus machine-readable descriptors that are rendered
// into the model's framing, so adding a capability requires no prompt editing.
package capability

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/postpilot/logging"
)

// Canonical capability names. The media capability is special-cased by plan
// validation: it may appear at most once and only as the last step.
const (
	WebSearchName     = "web_search"
	GenerateImageName = "generate_image"
)

// Parameter describes one named argument of a capability.
type Parameter struct {
	Name        string
	Description string
	Required    bool
}

// Descriptor is the machine-readable description of a capability. It is
// immutable once registered; Parameters keep their declaration order so the
// rendered enumeration is stable.
type Descriptor struct {
	Name        string
	Description string
	Parameters  []Parameter
}

// Result is implemented by the closed set of capability outcomes.
type Result interface{ isResult() }

// TextResult is a successful textual outcome (e.g. a search summary).
type TextResult struct {
	Content     string
	SourceCount int
}

func (TextResult) isResult() {}

// MediaResult carries generated media bytes to attach to the final post.
type MediaResult struct {
	Bytes []byte
}

func (MediaResult) isResult() {}

// ErrorResult is a degraded outcome: the capability failed but the run goes
// on, with the failure folded into the conversation so the model can adapt.
type ErrorResult struct {
	Capability string
	Message    string
}

func (ErrorResult) isResult() {}

// Render produces the textual form of a result that is appended to the
// conversation as the next user turn.
func Render(name string, res Result) string {
	switch r := res.(type) {
	case TextResult:
		return fmt.Sprintf("Tool result (%s):\nContent: %s\nSources found: %d", name, r.Content, r.SourceCount)
	case MediaResult:
		return fmt.Sprintf("Tool result (%s): Image generated successfully. It will be attached to your post.", name)
	case ErrorResult:
		return fmt.Sprintf("Tool result (%s): Error - %s", r.Capability, r.Message)
	default:
		return fmt.Sprintf("Tool result (%s): no output", name)
	}
}

// Error codes used by the registry.
const (
	CodeDuplicate = "DUPLICATE_CAPABILITY"
	CodeUnknown   = "UNKNOWN_CAPABILITY"
)

// Error represents registry-level failures with a machine-readable code.
// Failures of the underlying capability functions are never surfaced as
// errors; they become ErrorResult values instead.
type Error struct {
	Capability string `json:"capability"`
	Message    string `json:"message"`
	Code       string `json:"code"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("capability error [%s] in %s: %s", e.Code, e.Capability, e.Message)
}

// Func is the invocable implementation bound to a descriptor. Params carry
// the string arguments the model supplied for the plan step.
type Func func(ctx context.Context, params map[string]string) (Result, error)

// Registry maps capability names to bound functions and descriptors.
// Registration order is preserved for Describe. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]registration
	logger  logging.Logger
}

type registration struct {
	descriptor Descriptor
	fn         Func
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Logger logging.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{entries: make(map[string]registration), logger: opts.Logger}
}

// Register binds a descriptor to its implementation. It fails with a
// DUPLICATE_CAPABILITY error if the name is already present.
func (r *Registry) Register(d Descriptor, fn Func) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[d.Name]; exists {
		return &Error{Capability: d.Name, Message: "already registered", Code: CodeDuplicate}
	}
	r.entries[d.Name] = registration{descriptor: d, fn: fn}
	r.order = append(r.order, d.Name)
	r.logger.Debug("capability registered", "capability", d.Name)
	return nil
}

// Has reports whether a capability name is bound.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Names returns the registered capability names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Describe renders all descriptors into a prompt-ready enumeration. The text
// is injected verbatim into the model framing.
func (r *Registry) Describe() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.order) == 0 {
		return "No tools are available. Plan an empty list of steps."
	}

	var b strings.Builder
	b.WriteString("Available tools:\n")
	for _, name := range r.order {
		d := r.entries[name].descriptor
		fmt.Fprintf(&b, "- %s: %s\n", d.Name, d.Description)
		for _, p := range d.Parameters {
			tag := "optional"
			if p.Required {
				tag = "required"
			}
			fmt.Fprintf(&b, "    %s (%s): %s\n", p.Name, tag, p.Description)
		}
	}
	return b.String()
}

// Invoke calls the function bound to name. An unknown name fails with an
// UNKNOWN_CAPABILITY error; any failure from the bound function is wrapped
// into an ErrorResult so capability failures never abort the run.
func (r *Registry) Invoke(ctx context.Context, name string, params map[string]string) (Result, error) {
	r.mu.RLock()
	reg, ok := r.entries[name]
	r.mu.RUnlock()

	if !ok {
		return nil, &Error{Capability: name, Message: "not registered", Code: CodeUnknown}
	}

	res, err := reg.fn(ctx, params)
	if err != nil {
		r.logger.Warn("capability degraded", "capability", name, "error", err.Error())
		return ErrorResult{Capability: name, Message: err.Error()}, nil
	}
	return res, nil
}
