package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hupe1980/postpilot/capability"
	"github.com/hupe1980/postpilot/conversation"
	"github.com/hupe1980/postpilot/logging"
	"github.com/hupe1980/postpilot/plan"
	"github.com/hupe1980/postpilot/transport"
)

// DefaultCharLimit is the hard platform limit applied to final artifacts.
const DefaultCharLimit = 280

// Ellipsis is appended when the model's text exceeds the platform limit.
const Ellipsis = "..."

// State identifies where a run currently is. Runs move strictly forward;
// StateFailed is terminal and reachable from any non-done state.
type State string

const (
	StateAwaitingPlan  State = "awaiting_plan"
	StatePlanReceived  State = "plan_received"
	StateValidating    State = "validating"
	StateExecuting     State = "executing"
	StateAwaitingFinal State = "awaiting_final"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

// ErrMalformedModelOutput wraps schema violations on the plan or final
// request. The run is abandoned; the caller decides whether to retry the
// whole run on a later tick.
var ErrMalformedModelOutput = errors.New("malformed model output")

// RunError carries the state a run failed in plus the underlying cause.
type RunError struct {
	State State
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run failed in state %s: %v", e.State, e.Err)
}

// Unwrap returns the underlying cause.
func (e *RunError) Unwrap() error { return e.Err }

// FinalArtifact is the terminal output of one run: text within the platform
// limit plus optional generated media.
type FinalArtifact struct {
	Text  string
	Media []byte
}

// RunResult is returned for a completed run. An empty Text after a full loop
// means the model declined to produce anything; callers treat that as a
// no-op rather than a failure.
type RunResult struct {
	RunID     string
	Artifact  FinalArtifact
	Plan      plan.Plan
	Reasoning string
	TurnCount int
}

// Options configure a Loop.
type Options struct {
	// CharLimit is the hard platform limit for the final text.
	CharLimit int
	// FinalInstruction is the user turn appended before requesting the
	// final artifact. The default asks for post text.
	FinalInstruction string
	// RequestTimeout bounds each model and capability call independently.
	RequestTimeout time.Duration
	// Logger defaults to NoOp.
	Logger logging.Logger
}

// Loop drives the plan-execute-finalize state machine. A Loop is stateless
// across runs; each Run owns its conversation and discards it afterwards.
type Loop struct {
	transport        transport.Transport
	registry         *capability.Registry
	charLimit        int
	finalInstruction string
	requestTimeout   time.Duration
	logger           logging.Logger
}

// New constructs a Loop over a transport and a capability registry.
func New(tp transport.Transport, registry *capability.Registry, optFns ...func(o *Options)) *Loop {
	opts := Options{
		CharLimit:      DefaultCharLimit,
		RequestTimeout: 2 * time.Minute,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.FinalInstruction == "" {
		opts.FinalInstruction = fmt.Sprintf("Now write your final post text (max %d characters). Just the text, nothing else.", opts.CharLimit)
	}
	return &Loop{
		transport:        tp,
		registry:         registry,
		charLimit:        opts.CharLimit,
		finalInstruction: opts.FinalInstruction,
		requestTimeout:   opts.RequestTimeout,
		logger:           opts.Logger,
	}
}

// planResponse is the structured output schema for the planning request.
type planResponse struct {
	Reasoning string      `json:"reasoning" description:"Your reasoning about what to create"`
	Steps     []plan.Step `json:"steps" description:"List of tools to execute in order"`
}

// artifactResponse is the structured output schema for the final request.
type artifactResponse struct {
	Text string `json:"text" description:"The final text"`
}

var (
	planSchema     = transport.SchemaFor("agent_plan", planResponse{})
	artifactSchema = transport.SchemaFor("final_text", artifactResponse{})
)

// Run executes one full plan-execute-finalize cycle over the given opening
// conversation. The turn slice grows append-only; the full ordered sequence
// is replayed to the model at every stage.
func (l *Loop) Run(ctx context.Context, turns []conversation.Turn) (*RunResult, error) {
	runID := uuid.NewString()
	logger := l.logger

	st := StateAwaitingPlan
	logger.Debug("run started", "run_id", runID, "state", st)

	// AwaitingPlan: one structured request for the capability plan.
	var planResp planResponse
	if err := l.request(ctx, turns, planSchema, &planResp); err != nil {
		return nil, l.fail(runID, st, err)
	}
	st = StatePlanReceived

	p := plan.Plan{Reasoning: planResp.Reasoning, Steps: planResp.Steps}
	logger.Info("plan received", "run_id", runID, "steps", len(p.Steps), "reasoning", p.Reasoning)

	// The raw plan becomes the assistant's turn so later requests replay
	// the exact exchange the model produced.
	rawPlan, err := json.Marshal(planResp)
	if err != nil {
		return nil, l.fail(runID, st, err)
	}
	turns = append(turns, conversation.Assistant(string(rawPlan)))

	st = StateValidating
	if err := plan.Validate(p, l.registry); err != nil {
		return nil, l.fail(runID, st, err)
	}

	// Executing(i): strictly sequential; step i+1 may depend on step i's
	// folded result (an image prompt can reference search findings).
	st = StateExecuting
	var media []byte
	for i, step := range p.Steps {
		logger.Info("executing step", "run_id", runID, "step", i+1, "of", len(p.Steps), "capability", step.Capability)

		start := time.Now()
		res, err := l.invoke(ctx, step)
		logging.LogCapabilityCall(logger, step.Capability, time.Since(start), err)
		if err != nil {
			return nil, l.fail(runID, st, err)
		}
		if mr, ok := res.(capability.MediaResult); ok {
			media = mr.Bytes
		}
		turns = append(turns, conversation.User(capability.Render(step.Capability, res)))
	}

	// AwaitingFinal: ask for the artifact text and apply the length rule.
	st = StateAwaitingFinal
	turns = append(turns, conversation.User(l.finalInstruction))

	var final artifactResponse
	if err := l.request(ctx, turns, artifactSchema, &final); err != nil {
		return nil, l.fail(runID, st, err)
	}

	text := Truncate(strings.TrimSpace(final.Text), l.charLimit)
	st = StateDone
	logger.Info("run completed", "run_id", runID, "chars", utf8.RuneCountInString(text), "has_media", media != nil, "turns", len(turns))

	return &RunResult{
		RunID:     runID,
		Artifact:  FinalArtifact{Text: text, Media: media},
		Plan:      p,
		Reasoning: p.Reasoning,
		TurnCount: len(turns),
	}, nil
}

// request performs one structured model call under the per-call timeout.
func (l *Loop) request(ctx context.Context, turns []conversation.Turn, schema transport.Schema, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, l.requestTimeout)
	defer cancel()

	start := time.Now()
	err := l.transport.Request(reqCtx, turns, schema, out)
	logging.LogModelCall(l.logger, schema.Name, time.Since(start), err)

	var schemaErr *transport.SchemaError
	if errors.As(err, &schemaErr) {
		return fmt.Errorf("%w: %v", ErrMalformedModelOutput, err)
	}
	return err
}

// invoke runs one plan step under the per-call timeout. Capability-level
// failures have already been converted to ErrorResult by the registry; an
// error here means the step referenced an unbound capability, which
// validation rules out.
func (l *Loop) invoke(ctx context.Context, step plan.Step) (capability.Result, error) {
	stepCtx, cancel := context.WithTimeout(ctx, l.requestTimeout)
	defer cancel()
	return l.registry.Invoke(stepCtx, step.Capability, step.Params)
}

func (l *Loop) fail(runID string, st State, err error) error {
	l.logger.Error("run failed", "run_id", runID, "state", st, "error", err.Error())
	return &RunError{State: st, Err: err}
}

// Truncate enforces the hard platform limit: text longer than limit runes is
// cut to limit-3 runes with an ellipsis marker appended.
func Truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit-len(Ellipsis)]) + Ellipsis
}
