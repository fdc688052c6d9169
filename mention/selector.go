package mention

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hupe1980/postpilot/conversation"
	"github.com/hupe1980/postpilot/logging"
	"github.com/hupe1980/postpilot/transport"
)

const selectorInstruction = `You will be shown inbound mentions waiting for a response.
Decide which of them are worth replying to. You may select several, one, or none at all.
Skip spam, bait, and anything you have effectively answered recently.
For every selected mention give a priority (1 = reply first), a short reasoning,
and a suggested approach for the reply. Only reference mention ids you were shown.`

// selectionResponse is the structured output schema for the selection request.
type selectionResponse struct {
	Selections []Selection `json:"selections" description:"Mentions worth replying to; empty if none"`
}

var selectionSchema = transport.SchemaFor("mention_selector", selectionResponse{})

// SelectorOptions configures a Selector.
type SelectorOptions struct {
	// Persona is prepended to the framing turn.
	Persona string
	// RequestTimeout bounds the selection call.
	RequestTimeout time.Duration
	// Logger defaults to NoOp.
	Logger logging.Logger
}

// Selector ranks a filtered batch of candidates with a single structured
// model call. An empty result is success: nothing was worth replying to
// this cycle.
type Selector struct {
	transport      transport.Transport
	persona        string
	requestTimeout time.Duration
	logger         logging.Logger
}

// NewSelector constructs a Selector over a structured transport.
func NewSelector(tp transport.Transport, optFns ...func(o *SelectorOptions)) *Selector {
	opts := SelectorOptions{
		RequestTimeout: 2 * time.Minute,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Selector{
		transport:      tp,
		persona:        opts.Persona,
		requestTimeout: opts.RequestTimeout,
		logger:         opts.Logger,
	}
}

// Select sends the full candidate batch plus recent-reply context and
// returns the model's selections sorted ascending by priority.
func (s *Selector) Select(ctx context.Context, candidates []Candidate, recentReplies string) ([]Selection, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	turns := []conversation.Turn{
		conversation.System(s.persona + "\n\n" + selectorInstruction),
		conversation.User(fmt.Sprintf(`Here are the mentions waiting for your response:

%s

## Your recent replies (don't repeat yourself):
%s

Select which mentions to reply to. You can select multiple, one, or none.`,
			formatCandidates(candidates), recentReplies)),
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	var resp selectionResponse
	start := time.Now()
	err := s.transport.Request(reqCtx, turns, selectionSchema, &resp)
	logging.LogModelCall(s.logger, selectionSchema.Name, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	selections := resp.Selections
	sort.SliceStable(selections, func(i, j int) bool {
		return selections[i].Priority < selections[j].Priority
	})

	for _, sel := range selections {
		s.logger.Info("mention selected", "mention_id", sel.MentionID, "priority", sel.Priority, "reasoning", sel.Reasoning)
	}
	return selections, nil
}

// formatCandidates renders the batch for the model prompt.
func formatCandidates(candidates []Candidate) string {
	lines := make([]string, 0, len(candidates))
	for _, c := range candidates {
		lines = append(lines, fmt.Sprintf("- mention_id: %s\n  from: @%s\n  text: %s", c.ID, c.AuthorHandle, c.Text))
	}
	return strings.Join(lines, "\n\n")
}
