package mention

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/postpilot/admission"
	"github.com/hupe1980/postpilot/conversation"
	"github.com/hupe1980/postpilot/engine"
	"github.com/hupe1980/postpilot/logging"
	"github.com/hupe1980/postpilot/store"
)

const lastMentionIDKey = "last_mention_id"

// Platform fetches inbound mentions from the social platform.
type Platform interface {
	// FetchMentions returns mentions newer than sinceID, oldest first.
	// sinceID may be empty on the first run.
	FetchMentions(ctx context.Context, sinceID string) ([]Candidate, error)
}

// Publisher posts replies and uploads media on the social platform.
type Publisher interface {
	// PublishReply posts text as a reply to the given mention and returns
	// the new post's external id. mediaID may be empty.
	PublishReply(ctx context.Context, text, inReplyToID, mediaID string) (string, error)
	// UploadMedia uploads raw image bytes and returns a media id.
	UploadMedia(ctx context.Context, data []byte) (string, error)
}

// ItemResult records the outcome for a single processed mention.
type ItemResult struct {
	MentionID    string `json:"mention_id"`
	AuthorHandle string `json:"author_handle"`
	Action       string `json:"action"`
	Reply        string `json:"reply,omitempty"`
	ErrMessage   string `json:"error,omitempty"`
	Err          error  `json:"-"`
}

// BatchSummary reports one mention processing cycle.
type BatchSummary struct {
	Success     bool         `json:"success"`
	Error       string       `json:"error,omitempty"`
	Found       int          `json:"found"`
	Unprocessed int          `json:"unprocessed"`
	Selected    int          `json:"selected"`
	Processed   int          `json:"processed"`
	Results     []ItemResult `json:"results,omitempty"`
}

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	// Persona is the system identity shared with the reply loop.
	Persona string
	// CapabilityGuide describes the available tools for the reply prompt.
	CapabilityGuide string
	// AllowedAuthors restricts replies to the listed handles. Empty means
	// every author is allowed. Matching is case-insensitive.
	AllowedAuthors []string
	// AuthorHistoryLimit caps the prior-conversation context per author.
	AuthorHistoryLimit int
	// RecentReplyLimit caps the recent-replies context for the selector.
	RecentReplyLimit int
	// Logger defaults to NoOp.
	Logger logging.Logger
}

// Coordinator runs the mention cycle: fetch, filter, select, and reply
// to each selected mention one at a time. A failed item is recorded and
// the batch moves on; only batch-level faults abort the cycle.
type Coordinator struct {
	platform  Platform
	publisher Publisher
	selector  *Selector
	loop      *engine.Loop
	store     store.Store
	gate      admission.Gate
	opts      CoordinatorOptions
}

// NewCoordinator wires the mention cycle dependencies together.
func NewCoordinator(platform Platform, publisher Publisher, selector *Selector, loop *engine.Loop, st store.Store, gate admission.Gate, optFns ...func(o *CoordinatorOptions)) *Coordinator {
	opts := CoordinatorOptions{
		AuthorHistoryLimit: 5,
		RecentReplyLimit:   10,
		Logger:             logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Coordinator{
		platform:  platform,
		publisher: publisher,
		selector:  selector,
		loop:      loop,
		store:     st,
		gate:      gate,
		opts:      opts,
	}
}

// RunBatch executes one full mention cycle and returns its summary.
// Batch-level faults (admission denial, fetch or selection failure) are
// reported in the summary rather than as an error; the returned error is
// reserved for storage faults that make the cycle unsafe to continue.
func (c *Coordinator) RunBatch(ctx context.Context) (*BatchSummary, error) {
	summary := &BatchSummary{}

	allowed, reason := c.gate.CanProcessMentions(ctx)
	if !allowed {
		summary.Error = "mentions_blocked: " + reason
		c.opts.Logger.Info("mention cycle blocked", "reason", reason)
		return summary, nil
	}

	candidates, newestID, err := c.unprocessed(ctx, summary)
	if err != nil {
		summary.Error = err.Error()
		return summary, nil
	}
	if len(candidates) == 0 {
		if err := c.advanceCursor(ctx, newestID); err != nil {
			return summary, err
		}
		summary.Success = true
		return summary, nil
	}

	recent, err := c.store.RecentMentionRepliesFormatted(ctx, c.opts.RecentReplyLimit)
	if err != nil {
		return summary, fmt.Errorf("load recent replies: %w", err)
	}

	selections, err := c.selector.Select(ctx, candidates, recent)
	if err != nil {
		summary.Error = fmt.Sprintf("mention selection failed: %v", err)
		return summary, nil
	}
	summary.Selected = len(selections)

	byID := make(map[string]Candidate, len(candidates))
	for _, cand := range candidates {
		byID[cand.ID] = cand
	}

	for _, sel := range selections {
		cand, ok := byID[sel.MentionID]
		if !ok {
			c.opts.Logger.Warn("selector referenced unknown mention id", "mention_id", sel.MentionID)
			continue
		}
		res := c.processOne(ctx, cand, sel)
		if res.Err != nil {
			res.ErrMessage = res.Err.Error()
		}
		summary.Results = append(summary.Results, res)
		if res.Err == nil {
			summary.Processed++
		}
	}

	if err := c.advanceCursor(ctx, newestID); err != nil {
		return summary, err
	}
	summary.Success = true
	return summary, nil
}

// Peek fetches and filters the pending mentions without selecting or
// replying. It is the dry-run used by the status endpoint and leaves the
// fetch cursor untouched.
func (c *Coordinator) Peek(ctx context.Context) (*BatchSummary, error) {
	summary := &BatchSummary{}
	if _, _, err := c.unprocessed(ctx, summary); err != nil {
		summary.Error = err.Error()
		return summary, nil
	}
	summary.Success = true
	return summary, nil
}

// unprocessed fetches new mentions and drops the ones already answered
// or outside the allow-list, filling in the summary counters. It returns
// the newest fetched id without persisting it; callers decide when the
// cursor may move.
func (c *Coordinator) unprocessed(ctx context.Context, summary *BatchSummary) ([]Candidate, string, error) {
	sinceID, _, err := c.store.GetState(ctx, lastMentionIDKey)
	if err != nil {
		return nil, "", fmt.Errorf("load %s: %w", lastMentionIDKey, err)
	}

	fetched, err := c.platform.FetchMentions(ctx, sinceID)
	if err != nil {
		return nil, "", fmt.Errorf("fetch mentions: %w", err)
	}
	summary.Found = len(fetched)

	var candidates []Candidate
	for _, cand := range fetched {
		exists, err := c.store.MentionExists(ctx, cand.ID)
		if err != nil {
			return nil, "", fmt.Errorf("check mention %s: %w", cand.ID, err)
		}
		if exists {
			continue
		}
		if !c.authorAllowed(cand.AuthorHandle) {
			c.opts.Logger.Debug("mention author not in allow list", "author", cand.AuthorHandle)
			continue
		}
		candidates = append(candidates, cand)
	}
	summary.Unprocessed = len(candidates)

	var newestID string
	if len(fetched) > 0 {
		newestID = fetched[len(fetched)-1].ID
	}
	return candidates, newestID, nil
}

// advanceCursor moves the fetch cursor past everything seen this cycle.
// It runs only after every outcome is recorded, so an aborted batch never
// hides a mention from the next fetch.
func (c *Coordinator) advanceCursor(ctx context.Context, newestID string) error {
	if newestID == "" {
		return nil
	}
	if err := c.store.SetState(ctx, lastMentionIDKey, newestID); err != nil {
		return fmt.Errorf("save %s: %w", lastMentionIDKey, err)
	}
	return nil
}

func (c *Coordinator) authorAllowed(handle string) bool {
	if len(c.opts.AllowedAuthors) == 0 {
		return true
	}
	for _, allowed := range c.opts.AllowedAuthors {
		if strings.EqualFold(allowed, handle) {
			return true
		}
	}
	return false
}

// processOne runs the full reply flow for a single selected mention.
func (c *Coordinator) processOne(ctx context.Context, cand Candidate, sel Selection) ItemResult {
	res := ItemResult{MentionID: cand.ID, AuthorHandle: cand.AuthorHandle}

	history, err := c.store.MentionHistoryForAuthor(ctx, cand.AuthorHandle, c.opts.AuthorHistoryLimit)
	if err != nil {
		res.Action, res.Err = "error", fmt.Errorf("load author history: %w", err)
		return c.record(ctx, cand, res, "")
	}

	turns := conversation.BuildReplyConversation(
		c.opts.Persona, c.opts.CapabilityGuide,
		cand.AuthorHandle, cand.Text,
		sel.Reasoning, sel.SuggestedApproach,
		history,
	)

	runResult, err := c.loop.Run(ctx, turns)
	if err != nil {
		res.Action, res.Err = "error", err
		return c.record(ctx, cand, res, "")
	}
	capsUsed := capabilitiesUsed(runResult)

	if runResult.Artifact.Text == "" {
		res.Action = "empty_reply"
		c.opts.Logger.Info("model produced no reply", "mention_id", cand.ID)
		return c.record(ctx, cand, res, capsUsed)
	}

	var mediaID string
	if len(runResult.Artifact.Media) > 0 {
		mediaID, err = c.publisher.UploadMedia(ctx, runResult.Artifact.Media)
		if err != nil {
			// Publish text-only rather than dropping the reply.
			c.opts.Logger.Warn("media upload failed, replying text-only", "mention_id", cand.ID, "error", err)
			mediaID = ""
		}
	}

	if _, err := c.publisher.PublishReply(ctx, runResult.Artifact.Text, cand.ID, mediaID); err != nil {
		res.Action, res.Err = "error", fmt.Errorf("publish reply: %w", err)
		return c.record(ctx, cand, res, capsUsed)
	}

	res.Action = "agent_replied"
	res.Reply = runResult.Artifact.Text
	c.opts.Logger.Info("replied to mention", "mention_id", cand.ID, "author", cand.AuthorHandle)
	return c.record(ctx, cand, res, capsUsed)
}

// record persists the outcome so the mention is never selected again.
func (c *Coordinator) record(ctx context.Context, cand Candidate, res ItemResult, capsUsed string) ItemResult {
	rec := store.MentionRecord{
		ExternalID:       cand.ID,
		AuthorHandle:     cand.AuthorHandle,
		AuthorText:       cand.Text,
		Reply:            res.Reply,
		Action:           res.Action,
		CapabilitiesUsed: capsUsed,
	}
	if err := c.store.SaveMention(ctx, rec); err != nil {
		c.opts.Logger.Error("failed to record mention outcome", "mention_id", cand.ID, "error", err)
		if res.Err == nil {
			res.Err = fmt.Errorf("save mention: %w", err)
		}
	}
	return res
}

func capabilitiesUsed(res *engine.RunResult) string {
	if res == nil || len(res.Plan.Steps) == 0 {
		return ""
	}
	names := make([]string, 0, len(res.Plan.Steps))
	for _, step := range res.Plan.Steps {
		names = append(names, step.Capability)
	}
	return strings.Join(names, ",")
}
