// Package autopost runs the scheduled standalone posting flow: one
// admission check, one agent run, one published post.
package autopost

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/postpilot/admission"
	"github.com/hupe1980/postpilot/conversation"
	"github.com/hupe1980/postpilot/engine"
	"github.com/hupe1980/postpilot/logging"
	"github.com/hupe1980/postpilot/plan"
	"github.com/hupe1980/postpilot/store"
)

// Publisher posts standalone content and uploads media.
type Publisher interface {
	// PublishPost creates a post and returns its external id. mediaID may
	// be empty for text-only posts.
	PublishPost(ctx context.Context, text, mediaID string) (string, error)
	// UploadMedia uploads raw image bytes and returns a media id.
	UploadMedia(ctx context.Context, data []byte) (string, error)
}

// RunSummary reports one posting cycle.
type RunSummary struct {
	Success            bool      `json:"success"`
	Error              string    `json:"error,omitempty"`
	PostID             string    `json:"post_id,omitempty"`
	Text               string    `json:"text,omitempty"`
	Plan               plan.Plan `json:"plan"`
	Reasoning          string    `json:"reasoning,omitempty"`
	ConversationLength int       `json:"conversation_length"`
}

// Options configure a Service.
type Options struct {
	// Persona is the system identity for the posting conversation.
	Persona string
	// CapabilityGuide describes the available tools for the prompt.
	CapabilityGuide string
	// HistoryLimit caps the previous-posts context.
	HistoryLimit int
	// Logger defaults to NoOp.
	Logger logging.Logger
}

// Service drives the autopost cycle.
type Service struct {
	loop      *engine.Loop
	publisher Publisher
	store     store.Store
	gate      admission.Gate
	opts      Options
}

// New wires the posting flow together.
func New(loop *engine.Loop, publisher Publisher, st store.Store, gate admission.Gate, optFns ...func(o *Options)) *Service {
	opts := Options{
		HistoryLimit: 50,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Service{
		loop:      loop,
		publisher: publisher,
		store:     st,
		gate:      gate,
		opts:      opts,
	}
}

// Run executes one posting cycle. Admission denial and agent failures are
// reported in the summary; the returned error is reserved for storage
// faults.
func (s *Service) Run(ctx context.Context) (*RunSummary, error) {
	summary := &RunSummary{}

	allowed, reason := s.gate.CanPost(ctx)
	if !allowed {
		summary.Error = "posting_blocked: " + reason
		s.opts.Logger.Info("posting blocked", "reason", reason)
		return summary, nil
	}

	history, err := s.store.RecentPostsFormatted(ctx, s.opts.HistoryLimit)
	if err != nil {
		return summary, fmt.Errorf("load post history: %w", err)
	}

	turns := conversation.BuildPostConversation(s.opts.Persona, s.opts.CapabilityGuide, history)

	result, err := s.loop.Run(ctx, turns)
	if err != nil {
		summary.Error = err.Error()
		return summary, nil
	}

	summary.Plan = result.Plan
	summary.Reasoning = result.Reasoning
	summary.ConversationLength = result.TurnCount
	summary.Text = result.Artifact.Text

	if result.Artifact.Text == "" {
		// The model declined to post; treat the cycle as a quiet success.
		summary.Success = true
		s.opts.Logger.Info("model produced no post text", "run_id", result.RunID)
		return summary, nil
	}

	var mediaID string
	if len(result.Artifact.Media) > 0 {
		mediaID, err = s.publisher.UploadMedia(ctx, result.Artifact.Media)
		if err != nil {
			// Publish text-only rather than dropping the post.
			s.opts.Logger.Warn("media upload failed, posting text-only", "error", err)
			mediaID = ""
		}
	}

	postID, err := s.publisher.PublishPost(ctx, result.Artifact.Text, mediaID)
	if err != nil {
		// Partial outcome: the text was produced, only publishing failed.
		summary.Error = err.Error()
		return summary, nil
	}

	hadMedia := mediaID != ""
	if err := s.store.SavePost(ctx, result.Artifact.Text, postID, hadMedia); err != nil {
		return summary, fmt.Errorf("save post: %w", err)
	}

	summary.Success = true
	summary.PostID = postID
	s.opts.Logger.Info("post published",
		"post_id", postID,
		"chars", len(result.Artifact.Text),
		"had_media", hadMedia,
		"capabilities", strings.Join(capabilityNames(result.Plan), ","),
	)
	return summary, nil
}

func capabilityNames(p plan.Plan) []string {
	names := make([]string, 0, len(p.Steps))
	for _, step := range p.Steps {
		names = append(names, step.Capability)
	}
	return names
}
