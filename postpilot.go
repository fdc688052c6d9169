// Package postpilot provides a small façade over the posting and mention
// services. Most applications interact with this package by:
//  1. Wiring an autopost.Service and a mention.Coordinator (see cmd/postpilot)
//  2. Creating a Bot via New()
//  3. Calling Post and ProcessMentions from a scheduler or HTTP trigger
//
// The Bot serializes its cycles: the platform account is a single shared
// resource, so a post cycle and a mention cycle never run concurrently.
package postpilot

import (
	"context"
	"sync"

	"github.com/hupe1980/postpilot/autopost"
	"github.com/hupe1980/postpilot/mention"
)

// Version is the current release of the module.
const Version = "0.1.0"

// Bot bundles the two agent cycles behind one serialized surface.
type Bot struct {
	mu          sync.Mutex
	poster      *autopost.Service
	coordinator *mention.Coordinator
}

// New creates a Bot over an already wired posting service and mention
// coordinator.
func New(poster *autopost.Service, coordinator *mention.Coordinator) *Bot {
	return &Bot{poster: poster, coordinator: coordinator}
}

// Post runs one standalone posting cycle.
func (b *Bot) Post(ctx context.Context) (*autopost.RunSummary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.poster.Run(ctx)
}

// ProcessMentions runs one mention cycle.
func (b *Bot) ProcessMentions(ctx context.Context) (*mention.BatchSummary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.coordinator.RunBatch(ctx)
}

// PendingMentions reports the fetch-and-filter stage without replying.
func (b *Bot) PendingMentions(ctx context.Context) (*mention.BatchSummary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.coordinator.Peek(ctx)
}
