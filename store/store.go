// Package store persists the bot's durable state: published posts, processed
// mentions (the idempotency set) and arbitrary key/value bot state. The
// engine only talks to the Store interface; the SQLite implementation is the
// production backend.
package store

import "context"

// MentionRecord is the persisted outcome of one processed mention.
type MentionRecord struct {
	ExternalID       string
	AuthorHandle     string
	AuthorText       string
	Reply            string
	Action           string
	CapabilitiesUsed string
}

// Store is the storage collaborator contract consumed by the core.
type Store interface {
	// RecentPostsFormatted renders the last posts as LLM-ready context
	// used for anti-repetition.
	RecentPostsFormatted(ctx context.Context, limit int) (string, error)

	// RecentMentionRepliesFormatted renders the last replied mentions as
	// LLM-ready context for the mention selector.
	RecentMentionRepliesFormatted(ctx context.Context, limit int) (string, error)

	// MentionHistoryForAuthor renders prior conversation with one author.
	MentionHistoryForAuthor(ctx context.Context, handle string, limit int) (string, error)

	// MentionExists reports whether a mention id was already processed.
	MentionExists(ctx context.Context, externalID string) (bool, error)

	// SavePost records a published post.
	SavePost(ctx context.Context, text, externalID string, hadMedia bool) error

	// SaveMention records a processed mention and its outcome.
	SaveMention(ctx context.Context, rec MentionRecord) error

	// GetState reads a bot_state value; the second return reports presence.
	GetState(ctx context.Context, key string) (string, bool, error)

	// SetState upserts a bot_state value.
	SetState(ctx context.Context, key, value string) error

	// CountPostsToday and CountMentionsToday feed the admission gate's
	// daily caps.
	CountPostsToday(ctx context.Context) (int, error)
	CountMentionsToday(ctx context.Context) (int, error)

	// Ping reports storage health.
	Ping(ctx context.Context) error
}
