package admission

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeCounter struct {
	posts       int
	mentions    int
	postsErr    error
	mentionsErr error
}

func (f *fakeCounter) CountPostsToday(context.Context) (int, error)    { return f.posts, f.postsErr }
func (f *fakeCounter) CountMentionsToday(context.Context) (int, error) { return f.mentions, f.mentionsErr }

func TestTierGate_CanPost(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		tier   Tier
		posts  int
		err    error
		ok     bool
		reason string
	}{
		{name: "free under cap", tier: TierFree, posts: 2, ok: true},
		{name: "free at cap", tier: TierFree, posts: 3, reason: ReasonTierLimit},
		{name: "basic under cap", tier: TierBasic, posts: 11, ok: true},
		{name: "pro at cap", tier: TierPro, posts: 100, reason: ReasonTierLimit},
		{name: "unknown tier", tier: Tier("platinum"), reason: ReasonUnknownTier},
		{name: "usage unavailable", tier: TierPro, err: errors.New("db closed"), reason: ReasonUsageUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := NewTierGate(tt.tier, &fakeCounter{posts: tt.posts, postsErr: tt.err})
			ok, reason := gate.CanPost(ctx)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestTierGate_CanProcessMentions(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		tier     Tier
		mentions int
		err      error
		ok       bool
		reason   string
	}{
		{name: "free never", tier: TierFree, reason: ReasonMentionsDisabled},
		{name: "basic under cap", tier: TierBasic, mentions: 29, ok: true},
		{name: "basic at cap", tier: TierBasic, mentions: 30, reason: ReasonTierLimit},
		{name: "pro under cap", tier: TierPro, mentions: 299, ok: true},
		{name: "unknown tier", tier: Tier("platinum"), reason: ReasonUnknownTier},
		{name: "usage unavailable", tier: TierBasic, err: errors.New("db closed"), reason: ReasonUsageUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := NewTierGate(tt.tier, &fakeCounter{mentions: tt.mentions, mentionsErr: tt.err})
			ok, reason := gate.CanProcessMentions(ctx)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestTierGate_PostUsagePercent(t *testing.T) {
	ctx := context.Background()

	gate := NewTierGate(TierBasic, &fakeCounter{posts: 6})
	assert.InDelta(t, 50.0, gate.PostUsagePercent(ctx), 0.01)

	gate = NewTierGate(Tier("platinum"), &fakeCounter{posts: 6})
	assert.Zero(t, gate.PostUsagePercent(ctx))

	gate = NewTierGate(TierBasic, &fakeCounter{postsErr: errors.New("closed")})
	assert.Zero(t, gate.PostUsagePercent(ctx))
}

func TestAlwaysAllow(t *testing.T) {
	ctx := context.Background()
	gate := AlwaysAllow{}

	ok, reason := gate.CanPost(ctx)
	assert.True(t, ok)
	assert.Empty(t, reason)

	ok, reason = gate.CanProcessMentions(ctx)
	assert.True(t, ok)
	assert.Empty(t, reason)
}
