// Package admission implements the usage-tier gate consulted before any
// expensive work starts. The engine never inspects tier internals; it only
// sees the boolean decision plus a short machine-readable reason.
package admission

import (
	"context"

	"github.com/hupe1980/postpilot/logging"
)

// Gate is the admission-control contract consumed by the coordinators.
type Gate interface {
	CanPost(ctx context.Context) (bool, string)
	CanProcessMentions(ctx context.Context) (bool, string)
}

// Tier is the configured usage tier of this bot account.
type Tier string

const (
	TierFree  Tier = "free"
	TierBasic Tier = "basic"
	TierPro   Tier = "pro"
)

// Limits are the per-day allowances of one tier.
type Limits struct {
	PostsPerDay     int
	MentionsPerDay  int
	MentionsAllowed bool
}

var tierLimits = map[Tier]Limits{
	TierFree:  {PostsPerDay: 3, MentionsAllowed: false},
	TierBasic: {PostsPerDay: 12, MentionsPerDay: 30, MentionsAllowed: true},
	TierPro:   {PostsPerDay: 100, MentionsPerDay: 300, MentionsAllowed: true},
}

// Machine-readable refusal reasons.
const (
	ReasonTierLimit        = "tier_limit"
	ReasonMentionsDisabled = "mentions_not_available"
	ReasonUnknownTier      = "unknown_tier"
	ReasonUsageUnavailable = "usage_unavailable"
)

// UsageCounter is the narrow slice of the store the gate reads.
type UsageCounter interface {
	CountPostsToday(ctx context.Context) (int, error)
	CountMentionsToday(ctx context.Context) (int, error)
}

// TierGate enforces daily caps per configured tier. Denies conservatively
// when usage cannot be read.
type TierGate struct {
	tier    Tier
	counter UsageCounter
	logger  logging.Logger
}

// TierGateOptions configures a TierGate.
type TierGateOptions struct {
	Logger logging.Logger
}

// NewTierGate constructs a gate for the given tier over a usage counter.
func NewTierGate(tier Tier, counter UsageCounter, optFns ...func(o *TierGateOptions)) *TierGate {
	opts := TierGateOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &TierGate{tier: tier, counter: counter, logger: opts.Logger}
}

// Tier returns the configured tier.
func (g *TierGate) Tier() Tier { return g.tier }

// CanPost implements Gate.
func (g *TierGate) CanPost(ctx context.Context) (bool, string) {
	limits, ok := tierLimits[g.tier]
	if !ok {
		return false, ReasonUnknownTier
	}
	used, err := g.counter.CountPostsToday(ctx)
	if err != nil {
		g.logger.Warn("usage read failed", "error", err.Error())
		return false, ReasonUsageUnavailable
	}
	if used >= limits.PostsPerDay {
		return false, ReasonTierLimit
	}
	return true, ""
}

// CanProcessMentions implements Gate.
func (g *TierGate) CanProcessMentions(ctx context.Context) (bool, string) {
	limits, ok := tierLimits[g.tier]
	if !ok {
		return false, ReasonUnknownTier
	}
	if !limits.MentionsAllowed {
		return false, ReasonMentionsDisabled
	}
	used, err := g.counter.CountMentionsToday(ctx)
	if err != nil {
		g.logger.Warn("usage read failed", "error", err.Error())
		return false, ReasonUsageUnavailable
	}
	if used >= limits.MentionsPerDay {
		return false, ReasonTierLimit
	}
	return true, ""
}

// PostUsagePercent reports today's post usage against the tier cap, for
// status reporting. Returns 0 when usage cannot be read.
func (g *TierGate) PostUsagePercent(ctx context.Context) float64 {
	limits, ok := tierLimits[g.tier]
	if !ok || limits.PostsPerDay == 0 {
		return 0
	}
	used, err := g.counter.CountPostsToday(ctx)
	if err != nil {
		return 0
	}
	return float64(used) / float64(limits.PostsPerDay) * 100
}

// AlwaysAllow is a Gate that admits everything. Useful for tests.
type AlwaysAllow struct{}

// CanPost implements Gate.
func (AlwaysAllow) CanPost(context.Context) (bool, string) { return true, "" }

// CanProcessMentions implements Gate.
func (AlwaysAllow) CanProcessMentions(context.Context) (bool, string) { return true, "" }
