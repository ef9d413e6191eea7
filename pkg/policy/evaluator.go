package policy

import (
	"sort"
	"time"

	"github.com/govatlas/core/pkg/atlas"
	"github.com/govatlas/core/pkg/carp"
)

// Outcome is the result of evaluating one action against the policy set.
type Outcome struct {
	ActionID         string
	Allowed          bool
	RequiresApproval bool
	RateLimit        *carp.RateLimit // non-nil if a rate_limit policy matched and allowed
	Reason           string
	PolicyID         string // the policy that produced this outcome, "" for default-allow
}

// Evaluator applies the fixed five-phase evaluation order (§4.4):
// deny -> require_approval -> rate_limit -> allow -> default-allow.
//
// Grounded on core/pkg/pdp/pdp.go's PolicyDecisionPoint.Evaluate shape.
type Evaluator struct {
	limiter *RateLimiter
}

// NewEvaluator constructs an Evaluator backed by limiter. A fresh
// RateLimiter is allocated if limiter is nil.
func NewEvaluator(limiter *RateLimiter) *Evaluator {
	if limiter == nil {
		limiter = NewRateLimiter()
	}
	return &Evaluator{limiter: limiter}
}

// orderedCopy returns policies stable-sorted by priority descending. A
// stable sort over a slice already in atlas-insertion order preserves that
// order as the tie-break, satisfying "priority desc, then atlas insertion
// order" (§4.4) without needing a second sort key.
func orderedCopy(policies []atlas.Policy) []atlas.Policy {
	out := make([]atlas.Policy, len(policies))
	copy(out, policies)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

func riskTierMatches(p atlas.Policy, riskTier string) bool {
	if len(p.Conditions.RiskTiers) == 0 {
		return true
	}
	for _, t := range p.Conditions.RiskTiers {
		if t == riskTier {
			return true
		}
	}
	return false
}

// Evaluate decides the outcome for one action_id given the candidate policy
// set, the requester's session_id (for rate-limit keying), and the task's
// risk tier (for condition filtering).
func (e *Evaluator) Evaluate(policies []atlas.Policy, sessionID, actionID, riskTier string, now time.Time) Outcome {
	ordered := orderedCopy(policies)

	if out, ok := e.phase(ordered, atlas.PolicyDeny, sessionID, actionID, riskTier, now); ok {
		return out
	}
	if out, ok := e.phase(ordered, atlas.PolicyRequireApproval, sessionID, actionID, riskTier, now); ok {
		return out
	}
	if out, ok := e.phaseRateLimit(ordered, sessionID, actionID, riskTier, now); ok {
		return out
	}
	if out, ok := e.phase(ordered, atlas.PolicyAllow, sessionID, actionID, riskTier, now); ok {
		return out
	}

	return Outcome{ActionID: actionID, Allowed: true, Reason: "default_allow"}
}

func (e *Evaluator) phase(ordered []atlas.Policy, phaseType atlas.PolicyType, sessionID, actionID, riskTier string, now time.Time) (Outcome, bool) {
	for _, p := range ordered {
		if p.PolicyType != phaseType {
			continue
		}
		if !matchesAny(p.Actions, actionID) || !riskTierMatches(p, riskTier) {
			continue
		}
		switch phaseType {
		case atlas.PolicyDeny:
			return Outcome{ActionID: actionID, Allowed: false, Reason: p.Reason, PolicyID: p.PolicyID}, true
		case atlas.PolicyRequireApproval:
			return Outcome{ActionID: actionID, Allowed: false, RequiresApproval: true, Reason: p.Reason, PolicyID: p.PolicyID}, true
		case atlas.PolicyAllow:
			return Outcome{ActionID: actionID, Allowed: true, Reason: p.Reason, PolicyID: p.PolicyID}, true
		}
	}
	return Outcome{}, false
}

// phaseRateLimit scans every matching rate_limit policy before deciding
// anything (§4.4 step 3): if any one of them is already at or over its
// limit the action is denied outright, and only when none of them are does
// the call get recorded against all of them.
func (e *Evaluator) phaseRateLimit(ordered []atlas.Policy, sessionID, actionID, riskTier string, now time.Time) (Outcome, bool) {
	var matched []atlas.Policy
	for _, p := range ordered {
		if p.PolicyType != atlas.PolicyRateLimit {
			continue
		}
		if !matchesAny(p.Actions, actionID) || !riskTierMatches(p, riskTier) {
			continue
		}
		if p.Parameters == nil {
			continue
		}
		matched = append(matched, p)
	}
	if len(matched) == 0 {
		return Outcome{}, false
	}

	for _, p := range matched {
		window := time.Duration(p.Parameters.WindowSeconds) * time.Second
		if e.limiter.Count(sessionID, actionID, p.PolicyID, now, window) >= p.Parameters.MaxCalls {
			return Outcome{ActionID: actionID, Allowed: false, Reason: "rate_limit_exceeded", PolicyID: p.PolicyID}, true
		}
	}

	for _, p := range matched {
		e.limiter.Record(sessionID, actionID, p.PolicyID, now)
	}

	first := matched[0]
	return Outcome{
		ActionID: actionID,
		Allowed:  true,
		Reason:   first.Reason,
		PolicyID: first.PolicyID,
		RateLimit: &carp.RateLimit{
			MaxCalls:      first.Parameters.MaxCalls,
			WindowSeconds: first.Parameters.WindowSeconds,
		},
	}, true
}

// Limiter exposes the underlying RateLimiter, e.g. for seeding from
// recorded session events during replay.
func (e *Evaluator) Limiter() *RateLimiter { return e.limiter }
