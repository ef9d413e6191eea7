package policy_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govatlas/core/pkg/atlas"
	"github.com/govatlas/core/pkg/policy"
)

func TestEvaluate_DenyBeatsEverythingElse(t *testing.T) {
	policies := []atlas.Policy{
		{PolicyID: "allow.read", PolicyType: atlas.PolicyAllow, Actions: []string{"ticket.*"}, Priority: 10},
		{PolicyID: "deny.delete", PolicyType: atlas.PolicyDeny, Actions: []string{"ticket.delete"}, Priority: 1},
	}
	e := policy.NewEvaluator(nil)

	out := e.Evaluate(policies, "sess-1", "ticket.delete", "medium", time.Now())
	assert.False(t, out.Allowed)
	assert.False(t, out.RequiresApproval)
	assert.Equal(t, "deny.delete", out.PolicyID)
}

func TestEvaluate_RequireApprovalBeatsAllow(t *testing.T) {
	policies := []atlas.Policy{
		{PolicyID: "allow.all", PolicyType: atlas.PolicyAllow, Actions: []string{"*"}, Priority: 1},
		{PolicyID: "approve.high", PolicyType: atlas.PolicyRequireApproval, Actions: []string{"ticket.refund"}, Priority: 1},
	}
	e := policy.NewEvaluator(nil)

	out := e.Evaluate(policies, "sess-1", "ticket.refund", "high", time.Now())
	assert.False(t, out.Allowed)
	assert.True(t, out.RequiresApproval)
	assert.Equal(t, "approve.high", out.PolicyID)
}

func TestEvaluate_HigherPriorityWinsWithinAPhase(t *testing.T) {
	policies := []atlas.Policy{
		{PolicyID: "allow.low", PolicyType: atlas.PolicyAllow, Actions: []string{"ticket.*"}, Priority: 1, Reason: "low"},
		{PolicyID: "allow.high", PolicyType: atlas.PolicyAllow, Actions: []string{"ticket.*"}, Priority: 5, Reason: "high"},
	}
	e := policy.NewEvaluator(nil)

	out := e.Evaluate(policies, "sess-1", "ticket.read", "low", time.Now())
	assert.Equal(t, "allow.high", out.PolicyID)
}

func TestEvaluate_TiesBreakByAtlasInsertionOrder(t *testing.T) {
	policies := []atlas.Policy{
		{PolicyID: "first", PolicyType: atlas.PolicyAllow, Actions: []string{"ticket.*"}, Priority: 1},
		{PolicyID: "second", PolicyType: atlas.PolicyAllow, Actions: []string{"ticket.*"}, Priority: 1},
	}
	e := policy.NewEvaluator(nil)

	out := e.Evaluate(policies, "sess-1", "ticket.read", "low", time.Now())
	assert.Equal(t, "first", out.PolicyID)
}

func TestEvaluate_RiskTierConditionFiltersPolicy(t *testing.T) {
	policies := []atlas.Policy{
		{
			PolicyID:   "deny.critical-only",
			PolicyType: atlas.PolicyDeny,
			Actions:    []string{"ticket.*"},
			Priority:   1,
			Conditions: atlas.PolicyConditions{RiskTiers: []string{"critical"}},
		},
	}
	e := policy.NewEvaluator(nil)

	out := e.Evaluate(policies, "sess-1", "ticket.read", "low", time.Now())
	assert.True(t, out.Allowed)
	assert.Equal(t, "default_allow", out.Reason)

	out = e.Evaluate(policies, "sess-1", "ticket.read", "critical", time.Now())
	assert.False(t, out.Allowed)
	assert.Equal(t, "deny.critical-only", out.PolicyID)
}

func TestEvaluate_DefaultAllowWhenNoPolicyMatches(t *testing.T) {
	e := policy.NewEvaluator(nil)
	out := e.Evaluate(nil, "sess-1", "ticket.read", "low", time.Now())
	assert.True(t, out.Allowed)
	assert.Empty(t, out.PolicyID)
	assert.Equal(t, "default_allow", out.Reason)
}

func TestEvaluate_RateLimitAllowsUnderThresholdThenDenies(t *testing.T) {
	policies := []atlas.Policy{
		{
			PolicyID:   "rate.read",
			PolicyType: atlas.PolicyRateLimit,
			Actions:    []string{"ticket.read"},
			Priority:   1,
			Parameters: &atlas.RateLimitParams{MaxCalls: 2, WindowSeconds: 60},
		},
	}
	e := policy.NewEvaluator(nil)
	now := time.Now()

	first := e.Evaluate(policies, "sess-1", "ticket.read", "low", now)
	require.True(t, first.Allowed)
	require.NotNil(t, first.RateLimit)
	assert.Equal(t, 2, first.RateLimit.MaxCalls)

	second := e.Evaluate(policies, "sess-1", "ticket.read", "low", now.Add(time.Second))
	assert.True(t, second.Allowed)

	third := e.Evaluate(policies, "sess-1", "ticket.read", "low", now.Add(2*time.Second))
	assert.False(t, third.Allowed)
	assert.Equal(t, "rate_limit_exceeded", third.Reason)
}

func TestEvaluate_RateLimitScansAllMatchingPoliciesBeforeRecording(t *testing.T) {
	policies := []atlas.Policy{
		{
			PolicyID:   "rate.generous",
			PolicyType: atlas.PolicyRateLimit,
			Actions:    []string{"ticket.read"},
			Priority:   2,
			Parameters: &atlas.RateLimitParams{MaxCalls: 10, WindowSeconds: 60},
		},
		{
			PolicyID:   "rate.strict",
			PolicyType: atlas.PolicyRateLimit,
			Actions:    []string{"ticket.read"},
			Priority:   1,
			Parameters: &atlas.RateLimitParams{MaxCalls: 1, WindowSeconds: 60},
		},
	}
	e := policy.NewEvaluator(nil)
	now := time.Now()

	first := e.Evaluate(policies, "sess-1", "ticket.read", "low", now)
	require.True(t, first.Allowed)

	// rate.strict is now at its limit (1 call recorded); a second call must
	// be denied even though rate.generous alone would still allow it, and
	// rate.generous must NOT have a hit recorded against it for this denial.
	second := e.Evaluate(policies, "sess-1", "ticket.read", "low", now.Add(time.Second))
	assert.False(t, second.Allowed)
	assert.Equal(t, "rate_limit_exceeded", second.Reason)
	assert.Equal(t, "rate.strict", second.PolicyID)

	assert.Equal(t, 1, e.Limiter().Count("sess-1", "ticket.read", "rate.generous", now.Add(2*time.Second), time.Minute))
}

func TestEvaluate_RateLimitIsScopedPerSession(t *testing.T) {
	policies := []atlas.Policy{
		{
			PolicyID:   "rate.read",
			PolicyType: atlas.PolicyRateLimit,
			Actions:    []string{"ticket.read"},
			Priority:   1,
			Parameters: &atlas.RateLimitParams{MaxCalls: 1, WindowSeconds: 60},
		},
	}
	e := policy.NewEvaluator(nil)
	now := time.Now()

	require.True(t, e.Evaluate(policies, "sess-1", "ticket.read", "low", now).Allowed)
	assert.True(t, e.Evaluate(policies, "sess-2", "ticket.read", "low", now).Allowed)
	assert.False(t, e.Evaluate(policies, "sess-1", "ticket.read", "low", now).Allowed)
}

func TestComputeDecisionHash_StableForEquivalentOutcomes(t *testing.T) {
	o1 := policy.Outcome{ActionID: "ticket.read", Allowed: true, PolicyID: "allow.read"}
	o2 := policy.Outcome{ActionID: "ticket.read", Allowed: true, PolicyID: "allow.read"}

	h1, err := policy.ComputeDecisionHash(o1)
	require.NoError(t, err)
	h2, err := policy.ComputeDecisionHash(o2)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	o3 := o1
	o3.Allowed = false
	h3, err := policy.ComputeDecisionHash(o3)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}
