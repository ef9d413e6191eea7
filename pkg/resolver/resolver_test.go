package resolver_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govatlas/core/pkg/atlas"
	"github.com/govatlas/core/pkg/carp"
	"github.com/govatlas/core/pkg/execport"
	"github.com/govatlas/core/pkg/resolver"
	"github.com/govatlas/core/pkg/trace"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time         { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testManifest() *atlas.Manifest {
	return &atlas.Manifest{
		AtlasVersion: "1.0",
		AtlasID:      "demo.support",
		Version:      "1.0.0",
		Name:         "Demo Support",
		Actions: []atlas.Action{
			{ActionID: "ticket.read", Name: "Read ticket", RiskTier: "low"},
			{ActionID: "ticket.close", Name: "Close ticket", RiskTier: "high"},
			{ActionID: "ticket.refund", Name: "Issue refund", RiskTier: "critical"},
		},
		ContextPacks: []atlas.ContextPack{
			{PackID: "kb.general", Files: []string{"overview.md"}, Priority: 10},
			{PackID: "kb.billing", Files: []string{"billing.md"}, Priority: 5, Conditions: []string{"billing"}},
		},
		Policies: []atlas.Policy{
			{PolicyID: "deny.refund", PolicyType: atlas.PolicyDeny, Actions: []string{"ticket.refund"}, Reason: "refunds require a human", Priority: 100},
			{PolicyID: "approve.close", PolicyType: atlas.PolicyRequireApproval, Actions: []string{"ticket.close"}, Reason: "closing needs sign-off", Priority: 50},
			{PolicyID: "allow.read", PolicyType: atlas.PolicyAllow, Actions: []string{"ticket.*"}, Priority: 1},
		},
	}
}

func newTestResolver(t *testing.T) (*resolver.Resolver, *fakeClock) {
	t.Helper()
	registry := atlas.NewRegistry()
	_, err := registry.Load(testManifest())
	require.NoError(t, err)

	collector := trace.NewCollector(trace.ModeImmediate, nil, nil)
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	collector = collector.WithClock(clock)

	r, err := resolver.NewResolver(resolver.DefaultConfig(), registry, resolver.NewEmitter(collector), nil)
	require.NoError(t, err)
	r.WithClock(clock)
	return r, clock
}

func newRequest(sessionID string, now time.Time, atlasIDs []string, hints []string) *carp.Request {
	return &carp.Request{
		CARPVersion: "1.0",
		RequestID:   "req-" + sessionID + "-" + now.String(),
		Timestamp:   now,
		Operation:   carp.OperationResolve,
		Requester:   carp.Requester{AgentID: "agent-1", SessionID: sessionID},
		Task:        carp.Task{Goal: "help the customer", RiskTier: carp.RiskMedium, ContextHints: hints},
		AtlasIDs:    atlasIDs,
	}
}

func TestResolve_DenyRequiresApprovalAndAllowSplit(t *testing.T) {
	r, clock := newTestResolver(t)
	sess, err := r.CreateSession("agent-1", "help the customer")
	require.NoError(t, err)

	req := newRequest(sess.SessionID, clock.Now(), nil, nil)
	res, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, carp.DecisionRequiresApproval, res.Decision.Type)
	assert.NotEmpty(t, res.Decision.ApprovalID)

	var allowedIDs, deniedIDs []string
	for _, a := range res.AllowedActions {
		allowedIDs = append(allowedIDs, a.ActionID)
	}
	for _, d := range res.DeniedActions {
		deniedIDs = append(deniedIDs, d.ActionID)
	}
	assert.Contains(t, allowedIDs, "ticket.read")
	assert.Contains(t, deniedIDs, "ticket.refund")
	assert.Contains(t, deniedIDs, "ticket.close")
}

func TestResolve_ContextInjectionRespectsConditions(t *testing.T) {
	r, clock := newTestResolver(t)
	sess, err := r.CreateSession("agent-1", "goal")
	require.NoError(t, err)

	req := newRequest(sess.SessionID, clock.Now(), nil, nil)
	res, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)

	var blockIDs []string
	for _, b := range res.ContextBlocks {
		blockIDs = append(blockIDs, b.BlockID)
	}
	assert.Contains(t, blockIDs, "kb.general:overview.md")
	assert.NotContains(t, blockIDs, "kb.billing:billing.md")

	clock.advance(time.Second)
	req2 := newRequest(sess.SessionID, clock.Now(), nil, []string{"billing"})
	res2, err := r.Resolve(context.Background(), req2)
	require.NoError(t, err)

	blockIDs = nil
	for _, b := range res2.ContextBlocks {
		blockIDs = append(blockIDs, b.BlockID)
	}
	assert.Contains(t, blockIDs, "kb.billing:billing.md")
}

func TestResolve_RejectsReusedRequestID(t *testing.T) {
	r, clock := newTestResolver(t)
	sess, err := r.CreateSession("agent-1", "goal")
	require.NoError(t, err)

	req := newRequest(sess.SessionID, clock.Now(), nil, nil)
	req.RequestID = "fixed-id"
	_, err = r.Resolve(context.Background(), req)
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), req)
	require.Error(t, err)
}

func TestResolve_RejectsClockSkew(t *testing.T) {
	r, clock := newTestResolver(t)
	sess, err := r.CreateSession("agent-1", "goal")
	require.NoError(t, err)

	req := newRequest(sess.SessionID, clock.Now().Add(-time.Hour), nil, nil)
	_, err = r.Resolve(context.Background(), req)
	require.Error(t, err)
}

func TestResolve_RejectsClosedSession(t *testing.T) {
	r, clock := newTestResolver(t)
	sess, err := r.CreateSession("agent-1", "goal")
	require.NoError(t, err)
	require.NoError(t, r.EndSession(sess.SessionID, "done"))

	req := newRequest(sess.SessionID, clock.Now(), nil, nil)
	_, err = r.Resolve(context.Background(), req)
	require.Error(t, err)
}

func TestExecute_DeniesActionNotInResolution(t *testing.T) {
	r, clock := newTestResolver(t)
	sess, err := r.CreateSession("agent-1", "goal")
	require.NoError(t, err)

	req := newRequest(sess.SessionID, clock.Now(), nil, nil)
	_, err = r.Resolve(context.Background(), req)
	require.NoError(t, err)

	_, err = r.Execute(context.Background(), sess.SessionID, "ticket.refund", nil, "")
	require.Error(t, err)
}

func TestExecute_RunsAllowedActionAndIsIdempotent(t *testing.T) {
	r, clock := newTestResolver(t)
	sess, err := r.CreateSession("agent-1", "goal")
	require.NoError(t, err)

	req := newRequest(sess.SessionID, clock.Now(), nil, nil)
	_, err = r.Resolve(context.Background(), req)
	require.NoError(t, err)

	calls := 0
	r.SetExecutor(execport.DriverFunc(func(ctx context.Context, actionID string, params map[string]any) (any, error) {
		calls++
		return "ok", nil
	}))

	result, err := r.Execute(context.Background(), sess.SessionID, "ticket.read", nil, "idem-1")
	require.NoError(t, err)
	assert.Equal(t, "ok", result)

	result2, err := r.Execute(context.Background(), sess.SessionID, "ticket.read", nil, "idem-1")
	require.NoError(t, err)
	assert.Equal(t, "ok", result2)
	assert.Equal(t, 1, calls, "idempotency key must prevent a second executor invocation")
}

func TestExecute_FailsWithoutValidResolution(t *testing.T) {
	r, _ := newTestResolver(t)
	sess, err := r.CreateSession("agent-1", "goal")
	require.NoError(t, err)

	_, err = r.Execute(context.Background(), sess.SessionID, "ticket.read", nil, "")
	require.Error(t, err)
}

func TestClassifyActions_GrantedApprovalAllowsAction(t *testing.T) {
	r, clock := newTestResolver(t)
	sess, err := r.CreateSession("agent-1", "goal")
	require.NoError(t, err)

	store := resolver.NewMemoryApprovalStore()
	r.SetApprovalStore(store)
	require.NoError(t, store.Put(carp.ApprovalRecord{
		ApprovalID: "appr-1",
		GrantedBy:  "oncall",
		GrantedAt:  clock.Now(),
		ExpiresAt:  clock.Now().Add(time.Hour),
	}))

	req := newRequest(sess.SessionID, clock.Now(), nil, nil)
	req.Context = map[string]any{"approval_id": "appr-1"}
	res, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)

	var allowedIDs []string
	for _, a := range res.AllowedActions {
		allowedIDs = append(allowedIDs, a.ActionID)
	}
	assert.Contains(t, allowedIDs, "ticket.close")
}

func TestVerifyChain_ReportsValidChain(t *testing.T) {
	r, clock := newTestResolver(t)
	sess, err := r.CreateSession("agent-1", "goal")
	require.NoError(t, err)

	req := newRequest(sess.SessionID, clock.Now(), nil, nil)
	_, err = r.Resolve(context.Background(), req)
	require.NoError(t, err)

	report, err := r.VerifyChain(sess.SessionID)
	require.NoError(t, err)
	assert.True(t, report.Valid)
}

func TestReplay_MatchesRecordedResolution(t *testing.T) {
	r, clock := newTestResolver(t)
	sess, err := r.CreateSession("agent-1", "goal")
	require.NoError(t, err)

	req := newRequest(sess.SessionID, clock.Now(), nil, nil)
	_, err = r.Resolve(context.Background(), req)
	require.NoError(t, err)

	steps, err := r.Replay(sess.SessionID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Empty(t, steps[0].Diffs)
	assert.True(t, steps[0].Equal)
}
