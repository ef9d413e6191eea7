package replay_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govatlas/core/pkg/atlas"
	"github.com/govatlas/core/pkg/carp"
	"github.com/govatlas/core/pkg/replay"
	"github.com/govatlas/core/pkg/resolver"
	"github.com/govatlas/core/pkg/trace"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func testManifest() *atlas.Manifest {
	return &atlas.Manifest{
		AtlasVersion: "1.0",
		AtlasID:      "demo.support",
		Version:      "1.0.0",
		Name:         "Demo Support",
		Actions: []atlas.Action{
			{ActionID: "ticket.read", Name: "Read ticket", RiskTier: "low"},
			{ActionID: "ticket.close", Name: "Close ticket", RiskTier: "high"},
		},
		ContextPacks: []atlas.ContextPack{
			{PackID: "kb.general", Files: []string{"overview.md"}, Priority: 10},
		},
		Policies: []atlas.Policy{
			{PolicyID: "approve.close", PolicyType: atlas.PolicyRequireApproval, Actions: []string{"ticket.close"}, Reason: "needs sign-off", Priority: 50},
			{PolicyID: "allow.read", PolicyType: atlas.PolicyAllow, Actions: []string{"ticket.*"}, Priority: 1},
		},
	}
}

func buildSession(t *testing.T) (*resolver.Resolver, *atlas.Registry, string) {
	t.Helper()
	registry := atlas.NewRegistry()
	_, err := registry.Load(testManifest())
	require.NoError(t, err)

	clock := fixedClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	collector := trace.NewCollector(trace.ModeImmediate, nil, nil).WithClock(clock)

	r, err := resolver.NewResolver(resolver.DefaultConfig(), registry, resolver.NewEmitter(collector), nil)
	require.NoError(t, err)
	r.WithClock(clock)

	sess, err := r.CreateSession("agent-1", "help")
	require.NoError(t, err)

	req := &carp.Request{
		CARPVersion: "1.0",
		RequestID:   "req-1",
		Timestamp:   clock.Now(),
		Operation:   carp.OperationResolve,
		Requester:   carp.Requester{AgentID: "agent-1", SessionID: sess.SessionID},
		Task:        carp.Task{Goal: "help", RiskTier: carp.RiskMedium},
	}
	_, err = r.Resolve(context.Background(), req)
	require.NoError(t, err)

	return r, registry, sess.SessionID
}

func TestRun_MatchesRecordedResolutionExactly(t *testing.T) {
	r, registry, sessionID := buildSession(t)

	events, err := r.GetTrace(sessionID, nil)
	require.NoError(t, err)

	results := replay.Run(events, registry)
	require.Len(t, results, 1)
	assert.True(t, results[0].Equal)
	assert.Empty(t, results[0].Diffs)
	assert.Equal(t, "req-1", results[0].RequestID)
}

func TestRun_DetectsRegistryDrift(t *testing.T) {
	r, registry, sessionID := buildSession(t)

	events, err := r.GetTrace(sessionID, nil)
	require.NoError(t, err)

	// Unloading the atlas after the fact changes what a replay would
	// resolve to, so the replayed decision should now diff from what was
	// recorded.
	registry.Unload("demo.support")

	results := replay.Run(events, registry)
	require.Len(t, results, 1)
	assert.False(t, results[0].Equal)
	assert.NotEmpty(t, results[0].Diffs)
}

func TestRun_NoCompletionEventIsReportedAsDiff(t *testing.T) {
	events := []trace.Event{
		{
			EventType: trace.EventCARPRequestReceived,
			SessionID: "sess-1",
			Payload:   map[string]any{"request_id": "req-orphan"},
		},
	}
	registry := atlas.NewRegistry()

	results := replay.Run(events, registry)
	require.Len(t, results, 1)
	assert.False(t, results[0].Equal)
	require.NotEmpty(t, results[0].Diffs)
	assert.Contains(t, results[0].Diffs[0], "no matching")
}
