package verify_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govatlas/core/pkg/trace"
	"github.com/govatlas/core/pkg/verify"
)

func buildSession(t *testing.T, n int) []trace.Event {
	t.Helper()
	c := trace.NewCollector(trace.ModeImmediate, nil, nil)
	sessionID, err := c.OpenSession("agent-1", "goal")
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		_, err := c.Emit(sessionID, trace.EventActionRequested, map[string]any{"i": i})
		require.NoError(t, err)
	}
	events, err := c.GetEvents(sessionID, nil)
	require.NoError(t, err)
	return events
}

func TestChain_ValidSessionVerifies(t *testing.T) {
	events := buildSession(t, 9)
	report := verify.Chain(events)
	assert.True(t, report.Valid)
	assert.Equal(t, 10, report.Length)
}

func TestChain_EmptyVerifies(t *testing.T) {
	report := verify.Chain(nil)
	assert.True(t, report.Valid)
}

func TestChain_TamperedPayloadFailsAtMutatedIndex(t *testing.T) {
	events := buildSession(t, 9)
	events[4].Payload = map[string]any{"tampered": true}

	report := verify.Chain(events)
	assert.False(t, report.Valid)
	assert.LessOrEqual(t, report.Index, 4)
}

func TestChain_BrokenSequenceDetected(t *testing.T) {
	events := buildSession(t, 5)
	events[3].Sequence = 99

	report := verify.Chain(events)
	assert.False(t, report.Valid)
	assert.Equal(t, 3, report.Index)
}

func TestChain_BrokenLinkDetected(t *testing.T) {
	events := buildSession(t, 5)
	events[3].PreviousEventHash = "deadbeef"

	report := verify.Chain(events)
	assert.False(t, report.Valid)
	assert.Equal(t, 3, report.Index)
}

func TestChain_TamperedHashReportsMutatedIndexNotSuccessor(t *testing.T) {
	events := buildSession(t, 5)
	events[2].EventHash = "deadbeef"

	report := verify.Chain(events)
	assert.False(t, report.Valid)
	assert.Equal(t, 2, report.Index, "must report the mutated event's own index, not the successor whose linkage check would also fail")
}

func TestChain_BadGenesisDetected(t *testing.T) {
	events := buildSession(t, 2)
	events[0].PreviousEventHash = "not-the-sentinel"

	report := verify.Chain(events)
	assert.False(t, report.Valid)
	assert.Equal(t, 0, report.Index)
}

func TestBatchEvidence_RootChangesWhenAnySessionReportChanges(t *testing.T) {
	sessions := map[string]verify.Report{
		"sess-1": verify.Chain(buildSession(t, 3)),
		"sess-2": verify.Chain(buildSession(t, 5)),
	}

	tree1, err := verify.BatchEvidence(sessions)
	require.NoError(t, err)
	require.NotEmpty(t, tree1.Root)

	proof, ok := tree1.Proof("sess-1")
	require.True(t, ok)
	assert.Equal(t, tree1.Root, proof.MerkleRoot)

	tampered := map[string]verify.Report{
		"sess-1": sessions["sess-1"],
		"sess-2": sessions["sess-2"],
	}
	bad := tampered["sess-2"]
	bad.Valid = false
	tampered["sess-2"] = bad

	tree2, err := verify.BatchEvidence(tampered)
	require.NoError(t, err)
	assert.NotEqual(t, tree1.Root, tree2.Root)
}

func TestBatchEvidence_EmptyBatchHasEmptyRoot(t *testing.T) {
	tree, err := verify.BatchEvidence(nil)
	require.NoError(t, err)
	assert.Empty(t, tree.Root)
}
