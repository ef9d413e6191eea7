package policy

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestMatchGlob_Wildcard(t *testing.T) {
	assert.True(t, matchGlob("*", "ticket.read"))
	assert.True(t, matchGlob("*", ""))
}

func TestMatchGlob_Exact(t *testing.T) {
	assert.True(t, matchGlob("ticket.read", "ticket.read"))
	assert.False(t, matchGlob("ticket.read", "ticket.write"))
}

func TestMatchGlob_PrefixStar(t *testing.T) {
	assert.True(t, matchGlob("ticket.*", "ticket.read"))
	assert.True(t, matchGlob("ticket.*", "ticket.write.bulk"))
	assert.False(t, matchGlob("ticket.*", "order.read"))
	assert.False(t, matchGlob("ticket.*", "ticketing.read"))
}

func TestMatchGlob_StarSuffix(t *testing.T) {
	assert.True(t, matchGlob("*.delete", "ticket.delete"))
	assert.True(t, matchGlob("*.delete", "order.bulk.delete"))
	assert.False(t, matchGlob("*.delete", "ticket.read"))
}

func TestMatchGlob_StarSuffixMatchesBareTrailingSegment(t *testing.T) {
	assert.True(t, matchGlob("*.delete", "delete"))
	assert.False(t, matchGlob("*.delete", "deleted"))
}

func TestMatchesAny(t *testing.T) {
	patterns := []string{"order.*", "ticket.read"}
	assert.True(t, matchesAny(patterns, "ticket.read"))
	assert.True(t, matchesAny(patterns, "order.cancel"))
	assert.False(t, matchesAny(patterns, "invoice.read"))
	assert.False(t, matchesAny(nil, "ticket.read"))
}

// TestMatchGlob_ExactPatternsAreReflexive checks two branches of the fixed
// grammar over generated action_ids: any action_id matches a pattern equal
// to itself, and a "prefix.*" pattern matches exactly the action_ids that
// start with "prefix.". This is the property that justifies skipping regexp
// entirely.
func TestMatchGlob_ExactPatternsAreReflexive(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	actionIDGen := gen.RegexMatch(`[a-z][a-z0-9]*\.[a-z][a-z0-9]*`)

	properties.Property("an exact pattern always matches its own action_id", prop.ForAll(
		func(actionID string) bool {
			return matchGlob(actionID, actionID)
		},
		actionIDGen,
	))

	properties.Property("prefix.* matches only action_ids sharing that dotted prefix", prop.ForAll(
		func(prefix, actionID string) bool {
			pattern := prefix + ".*"
			got := matchGlob(pattern, actionID)
			want := strings.HasPrefix(actionID, prefix+".")
			return got == want
		},
		gen.RegexMatch(`[a-z][a-z0-9]*`),
		actionIDGen,
	))

	properties.TestingRun(t)
}
