// Package policy implements the policy evaluator (C4): a fixed glob
// pattern language, a fixed five-phase evaluation order, and sliding-window
// rate-limit counters.
//
// Grounded on core/pkg/pdp/pdp.go's Backend/DecisionRequest/DecisionResponse
// shape, with the pluggable-backend idea dropped in favor of the fixed
// grammar this protocol requires (documented in DESIGN.md): no regexp, to
// keep matching a constant-time glob check rather than a ReDoS surface.
package policy

import "strings"

// matchGlob reports whether actionID matches pattern, where pattern is one
// of: "*" (match everything), an exact action_id, "prefix.*", or "*.suffix".
// No other wildcard forms are supported.
func matchGlob(pattern, actionID string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(actionID, prefix)
	}
	if strings.HasPrefix(pattern, "*.") {
		suffix := strings.TrimPrefix(pattern, "*.")
		segments := strings.Split(actionID, ".")
		return segments[len(segments)-1] == suffix
	}
	return pattern == actionID
}

// matchesAny reports whether actionID matches any of patterns.
func matchesAny(patterns []string, actionID string) bool {
	for _, p := range patterns {
		if matchGlob(p, actionID) {
			return true
		}
	}
	return false
}
