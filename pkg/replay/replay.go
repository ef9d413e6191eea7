// Package replay implements the replay engine (§4.6.2): for every
// carp.request.received event recorded in a trace, it re-resolves using the
// same Atlas Registry and Policy Evaluator machinery, comparing the
// re-resolution's shape (decision, ordered allowed action-ids, ordered
// context block-ids) against what was actually recorded in the matching
// carp.resolution.completed event.
//
// Grounded on core/pkg/replay/replay.go's chain-walking, per-record
// diffing shape (there applied to proxy receipts; here retargeted to CARP
// request/resolution pairs) and core/pkg/tape/replayer.go's fail-closed
// lookup idiom ("no matching completion" is reported as a diff, never
// silently skipped).
package replay

import (
	"fmt"
	"time"

	"github.com/govatlas/core/pkg/atlas"
	"github.com/govatlas/core/pkg/carp"
	"github.com/govatlas/core/pkg/policy"
	"github.com/govatlas/core/pkg/trace"
)

// StepResult is the outcome of replaying one carp.request.received /
// carp.resolution.completed pair.
type StepResult struct {
	RequestID string   `json:"request_id"`
	SessionID string   `json:"session_id"`
	Equal     bool     `json:"equal"`
	Diffs     []string `json:"diffs,omitempty"`
}

// Run replays every CARP request recorded in events against registry,
// returning one StepResult per carp.request.received event found. Events
// MUST already be in sequence order (the usual output of a Collector's
// GetEvents). A fresh policy.Evaluator is allocated per distinct
// session_id and reused across that session's steps in trace order, so
// rate-limit counters accumulate identically to how the live resolver
// built them the first time (§4.4: "rebuilt from the session's events if
// the evaluator is recreated mid-session").
func Run(events []trace.Event, registry *atlas.Registry) []StepResult {
	evaluators := make(map[string]*policy.Evaluator)

	var results []StepResult
	for i, e := range events {
		if e.EventType != trace.EventCARPRequestReceived {
			continue
		}

		requestID, _ := e.Payload["request_id"].(string)

		completed := findCompletion(events, i+1, requestID)
		if completed == nil {
			results = append(results, StepResult{
				RequestID: requestID,
				SessionID: e.SessionID,
				Diffs:     []string{"no matching carp.resolution.completed event found for this request"},
			})
			continue
		}

		ev, ok := evaluators[e.SessionID]
		if !ok {
			ev = policy.NewEvaluator(nil)
			evaluators[e.SessionID] = ev
		}

		results = append(results, replayOne(e, *completed, registry, ev))
	}
	return results
}

// findCompletion locates the next carp.resolution.completed event for
// requestID at or after index start.
func findCompletion(events []trace.Event, start int, requestID string) *trace.Event {
	for i := start; i < len(events); i++ {
		if events[i].EventType != trace.EventCARPResolutionCompleted {
			continue
		}
		// The collector's Emit path does not thread the owning request_id
		// onto carp.resolution.completed directly, so the nearest
		// subsequent completion for the same session is the match — CARP
		// requests within one session are resolved sequentially, never
		// interleaved, so "nearest next" is always the right completion.
		return &events[i]
	}
	return nil
}

// replayOne re-resolves one request from its recorded payload and diffs
// the result against the recorded completion payload.
func replayOne(requestEvent, completedEvent trace.Event, registry *atlas.Registry, ev *policy.Evaluator) StepResult {
	requestID, _ := requestEvent.Payload["request_id"].(string)
	result := StepResult{RequestID: requestID, SessionID: requestEvent.SessionID, Equal: true}

	req := reconstructRequest(requestEvent)

	candidates, err := registry.ResolveCandidates(req.atlasIDs, req.requiredCapabilities)
	if err != nil {
		result.Equal = false
		result.Diffs = append(result.Diffs, fmt.Sprintf("resolve_candidates failed: %v", err))
		return result
	}

	now := requestEvent.Timestamp
	allowed, denied, anyRequiresApproval := classify(ev, candidates, req, now)
	contextBlocks := injectContext(candidates, req)
	decisionType := string(decisionOf(allowed, denied, anyRequiresApproval))

	recordedDecision, _ := completedEvent.Payload["decision_type"].(string)
	if recordedDecision != decisionType {
		result.Equal = false
		result.Diffs = append(result.Diffs, fmt.Sprintf("decision_type: recorded=%q replayed=%q", recordedDecision, decisionType))
	}

	allowedIDs := make([]string, len(allowed))
	for i, a := range allowed {
		allowedIDs[i] = a.ActionID
	}
	if diff := diffIDLists(completedEvent.Payload["allowed_action_ids"], allowedIDs); diff != "" {
		result.Equal = false
		result.Diffs = append(result.Diffs, "allowed_action_ids: "+diff)
	}

	blockIDs := make([]string, len(contextBlocks))
	for i, b := range contextBlocks {
		blockIDs[i] = b.BlockID
	}
	if diff := diffIDLists(completedEvent.Payload["context_block_ids"], blockIDs); diff != "" {
		result.Equal = false
		result.Diffs = append(result.Diffs, "context_block_ids: "+diff)
	}

	return result
}

// replayRequest is the subset of a carp.Request reconstructible from a
// recorded carp.request.received payload (§4.6.2's "fixed inputs from the
// recorded payload").
type replayRequest struct {
	riskTier             string
	contextHints         []string
	requiredCapabilities []string
	atlasIDs             []string
}

func reconstructRequest(e trace.Event) replayRequest {
	return replayRequest{
		riskTier:             stringField(e.Payload, "risk_tier"),
		contextHints:         stringSliceField(e.Payload, "context_hints"),
		requiredCapabilities: stringSliceField(e.Payload, "required_capabilities"),
		atlasIDs:             stringSliceField(e.Payload, "atlas_ids"),
	}
}

func stringField(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}

func stringSliceField(payload map[string]any, key string) []string {
	raw, ok := payload[key].([]any)
	if !ok {
		if strs, ok := payload[key].([]string); ok {
			return strs
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// classify mirrors pkg/resolver's classifyActions, minus trace emission
// side effects and minus out-of-band approval granting (an approval
// store's state is external to the trace, so replay intentionally
// evaluates require_approval policies on their own terms — a session whose
// approval was later granted out-of-band will legitimately diff on replay,
// which is expected, not a defect).
func classify(ev *policy.Evaluator, candidates atlas.Candidates, req replayRequest, now time.Time) ([]carp.AllowedAction, []carp.DeniedAction, bool) {
	var allowed []carp.AllowedAction
	var denied []carp.DeniedAction
	anyRequiresApproval := false

	for _, action := range candidates.Actions {
		outcome := ev.Evaluate(candidates.Policies, "", action.ActionID, req.riskTier, now)
		switch {
		case outcome.RequiresApproval:
			anyRequiresApproval = true
			denied = append(denied, carp.DeniedAction{ActionID: action.ActionID, Reason: "requires_approval", PolicyID: outcome.PolicyID})
		case !outcome.Allowed:
			denied = append(denied, carp.DeniedAction{ActionID: action.ActionID, Reason: outcome.Reason, PolicyID: outcome.PolicyID})
		default:
			allowed = append(allowed, carp.AllowedAction{ActionID: action.ActionID})
		}
	}
	return allowed, denied, anyRequiresApproval
}

// injectContext mirrors pkg/resolver's injectContext, minus trace emission.
func injectContext(candidates atlas.Candidates, req replayRequest) []carp.ContextBlock {
	hints := make(map[string]bool, len(req.contextHints))
	for _, h := range req.contextHints {
		hints[h] = true
	}

	var included []carp.ContextBlock
	for _, block := range candidates.ContextBlocks {
		conditions := candidates.BlockConditions[block.BlockID]
		satisfied := true
		for _, c := range conditions {
			if !hints[c] {
				satisfied = false
				break
			}
		}
		if satisfied {
			included = append(included, block)
		}
	}
	return included
}

// decisionOf mirrors pkg/resolver's overallDecision's Type selection only
// (replay never needs ApprovalID/ExpiresAt, which are dynamic fields
// excluded from comparison per §4.6.2).
func decisionOf(allowed []carp.AllowedAction, denied []carp.DeniedAction, anyRequiresApproval bool) carp.Decision {
	switch {
	case anyRequiresApproval:
		return carp.DecisionRequiresApproval
	case len(allowed) == 0 && len(denied) > 0:
		return carp.DecisionDeny
	case len(allowed) > 0 && len(denied) > 0:
		return carp.DecisionPartial
	default:
		return carp.DecisionAllow
	}
}

// diffIDLists compares a recorded id list (decoded from a JSON payload, so
// []any of strings) against a replayed id list, in order.
func diffIDLists(recorded any, replayedIDs []string) string {
	recordedIDs := toStringSlice(recorded)

	if len(recordedIDs) != len(replayedIDs) {
		return fmt.Sprintf("length mismatch: recorded=%v replayed=%v", recordedIDs, replayedIDs)
	}
	for i := range recordedIDs {
		if recordedIDs[i] != replayedIDs[i] {
			return fmt.Sprintf("recorded=%v replayed=%v", recordedIDs, replayedIDs)
		}
	}
	return ""
}

func toStringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		if strs, ok := v.([]string); ok {
			return strs
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
