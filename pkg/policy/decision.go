package policy

import "github.com/govatlas/core/pkg/canon"

// decisionHashInput is the canonicalized shape hashed into the
// policy.evaluated trace event payload, mirroring the action taken rather
// than every intermediate candidate considered.
type decisionHashInput struct {
	ActionID         string `json:"action_id"`
	Allowed          bool   `json:"allowed"`
	RequiresApproval bool   `json:"requires_approval"`
	PolicyID         string `json:"policy_id,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

// ComputeDecisionHash returns a stable hash of an Outcome, suitable for
// inclusion in a trace payload or for diffing during replay.
//
// Grounded on core/pkg/pdp/pdp.go's ComputeDecisionHash, retargeted from a
// PDP DecisionResponse to an Outcome, and from a JCS call to this module's
// own pkg/canon.
func ComputeDecisionHash(o Outcome) (string, error) {
	return canon.Hash(decisionHashInput{
		ActionID:         o.ActionID,
		Allowed:          o.Allowed,
		RequiresApproval: o.RequiresApproval,
		PolicyID:         o.PolicyID,
		Reason:           o.Reason,
	})
}
