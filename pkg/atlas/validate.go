package atlas

import (
	"github.com/Masterminds/semver/v3"

	"github.com/govatlas/core/pkg/govern"
)

// validate checks manifest shape independent of what is already loaded in
// the registry: identifier patterns, semver well-formedness, and internal
// cross-references (capability -> action_id, policy -> action glob target
// existence is NOT required since policies may anticipate future actions).
//
// Grounded on core/pkg/pack/resolver.go's upfront manifest validation, with
// the naive string-compare version check replaced by
// github.com/Masterminds/semver/v3 (documented in DESIGN.md).
func (r *Registry) validate(m *Manifest) error {
	if m == nil {
		return govern.New(govern.KindValidation, govern.CodeManifestInvalid, "manifest is nil")
	}
	if !AtlasIDPattern.MatchString(m.AtlasID) {
		return govern.Newf(govern.KindValidation, govern.CodeManifestInvalid, "atlas_id %q does not match required pattern", m.AtlasID)
	}
	if m.Name == "" {
		return govern.New(govern.KindValidation, govern.CodeManifestInvalid, "name is required")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return govern.Newf(govern.KindValidation, govern.CodeManifestInvalid, "version %q is not valid semver: %v", m.Version, err)
	}

	actionIDs := make(map[string]bool, len(m.Actions))
	for _, a := range m.Actions {
		if !ActionIDPattern.MatchString(a.ActionID) {
			return govern.Newf(govern.KindValidation, govern.CodeManifestInvalid, "action_id %q does not match required pattern", a.ActionID)
		}
		if actionIDs[a.ActionID] {
			return govern.Newf(govern.KindValidation, govern.CodeManifestInvalid, "duplicate action_id %q within atlas", a.ActionID)
		}
		actionIDs[a.ActionID] = true
		switch a.RiskTier {
		case "low", "medium", "high", "critical":
		default:
			return govern.Newf(govern.KindValidation, govern.CodeManifestInvalid, "action %q has invalid risk_tier %q", a.ActionID, a.RiskTier)
		}
	}

	for _, capa := range m.Capabilities {
		if capa.CapabilityID == "" {
			return govern.New(govern.KindValidation, govern.CodeManifestInvalid, "capability_id is required")
		}
		for _, actionID := range capa.ActionIDs {
			if !actionIDs[actionID] {
				return govern.Newf(govern.KindValidation, govern.CodeManifestInvalid, "capability %q references unknown action_id %q", capa.CapabilityID, actionID)
			}
		}
	}

	policyIDs := make(map[string]bool, len(m.Policies))
	for _, p := range m.Policies {
		if policyIDs[p.PolicyID] {
			return govern.Newf(govern.KindValidation, govern.CodeManifestInvalid, "duplicate policy_id %q within atlas", p.PolicyID)
		}
		policyIDs[p.PolicyID] = true
		switch p.PolicyType {
		case PolicyDeny, PolicyRequireApproval, PolicyRateLimit, PolicyAllow:
		default:
			return govern.Newf(govern.KindValidation, govern.CodeManifestInvalid, "policy %q has invalid policy_type %q", p.PolicyID, p.PolicyType)
		}
		if p.PolicyType == PolicyRateLimit && (p.Parameters == nil || p.Parameters.MaxCalls <= 0 || p.Parameters.WindowSeconds <= 0) {
			return govern.Newf(govern.KindValidation, govern.CodeManifestInvalid, "rate_limit policy %q requires positive max_calls and window_seconds", p.PolicyID)
		}
		if len(p.Actions) == 0 {
			return govern.Newf(govern.KindValidation, govern.CodeManifestInvalid, "policy %q must target at least one action pattern", p.PolicyID)
		}
	}

	for depID, constraintStr := range m.Dependencies {
		if !AtlasIDPattern.MatchString(depID) {
			return govern.Newf(govern.KindValidation, govern.CodeManifestInvalid, "dependency atlas_id %q does not match required pattern", depID)
		}
		if _, err := semver.NewConstraint(constraintStr); err != nil {
			return govern.Newf(govern.KindValidation, govern.CodeManifestInvalid, "dependency constraint %q for %q is invalid: %v", constraintStr, depID, err)
		}
	}

	for _, cp := range m.ContextPacks {
		if cp.PackID == "" {
			return govern.New(govern.KindValidation, govern.CodeManifestInvalid, "context pack_id is required")
		}
		if len(cp.Files) == 0 {
			return govern.Newf(govern.KindValidation, govern.CodeManifestInvalid, "context pack %q declares no files", cp.PackID)
		}
	}

	return nil
}
