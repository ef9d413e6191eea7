// Package atlas implements the Atlas Registry (C3): parsing, validating,
// and holding versioned capability packages that configure the governance
// core — actions, context blocks, policies, and capability groupings.
//
// Grounded on core/pkg/pack/types.go's manifest type graph and
// core/pkg/pack/resolver.go's candidate-resolution shape.
package atlas

import "regexp"

// AtlasIDPattern and ActionIDPattern are the regexes manifests are
// validated against (§3).
var (
	AtlasIDPattern  = regexp.MustCompile(`^[a-z][a-z0-9]*(\.[a-z][a-z0-9-]*)+$`)
	ActionIDPattern = regexp.MustCompile(`^[a-z][a-z0-9]*(\.[a-z][a-z0-9]*)+$`)
)

// PolicyType is the tag on a Policy record (§3/§4.4).
type PolicyType string

const (
	PolicyDeny            PolicyType = "deny"
	PolicyRequireApproval  PolicyType = "require_approval"
	PolicyRateLimit        PolicyType = "rate_limit"
	PolicyAllow            PolicyType = "allow"
)

// RateLimitParams are the parameters of a rate_limit policy.
type RateLimitParams struct {
	MaxCalls      int `json:"max_calls"`
	WindowSeconds int `json:"window_seconds"`
}

// PolicyConditions further restrict when a policy matches.
type PolicyConditions struct {
	RiskTiers []string `json:"risk_tiers,omitempty"`
}

// Policy is a tagged rule applied to action-id glob patterns with a fixed
// evaluation order (§4.4). Priority breaks ties within a phase (higher
// first), then atlas insertion order.
type Policy struct {
	PolicyID   string           `json:"policy_id"`
	PolicyType PolicyType       `json:"policy_type"`
	Actions    []string         `json:"actions"`
	Reason     string           `json:"reason,omitempty"`
	Parameters *RateLimitParams `json:"parameters,omitempty"`
	Conditions PolicyConditions `json:"conditions,omitempty"`
	Priority   int              `json:"priority"`

	// AtlasID and Ordinal are filled in by the registry at load time and
	// record provenance for tie-breaking (§4.4: "then by atlas insertion
	// order").
	AtlasID string `json:"-"`
	Ordinal int    `json:"-"`
}

// Action is an invocable capability declared by an atlas.
type Action struct {
	ActionID         string         `json:"action_id"`
	Name             string         `json:"name"`
	Description      string         `json:"description"`
	ParametersSchema map[string]any `json:"parameters_schema,omitempty"`
	ReturnsSchema    map[string]any `json:"returns_schema,omitempty"`
	RiskTier         string         `json:"risk_tier"`
	Idempotent       bool           `json:"idempotent"`
	Executor         string         `json:"executor"`

	AtlasID string `json:"-"`
}

// ContextPack groups context-block files under a priority and optional
// conditions.
type ContextPack struct {
	PackID     string   `json:"pack_id"`
	Files      []string `json:"files"`
	Priority   int      `json:"priority"`
	Conditions []string `json:"conditions,omitempty"`

	AtlasID string `json:"-"`
}

// Capability is a named group of action-ids within an atlas.
type Capability struct {
	CapabilityID string   `json:"capability_id"`
	ActionIDs    []string `json:"action_ids"`
}

// Manifest is the Atlas Manifest (§3).
type Manifest struct {
	AtlasVersion string            `json:"atlas_version"`
	AtlasID      string            `json:"atlas_id"`
	Version      string            `json:"version"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	Authors      []string          `json:"authors,omitempty"`
	License      string            `json:"license,omitempty"`
	Domains      []string          `json:"domains,omitempty"`
	Capabilities []Capability      `json:"capabilities,omitempty"`
	ContextPacks []ContextPack     `json:"context_packs,omitempty"`
	Policies     []Policy          `json:"policies,omitempty"`
	Actions      []Action          `json:"actions,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`

	// BaseDir is the directory the manifest was loaded from, used to
	// resolve context-pack file paths (SPEC_FULL §3 SUPPLEMENT). Empty for
	// manifests loaded from an in-memory blob.
	BaseDir string `json:"-"`
}

// Summary is the ordered-list view returned by List().
type Summary struct {
	AtlasID string `json:"atlas_id"`
	Name    string `json:"name"`
	Version string `json:"version"`
}
