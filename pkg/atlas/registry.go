package atlas

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/govatlas/core/pkg/carp"
	"github.com/govatlas/core/pkg/govern"
)

// loadedAtlas is the registry's internal record for one loaded manifest.
type loadedAtlas struct {
	manifest *Manifest
	actions  map[string]*Action
	schemas  map[string]*compiledSchemas // keyed by action_id
}

type compiledSchemas struct {
	parameters *jsonschema.Schema
	returns    *jsonschema.Schema
}

// Registry holds validated atlas manifests keyed by atlas_id (C3).
//
// Grounded on core/pkg/registry/pack_registry.go's in-memory map+mutex
// indexing idiom and core/pkg/pack/resolver.go's candidate-matching shape.
type Registry struct {
	mu      sync.RWMutex
	atlases map[string]*loadedAtlas
	order   []string // insertion order, for deterministic tie-breaking
}

// NewRegistry constructs an empty Atlas Registry.
func NewRegistry() *Registry {
	return &Registry{atlases: make(map[string]*loadedAtlas)}
}

// Load parses and validates a manifest and stores it keyed by its
// atlas_id. Returns the atlas_id on success.
//
// Fails with govern.Error of code manifest_invalid, duplicate_atlas, or
// dependency_unsatisfied per §4.3.
func (r *Registry) Load(m *Manifest) (string, error) {
	if err := r.validate(m); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.atlases[m.AtlasID]; exists {
		return "", govern.New(govern.KindValidation, govern.CodeDuplicateAtlas, "atlas already loaded: "+m.AtlasID)
	}

	for depID, constraint := range m.Dependencies {
		if err := r.checkDependencyLocked(depID, constraint); err != nil {
			return "", err
		}
	}
	if err := r.checkAcyclicLocked(m); err != nil {
		return "", err
	}

	la := &loadedAtlas{
		manifest: m,
		actions:  make(map[string]*Action, len(m.Actions)),
		schemas:  make(map[string]*compiledSchemas, len(m.Actions)),
	}
	for i := range m.Actions {
		a := &m.Actions[i]
		a.AtlasID = m.AtlasID
		la.actions[a.ActionID] = a

		cs, err := compileActionSchemas(a)
		if err != nil {
			return "", govern.Wrap(govern.KindValidation, govern.CodeManifestInvalid, err).WithDetail("action_id", a.ActionID)
		}
		la.schemas[a.ActionID] = cs
	}
	for i := range m.Policies {
		m.Policies[i].AtlasID = m.AtlasID
		m.Policies[i].Ordinal = i
	}
	for i := range m.ContextPacks {
		m.ContextPacks[i].AtlasID = m.AtlasID
	}

	r.atlases[m.AtlasID] = la
	r.order = append(r.order, m.AtlasID)
	return m.AtlasID, nil
}

// Unload removes an atlas. Idempotent: unloading an unknown atlas_id is not
// an error.
func (r *Registry) Unload(atlasID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.atlases[atlasID]; !ok {
		return
	}
	delete(r.atlases, atlasID)
	for i, id := range r.order {
		if id == atlasID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// List returns atlas summaries in load order.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Summary, 0, len(r.order))
	for _, id := range r.order {
		la := r.atlases[id]
		out = append(out, Summary{AtlasID: id, Name: la.manifest.Name, Version: la.manifest.Version})
	}
	return out
}

// Get returns the manifest for an atlas_id.
func (r *Registry) Get(atlasID string) (*Manifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	la, ok := r.atlases[atlasID]
	if !ok {
		return nil, false
	}
	return la.manifest, true
}

// ValidateParameters validates params against the action's compiled
// parameters_schema. A no-op (success) if the action declares no schema.
func (r *Registry) ValidateParameters(actionID string, params map[string]any) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, la := range r.atlases {
		cs, ok := la.schemas[actionID]
		if !ok {
			continue
		}
		if cs.parameters == nil {
			return nil
		}
		return validateAgainst(cs.parameters, params)
	}
	return govern.New(govern.KindNotFound, govern.CodeActionNotFound, "unknown action: "+actionID)
}

// Candidates is the result of resolve_candidates (§4.3): the filtered union
// of context blocks, candidate actions, and policies across matching
// atlases.
type Candidates struct {
	ContextBlocks []carp.ContextBlock
	Actions       []Action
	Policies      []Policy

	// BlockConditions maps a context block's BlockID to its owning
	// context_pack's Conditions (SPEC_FULL §3 SUPPLEMENT), so the resolver
	// can decide context.injected vs. context.redacted (§4.6 step 5)
	// without the registry needing to know about request-shaped filtering.
	BlockConditions map[string][]string
}

// ResolveCandidates returns the filtered union of context blocks, actions,
// and policies, optionally restricted to atlasIDs and/or actions providing
// requiredCapabilities.
func (r *Registry) ResolveCandidates(atlasIDs []string, requiredCapabilities []string) (Candidates, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	selected := r.order
	if len(atlasIDs) > 0 {
		want := make(map[string]bool, len(atlasIDs))
		for _, id := range atlasIDs {
			want[id] = true
		}
		selected = nil
		for _, id := range r.order {
			if want[id] {
				selected = append(selected, id)
			}
		}
	}

	var allowedActionIDs map[string]bool
	if len(requiredCapabilities) > 0 {
		allowedActionIDs = make(map[string]bool)
		for _, id := range selected {
			la := r.atlases[id]
			for _, capa := range la.manifest.Capabilities {
				for _, want := range requiredCapabilities {
					if capa.CapabilityID == want {
						for _, actionID := range capa.ActionIDs {
							allowedActionIDs[actionID] = true
						}
					}
				}
			}
		}
	}

	out := Candidates{BlockConditions: make(map[string][]string)}
	for _, id := range selected {
		la, ok := r.atlases[id]
		if !ok {
			continue
		}
		for _, a := range la.manifest.Actions {
			if allowedActionIDs != nil && !allowedActionIDs[a.ActionID] {
				continue
			}
			out.Actions = append(out.Actions, a)
		}
		out.Policies = append(out.Policies, la.manifest.Policies...)
		for _, cp := range la.manifest.ContextPacks {
			for _, file := range cp.Files {
				blockID := cp.PackID + ":" + file
				out.ContextBlocks = append(out.ContextBlocks, carp.ContextBlock{
					BlockID:      blockID,
					SourceAtlas:  id,
					ContentType:  "text/plain",
					Content:      "",
					Priority:     cp.Priority,
					TokenEstimate: 0,
				})
				if len(cp.Conditions) > 0 {
					out.BlockConditions[blockID] = cp.Conditions
				}
			}
		}
	}

	// §4.6 step 3: "order context by priority descending then pack_id
	// lexicographic."
	sort.SliceStable(out.ContextBlocks, func(i, j int) bool {
		if out.ContextBlocks[i].Priority != out.ContextBlocks[j].Priority {
			return out.ContextBlocks[i].Priority > out.ContextBlocks[j].Priority
		}
		return out.ContextBlocks[i].BlockID < out.ContextBlocks[j].BlockID
	})

	return out, nil
}

func (r *Registry) checkDependencyLocked(depAtlasID, constraintStr string) error {
	dep, ok := r.atlases[depAtlasID]
	if !ok {
		return govern.New(govern.KindValidation, govern.CodeDependencyUnmet, "missing dependency atlas: "+depAtlasID)
	}
	constraint, err := semver.NewConstraint(constraintStr)
	if err != nil {
		return govern.Wrap(govern.KindValidation, govern.CodeManifestInvalid, fmt.Errorf("invalid dependency constraint %q: %w", constraintStr, err))
	}
	depVersion, err := semver.NewVersion(dep.manifest.Version)
	if err != nil {
		return govern.Wrap(govern.KindValidation, govern.CodeManifestInvalid, fmt.Errorf("dependency %s has invalid version: %w", depAtlasID, err))
	}
	if !constraint.Check(depVersion) {
		return govern.Newf(govern.KindValidation, govern.CodeDependencyUnmet, "dependency %s@%s does not satisfy %s", depAtlasID, dep.manifest.Version, constraintStr)
	}
	return nil
}

// checkAcyclicLocked performs a DAG check over the dependency graph with m
// tentatively added, per §3 ("the registry validates this is a DAG").
func (r *Registry) checkAcyclicLocked(m *Manifest) error {
	visiting := map[string]bool{}
	visited := map[string]bool{}

	var visit func(atlasID string, manifest *Manifest) error
	visit = func(atlasID string, manifest *Manifest) error {
		if visited[atlasID] {
			return nil
		}
		if visiting[atlasID] {
			return govern.New(govern.KindValidation, govern.CodeManifestInvalid, "cyclic atlas dependency involving "+atlasID)
		}
		visiting[atlasID] = true
		for depID := range manifest.Dependencies {
			depManifest := manifest
			if depID != atlasID {
				if la, ok := r.atlases[depID]; ok {
					depManifest = la.manifest
				} else {
					continue // reported by checkDependencyLocked already
				}
			}
			if err := visit(depID, depManifest); err != nil {
				return err
			}
		}
		visiting[atlasID] = false
		visited[atlasID] = true
		return nil
	}
	return visit(m.AtlasID, m)
}

func compileActionSchemas(a *Action) (*compiledSchemas, error) {
	cs := &compiledSchemas{}
	var err error
	if a.ParametersSchema != nil {
		cs.parameters, err = compileInlineSchema(a.ActionID+"#parameters", a.ParametersSchema)
		if err != nil {
			return nil, fmt.Errorf("parameters_schema: %w", err)
		}
	}
	if a.ReturnsSchema != nil {
		cs.returns, err = compileInlineSchema(a.ActionID+"#returns", a.ReturnsSchema)
		if err != nil {
			return nil, fmt.Errorf("returns_schema: %w", err)
		}
	}
	return cs, nil
}

func compileInlineSchema(resourceURL string, schema map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(resourceURL, bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return c.Compile(resourceURL)
}

func validateAgainst(schema *jsonschema.Schema, value map[string]any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return govern.Wrap(govern.KindValidation, govern.CodeInvalidParameters, err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return govern.Wrap(govern.KindValidation, govern.CodeInvalidParameters, err)
	}
	if err := schema.Validate(decoded); err != nil {
		return govern.Wrap(govern.KindValidation, govern.CodeInvalidParameters, err)
	}
	return nil
}
