// Package resolver implements the Resolver (C6): session lifecycle, CARP
// resolution, and execution orchestration. It is the top-level
// orchestration layer that drives the Atlas Registry (C3), the Policy
// Evaluator (C4), and the Trace Collector (C5) in the fixed step order from
// §4.6.
//
// Grounded on core/pkg/guardian/guardian.go's constructor + post-
// construction setter-injection pattern (SetBudgetTracker, SetAuditLog ->
// SetApprovalStore here) and its gather-artifacts, apply-overrides,
// delegate-to-policy orchestration shape, retargeted to §4.6's exact step
// sequence: ask C3 for candidates, ask C4 per action, assemble the
// decision, emit through C5.
package resolver

import (
	"context"
	"sync"
	"time"

	"github.com/govatlas/core/pkg/atlas"
	"github.com/govatlas/core/pkg/carp"
	"github.com/govatlas/core/pkg/execport"
	"github.com/govatlas/core/pkg/govern"
	"github.com/govatlas/core/pkg/ident"
	"github.com/govatlas/core/pkg/policy"
	"github.com/govatlas/core/pkg/replay"
	"github.com/govatlas/core/pkg/trace"
	"github.com/govatlas/core/pkg/verify"
)

// Clock provides the wall-clock time the resolver stamps onto resolutions
// and checks request timestamps against. Grounded on the same
// core/pkg/guardian/guardian.go Clock/wallClock injection idiom used by
// pkg/trace's collector.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Session is the resolver-facing view of a created session: just enough to
// hand back to the caller of CreateSession without reaching into the
// collector's internal sessionState.
type Session struct {
	SessionID string
	AgentID   string
	TraceID   string
	CreatedAt time.Time
}

// execResult is the cached outcome of one idempotency_key-tagged execution
// (§4.6 execute() step 5).
type execResult struct {
	result any
	err    error
}

// sessionBookkeeping is the resolver's own per-session state, separate from
// the collector's event log: past resolutions (for execute()'s lookup),
// seen request_ids (for uniqueness), and idempotency-key results.
type sessionBookkeeping struct {
	resolutions []*carp.Resolution
	requestIDs  map[string]bool
	idempotent  map[string]execResult
}

// Resolver is the Resolver (C6): top-level orchestration over the Atlas
// Registry, Policy Evaluator, and Trace Collector.
type Resolver struct {
	cfg       Config
	registry  *atlas.Registry
	evaluator *policy.Evaluator
	emitter   Emitter
	executor  execport.Driver
	approvals ApprovalStore
	clock     Clock

	mu       sync.Mutex
	sessions map[string]*sessionBookkeeping
}

// NewResolver constructs a Resolver. registry and emitter are required;
// executor may be nil (execute() then fails with a State error naming the
// unbound action rather than panicking).
func NewResolver(cfg Config, registry *atlas.Registry, emitter Emitter, executor execport.Driver) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Resolver{
		cfg:       cfg,
		registry:  registry,
		evaluator: policy.NewEvaluator(nil),
		emitter:   emitter,
		executor:  executor,
		approvals: NewMemoryApprovalStore(),
		clock:     wallClock{},
		sessions:  make(map[string]*sessionBookkeeping),
	}, nil
}

// SetApprovalStore injects the out-of-band approval collaborator after
// construction, via the same SetBudgetTracker/SetAuditLog-style
// setter-injection idiom used elsewhere in this module. A Resolver starts
// with an in-memory default.
func (r *Resolver) SetApprovalStore(s ApprovalStore) { r.approvals = s }

// SetExecutor injects the Executor port after construction.
func (r *Resolver) SetExecutor(d execport.Driver) { r.executor = d }

// WithClock overrides the clock, for deterministic tests.
func (r *Resolver) WithClock(c Clock) *Resolver {
	r.clock = c
	return r
}

func (r *Resolver) bookkeeping(sessionID string) *sessionBookkeeping {
	r.mu.Lock()
	defer r.mu.Unlock()
	bk, ok := r.sessions[sessionID]
	if !ok {
		bk = &sessionBookkeeping{
			requestIDs: make(map[string]bool),
			idempotent: make(map[string]execResult),
		}
		r.sessions[sessionID] = bk
	}
	return bk
}

// CreateSession opens a session on the trace collector and returns its id
// and trace_id (§4.6).
func (r *Resolver) CreateSession(agentID, goal string) (Session, error) {
	sessionID, err := r.emitter.OpenSession(agentID, goal)
	if err != nil {
		return Session{}, err
	}
	sess, err := r.emitter.Session(sessionID)
	if err != nil {
		return Session{}, err
	}
	r.bookkeeping(sessionID) // pre-allocate so Resolve/Execute never race-create it
	return Session{
		SessionID: sessionID,
		AgentID:   sess.AgentID,
		TraceID:   sess.TraceID,
		CreatedAt: sess.CreatedAt,
	}, nil
}

// EndSession terminates a session, emitting session.ended. Rate-limit
// counters for the session are dropped; the session's resolution history
// and request_id set are retained so GetTrace/VerifyChain keep working
// after close.
func (r *Resolver) EndSession(sessionID, reason string) error {
	if err := r.emitter.EndSession(sessionID, reason); err != nil {
		return err
	}
	r.evaluator.Limiter().Reset(sessionID)
	return nil
}

// IdleSessions returns the ids of sessions idle since before cutoff, for an
// embedder-driven idle-timeout sweep (§3: "Lifetime: bounded by an idle
// timeout or explicit termination").
func (r *Resolver) IdleSessions(cutoff time.Time) []string {
	return r.emitter.IdleSessions(cutoff)
}

// Resolve performs a CARP resolution (§4.6): validates the request, asks
// the registry for candidates, classifies each action through the policy
// evaluator, assembles context blocks and the overall decision, and emits
// the full event sequence through the trace collector.
func (r *Resolver) Resolve(ctx context.Context, req *carp.Request) (*carp.Resolution, error) {
	now := r.clock.Now()
	sessionID := req.Requester.SessionID

	if err := r.validateRequest(req, now); err != nil {
		return nil, err
	}

	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	approvalRef, _ := req.Context["approval_id"].(string)

	// The full recorded payload captures every input the replay engine
	// (pkg/replay) needs to re-derive the same candidates and decision
	// deterministically from the trace alone (§4.6.2).
	if err := r.emitter.Emit(sessionID, trace.EventCARPRequestReceived, map[string]any{
		"request_id":            req.RequestID,
		"operation":             string(req.Operation),
		"goal":                  req.Task.Goal,
		"risk_tier":             string(req.Task.RiskTier),
		"context_hints":         req.Task.ContextHints,
		"required_capabilities": req.Task.RequiredCapabilities,
		"atlas_ids":             req.AtlasIDs,
		"approval_ref":          approvalRef,
	}); err != nil {
		return nil, err
	}

	candidates, err := r.registry.ResolveCandidates(req.AtlasIDs, req.Task.RequiredCapabilities)
	if err != nil {
		return nil, err
	}

	allowed, denied, anyRequiresApproval := r.classifyActions(sessionID, candidates, req, approvalRef, now)
	contextBlocks := r.injectContext(sessionID, candidates, req)

	decision := overallDecision(allowed, denied, anyRequiresApproval, now, time.Duration(r.cfg.DefaultResolutionTTLSeconds)*time.Second)

	traceID := ""
	if sess, err := r.emitter.Session(sessionID); err == nil {
		traceID = sess.TraceID
	}

	res := &carp.Resolution{
		ResolutionID:   ident.NewUUID(),
		RequestID:      req.RequestID,
		Timestamp:      now,
		Decision:       decision,
		ContextBlocks:  contextBlocks,
		AllowedActions: allowed,
		DeniedActions:  denied,
		TTLSeconds:     r.cfg.DefaultResolutionTTLSeconds,
		TraceID:        traceID,
	}

	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	if err := r.emitter.Emit(sessionID, trace.EventCARPResolutionCompleted, map[string]any{
		"resolution_id":       res.ResolutionID,
		"decision_type":       string(res.Decision.Type),
		"allowed_count":       len(allowed),
		"denied_count":        len(denied),
		"allowed_action_ids":  actionIDs(allowed),
		"denied_action_ids":   deniedActionIDs(denied),
		"context_block_ids":   blockIDs(contextBlocks),
	}); err != nil {
		return nil, err
	}

	bk := r.bookkeeping(sessionID)
	r.mu.Lock()
	bk.resolutions = append(bk.resolutions, res)
	r.mu.Unlock()

	return res, nil
}

// classifyActions evaluates every candidate action through the policy
// evaluator and splits the results into allowed/denied, emitting
// policy.evaluated (always) and policy.violated (on deny or unsatisfied
// require_approval) per action (§4.6 step 4, §4.5.3).
//
// A require_approval outcome whose approvalRef is already granted
// (SPEC_FULL §3 SUPPLEMENT: the embedder calls ApprovalStore.Put after an
// out-of-band grant, then the agent re-resolves passing that approval_id
// back in the request's context map) is treated as allowed, closing the
// loop the data model's ApprovalRecord implies without requiring a second
// protocol round-trip shape.
func (r *Resolver) classifyActions(sessionID string, candidates atlas.Candidates, req *carp.Request, approvalRef string, now time.Time) ([]carp.AllowedAction, []carp.DeniedAction, bool) {
	var allowed []carp.AllowedAction
	var denied []carp.DeniedAction
	anyRequiresApproval := false

	for _, action := range candidates.Actions {
		outcome := r.evaluator.Evaluate(candidates.Policies, sessionID, action.ActionID, string(req.Task.RiskTier), now)

		granted := outcome.RequiresApproval && IsGranted(r.approvals, approvalRef, now)
		if granted {
			outcome.RequiresApproval = false
			outcome.Allowed = true
		}

		decisionHash, _ := policy.ComputeDecisionHash(outcome)
		_ = r.emitter.Emit(sessionID, trace.EventPolicyEvaluated, map[string]any{
			"action_id":         action.ActionID,
			"allowed":           outcome.Allowed,
			"requires_approval": outcome.RequiresApproval,
			"policy_id":         outcome.PolicyID,
			"decision_hash":     decisionHash,
		})

		switch {
		case outcome.RequiresApproval:
			anyRequiresApproval = true
			denied = append(denied, carp.DeniedAction{ActionID: action.ActionID, Reason: "requires_approval", PolicyID: outcome.PolicyID})
			_ = r.emitter.Emit(sessionID, trace.EventPolicyViolated, map[string]any{
				"action_id": action.ActionID, "policy_id": outcome.PolicyID, "reason": "requires_approval",
			})
		case !outcome.Allowed:
			denied = append(denied, carp.DeniedAction{ActionID: action.ActionID, Reason: outcome.Reason, PolicyID: outcome.PolicyID})
			_ = r.emitter.Emit(sessionID, trace.EventPolicyViolated, map[string]any{
				"action_id": action.ActionID, "policy_id": outcome.PolicyID, "reason": outcome.Reason,
			})
		default:
			allowed = append(allowed, carp.AllowedAction{
				ActionID:             action.ActionID,
				Name:                 action.Name,
				Description:          action.Description,
				ParametersSchema:     action.ParametersSchema,
				ReturnsSchema:        action.ReturnsSchema,
				RiskTier:             carp.RiskTier(action.RiskTier),
				RequiresConfirmation: action.RiskTier == "high" || action.RiskTier == "critical",
				RateLimit:            outcome.RateLimit,
			})
		}
	}

	return allowed, denied, anyRequiresApproval
}

// injectContext emits context.injected for every candidate block whose
// owning context_pack's conditions (if any) are satisfied by the request's
// context_hints, and context.redacted for the rest (§4.6 step 5).
func (r *Resolver) injectContext(sessionID string, candidates atlas.Candidates, req *carp.Request) []carp.ContextBlock {
	hints := make(map[string]bool, len(req.Task.ContextHints))
	for _, h := range req.Task.ContextHints {
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
			_ = r.emitter.Emit(sessionID, trace.EventContextInjected, map[string]any{
				"block_id": block.BlockID, "source": block.SourceAtlas, "token_estimate": block.TokenEstimate,
			})
		} else {
			_ = r.emitter.Emit(sessionID, trace.EventContextRedacted, map[string]any{
				"block_id": block.BlockID, "source": block.SourceAtlas, "reason": "conditions_unmet",
			})
		}
	}
	return included
}

// overallDecision computes the resolution's top-level decision (§4.6 step
// 6). require_approval takes priority over a flat deny, matching the
// require-approval end-to-end scenario (spec.md §8 scenario 4): a request
// whose only matched actions require approval resolves as
// requires_approval, not deny, even though zero actions were allowed.
func overallDecision(allowed []carp.AllowedAction, denied []carp.DeniedAction, anyRequiresApproval bool, now time.Time, ttl time.Duration) carp.DecisionBlock {
	switch {
	case anyRequiresApproval:
		return carp.DecisionBlock{Type: carp.DecisionRequiresApproval, ApprovalID: ident.NewUUID(), ExpiresAt: now.Add(ttl)}
	case len(allowed) == 0 && len(denied) > 0:
		return carp.DecisionBlock{Type: carp.DecisionDeny, Reason: denied[0].Reason}
	case len(allowed) > 0 && len(denied) > 0:
		return carp.DecisionBlock{Type: carp.DecisionPartial}
	default:
		return carp.DecisionBlock{Type: carp.DecisionAllow}
	}
}

// validateRequest checks schema presence, timestamp skew, session liveness,
// and request_id uniqueness (§4.6 step 1).
func (r *Resolver) validateRequest(req *carp.Request, now time.Time) error {
	if req == nil || req.Requester.SessionID == "" || req.RequestID == "" {
		return govern.New(govern.KindValidation, govern.CodeInvalidPayload, "request requires requester.session_id and request_id")
	}

	sess, err := r.emitter.Session(req.Requester.SessionID)
	if err != nil {
		return err
	}
	if sess.Closed {
		return govern.New(govern.KindState, govern.CodeSessionClosed, "session is closed: "+req.Requester.SessionID)
	}

	skew := now.Sub(req.Timestamp)
	if skew < 0 {
		skew = -skew
	}
	tolerance := time.Duration(r.cfg.ClockSkewToleranceSeconds) * time.Second
	if skew > tolerance {
		return govern.Newf(govern.KindValidation, govern.CodeClockSkew, "request timestamp %s exceeds %s clock skew tolerance", req.Timestamp, tolerance)
	}

	bk := r.bookkeeping(req.Requester.SessionID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if bk.requestIDs[req.RequestID] {
		return govern.New(govern.KindValidation, govern.CodeRequestIDReused, "request_id already used in this session: "+req.RequestID)
	}
	bk.requestIDs[req.RequestID] = true
	return nil
}

// Execute runs one pre-authorized action (§4.6 execute()): it trusts the
// resolution's allowed_actions list rather than re-running the policy scan
// (spec.md §9 Open Question #1, resolved for determinism).
func (r *Resolver) Execute(ctx context.Context, sessionID, actionID string, parameters map[string]any, idempotencyKey string) (any, error) {
	now := r.clock.Now()

	res, err := r.latestValidResolution(sessionID, now)
	if err != nil {
		return nil, err
	}

	var allowedAction *carp.AllowedAction
	for i := range res.AllowedActions {
		if res.AllowedActions[i].ActionID == actionID {
			allowedAction = &res.AllowedActions[i]
			break
		}
	}
	if allowedAction == nil {
		_ = r.emitter.Emit(sessionID, trace.EventActionDenied, map[string]any{
			"action_id": actionID, "resolution_id": res.ResolutionID, "reason": "not_permitted",
		})
		return nil, govern.New(govern.KindPermission, govern.CodeActionNotPermitted, "action not permitted by resolution: "+actionID)
	}

	if idempotencyKey != "" {
		bk := r.bookkeeping(sessionID)
		r.mu.Lock()
		cached, ok := bk.idempotent[idempotencyKey]
		r.mu.Unlock()
		if ok {
			return cached.result, cached.err
		}
	}

	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	if err := r.emitter.Emit(sessionID, trace.EventActionRequested, map[string]any{
		"action_id": actionID, "resolution_id": res.ResolutionID,
	}); err != nil {
		return nil, err
	}

	if err := r.registry.ValidateParameters(actionID, parameters); err != nil {
		wrapped := govern.Wrap(govern.KindValidation, govern.CodeInvalidParameters, err)
		_ = r.emitter.Emit(sessionID, trace.EventActionFailed, map[string]any{
			"action_id": actionID, "error_code": govern.CodeInvalidParameters, "error_message": err.Error(),
		})
		return nil, wrapped
	}

	if r.executor == nil {
		err := govern.New(govern.KindState, "executor_not_configured", "no executor bound for action: "+actionID)
		_ = r.emitter.Emit(sessionID, trace.EventActionFailed, map[string]any{
			"action_id": actionID, "error_code": "executor_not_configured", "error_message": err.Error(),
		})
		return nil, err
	}

	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	start := r.clock.Now()
	result, execErr := r.executor.Execute(ctx, actionID, parameters)
	durationMS := r.clock.Now().Sub(start).Milliseconds()

	if execErr != nil {
		_ = r.emitter.Emit(sessionID, trace.EventActionFailed, map[string]any{
			"action_id": actionID, "error_code": "execution_error", "error_message": execErr.Error(), "duration_ms": durationMS,
		})
		r.storeIdempotent(sessionID, idempotencyKey, nil, execErr)
		return nil, execErr
	}

	_ = r.emitter.Emit(sessionID, trace.EventActionExecuted, map[string]any{
		"action_id": actionID, "duration_ms": durationMS,
	})
	r.storeIdempotent(sessionID, idempotencyKey, result, nil)
	return result, nil
}

func (r *Resolver) storeIdempotent(sessionID, key string, result any, err error) {
	if key == "" {
		return
	}
	bk := r.bookkeeping(sessionID)
	r.mu.Lock()
	bk.idempotent[key] = execResult{result: result, err: err}
	r.mu.Unlock()
}

// latestValidResolution returns the most recently created, still-unexpired
// resolution for sessionID (§4.6 execute() step 1).
func (r *Resolver) latestValidResolution(sessionID string, now time.Time) (*carp.Resolution, error) {
	bk := r.bookkeeping(sessionID)
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(bk.resolutions) - 1; i >= 0; i-- {
		res := bk.resolutions[i]
		if !res.IsExpired(now) {
			return res, nil
		}
	}
	return nil, govern.New(govern.KindState, govern.CodeNoValidResolution, "no valid resolution for session: "+sessionID)
}

// GetTrace returns sessionID's events in sequence order (§4.6).
func (r *Resolver) GetTrace(sessionID string, filter *trace.Filter) ([]trace.Event, error) {
	return r.emitter.GetEvents(sessionID, filter)
}

// VerifyChain runs the chain verifier over sessionID's full event log
// (§4.6.1).
func (r *Resolver) VerifyChain(sessionID string) (verify.Report, error) {
	events, err := r.emitter.GetEvents(sessionID, nil)
	if err != nil {
		return verify.Report{}, err
	}
	return verify.Chain(events), nil
}

// Replay re-resolves every CARP request recorded in sessionID's trace and
// diffs each against its recorded completion (§4.6.2).
func (r *Resolver) Replay(sessionID string) ([]replay.StepResult, error) {
	events, err := r.emitter.GetEvents(sessionID, nil)
	if err != nil {
		return nil, err
	}
	return replay.Run(events, r.registry), nil
}

// Registry exposes the underlying Atlas Registry, for LoadAtlas/UnloadAtlas
// wrappers.
func (r *Resolver) Registry() *atlas.Registry { return r.registry }

// Evaluator exposes the underlying Policy Evaluator, e.g. for tests that
// want to assert on accumulated rate-limit state directly.
func (r *Resolver) Evaluator() *policy.Evaluator { return r.evaluator }

// LoadAtlas loads and validates a manifest into the resolver's registry
// (§6's new_resolver/load_atlas external API operation).
func (r *Resolver) LoadAtlas(m *atlas.Manifest) (string, error) {
	return r.registry.Load(m)
}

// UnloadAtlas removes an atlas from the resolver's registry. Idempotent.
func (r *Resolver) UnloadAtlas(atlasID string) {
	r.registry.Unload(atlasID)
}

// actionIDs, deniedActionIDs, and blockIDs extract the ordered id lists the
// replay engine diffs against a re-resolution (§4.6.2). Order is
// significant: both are already in the resolution's emission order.
func actionIDs(allowed []carp.AllowedAction) []string {
	out := make([]string, len(allowed))
	for i, a := range allowed {
		out[i] = a.ActionID
	}
	return out
}

func deniedActionIDs(denied []carp.DeniedAction) []string {
	out := make([]string, len(denied))
	for i, d := range denied {
		out[i] = d.ActionID
	}
	return out
}

func blockIDs(blocks []carp.ContextBlock) []string {
	out := make([]string, len(blocks))
	for i, b := range blocks {
		out[i] = b.BlockID
	}
	return out
}

// ctxErr reports ctx's cancellation error, if any, without blocking
// (§5 cancellation: "a cancellation signal ... aborts before emitting the
// terminal event for that operation").
func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
