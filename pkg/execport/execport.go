// Package execport defines the Executor port (§6): the embedder-supplied
// callable bound to an action_id, invoked by the resolver's execute()
// operation. The core never inspects executor internals.
//
// Grounded on core/pkg/executor/driver.go's ToolDriver interface
// (Execute(ctx, toolName, params) (any, error)), kept nearly verbatim in
// shape since it already matches this port's contract exactly.
package execport

import (
	"context"
	"fmt"
	"sync"
)

// Driver executes a single action, given its parameters. Implementations
// are supplied by the embedder; the resolver calls Execute and reports the
// result (or error) as action.executed / action.failed (§4.6).
type Driver interface {
	Execute(ctx context.Context, actionID string, parameters map[string]any) (any, error)
}

// DriverFunc adapts a plain function to Driver.
type DriverFunc func(ctx context.Context, actionID string, parameters map[string]any) (any, error)

func (f DriverFunc) Execute(ctx context.Context, actionID string, parameters map[string]any) (any, error) {
	return f(ctx, actionID, parameters)
}

// Registry is a minimal in-process map-dispatch Driver: one handler per
// action_id, used by tests and the cmd/atlasctl CLI demo. It is a sample
// implementation, not a requirement — embedders may call out to an MCP
// server, a subprocess, or a remote RPC instead.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]DriverFunc
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]DriverFunc)}
}

// Register binds a handler to an action_id. Registering the same
// action_id twice overwrites the prior handler.
func (r *Registry) Register(actionID string, handler DriverFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[actionID] = handler
}

// Execute dispatches to the handler bound to actionID.
func (r *Registry) Execute(ctx context.Context, actionID string, parameters map[string]any) (any, error) {
	r.mu.RLock()
	h, ok := r.handlers[actionID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("execport: no handler registered for action %q", actionID)
	}
	return h(ctx, actionID, parameters)
}
