package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/govatlas/core/pkg/atlas"
	"github.com/govatlas/core/pkg/carp"
	"github.com/govatlas/core/pkg/execport"
	"github.com/govatlas/core/pkg/ident"
	"github.com/govatlas/core/pkg/resolver"
	"github.com/govatlas/core/pkg/storage"
	"github.com/govatlas/core/pkg/trace"
)

// manifestList collects repeated -manifest flags via plain flag.Var.
type manifestList []string

func (m *manifestList) String() string { return strings.Join(*m, ",") }
func (m *manifestList) Set(v string) error {
	*m = append(*m, v)
	return nil
}

// runRunCmd implements `atlasctl run`: loads one or more atlas manifests,
// submits a single resolve request built from flags, optionally executes
// every action the resolution allows with an echo executor, then prints the
// resolution, the chain-verification report, and the replay diff.
func runRunCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var manifests manifestList
	cmd.Var(&manifests, "manifest", "Path to an atlas manifest JSON file (repeatable, at least one REQUIRED)")

	var (
		goal           string
		atlasIDs       string
		capabilities   string
		contextHints   string
		riskTier       string
		traceDir       string
		executeAllowed bool
		jsonOutput     bool
	)
	cmd.StringVar(&goal, "goal", "", "Task goal for the resolve request (REQUIRED)")
	cmd.StringVar(&atlasIDs, "atlas-ids", "", "Comma-separated atlas_ids to restrict candidates to (default: all loaded)")
	cmd.StringVar(&capabilities, "capabilities", "", "Comma-separated required capability_ids")
	cmd.StringVar(&contextHints, "context-hints", "", "Comma-separated context hint tags")
	cmd.StringVar(&riskTier, "risk-tier", "medium", "Task risk tier: low, medium, high, or critical")
	cmd.StringVar(&traceDir, "trace-dir", "", "Directory to persist the session's TRACE log as JSON Lines (optional)")
	cmd.BoolVar(&executeAllowed, "execute", false, "Execute every allowed action with an echo executor")
	cmd.BoolVar(&jsonOutput, "json", false, "Output machine-readable JSON instead of a text summary")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if len(manifests) == 0 {
		_, _ = fmt.Fprintln(stderr, "error: at least one -manifest is required")
		return 2
	}
	if goal == "" {
		_, _ = fmt.Fprintln(stderr, "error: -goal is required")
		return 2
	}

	registry := atlas.NewRegistry()
	for _, path := range manifests {
		m, err := atlas.LoadManifestFile(path)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "error: loading %s: %v\n", path, err)
			return 2
		}
		if _, err := registry.Load(m); err != nil {
			_, _ = fmt.Fprintf(stderr, "error: loading %s: %v\n", path, err)
			return 2
		}
	}

	var backend trace.Storage
	if traceDir != "" {
		var err error
		backend, err = storage.NewJSONLFile(traceDir)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "error: opening trace dir: %v\n", err)
			return 2
		}
	}
	collector := trace.NewCollector(trace.ModeImmediate, backend, nil)

	var executor execport.Driver
	if executeAllowed {
		executor = execport.DriverFunc(func(_ context.Context, actionID string, parameters map[string]any) (any, error) {
			return map[string]any{"action_id": actionID, "echoed_parameters": parameters}, nil
		})
	}

	r, err := resolver.NewResolver(resolver.DefaultConfig(), registry, resolver.NewEmitter(collector), executor)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "error: configuring resolver: %v\n", err)
		return 2
	}

	sess, err := r.CreateSession("atlasctl", goal)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "error: creating session: %v\n", err)
		return 2
	}

	req := &carp.Request{
		CARPVersion: "1.0",
		RequestID:   ident.NewUUID(),
		Timestamp:   time.Now(),
		Operation:   carp.OperationResolve,
		Requester:   carp.Requester{AgentID: "atlasctl", SessionID: sess.SessionID},
		Task: carp.Task{
			Goal:                 goal,
			RiskTier:             carp.RiskTier(riskTier),
			ContextHints:         splitCSV(contextHints),
			RequiredCapabilities: splitCSV(capabilities),
		},
		AtlasIDs: splitCSV(atlasIDs),
	}

	ctx := context.Background()
	res, err := r.Resolve(ctx, req)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "error: resolve failed: %v\n", err)
		return 1
	}

	var executions []map[string]any
	if executeAllowed {
		for _, a := range res.AllowedActions {
			result, execErr := r.Execute(ctx, sess.SessionID, a.ActionID, nil, "")
			entry := map[string]any{"action_id": a.ActionID, "result": result}
			if execErr != nil {
				entry["error"] = execErr.Error()
			}
			executions = append(executions, entry)
		}
	}

	report, err := r.VerifyChain(sess.SessionID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "error: verify_chain failed: %v\n", err)
		return 2
	}

	steps, err := r.Replay(sess.SessionID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "error: replay failed: %v\n", err)
		return 2
	}

	_ = r.EndSession(sess.SessionID, "atlasctl run complete")

	if jsonOutput {
		data, _ := json.MarshalIndent(map[string]any{
			"session_id": sess.SessionID,
			"resolution": res,
			"executions": executions,
			"verify":     report,
			"replay":     steps,
		}, "", "  ")
		fmt.Fprintln(stdout, string(data))
		return 0
	}

	fmt.Fprintf(stdout, "session:    %s\n", sess.SessionID)
	fmt.Fprintf(stdout, "decision:   %s\n", res.Decision.Type)
	fmt.Fprintf(stdout, "allowed:    %d action(s)\n", len(res.AllowedActions))
	fmt.Fprintf(stdout, "denied:     %d action(s)\n", len(res.DeniedActions))
	fmt.Fprintf(stdout, "context:    %d block(s) injected\n", len(res.ContextBlocks))
	for _, e := range executions {
		fmt.Fprintf(stdout, "executed:   %v\n", e)
	}
	fmt.Fprintf(stdout, "chain:      valid=%v\n", report.Valid)
	for _, s := range steps {
		fmt.Fprintf(stdout, "replay:     request=%s equal=%v diffs=%v\n", s.RequestID, s.Equal, s.Diffs)
	}
	return 0
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
