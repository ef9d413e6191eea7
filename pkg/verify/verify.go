// Package verify implements the chain verifier (§4.6.1): an ordered set of
// checks over a session's TRACE event list, confirming genesis shape,
// sequence contiguity, previous-hash linkage, and hash recomputation.
//
// Grounded on core/pkg/verifier/verifier.go's ordered-checks + aggregated
// VerifyReport/CheckResult pattern, retargeted from EvidencePack-bundle
// structural checks to the four chain invariants this core needs. Like
// that verifier, this package has zero third-party dependency: it trusts
// only crypto/sha256 via pkg/trace.Rehash and the recorded event list
// itself.
package verify

import (
	"fmt"

	"github.com/govatlas/core/pkg/ident"
	"github.com/govatlas/core/pkg/merkle"
	"github.com/govatlas/core/pkg/trace"
)

// Report is the aggregated result of verifying one session's chain.
type Report struct {
	Valid  bool     `json:"valid"`
	Reason string   `json:"reason,omitempty"`
	Index  int      `json:"index"`
	Length int      `json:"length"`
	Checks []Check  `json:"checks"`
}

// Check is one ordered verification step's outcome.
type Check struct {
	Name   string `json:"name"`
	Pass   bool   `json:"pass"`
	Detail string `json:"detail,omitempty"`
}

// Chain runs the four ordered checks from §4.6.1 (genesis shape, sequence
// contiguity, previous-hash linkage, hash recomputation) over events, which
// MUST already be ordered by sequence. All four checks run together in a
// single pass over the events so the reported Index is always the earliest
// event at which any check fails, never a later index whose linkage check
// merely observes an earlier event's corrupted hash.
func Chain(events []trace.Event) Report {
	r := Report{Valid: true, Length: len(events), Index: -1}

	if len(events) == 0 {
		r.Checks = append(r.Checks, Check{Name: "non_empty", Pass: true, Detail: "empty chain trivially verifies"})
		return r
	}

	for i, e := range events {
		if i == 0 {
			if fail := checkGenesis(e); fail != "" {
				return r.fail(i, "genesis", fail)
			}
		} else {
			prev := events[i-1]
			if e.Sequence != prev.Sequence+1 {
				return r.fail(i, "sequence_contiguity",
					fmt.Sprintf("expected sequence %d, got %d", prev.Sequence+1, e.Sequence))
			}
			if e.PreviousEventHash != prev.EventHash {
				return r.fail(i, "chain_linkage",
					fmt.Sprintf("previous_event_hash %q does not match prior event_hash %q", e.PreviousEventHash, prev.EventHash))
			}
		}

		recomputed, err := trace.Rehash(e)
		if err != nil {
			return r.fail(i, "hash_recomputation", err.Error())
		}
		if recomputed != e.EventHash {
			return r.fail(i, "hash_recomputation",
				fmt.Sprintf("stored hash %q does not match recomputed hash %q", e.EventHash, recomputed))
		}
	}

	r.Checks = append(r.Checks,
		Check{Name: "genesis", Pass: true},
		Check{Name: "sequence_contiguity", Pass: true},
		Check{Name: "chain_linkage", Pass: true},
		Check{Name: "hash_recomputation", Pass: true},
	)
	return r
}

func checkGenesis(first trace.Event) string {
	if first.Sequence != 0 {
		return fmt.Sprintf("genesis event has sequence %d, expected 0", first.Sequence)
	}
	if first.PreviousEventHash != ident.GenesisHash {
		return fmt.Sprintf("genesis event previous_event_hash %q is not the all-zero sentinel", first.PreviousEventHash)
	}
	return ""
}

// BatchEvidence commits the per-session verification reports in sessions
// (keyed by session_id) into one Merkle tree, so a batch of sessions can be
// archived under a single root rather than one hash per session. Every
// report is committed as-is, so a single forged or re-verified session
// changes the root.
func BatchEvidence(sessions map[string]Report) (*merkle.Tree, error) {
	data := make(map[string]any, len(sessions))
	for sessionID, r := range sessions {
		data[sessionID] = r
	}
	return merkle.Build(data)
}

func (r Report) fail(index int, checkName, reason string) Report {
	r.Valid = false
	r.Index = index
	r.Reason = reason
	r.Checks = append(r.Checks, Check{Name: checkName, Pass: false, Detail: reason})
	return r
}
