package resolver

import (
	"sync"
	"time"

	"github.com/govatlas/core/pkg/carp"
	"github.com/govatlas/core/pkg/govern"
)

// ApprovalStore is the port for granting or denying a requires_approval
// decision out-of-band (SPEC_FULL §3 SUPPLEMENT). The resolver only reads
// from it; an embedder's UI or on-call workflow is the writer.
type ApprovalStore interface {
	Put(record carp.ApprovalRecord) error
	Get(approvalID string) (carp.ApprovalRecord, bool)
}

// MemoryApprovalStore is the in-memory reference implementation of
// ApprovalStore.
//
// Grounded on core/pkg/guardian/guardian.go's setter-injected collaborator
// idiom: the resolver takes an ApprovalStore the way Guardian takes a
// BudgetTracker, with an in-memory default when none is supplied.
type MemoryApprovalStore struct {
	mu      sync.RWMutex
	records map[string]carp.ApprovalRecord
}

// NewMemoryApprovalStore constructs an empty MemoryApprovalStore.
func NewMemoryApprovalStore() *MemoryApprovalStore {
	return &MemoryApprovalStore{records: make(map[string]carp.ApprovalRecord)}
}

func (s *MemoryApprovalStore) Put(record carp.ApprovalRecord) error {
	if record.ApprovalID == "" {
		return govern.New(govern.KindValidation, govern.CodeInvalidPayload, "approval record requires an approval_id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ApprovalID] = record
	return nil
}

func (s *MemoryApprovalStore) Get(approvalID string) (carp.ApprovalRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[approvalID]
	return r, ok
}

// IsGranted reports whether approvalID exists, is unexpired as of now, and
// was not itself zero-valued (denied approvals are simply never Put).
func IsGranted(store ApprovalStore, approvalID string, now time.Time) bool {
	if store == nil || approvalID == "" {
		return false
	}
	r, ok := store.Get(approvalID)
	if !ok {
		return false
	}
	return now.Before(r.ExpiresAt)
}
