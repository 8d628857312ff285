package builder

import (
	"github.com/marketplace-builder/builder-core/coretypes"
)

// mempool is the per-builder-state ordered, deduplicated transaction
// set accumulated since the state's anchor (spec §3 "mempool").
// Grounded directly on the teacher's preconf.FIFOTxSet: a map for O(1)
// membership plus a slice preserving arrival order, because the
// anti-empty-block policy and block filling both need "everything not
// yet claimed, oldest first".
type mempool struct {
	byCommitment map[coretypes.BuilderCommitment]*txEntry
	order        []*txEntry
}

type txEntry struct {
	tx coretypes.Transaction
}

func newMempool() *mempool {
	return &mempool{byCommitment: make(map[coretypes.BuilderCommitment]*txEntry)}
}

// Add appends tx if its commitment is not already present. Returns
// false if the transaction was already known.
func (m *mempool) Add(tx coretypes.Transaction) bool {
	if _, exists := m.byCommitment[tx.Commitment]; exists {
		return false
	}
	entry := &txEntry{tx: tx}
	m.byCommitment[tx.Commitment] = entry
	m.order = append(m.order, entry)
	return true
}

// Remaining returns the transactions not claimed by the given
// commitment set, in arrival order — used to seed a spawned child's
// initial mempool with "everything the parent's DA proposal at V'
// didn't already take" (spec §4.3.2).
func (m *mempool) Remaining(claimed map[coretypes.BuilderCommitment]struct{}) []coretypes.Transaction {
	out := make([]coretypes.Transaction, 0, len(m.order))
	for _, entry := range m.order {
		if _, taken := claimed[entry.tx.Commitment]; taken {
			continue
		}
		out = append(out, entry.tx)
	}
	return out
}

func (m *mempool) Len() int { return len(m.byCommitment) }
