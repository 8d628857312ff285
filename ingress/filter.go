// Package ingress is the single place transaction arrival is stamped
// and namespace-filtered, shared by both the client submission path
// (registry.SubmitClientTxns) and the consensus-gossip path
// (eventdriver's Transactions handling) so the two never drift apart.
// Grounded on the teacher's preconf.TxPoolConfig predicate-filtering
// style (IsPreconfTx / IsPreconfTxFrom).
package ingress

import (
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/marketplace-builder/builder-core/codec"
	"github.com/marketplace-builder/builder-core/coretypes"
)

// Filter applies an optional single-namespace allowlist (spec §1
// Non-goals: "multi-tenant isolation beyond a single optional
// namespace filter").
type Filter struct {
	namespace *coretypes.NamespaceID
}

// New constructs a Filter. A nil namespace accepts every transaction.
func New(namespace *coretypes.NamespaceID) *Filter {
	return &Filter{namespace: namespace}
}

// Accept stamps each raw transaction with arrival time, source,
// commitment and namespace (the caller-supplied override, or the
// filter's configured namespace when override is nil). When a
// namespace is configured, transactions whose override differs from
// it are dropped.
func (f *Filter) Accept(raw [][]byte, override *coretypes.NamespaceID, source coretypes.TxSource) []coretypes.Transaction {
	var configured *coretypes.NamespaceID
	if f != nil {
		configured = f.namespace
	}

	now := time.Now()
	out := make([]coretypes.Transaction, 0, len(raw))
	for _, payload := range raw {
		ns := override
		if ns == nil {
			ns = configured
		}
		if configured != nil && ns != nil && *ns != *configured {
			log.Trace("ingress: dropping transaction outside configured namespace", "ns", *ns, "want", *configured)
			continue
		}
		out = append(out, coretypes.Transaction{
			Payload:    payload,
			Namespace:  ns,
			Source:     source,
			Commitment: codec.CommitTransaction(payload),
			Arrival:    now,
		})
	}
	return out
}
