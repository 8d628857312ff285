// Package registry implements the global, process-wide registry of
// live builder states: the one genuinely shared mutable structure in
// the whole core (spec §4.1). Every other path either does a brief
// point lookup or a brief insert, so a single reader/writer lock with
// short critical sections is the right tool — not a finer-grained
// scheme, and never a lock held across a channel send or sleep.
package registry

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"

	"github.com/marketplace-builder/builder-core/coretypes"
	"github.com/marketplace-builder/builder-core/ingress"
)

type builtKey struct {
	BC   coretypes.BuilderCommitment
	View coretypes.View
}

// Registry is the shared global registry described in spec §4.1. The
// zero value is not ready for use; construct with New.
type Registry struct {
	mu sync.RWMutex

	states    map[coretypes.Anchor]chan<- coretypes.RequestMessage
	built     map[builtKey]coretypes.BlockInfo
	lastBuilt map[coretypes.Anchor]coretypes.ResponseMessage
	highest   coretypes.Anchor
	lastGC    coretypes.View

	txFeed event.Feed
	filter *ingress.Filter

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// New constructs an empty registry. filter may be nil, in which case
// submitted transactions are never dropped for namespace reasons.
func New(filter *ingress.Filter) *Registry {
	return &Registry{
		states:    make(map[coretypes.Anchor]chan<- coretypes.RequestMessage),
		built:     make(map[builtKey]coretypes.BlockInfo),
		lastBuilt: make(map[coretypes.Anchor]coretypes.ResponseMessage),
		filter:    filter,
	}
}

// Register inserts sender under anchor (I1: at most one live state per
// anchor is the caller's responsibility — a conflicting registration
// here is a programmer error and is logged and overwritten; the
// orphaned state's sender is simply replaced, so its channel will
// drain to nobody and it terminates on its own idle tick). Registering
// at or below the GC watermark is refused (I3), except for the very
// first registration the registry ever sees (bootstrap).
func (r *Registry) Register(anchor coretypes.Anchor, sender chan<- coretypes.RequestMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.states) > 0 && anchor.View <= r.lastGC {
		log.Warn("registry: refusing registration at or below gc watermark", "anchor", anchor, "lastGC", r.lastGC)
		return
	}
	if _, exists := r.states[anchor]; exists {
		log.Warn("registry: overwriting existing builder state registration", "anchor", anchor)
	}
	r.states[anchor] = sender
	if len(r.states) == 1 || anchor.View > r.highest.View {
		r.highest = anchor
	}
	metricLiveStates.Update(int64(len(r.states)))
	log.Debug("registry: registered builder state", "anchor", anchor, "highest", r.highest)
}

// ExactMatch returns the sender registered for exactly (parent, view).
func (r *Registry) ExactMatch(parent coretypes.PayloadCommitment, view coretypes.View) (chan<- coretypes.RequestMessage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.states[coretypes.Anchor{Parent: parent, View: view}]
	return ch, ok
}

// Fallback returns the sender for the highest-view known state; this
// is the rule that lets the builder survive consensus racing ahead of
// the builder's knowledge of which parent was actually adopted (spec
// §4.1 Rationale, §9 "Highest view fallback").
func (r *Registry) Fallback() (chan<- coretypes.RequestMessage, coretypes.Anchor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.states) == 0 {
		return nil, coretypes.Anchor{}, false
	}
	ch, ok := r.states[r.highest]
	return ch, r.highest, ok
}

// ChannelFor implements the full channel_for contract: exact match
// first, then fallback to highest, failing only when the registry has
// never had a single state registered.
func (r *Registry) ChannelFor(parent coretypes.PayloadCommitment, view coretypes.View) (chan<- coretypes.RequestMessage, error) {
	if ch, ok := r.ExactMatch(parent, view); ok {
		return ch, nil
	}
	if ch, _, ok := r.Fallback(); ok {
		return ch, nil
	}
	return nil, coretypes.ErrNoBuilderState
}

// RecordBuilt populates built[(BC,V)] (insert-if-absent, so an older
// record always wins) and last_built[anchor].
func (r *Registry) RecordBuilt(info coretypes.BlockInfo, anchor coretypes.Anchor, resp coretypes.ResponseMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := builtKey{BC: info.Commitment, View: anchor.View}
	if _, exists := r.built[key]; !exists {
		r.built[key] = info
	}
	r.lastBuilt[anchor] = resp
	metricBuiltTotal.Inc(1)
}

// LastBuilt returns the cached response for anchor, if any.
func (r *Registry) LastBuilt(anchor coretypes.Anchor) (coretypes.ResponseMessage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	resp, ok := r.lastBuilt[anchor]
	return resp, ok
}

// BuiltBlock returns the previously built block for (bc, view).
func (r *Registry) BuiltBlock(bc coretypes.BuilderCommitment, view coretypes.View) (coretypes.BlockInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.built[builtKey{BC: bc, View: view}]
	return info, ok
}

// Highest returns the current highest-view anchor (used by the
// gateway's ViewAlreadyDecided check).
func (r *Registry) Highest() coretypes.Anchor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.highest
}

// LastGCView returns the current GC watermark: views at or below it
// are considered collected.
func (r *Registry) LastGCView() coretypes.View {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastGC
}

// Collect implements the decide-driven GC protocol: cutoff :=
// min(highest.V, D); retain only states with V >= cutoff; set
// last_gc_view := max(cutoff-1, 0). built/last_built are intentionally
// left untouched here (see Sweep).
func (r *Registry) Collect(decideView coretypes.View) coretypes.View {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := decideView
	if r.highest.View < cutoff {
		cutoff = r.highest.View
	}
	for anchor := range r.states {
		if anchor.View < cutoff {
			delete(r.states, anchor)
		}
	}
	if cutoff == 0 {
		r.lastGC = 0
	} else {
		r.lastGC = cutoff - 1
	}
	metricLiveStates.Update(int64(len(r.states)))
	metricGCWatermark.Update(int64(r.lastGC))
	log.Info("registry: collected", "decideView", decideView, "cutoff", cutoff, "lastGC", r.lastGC, "liveStates", len(r.states))
	return cutoff
}

// SubscribeTx registers ch on the transaction broadcast bus; every
// live builder state holds the receiver end of one such subscription
// (I4: dropping a state drops its receiver, which applies no
// back-pressure on peers).
func (r *Registry) SubscribeTx(ch chan<- coretypes.Transaction) event.Subscription {
	return r.txFeed.Subscribe(ch)
}

// SubmitClientTxns filters raw transaction bytes by namespace, stamps
// each with an arrival instant and TxSourceExternal, publishes them on
// the tx broadcast bus and returns their commitments.
func (r *Registry) SubmitClientTxns(raw [][]byte, ns *coretypes.NamespaceID) []coretypes.BuilderCommitment {
	txs := r.filter.Accept(raw, ns, coretypes.TxSourceExternal)
	commitments := make([]coretypes.BuilderCommitment, len(txs))
	for i, tx := range txs {
		r.txFeed.Send(tx)
		commitments[i] = tx.Commitment
	}
	return commitments
}

// IngestTransactions publishes already-filtered, already-stamped
// transactions onto the broadcast bus. Used by the event driver for
// consensus-gossiped transactions, which go through ingress.Filter
// themselves (with TxSourceGossip) before reaching the registry, rather
// than through SubmitClientTxns.
func (r *Registry) IngestTransactions(txs []coretypes.Transaction) {
	for _, tx := range txs {
		r.txFeed.Send(tx)
	}
}

// StartSweep launches the background goroutine that bounds the
// otherwise-unpruned last_built/built caches (spec §9 Open Question:
// "overlap of last_built cache and GC"). It removes last_built entries
// whose anchor view sits strictly below last_gc_view, and built
// entries whose view does, on every tick. This is a resource-leak
// concern only; Collect alone is sufficient for correctness (P3).
func (r *Registry) StartSweep(interval time.Duration) {
	r.sweepStop = make(chan struct{})
	r.sweepDone = make(chan struct{})
	go func() {
		defer close(r.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.sweepOnce()
			case <-r.sweepStop:
				return
			}
		}
	}()
}

// StopSweep halts the background sweep goroutine and waits for it to
// exit; safe to call at most once.
func (r *Registry) StopSweep() {
	if r.sweepStop == nil {
		return
	}
	close(r.sweepStop)
	<-r.sweepDone
}

func (r *Registry) sweepOnce() {
	r.mu.Lock()
	defer r.mu.Unlock()

	watermark := r.lastGC
	removed := 0
	for anchor := range r.lastBuilt {
		if anchor.View < watermark {
			delete(r.lastBuilt, anchor)
			removed++
		}
	}
	for key := range r.built {
		if key.View < watermark {
			delete(r.built, key)
			removed++
		}
	}
	if removed > 0 {
		log.Debug("registry: swept stale cache entries", "removed", removed, "watermark", watermark)
	}
	metricSweptTotal.Inc(int64(removed))
}
