package eventdriver

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/marketplace-builder/builder-core/builder"
	"github.com/marketplace-builder/builder-core/coretypes"
	"github.com/marketplace-builder/builder-core/ingress"
	"github.com/marketplace-builder/builder-core/registry"
)

var (
	metricReconnects  = metrics.NewRegisteredCounter("builder/eventdriver/reconnects", nil)
	metricDropped     = metrics.NewRegisteredCounter("builder/eventdriver/dropped_bad_signature", nil)
	initialBackoff    = 200 * time.Millisecond
	maxBackoff        = 30 * time.Second
)

// Driver drains a consensus event Source and fans its events out onto
// the registry's transaction bus and the shared builder.Buses, driving
// registry garbage collection on Decide (spec §4.4).
type Driver struct {
	source   Source
	buses    *builder.Buses
	reg      *registry.Registry
	verifier coretypes.KeyScheme
	filter   *ingress.Filter

	onViewFinished func(coretypes.ViewFinishedEvent)
}

// New constructs a Driver. verifier may be nil to skip leader signature
// checks entirely (e.g. in tests, or a deployment that trusts its
// transport layer). onViewFinished is optional and is handed every
// ViewFinished event, e.g. to drive the auction package's bid timing.
func New(source Source, buses *builder.Buses, reg *registry.Registry, verifier coretypes.KeyScheme, filter *ingress.Filter, onViewFinished func(coretypes.ViewFinishedEvent)) *Driver {
	return &Driver{source: source, buses: buses, reg: reg, verifier: verifier, filter: filter, onViewFinished: onViewFinished}
}

// Run drains the event source until ctx is cancelled. When the stream
// ends it resubscribes at once; while Subscribe keeps failing it
// retries with exponential backoff capped at maxBackoff.
func (d *Driver) Run(ctx context.Context) {
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		ch, err := d.source.Subscribe(ctx)
		if err != nil {
			log.Warn("eventdriver: subscribe failed, backing off", "err", err, "backoff", backoff)
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = initialBackoff
		d.drain(ctx, ch)
		if ctx.Err() != nil {
			return
		}
		metricReconnects.Inc(1)
		log.Warn("eventdriver: event stream ended, reconnecting")
	}
}

func (d *Driver) drain(ctx context.Context, ch <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			d.handle(ev)
		}
	}
}

func (d *Driver) handle(ev Event) {
	if len(ev.Signature) > 0 && d.verifier != nil {
		if !d.verifier.Verify(ev.LeaderPubKey, ev.SignedBytes, ev.Signature) {
			log.Warn("eventdriver: dropping event with invalid leader signature", "kind", ev.Kind)
			metricDropped.Inc(1)
			return
		}
	}

	switch ev.Kind {
	case KindTransactions:
		txs := d.filter.Accept(ev.Transactions, ev.Namespace, coretypes.TxSourceGossip)
		d.reg.IngestTransactions(txs)
	case KindDaProposal:
		d.buses.DA.Send(ev.DaProposal)
	case KindQuorumProposal:
		d.buses.QC.Send(ev.QuorumProposal)
	case KindDecide:
		d.buses.Decide.Send(ev.Decide)
		d.reg.Collect(ev.Decide.View)
	case KindViewFinished:
		if d.onViewFinished != nil {
			d.onViewFinished(ev.ViewFinished)
		}
	default:
		log.Warn("eventdriver: unknown event kind", "kind", ev.Kind)
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
