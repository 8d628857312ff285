// Package eventdriver subscribes to the consensus event stream and
// demuxes it onto the builder's internal buses (spec §4.4). Grounded
// on the teacher's miner.worker event loop (the chainHeadCh/txsCh
// fan-in select loop in miner/worker.go) for the "single goroutine
// draining one upstream channel, dispatching by kind" shape.
package eventdriver

import (
	"context"

	"github.com/marketplace-builder/builder-core/coretypes"
)

// Kind tags which union member of Event is populated.
type Kind int

const (
	KindTransactions Kind = iota
	KindDaProposal
	KindQuorumProposal
	KindDecide
	KindViewFinished
)

// Event is one item off the consensus event stream. Exactly one of the
// payload fields is meaningful, selected by Kind. LeaderPubKey/
// Signature/SignedBytes are populated for events the leader signs
// (DaProposal, QuorumProposal); an empty Signature skips verification,
// which Source implementations should only do for events consensus
// itself does not sign (e.g. locally-observed Decide).
type Event struct {
	Kind Kind

	Transactions   [][]byte
	Namespace      *coretypes.NamespaceID
	DaProposal     coretypes.DaProposalInfo
	QuorumProposal coretypes.QuorumProposalInfo
	Decide         coretypes.DecideEvent
	ViewFinished   coretypes.ViewFinishedEvent

	LeaderPubKey []byte
	Signature    []byte
	SignedBytes  []byte
}

// Source is the consensus event stream the driver consumes. A real
// implementation wraps the HotShot event API transport; tests and
// local development can use a bare Go channel.
type Source interface {
	// Subscribe returns a channel of events for the lifetime of ctx.
	// The channel is closed when the stream ends, at which point the
	// driver reconnects by calling Subscribe again.
	Subscribe(ctx context.Context) (<-chan Event, error)
}
