package eventdriver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketplace-builder/builder-core/builder"
	"github.com/marketplace-builder/builder-core/coretypes"
	"github.com/marketplace-builder/builder-core/ingress"
	"github.com/marketplace-builder/builder-core/keys"
	"github.com/marketplace-builder/builder-core/registry"
)

type chanSource struct {
	ch chan Event
}

func (s *chanSource) Subscribe(ctx context.Context) (<-chan Event, error) {
	return s.ch, nil
}

func TestHandleDecidePublishesAndCollects(t *testing.T) {
	reg := registry.New(ingress.New(nil))
	reg.Register(coretypes.Anchor{View: 0}, make(chan coretypes.RequestMessage, 1))
	reg.Register(coretypes.Anchor{View: 5}, make(chan coretypes.RequestMessage, 1))
	buses := builder.NewBuses()

	decCh := make(chan coretypes.DecideEvent, 1)
	buses.Decide.Subscribe(decCh)

	d := New(&chanSource{}, buses, reg, nil, ingress.New(nil), nil)
	d.handle(Event{Kind: KindDecide, Decide: coretypes.DecideEvent{View: 5}})

	select {
	case ev := <-decCh:
		assert.Equal(t, coretypes.View(5), ev.View)
	case <-time.After(time.Second):
		t.Fatal("decide was not fanned out onto the bus")
	}

	_, ok := reg.ExactMatch(coretypes.PayloadCommitment{}, 0)
	assert.False(t, ok, "Collect should have pruned the stale state")
}

func TestHandleDropsEventWithInvalidLeaderSignature(t *testing.T) {
	reg := registry.New(ingress.New(nil))
	buses := builder.NewBuses()
	daCh := make(chan coretypes.DaProposalInfo, 1)
	buses.DA.Subscribe(daCh)

	ks, err := keys.Generate()
	require.NoError(t, err)

	d := New(&chanSource{}, buses, reg, ks, ingress.New(nil), nil)
	d.handle(Event{
		Kind:         KindDaProposal,
		DaProposal:   coretypes.DaProposalInfo{View: 1},
		LeaderPubKey: ks.PublicKey(),
		SignedBytes:  []byte("expected"),
		Signature:    []byte("not-a-real-signature-at-all!!!!"),
	})

	select {
	case <-daCh:
		t.Fatal("an invalid signature must drop the event before it reaches the bus")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandleForwardsEventWithValidLeaderSignature(t *testing.T) {
	reg := registry.New(ingress.New(nil))
	buses := builder.NewBuses()
	daCh := make(chan coretypes.DaProposalInfo, 1)
	buses.DA.Subscribe(daCh)

	ks, err := keys.Generate()
	require.NoError(t, err)
	signedBytes := []byte("da-proposal-digest")
	sig, err := ks.Sign(signedBytes)
	require.NoError(t, err)

	d := New(&chanSource{}, buses, reg, ks, ingress.New(nil), nil)
	d.handle(Event{
		Kind:         KindDaProposal,
		DaProposal:   coretypes.DaProposalInfo{View: 1},
		LeaderPubKey: ks.PublicKey(),
		SignedBytes:  signedBytes,
		Signature:    sig,
	})

	select {
	case info := <-daCh:
		assert.Equal(t, coretypes.View(1), info.View)
	case <-time.After(time.Second):
		t.Fatal("a validly signed event must reach the bus")
	}
}

func TestHandleTransactionsIngestsThroughFilter(t *testing.T) {
	reg := registry.New(ingress.New(nil))
	txCh := make(chan coretypes.Transaction, 1)
	reg.SubscribeTx(txCh)
	buses := builder.NewBuses()

	d := New(&chanSource{}, buses, reg, nil, ingress.New(nil), nil)
	d.handle(Event{Kind: KindTransactions, Transactions: [][]byte{[]byte("gossiped")}})

	select {
	case tx := <-txCh:
		assert.Equal(t, coretypes.TxSourceGossip, tx.Source)
	case <-time.After(time.Second):
		t.Fatal("gossiped transaction never reached the tx bus")
	}
}
