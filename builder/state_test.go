package builder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketplace-builder/builder-core/coretypes"
	"github.com/marketplace-builder/builder-core/ingress"
	"github.com/marketplace-builder/builder-core/registry"
)

// fakeCodec is a deterministic, allocation-cheap stand-in for the
// real RLP codec: VID/BuilderCommitment are just the concatenated
// transaction payloads, so tests can assert on commitments directly.
type fakeCodec struct{}

func (fakeCodec) Encode(txs []coretypes.Transaction, _ []byte) ([]byte, error) {
	var out []byte
	for _, tx := range txs {
		out = append(out, tx.Payload...)
	}
	return out, nil
}

func (fakeCodec) Decode(payload []byte) ([]coretypes.Transaction, []byte, error) {
	return []coretypes.Transaction{{Payload: payload}}, nil, nil
}

func (fakeCodec) VID(payload []byte, numNodes uint64) (coretypes.PayloadCommitment, error) {
	var out coretypes.PayloadCommitment
	copy(out[:], payload)
	return out, nil
}

func (fakeCodec) BuilderCommitment(payload, _ []byte) (coretypes.BuilderCommitment, error) {
	var out coretypes.BuilderCommitment
	copy(out[:], payload)
	return out, nil
}

func (fakeCodec) TransactionsFromMetadata(_ []byte) ([]coretypes.BuilderCommitment, error) {
	return nil, nil
}

func newTestState(anchor coretypes.Anchor) *State {
	reg := registry.New(ingress.New(nil))
	buses := NewBuses()
	return New(anchor, 4, fakeCodec{}, reg, buses, Config{MaxBlockSize: 1 << 10, BuildTimeout: time.Second, RequestBuffer: 4})
}

func mkTx(payload string) coretypes.Transaction {
	var bc coretypes.BuilderCommitment
	copy(bc[:], payload)
	return coretypes.Transaction{Payload: []byte(payload), Commitment: bc}
}

func TestHandleRequestIgnoresWrongParentOrStaleView(t *testing.T) {
	s := newTestState(coretypes.Anchor{Parent: coretypes.PayloadCommitment{1}, View: 5})
	reply := make(chan coretypes.ResponseMessage, 1)

	s.handleRequest(coretypes.RequestMessage{Parent: coretypes.PayloadCommitment{9}, View: 5, Reply: reply})
	s.handleRequest(coretypes.RequestMessage{Parent: coretypes.PayloadCommitment{1}, View: 4, Reply: reply})

	select {
	case <-reply:
		t.Fatal("request for a foreign parent or a stale view must not be answered")
	default:
	}
}

func TestHandleRequestBuildsNonEmptyBlockAndOpensGraceWindow(t *testing.T) {
	s := newTestState(coretypes.Anchor{Parent: coretypes.PayloadCommitment{1}, View: 0})
	s.mempool.Add(mkTx("abc"))

	reply := make(chan coretypes.ResponseMessage, 1)
	s.handleRequest(coretypes.RequestMessage{Parent: coretypes.PayloadCommitment{1}, View: 0, Reply: reply})

	resp := <-reply
	assert.EqualValues(t, 3, resp.BlockSize)
	assert.Equal(t, coretypes.View(AllowEmptyBlockPeriod), s.allowEmptyUntil)
}

func TestHandleRequestRefusesEmptyBlockOutsideGraceWindow(t *testing.T) {
	s := newTestState(coretypes.Anchor{Parent: coretypes.PayloadCommitment{1}, View: 0})
	// No grace window has ever opened (allowEmptyUntil == 0), so a
	// request strictly beyond the anchor view with an empty mempool
	// must receive no reply at all (spec P4).
	reply := make(chan coretypes.ResponseMessage, 1)
	s.handleRequest(coretypes.RequestMessage{Parent: coretypes.PayloadCommitment{1}, View: 1, Reply: reply})

	select {
	case <-reply:
		t.Fatal("empty block outside the grace window must not be answered")
	default:
	}
}

func TestHandleRequestAllowsEmptyBlockInsideGraceWindow(t *testing.T) {
	s := newTestState(coretypes.Anchor{Parent: coretypes.PayloadCommitment{1}, View: 0})
	s.allowEmptyUntil = 2

	reply := make(chan coretypes.ResponseMessage, 1)
	s.handleRequest(coretypes.RequestMessage{Parent: coretypes.PayloadCommitment{1}, View: 2, Reply: reply})

	resp := <-reply
	assert.EqualValues(t, 0, resp.BlockSize)
}

func TestTryMatchSpawnsChildOnceOnMatchingDAAndQC(t *testing.T) {
	s := newTestState(coretypes.Anchor{Parent: coretypes.PayloadCommitment{1}, View: 0})
	s.mempool.Add(mkTx("keep"))
	s.mempool.Add(mkTx("take"))

	da := coretypes.DaProposalInfo{
		View:              1,
		TxnCommitments:    []coretypes.BuilderCommitment{mkTx("take").Commitment},
		NumStorageNodes:   4,
		BuilderCommitment: coretypes.BuilderCommitment{0xAA},
	}
	qc := coretypes.QuorumProposalInfo{View: 1, BlockHeader: []byte{0xAA}, BuilderCommitment: coretypes.BuilderCommitment{0xAA}}

	s.handleDA(da)
	s.handleQC(qc)

	require.Equal(t, PhaseChildSpawned, s.phase)
	require.NotNil(t, s.childAnchor)
	assert.Equal(t, coretypes.View(1), s.childAnchor.View)

	childCh, ok := s.reg.ExactMatch(s.childAnchor.Parent, s.childAnchor.View)
	require.True(t, ok)
	assert.NotNil(t, childCh)

	// I5: a second identical DA/QC delivery must not spawn a second child.
	s.handleDA(da)
	s.handleQC(qc)
	assert.Equal(t, PhaseChildSpawned, s.phase)
}

func TestHandleTxExcludesAlreadyClaimedByFutureDA(t *testing.T) {
	s := newTestState(coretypes.Anchor{Parent: coretypes.PayloadCommitment{1}, View: 0})
	claimed := mkTx("claimed")
	s.seenDA[1] = coretypes.DaProposalInfo{View: 1, TxnCommitments: []coretypes.BuilderCommitment{claimed.Commitment}}

	s.handleTx(claimed)
	assert.Equal(t, 0, s.mempool.Len(), "a transaction already claimed by a future DA proposal must not re-enter the mempool")
}

func TestHandleDecideTerminatesAtOrPastAnchorView(t *testing.T) {
	s := newTestState(coretypes.Anchor{Parent: coretypes.PayloadCommitment{1}, View: 5})
	assert.False(t, s.handleDecide(coretypes.DecideEvent{View: 4}))
	assert.True(t, s.handleDecide(coretypes.DecideEvent{View: 5}))
	assert.True(t, s.handleDecide(coretypes.DecideEvent{View: 6}))
}
