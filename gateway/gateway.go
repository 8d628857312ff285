// Package gateway implements the request/response protocol between
// consensus and the builder core (spec §4.2): available_blocks,
// claim_block, builder_address and submit_txns. Grounded on the
// teacher's miner.Payload background-build/lock/cond pattern
// (payload_building.go) for the bounded, two-phase wait.
package gateway

import (
	"encoding/binary"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/marketplace-builder/builder-core/coretypes"
	"github.com/marketplace-builder/builder-core/registry"
)

// DefaultMaxAPIWaitingTime is spec §6's max_api_waiting_time tunable.
const DefaultMaxAPIWaitingTime = 100 * time.Millisecond

// AvailableBlock is the signed block-info summary available_blocks
// returns (spec §6 HTTP surface, §4.2 step 7).
type AvailableBlock struct {
	Commitment coretypes.BuilderCommitment `json:"block_hash"`
	BlockSize  uint64                      `json:"block_size"`
	OfferedFee uint64                      `json:"offered_fee"`
	Signature  []byte                      `json:"signature"`
	PubKey     []byte                      `json:"sender"`
}

// ClaimedBlock is the full block data claim_block returns.
type ClaimedBlock struct {
	Payload             []byte `json:"block_payload"`
	Metadata             []byte `json:"metadata"`
	Fee                  uint64 `json:"fee"`
	FeeSignature         []byte `json:"fee_signature"`
	CommitmentSignature  []byte `json:"commitment_signature"`
	PubKey               []byte `json:"sender"`
}

// Gateway is the request gateway described in spec §4.2.
type Gateway struct {
	reg     *registry.Registry
	keys    coretypes.KeyScheme
	maxWait time.Duration
}

// New constructs a Gateway. A non-positive maxWait falls back to
// DefaultMaxAPIWaitingTime.
func New(reg *registry.Registry, ks coretypes.KeyScheme, maxWait time.Duration) *Gateway {
	if maxWait <= 0 {
		maxWait = DefaultMaxAPIWaitingTime
	}
	return &Gateway{reg: reg, keys: ks, maxWait: maxWait}
}

// BuilderAddress is the builder_address accessor.
func (g *Gateway) BuilderAddress() []byte { return g.keys.PublicKey() }

// SubmitTxns delegates to the registry (spec §4.2 submit_txns).
func (g *Gateway) SubmitTxns(raw [][]byte, ns *coretypes.NamespaceID) []coretypes.BuilderCommitment {
	return g.reg.SubmitClientTxns(raw, ns)
}

// AvailableBlocks implements spec §4.2 available_blocks, steps 1-7.
// Per spec §6 ("returns a JSON array of at most one block-info") and
// §4.2 step 7 ("a single-element list"), the result is always either a
// one-element slice or an error — never a bare object.
func (g *Gateway) AvailableBlocks(parent coretypes.PayloadCommitment, view coretypes.View, senderPub, signature []byte) ([]*AvailableBlock, error) {
	if !g.keys.Verify(senderPub, parent[:], signature) {
		return nil, coretypes.ErrInvalidSignature
	}

	lastGC := g.reg.LastGCView()
	highest := g.reg.Highest()
	if view < lastGC && highest.View != lastGC {
		return nil, coretypes.ErrViewAlreadyDecided
	}

	replyCh := make(chan coretypes.ResponseMessage, 1)
	req := coretypes.RequestMessage{Parent: parent, View: view, Reply: replyCh}

	deadline := time.NewTimer(g.maxWait)
	defer deadline.Stop()

	dispatched := g.dispatchWithExactMatchPoll(parent, view, req, deadline.C)
	if !dispatched {
		if ch, _, ok := g.reg.Fallback(); ok {
			trySend(ch, req)
			dispatched = true
		}
	}
	if !dispatched {
		return g.signAvailable(coretypes.ResponseMessage{}, false, parent, view)
	}

	select {
	case resp := <-replyCh:
		return g.signAvailable(resp, true, parent, view)
	case <-deadline.C:
		return g.signAvailable(coretypes.ResponseMessage{}, false, parent, view)
	}
}

// dispatchWithExactMatchPoll implements the first half of the
// deadline: poll every maxWait/10 for an exact-match builder state;
// stop and dispatch on the first match, or give up once the half
// deadline (or the full deadline) elapses.
func (g *Gateway) dispatchWithExactMatchPoll(parent coretypes.PayloadCommitment, view coretypes.View, req coretypes.RequestMessage, fullDeadline <-chan time.Time) bool {
	half := time.NewTimer(g.maxWait / 2)
	defer half.Stop()
	poll := time.NewTicker(g.maxWait / 10)
	defer poll.Stop()

	for {
		select {
		case <-half.C:
			return false
		case <-fullDeadline:
			return false
		case <-poll.C:
			if ch, ok := g.reg.ExactMatch(parent, view); ok {
				trySend(ch, req)
				return true
			}
		}
	}
}

// signAvailable either signs a live response or, when ok is false,
// consults last_built before surfacing NoBlocksAvailable (spec §4.2
// step 6). On success it returns the mandated single-element list.
func (g *Gateway) signAvailable(resp coretypes.ResponseMessage, ok bool, parent coretypes.PayloadCommitment, view coretypes.View) ([]*AvailableBlock, error) {
	if !ok {
		cached, found := g.reg.LastBuilt(coretypes.Anchor{Parent: parent, View: view})
		if !found {
			return nil, coretypes.ErrNoBlocksAvailable
		}
		resp = cached
	}
	sig, err := g.keys.Sign(summaryBytes(resp))
	if err != nil {
		return nil, err
	}
	return []*AvailableBlock{{
		Commitment: resp.Commitment,
		BlockSize:  resp.BlockSize,
		OfferedFee: resp.OfferedFee,
		Signature:  sig,
		PubKey:     g.keys.PublicKey(),
	}}, nil
}

// ClaimBlock implements spec §4.2 claim_block.
func (g *Gateway) ClaimBlock(bc coretypes.BuilderCommitment, view coretypes.View, senderPub, signature []byte) (*ClaimedBlock, error) {
	if !g.keys.Verify(senderPub, bc[:], signature) {
		return nil, coretypes.ErrInvalidSignature
	}
	info, ok := g.reg.BuiltBlock(bc, view)
	if !ok {
		return nil, coretypes.ErrBlockNotFound
	}
	feeSig, err := g.keys.Sign(feeBytes(info.OfferedFee))
	if err != nil {
		return nil, err
	}
	commitSig, err := g.keys.Sign(bc[:])
	if err != nil {
		return nil, err
	}
	return &ClaimedBlock{
		Payload:             info.Payload,
		Metadata:            info.Metadata,
		Fee:                 info.OfferedFee,
		FeeSignature:        feeSig,
		CommitmentSignature: commitSig,
		PubKey:              g.keys.PublicKey(),
	}, nil
}

func trySend(ch chan<- coretypes.RequestMessage, req coretypes.RequestMessage) {
	select {
	case ch <- req:
	default:
		log.Warn("gateway: builder state request channel full, dropping request", "parent", req.Parent, "view", req.View)
	}
}

// summaryBytes serializes the (block_size, offered_fee, BC) tuple the
// spec requires the builder to sign over for available_blocks.
func summaryBytes(resp coretypes.ResponseMessage) []byte {
	buf := make([]byte, 0, 32+16)
	buf = append(buf, resp.Commitment[:]...)
	buf = binary.BigEndian.AppendUint64(buf, resp.BlockSize)
	buf = binary.BigEndian.AppendUint64(buf, resp.OfferedFee)
	return buf
}

func feeBytes(fee uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, fee)
	return buf
}
