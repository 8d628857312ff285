// Package codec provides a reference PayloadCodec. The real erasure-coded
// VID commitment scheme is out of scope for this core (spec §1); this
// implementation stands in for it using the teacher's own wire codec
// (RLP) and hash function (Keccak256) so the rest of the system has a
// concrete, testable codec to build and test against.
package codec

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/marketplace-builder/builder-core/coretypes"
)

// wireTx is the RLP-friendly projection of coretypes.Transaction:
// Arrival and Commitment never touch the wire (Decode recomputes the
// commitment from the payload).
type wireTx struct {
	Payload     []byte
	HasNs       bool
	Namespace   uint64
	Source      uint8
}

type wirePayload struct {
	Txs      []wireTx
	Metadata []byte
}

// RLPCodec implements coretypes.PayloadCodec.
type RLPCodec struct{}

func New() *RLPCodec { return &RLPCodec{} }

func (c *RLPCodec) Encode(txs []coretypes.Transaction, metadata []byte) ([]byte, error) {
	wp := wirePayload{Txs: make([]wireTx, len(txs)), Metadata: metadata}
	for i, tx := range txs {
		wt := wireTx{Payload: tx.Payload, Source: uint8(tx.Source)}
		if tx.Namespace != nil {
			wt.HasNs = true
			wt.Namespace = uint64(*tx.Namespace)
		}
		wp.Txs[i] = wt
	}
	return rlp.EncodeToBytes(&wp)
}

func (c *RLPCodec) Decode(payload []byte) ([]coretypes.Transaction, []byte, error) {
	var wp wirePayload
	if err := rlp.DecodeBytes(payload, &wp); err != nil {
		return nil, nil, err
	}
	txs := make([]coretypes.Transaction, len(wp.Txs))
	for i, wt := range wp.Txs {
		tx := coretypes.Transaction{Payload: wt.Payload, Source: coretypes.TxSource(wt.Source)}
		if wt.HasNs {
			ns := coretypes.NamespaceID(wt.Namespace)
			tx.Namespace = &ns
		}
		tx.Commitment = commitTx(wt.Payload)
		txs[i] = tx
	}
	return txs, wp.Metadata, nil
}

// VID is a placeholder for the real erasure-code commitment: it hashes
// the payload bytes together with the committee size, so distinct
// committees over the same bytes yield distinct commitments (as a real
// VID scheme would).
func (c *RLPCodec) VID(payload []byte, numNodes uint64) (coretypes.PayloadCommitment, error) {
	var nodesBuf [8]byte
	binary.BigEndian.PutUint64(nodesBuf[:], numNodes)
	h := crypto.Keccak256(payload, nodesBuf[:])
	var out coretypes.PayloadCommitment
	copy(out[:], h)
	return out, nil
}

func (c *RLPCodec) BuilderCommitment(payload, metadata []byte) (coretypes.BuilderCommitment, error) {
	h := crypto.Keccak256(payload, metadata)
	var out coretypes.BuilderCommitment
	copy(out[:], h)
	return out, nil
}

func (c *RLPCodec) TransactionsFromMetadata(metadata []byte) ([]coretypes.BuilderCommitment, error) {
	var wp wirePayload
	if err := rlp.DecodeBytes(metadata, &wp); err != nil {
		return nil, err
	}
	out := make([]coretypes.BuilderCommitment, len(wp.Txs))
	for i, wt := range wp.Txs {
		out[i] = commitTx(wt.Payload)
	}
	return out, nil
}

// commitTx is the content-addressed commitment every Transaction
// carries. CommitTransaction exports it for callers (e.g. ingress)
// that need to stamp a freshly submitted transaction before it has
// gone through a codec round trip.
func commitTx(payload []byte) coretypes.BuilderCommitment {
	h := crypto.Keccak256(payload)
	var out coretypes.BuilderCommitment
	copy(out[:], h)
	return out
}

// CommitTransaction is the exported form of commitTx, used by ingress
// to stamp arriving transactions.
func CommitTransaction(payload []byte) coretypes.BuilderCommitment {
	return commitTx(payload)
}
