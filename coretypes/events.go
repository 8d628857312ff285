package coretypes

import "github.com/holiman/uint256"

// DaProposalInfo is the distilled content of a leader's data-availability
// proposal for a view: which transaction commitments it claims, the
// committee size the VID scheme was parameterized with, and the
// builder commitment it references.
type DaProposalInfo struct {
	View              View
	TxnCommitments    []BuilderCommitment
	NumStorageNodes   uint64
	BuilderCommitment BuilderCommitment
}

// QuorumProposalInfo is the distilled content of a leader's quorum
// (block header) proposal for a view.
type QuorumProposalInfo struct {
	View              View
	BlockHeader       []byte
	BuilderCommitment BuilderCommitment
}

// DecideEvent reports the view consensus has finalized up to.
type DecideEvent struct {
	View View
}

// TransactionsEvent carries a batch of transactions observed by the
// event driver, either from direct submission or consensus gossip.
type TransactionsEvent struct {
	Txs []Transaction
}

// ViewFinishedEvent fires once per view as consensus moves on; it
// drives the auction tail's forward-looking bid.
type ViewFinishedEvent struct {
	View View
}

// BidConfig is the static configuration the auction tail signs bids
// with, loaded once at startup from the JSON bid config file (see
// spec §6).
type BidConfig struct {
	AccountSeed  [32]byte     `json:"account_seed"`
	AccountIndex uint64       `json:"account_index"`
	BidAmount    *uint256.Int `json:"bid_amount"`
}

// BidTx is the transaction submitted to the out-of-band solver
// endpoint, targeting a view three ahead of the ViewFinished that
// produced it.
type BidTx struct {
	Account   string       `json:"account"`
	View      View         `json:"view"`
	Namespace NamespaceID  `json:"namespace"`
	Amount    *uint256.Int `json:"amount"`
	Signature []byte       `json:"signature"`
}
