package coretypes

// PayloadCodec is the capability interface a concrete block-payload
// representation must satisfy. The core never inspects payload bytes
// directly; it only calls through this interface, dependency-injected
// at construction time (see Design Notes §9 — no runtime reflection,
// no generic trait objects, just an interface value).
type PayloadCodec interface {
	// Encode serializes a transaction list plus arbitrary metadata
	// bytes into payload bytes.
	Encode(txs []Transaction, metadata []byte) (payload []byte, err error)

	// Decode is the inverse of Encode.
	Decode(payload []byte) (txs []Transaction, metadata []byte, err error)

	// VID computes the payload commitment for payload bytes under an
	// erasure code parameterized by the committee size numNodes.
	VID(payload []byte, numNodes uint64) (PayloadCommitment, error)

	// BuilderCommitment computes the external block handle from a
	// payload and its metadata.
	BuilderCommitment(payload, metadata []byte) (BuilderCommitment, error)

	// TransactionsFromMetadata recovers the transaction commitments a
	// DA proposal's metadata actually claims, so a builder state can
	// match its mempool against seen_da.
	TransactionsFromMetadata(metadata []byte) ([]BuilderCommitment, error)
}

// KeyScheme is the capability interface for the builder's signing
// identity. Concrete implementations wrap whatever signature scheme
// consensus and the builder have agreed on.
type KeyScheme interface {
	// Sign produces a signature over msg under the builder's private
	// key.
	Sign(msg []byte) ([]byte, error)

	// SignWith produces a signature over msg under an explicit private
	// key, e.g. one returned by DeriveFromSeed for a one-off bid
	// account rather than the builder's own long-lived identity.
	SignWith(priv, msg []byte) ([]byte, error)

	// Verify checks a signature over msg against a public key.
	Verify(pubKey, msg, sig []byte) bool

	// DeriveFromSeed deterministically derives a (private, public) key
	// pair from a 32-byte seed and an account index, as used to
	// construct BidTx signers from BidConfig.
	DeriveFromSeed(seed [32]byte, index uint64) (priv, pub []byte, err error)

	// PublicKey returns the builder's own public key.
	PublicKey() []byte
}
