// Package keys provides a reference KeyScheme backed by the teacher's
// own secp256k1 ECDSA stack (github.com/ethereum/go-ethereum/crypto),
// the same signature primitive consensus and the builder already
// share in the source system this core is modeled on.
package keys

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/marketplace-builder/builder-core/coretypes"
)

// ECDSAScheme implements coretypes.KeyScheme.
type ECDSAScheme struct {
	priv *ecdsa.PrivateKey
	pub  []byte
}

var _ coretypes.KeyScheme = (*ECDSAScheme)(nil)

// New wraps an existing private key, e.g. loaded from the builder's
// key file at startup.
func New(priv *ecdsa.PrivateKey) *ECDSAScheme {
	return &ECDSAScheme{priv: priv, pub: crypto.FromECDSAPub(&priv.PublicKey)}
}

// Generate creates a fresh random key pair; used by tests and local
// development.
func Generate() (*ECDSAScheme, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// Load reconstructs a key pair from a raw secp256k1 private key, e.g.
// the bytes of the builder's on-disk key file.
func Load(raw []byte) (*ECDSAScheme, error) {
	priv, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("keys: load private key: %w", err)
	}
	return New(priv), nil
}

func (s *ECDSAScheme) PublicKey() []byte { return s.pub }

// Sign hashes msg with Keccak256 and produces a recoverable secp256k1
// signature over the digest, matching the teacher's transaction
// signing convention.
func (s *ECDSAScheme) Sign(msg []byte) ([]byte, error) {
	digest := crypto.Keccak256(msg)
	return crypto.Sign(digest, s.priv)
}

// SignWith signs msg with an explicit private key (raw bytes, as
// returned by DeriveFromSeed) instead of the scheme's own identity.
func (s *ECDSAScheme) SignWith(priv, msg []byte) ([]byte, error) {
	key, err := crypto.ToECDSA(priv)
	if err != nil {
		return nil, fmt.Errorf("keys: sign with derived key: %w", err)
	}
	digest := crypto.Keccak256(msg)
	return crypto.Sign(digest, key)
}

// Verify recovers the signer's public key from sig and compares it
// against pubKey; it tolerates both the 65-byte recoverable form and
// a bare 64-byte (r||s) signature by falling back to
// crypto.VerifySignature for the latter.
func (s *ECDSAScheme) Verify(pubKey, msg, sig []byte) bool {
	digest := crypto.Keccak256(msg)
	if len(sig) == 65 {
		recovered, err := crypto.SigToPub(digest, sig)
		if err != nil {
			return false
		}
		return string(crypto.FromECDSAPub(recovered)) == string(pubKey)
	}
	return crypto.VerifySignature(pubKey, digest, sig)
}

// DeriveFromSeed deterministically derives a key pair for a given
// account index from a 32-byte seed, grounded on the spec's BidConfig
// shape (account_seed + account_index).
func (s *ECDSAScheme) DeriveFromSeed(seed [32]byte, index uint64) ([]byte, []byte, error) {
	material := crypto.Keccak256(seed[:], uint64ToBytes(index))
	priv, err := crypto.ToECDSA(material)
	if err != nil {
		return nil, nil, fmt.Errorf("keys: derive from seed: %w", err)
	}
	return crypto.FromECDSA(priv), crypto.FromECDSAPub(&priv.PublicKey), nil
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[7-i] = byte(v)
		v >>= 8
	}
	return b
}
