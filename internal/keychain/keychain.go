// Package keychain implements the RIFT key store: a table from KeyID to
// (algorithm, secret), and fingerprint compute/verify over the security
// envelope fields (spec §4.1). Grounded on the teacher's hashed-secret
// challenge/response idiom in ingest/auth.go (sentinel errors, a small
// fixed set of supported digest algorithms, secret-then-payload hashing).
package keychain

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"

	"github.com/rift/core/internal/rift"
)

// Algorithm identifies a fingerprint digest. SHA256 is the only algorithm
// spec §4.1 requires implementations to support; others are accepted as
// configuration but rejected at use.
type Algorithm uint8

const (
	AlgorithmNone Algorithm = iota
	AlgorithmSHA256
)

var (
	ErrUnknownKeyID      = errors.New("keychain: unknown key id")
	ErrUnsupportedAlgorithm = errors.New("keychain: unsupported fingerprint algorithm")
)

// Key is one entry of the configured key table (spec §6's "global
// constants include a list of authentication keys").
type Key struct {
	ID        rift.KeyID
	Algorithm Algorithm
	Secret    []byte
	// PrivateSecret, when set, is used instead of Secret for fingerprints
	// this node computes (as opposed to validates), mirroring spec §6's
	// optional private_secret per key.
	PrivateSecret []byte
}

func (k Key) secretFor(sealing bool) []byte {
	if sealing && len(k.PrivateSecret) > 0 {
		return k.PrivateSecret
	}
	return k.Secret
}

// Store is a node's key-id -> Key table.
type Store struct {
	keys map[uint32]Key
}

// NewStore builds a Store from a list of keys.
func NewStore(keys []Key) *Store {
	s := &Store{keys: make(map[uint32]Key, len(keys))}
	for _, k := range keys {
		s.keys[k.ID.Value()] = k
	}
	return s
}

// Lookup returns the Key configured for id, if any.
func (s *Store) Lookup(id rift.KeyID) (Key, bool) {
	if s == nil || !id.Valid() {
		return Key{}, false
	}
	k, ok := s.keys[id.Value()]
	return k, ok
}

// ComputeFingerprint implements spec §4.1's compute_fingerprint: concatenate
// the key's secret then each payload slice in order and apply the key's
// digest. KeyID=Invalid (no key configured) yields an empty fingerprint.
func ComputeFingerprint(k Key, sealing bool, payloads ...[]byte) ([]byte, error) {
	if !k.ID.Valid() {
		return nil, nil
	}
	switch k.Algorithm {
	case AlgorithmSHA256:
		// HMAC is the standard idiomatic keyed-hash construction for the
		// "HASH(secret ‖ payload...)" fingerprint spec §4.1 describes
		// without naming a mode, matching the teacher's hashed-shared-
		// secret idiom in ingest/auth.go.
		h := hmac.New(sha256.New, k.secretFor(sealing))
		for _, p := range payloads {
			h.Write(p)
		}
		return h.Sum(nil), nil
	case AlgorithmNone:
		return nil, nil
	default:
		return nil, ErrUnsupportedAlgorithm
	}
}

// RoundUp4 rounds n up to the nearest multiple of 4 bytes, matching the
// wire's fingerprint_length unit (spec §4.1: "Fingerprint_length is always
// a multiple of 4 bytes on the wire; implementations round up").
func RoundUp4(n int) int {
	if r := n % 4; r != 0 {
		return n + (4 - r)
	}
	return n
}
