package fbtypes

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/blake2b"
)

// HashAlgorithm selects the digest used to bind a TLC's payment_hash to its
// preimage. Fiber channels negotiate this per-TLC rather than hard-coding one,
// since the underlying chain's script opcodes support both.
type HashAlgorithm uint8

const (
	HashAlgorithmSha256 HashAlgorithm = iota
	HashAlgorithmBlake2b
)

func (h HashAlgorithm) String() string {
	switch h {
	case HashAlgorithmSha256:
		return "sha256"
	case HashAlgorithmBlake2b:
		return "blake2b"
	default:
		return "unknown"
	}
}

func (h HashAlgorithm) MarshalJSON() ([]byte, error) {
	return []byte(`"` + h.String() + `"`), nil
}

func (h *HashAlgorithm) UnmarshalJSON(data []byte) error {
	s := string(data)
	switch s {
	case `"sha256"`, `""`:
		*h = HashAlgorithmSha256
	case `"blake2b"`:
		*h = HashAlgorithmBlake2b
	default:
		return errors.New("fbtypes: unknown hash_algorithm " + s)
	}
	return nil
}

// Digest hashes preimage under the algorithm h, returning a Hash256.
func (h HashAlgorithm) Digest(preimage Hash256) Hash256 {
	switch h {
	case HashAlgorithmBlake2b:
		sum := blake2b.Sum256(preimage[:])
		return Hash256(sum)
	default:
		sum := sha256.Sum256(preimage[:])
		return Hash256(sum)
	}
}

// Hash256 is an opaque 32-byte identifier used for channel ids, payment
// hashes, and preimages.
type Hash256 [32]byte

func (h Hash256) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash256) MarshalJSON() ([]byte, error) {
	return []byte(`"` + h.String() + `"`), nil
}

func (h *Hash256) UnmarshalJSON(data []byte) error {
	if len(data) < 2 {
		return errors.New("fbtypes: invalid Hash256 json")
	}
	raw, err := hex.DecodeString(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	if len(raw) != 32 {
		return errors.New("fbtypes: Hash256 must be 32 bytes")
	}
	copy(h[:], raw)
	return nil
}

// IsZero reports whether h is the all-zero hash, used as the "unset" sentinel
// for optional Hash256 fields (e.g. a channel's temporary id before funding).
func (h Hash256) IsZero() bool {
	return h == Hash256{}
}

// Less provides the lexicographic tie-break used by route search
// (spec.md 4.2: "lexicographically smaller channel id").
func (h Hash256) Less(other Hash256) bool {
	for i := range h {
		if h[i] != other[i] {
			return h[i] < other[i]
		}
	}
	return false
}
