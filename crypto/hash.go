package crypto

// hash.go supplies the hashing functions used throughout aurex. The proof of
// work, the block hash chain, and the persist checksums all use sha256, and
// hashes travel on the wire in lowercase hex. Changing the hashing algorithm
// would invalidate every existing ledger, so sha256 is the only supported
// algorithm.

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
)

const (
	// HashSize is the length of a Hash in bytes.
	HashSize = 32

	// HexHashLen is the length of a hex-encoded Hash.
	HexHashLen = HashSize * 2
)

type (
	// Hash is a sha256 digest.
	Hash [HashSize]byte
)

var (
	// ErrHashWrongLen is returned when a hex string of the wrong length is
	// decoded into a Hash.
	ErrHashWrongLen = errors.New("encoded value has the wrong length to be a hash")
)

// HashBytes takes a byte slice and returns its sha256 digest.
func HashBytes(data []byte) Hash {
	return Hash(sha256.Sum256(data))
}

// String prints the hash in lowercase hex.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// LoadString takes a hex string and loads it into the hash.
func (h *Hash) LoadString(s string) error {
	if len(s) != HexHashLen {
		return ErrHashWrongLen
	}
	hBytes, err := hex.DecodeString(s)
	if err != nil {
		return errors.New("could not unmarshal hash: " + err.Error())
	}
	copy(h[:], hBytes)
	return nil
}

// MarshalJSON marshals a hash as a hex string.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON decodes the json hex string of the hash.
func (h *Hash) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return h.LoadString(s)
}

// MeetsDifficulty reports whether the hash carries at least 'difficulty'
// leading '0' characters in its hex form, checked nibble-by-nibble on the
// raw digest. The mining loop calls this every nonce, so no hex encoding is
// performed.
func (h Hash) MeetsDifficulty(difficulty int) bool {
	if difficulty < 0 || difficulty > HexHashLen {
		return false
	}
	for i := 0; i < difficulty; i++ {
		nibble := h[i/2]
		if i%2 == 0 {
			nibble >>= 4
		} else {
			nibble &= 0x0f
		}
		if nibble != 0 {
			return false
		}
	}
	return true
}

// MeetsDifficulty returns whether a hex-encoded hash carries at least
// 'difficulty' leading '0' characters. The proof of work is a prefix check
// on the hex form, not a numeric comparison.
func MeetsDifficulty(hexHash string, difficulty int) bool {
	if difficulty < 0 {
		return false
	}
	if len(hexHash) < difficulty {
		return false
	}
	for i := 0; i < difficulty; i++ {
		if hexHash[i] != '0' {
			return false
		}
	}
	return true
}
