package types

// block.go defines the Block type for aurex and the helpers for computing
// block hashes. A block seals an ordered sequence of transactions; in the
// core protocol each block carries exactly one, the head of the winning
// miner's mempool.

import (
	"strconv"

	"gitlab.com/NebulousLabs/errors"

	"github.com/water-bottle-afk/aurex/crypto"
	"github.com/water-bottle-afk/aurex/encoding"
)

// GenesisPrevHash is the prev_hash of block 0: 64 zero characters.
const GenesisPrevHash = "0000000000000000000000000000000000000000000000000000000000000000"

// GenesisParentIndex is the chain tip index of an empty ledger.
const GenesisParentIndex = -1

// A Block is one sealed element of a node's ledger.
type Block struct {
	Index        int64         `json:"index"`
	Timestamp    string        `json:"timestamp"`
	PrevHash     string        `json:"prev_hash"`
	CurrentHash  string        `json:"current_hash"`
	Nonce        uint64        `json:"nonce"`
	MinerID      string        `json:"miner_id"`
	Signature    string        `json:"signature"`
	PublicKeyPEM string        `json:"public_key_pem"`
	Transactions []Transaction `json:"transactions"`
}

// A BlockHeader is the hashed portion of a block: everything the winning
// nonce commits to. Field names match the wire names; the canonical
// encoding sorts them, so declaration order is irrelevant.
type BlockHeader struct {
	PrevHash  string      `json:"prev_hash"`
	Timestamp string      `json:"timestamp"`
	Index     int64       `json:"index"`
	Tx        Transaction `json:"tx"`
}

// CanonicalBytes returns the canonical serialization of the header, the
// bytes the nonce search runs over.
func (bh BlockHeader) CanonicalBytes() ([]byte, error) {
	data, err := encoding.Canonical(bh)
	if err != nil {
		return nil, errors.AddContext(err, "unable to canonicalize block header")
	}
	return data, nil
}

// HashWithNonce computes the hex block hash for a canonical header and a
// nonce: sha256(canonical || ascii(nonce)).
func HashWithNonce(canonical []byte, nonce uint64) string {
	data := make([]byte, 0, len(canonical)+20)
	data = append(data, canonical...)
	data = strconv.AppendUint(data, nonce, 10)
	return crypto.HashBytes(data).String()
}

// Header rebuilds the hashed portion of a sealed block. Validation
// recomputes the hash from this; a block that carries no transactions
// cannot be rebuilt and fails with an error.
func (b Block) Header() (BlockHeader, error) {
	if len(b.Transactions) == 0 {
		return BlockHeader{}, errors.New("block carries no transactions")
	}
	return BlockHeader{
		PrevHash:  b.PrevHash,
		Timestamp: b.Timestamp,
		Index:     b.Index,
		Tx:        b.Transactions[0],
	}, nil
}

// HasRequiredFields reports whether every consensus-relevant field of the
// block is present. It is the first step of block validation.
func (b Block) HasRequiredFields() bool {
	return b.Index >= 0 &&
		b.Timestamp != "" &&
		len(b.PrevHash) == crypto.HexHashLen &&
		len(b.CurrentHash) == crypto.HexHashLen &&
		b.MinerID != "" &&
		b.Signature != "" &&
		b.PublicKeyPEM != "" &&
		len(b.Transactions) >= 1
}
