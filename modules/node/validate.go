package node

// validate.go checks inbound blocks before they touch the ledger. The
// checks run cheapest-first and reject on the first failure; the caller
// logs the reason and drops the block without a NACK.

import (
	"crypto/rsa"
	"fmt"

	"gitlab.com/NebulousLabs/errors"

	"github.com/water-bottle-afk/aurex/crypto"
	"github.com/water-bottle-afk/aurex/modules/ledger"
	"github.com/water-bottle-afk/aurex/types"
)

var (
	// ErrMissingFields is returned when a block lacks a required field.
	ErrMissingFields = errors.New("block is missing required fields")

	// ErrMissedDifficulty is returned when the block hash does not carry
	// enough leading zeros.
	ErrMissedDifficulty = errors.New("block hash does not meet difficulty")

	// ErrBadSignature is returned when the miner signature does not verify
	// against the transported public key.
	ErrBadSignature = errors.New("block signature does not verify")

	// ErrBlockLink is returned when a block does not extend the chain tip.
	ErrBlockLink = errors.New("block does not extend the chain tip")

	// ErrHashMismatch is returned when recomputing the hash over the
	// canonical serialization does not reproduce current_hash.
	ErrHashMismatch = errors.New("block hash does not bind to its contents")
)

// verifySignature checks the block's RSA-PSS signature, caching parsed
// public keys by their PEM text so repeat miners cost one parse total.
func (n *Node) verifySignature(b types.Block) bool {
	var pub *rsa.PublicKey
	if cached, ok := n.keyCache.Get(b.PublicKeyPEM); ok {
		pub = cached.(*rsa.PublicKey)
	} else {
		parsed, err := crypto.ParsePublicKeyPEM(b.PublicKeyPEM)
		if err != nil {
			return false
		}
		n.keyCache.Add(b.PublicKeyPEM, parsed)
		pub = parsed
	}
	return crypto.VerifyParsed(pub, []byte(b.CurrentHash), b.Signature) == nil
}

// validBlock runs the full validation order against the current chain tip.
// The caller must hold the state lock.
func (n *Node) validBlock(b types.Block) error {
	// 1. Field presence, including the transported public key.
	if !b.HasRequiredFields() {
		return ErrMissingFields
	}

	// 2. Proof of work: leading zero prefix.
	if !crypto.MeetsDifficulty(b.CurrentHash, n.difficulty) {
		return ErrMissedDifficulty
	}

	// 3. Authenticity: the signature covers the hex ascii of the hash.
	if !n.verifySignature(b) {
		return ErrBadSignature
	}

	// 4. Chain link against the local tip.
	if b.Index != n.lastIndex+1 {
		return errors.AddContext(ErrBlockLink, fmt.Sprintf("index %d expected %d", b.Index, n.lastIndex+1))
	}
	if b.PrevHash != n.lastHash {
		return errors.AddContext(ErrBlockLink, "prev_hash does not match tip")
	}

	// 5. Hash binding: recompute over the canonical serialization. Without
	// this a peer could present any prefix-satisfying hash with a valid
	// signature over it.
	header, err := b.Header()
	if err != nil {
		return ErrMissingFields
	}
	canonical, err := header.CanonicalBytes()
	if err != nil {
		return errors.AddContext(err, "unable to canonicalize inbound block")
	}
	if types.HashWithNonce(canonical, b.Nonce) != b.CurrentHash {
		return ErrHashMismatch
	}
	return nil
}

// managedAcceptBlock validates a peer block and, on success, appends it,
// advances the tip, cancels the local miner, and drops the mempool head if
// the block sealed it. A duplicate block is an error to the caller but
// changes nothing.
func (n *Node) managedAcceptBlock(b types.Block) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.validBlock(b); err != nil {
		return err
	}
	if err := n.ledger.AppendBlock(b); err != nil {
		if errors.Contains(err, ledger.ErrDuplicateBlock) {
			return ledger.ErrDuplicateBlock
		}
		return errors.AddContext(err, "unable to persist peer block")
	}
	n.lastIndex, n.lastHash = b.Index, b.CurrentHash

	// The race for this index is over.
	if n.miner != nil {
		n.miner.Stop()
		n.miner = nil
	}
	if len(n.mempool) > 0 && n.mempool[0].Data.TxID == b.Transactions[0].Data.TxID {
		n.mempool = n.mempool[1:]
	}

	n.log.Printf("INFO: accepted peer block %d (%.12s…) from miner %s",
		b.Index, b.CurrentHash, b.MinerID)
	return nil
}
