package node

// mine.go orchestrates the mining race: starting a miner over the mempool
// head, collecting its result, sealing and persisting the block, and
// kicking off the next round.

import (
	"github.com/water-bottle-afk/aurex/modules/miner"
	"github.com/water-bottle-afk/aurex/types"
)

// managedStartMining launches a miner over the mempool head if none is
// running and the mempool is non-empty. Only the head is mined: one
// transaction per block.
func (n *Node) managedStartMining() {
	// Register with the thread group before taking the state lock. The
	// shutdown hook that latches the miner runs with the thread group's
	// lock held and then acquires n.mu, so Add must never be called while
	// n.mu is held.
	if n.tg.Add() != nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.miner != nil || len(n.mempool) == 0 {
		n.tg.Done()
		return
	}

	header := types.BlockHeader{
		PrevHash:  n.lastHash,
		Timestamp: types.NowTimestamp(),
		Index:     n.lastIndex + 1,
		Tx:        n.mempool[0],
	}
	canonical, err := header.CanonicalBytes()
	if err != nil {
		n.tg.Done()
		n.log.Println("ERROR: unable to canonicalize mining header:", err)
		return
	}

	m := miner.New(canonical, n.difficulty)
	n.miner = m
	m.Start()
	go func() {
		defer n.tg.Done()
		n.threadedCollectResult(m, header)
	}()
	n.log.Printf("INFO: mining block %d over tx %s", header.Index, header.Tx.Data.TxID)
}

// threadedCollectResult waits on one miner and seals its block if it wins.
// A cancelled miner produces nothing and the collector simply exits.
func (n *Node) threadedCollectResult(m *miner.Miner, header types.BlockHeader) {
	select {
	case <-n.tg.StopChan():
		m.Stop()
		return
	case result := <-m.Result():
		n.managedSealBlock(m, header, result)
	case <-m.Done():
		// The miner exited. A result may still be buffered if the send
		// raced the latch; drain it rather than lose a won block.
		select {
		case result := <-m.Result():
			n.managedSealBlock(m, header, result)
		default:
		}
	}
}

// managedSealBlock signs and persists a locally mined block, then
// broadcasts it, emits the confirmation, and starts the next round. If a
// peer block won the race while the result was in flight, the sealed block
// no longer extends the tip and is discarded.
func (n *Node) managedSealBlock(m *miner.Miner, header types.BlockHeader, result miner.Result) {
	sig, err := n.key.Sign([]byte(result.HashHex))
	if err != nil {
		n.log.Println("ERROR: unable to sign mined block:", err)
		return
	}
	sealedTx := header.Tx
	sealedTx.EndTimestamp = header.Timestamp
	b := types.Block{
		Index:        header.Index,
		Timestamp:    header.Timestamp,
		PrevHash:     header.PrevHash,
		CurrentHash:  result.HashHex,
		Nonce:        result.Nonce,
		MinerID:      n.nodeID,
		Signature:    sig,
		PublicKeyPEM: n.key.PublicKeyPEM(),
		Transactions: []types.Transaction{sealedTx},
	}

	n.mu.Lock()
	if n.miner != m {
		// A peer block at this index arrived first; first write wins.
		n.mu.Unlock()
		return
	}
	n.miner = nil
	if b.Index != n.lastIndex+1 || b.PrevHash != n.lastHash {
		n.mu.Unlock()
		n.log.Printf("INFO: discarding stale mined block %d; tip moved", b.Index)
		return
	}
	if err := n.ledger.AppendBlock(b); err != nil {
		// No broadcast for a block that did not persist; the tip is
		// unchanged and the transaction stays in the mempool.
		n.mu.Unlock()
		n.log.Println("ERROR: unable to persist mined block:", err)
		return
	}
	n.lastIndex, n.lastHash = b.Index, b.CurrentHash
	if len(n.mempool) > 0 && n.mempool[0].Data.TxID == sealedTx.Data.TxID {
		n.mempool = n.mempool[1:]
	}
	// Demote while the confirmation snapshot is built: reads are safe,
	// writers wait.
	n.mu.Demote()
	conf := n.confirmation(b)
	n.mu.DemotedUnlock()

	n.log.Printf("INFO: mined block %d (%.12s…) nonce %d after %d attempts",
		b.Index, b.CurrentHash, b.Nonce, m.Attempts())

	n.managedBroadcastBlock(b)
	n.sendConfirmation(conf)
	n.managedStartMining()
}
