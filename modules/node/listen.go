package node

// listen.go contains the accept loop and the framed message dispatch. One
// short-lived goroutine handles each inbound connection; every handler that
// mutates state does so through the managed methods, which take the state
// lock.

import (
	"net"
	"time"

	"github.com/water-bottle-afk/aurex/encoding"
	"github.com/water-bottle-afk/aurex/modules"
	"github.com/water-bottle-afk/aurex/sync"
	"github.com/water-bottle-afk/aurex/types"
)

// maxConcurrentConns bounds the handler goroutines one node will run at a
// time. The peer set is small; the bound guards against a misbehaving
// client opening connections in a loop.
const maxConcurrentConns = 32

// threadedListen accepts connections until the listener is closed by
// shutdown.
func (n *Node) threadedListen() {
	limiter := sync.NewLimiter(maxConcurrentConns)
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			return
		}
		if limiter.Request(1, n.tg.StopChan()) {
			conn.Close()
			return
		}
		if n.tg.Add() != nil {
			limiter.Release(1)
			conn.Close()
			return
		}
		go func() {
			defer n.tg.Done()
			defer limiter.Release(1)
			defer conn.Close()
			n.threadedHandleConn(conn)
		}()
	}
}

// threadedHandleConn reads one framed message and dispatches on its type.
func (n *Node) threadedHandleConn(conn net.Conn) {
	conn.SetDeadline(time.Now().Add(handlerDeadline))

	var msg modules.Message
	if err := encoding.ReadObject(conn, &msg); err != nil {
		n.log.Println("WARN: could not read message from", conn.RemoteAddr(), "-", err)
		return
	}

	switch msg.Type {
	case modules.MsgPing:
		err := encoding.WriteObject(conn, modules.PongReply{
			Type:   modules.MsgPong,
			NodeID: n.nodeID,
		})
		if err != nil {
			n.log.Println("WARN: could not reply to ping:", err)
		}

	case modules.MsgNodeDiscovery:
		err := encoding.WriteObject(conn, modules.DiscoveryReply{
			Type:   modules.MsgNodeDiscovery,
			NodeID: n.nodeID,
			Peers:  n.peers,
		})
		if err != nil {
			n.log.Println("WARN: could not reply to node_discovery:", err)
		}

	case modules.MsgNewTransaction:
		var tx types.Transaction
		if err := msg.DecodeData(&tx); err != nil {
			n.log.Println("WARN: malformed NEW_TRANSACTION:", err)
			return
		}
		n.managedAddTransaction(tx)
		err := encoding.WriteObject(conn, modules.MiningAck{
			Status: modules.MiningStarted,
			NodeID: n.nodeID,
		})
		if err != nil {
			n.log.Println("WARN: could not ack NEW_TRANSACTION:", err)
		}
		n.managedStartMining()

	case modules.MsgNewBlock:
		var b types.Block
		if err := msg.DecodeData(&b); err != nil {
			n.log.Println("WARN: malformed new_block:", err)
			return
		}
		if err := n.managedAcceptBlock(b); err != nil {
			// Validation failures are dropped without a NACK; the log is
			// the only trace.
			n.log.Printf("INFO: rejected block %d from peer: %v", b.Index, err)
			return
		}
		// A peer block may have freed the mempool head for the next index.
		n.managedStartMining()

	case modules.MsgStopMining:
		n.managedStopMining()

	default:
		// Unknown kinds are an explicit error, never a silent drop.
		n.log.Printf("WARN: %v: %q from %v", modules.ErrUnknownMessage, msg.Type, conn.RemoteAddr())
	}
}

// managedAddTransaction appends a transaction to the mempool, stamping its
// start timestamp if the sender left it empty. The mempool is FIFO;
// deduplication is the gateway's responsibility.
func (n *Node) managedAddTransaction(tx types.Transaction) {
	if tx.StartTimestamp == "" {
		tx.StartTimestamp = types.NowTimestamp()
	}
	n.mu.Lock()
	n.mempool = append(n.mempool, tx)
	n.mu.Unlock()
	n.log.Printf("INFO: mempool accepted tx %s (%d pending)", tx.Data.TxID, len(n.Mempool()))
}

// managedStopMining cancels the current miner, if any. It is idempotent.
func (n *Node) managedStopMining() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.miner != nil {
		n.miner.Stop()
		n.miner = nil
	}
}
