package node

// broadcast.go implements the gossip primitive: best-effort, one
// connect-send-close per peer, with a short timeout. Failures are logged
// and counted, never retried; the closed peer set makes persistent
// unreachability an operator problem, not a protocol one.

import (
	"net"
	"time"

	"github.com/water-bottle-afk/aurex/encoding"
	"github.com/water-bottle-afk/aurex/modules"
	"github.com/water-bottle-afk/aurex/types"
)

// sendMessage performs one connect-send-close of a framed message.
func sendMessage(addr modules.NetAddress, msg modules.Message) error {
	conn, err := net.DialTimeout("tcp", string(addr), types.GossipTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(types.GossipTimeout))
	return encoding.WriteObject(conn, msg)
}

// managedBroadcastBlock gossips a sealed block to every peer. Each send
// runs on its own goroutine so one slow peer does not delay the rest.
func (n *Node) managedBroadcastBlock(b types.Block) {
	msg, err := modules.NewMessage(modules.MsgNewBlock, n.nodeID, b)
	if err != nil {
		n.log.Println("ERROR: unable to build new_block message:", err)
		return
	}
	for _, peer := range n.peers {
		peer := peer
		if n.tg.Add() != nil {
			return
		}
		go func() {
			defer n.tg.Done()
			if err := sendMessage(peer, msg); err != nil {
				n.log.Printf("WARN: could not gossip block %d to %s: %v", b.Index, peer, err)
			}
		}()
	}
}

// confirmation builds the block confirmation for the application layer.
func (n *Node) confirmation(b types.Block) modules.BlockConfirmation {
	return modules.BlockConfirmation{
		Type:         modules.BlockConfirmationType,
		BlockIndex:   b.Index,
		BlockHash:    b.CurrentHash,
		MinerID:      b.MinerID,
		NodeID:       n.nodeID,
		Timestamp:    b.Timestamp,
		Transactions: b.Transactions,
	}
}

// sendConfirmation emits one newline-delimited confirmation to the gateway.
// Emission is best-effort; a miss is recovered by the purchase timeout at
// the app server.
func (n *Node) sendConfirmation(conf modules.BlockConfirmation) {
	if n.gatewayAddr == "" {
		return
	}
	conn, err := net.DialTimeout("tcp", string(n.gatewayAddr), types.GossipTimeout)
	if err != nil {
		n.log.Println("WARN: could not reach gateway for confirmation:", err)
		return
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(types.GossipTimeout))
	if err := encoding.WriteLine(conn, conf); err != nil {
		n.log.Println("WARN: could not send block confirmation:", err)
	}
}
