// Package node implements the proof-of-work mining node: a TCP listener
// for the framed gossip protocol, a FIFO mempool, a cancellable miner, and
// block validation against the local ledger. Each node owns its ledger file
// exclusively; every write to it happens under the node's state lock.
package node

import (
	"net"
	"time"

	"github.com/NebulousLabs/demotemutex"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"gitlab.com/NebulousLabs/errors"

	"github.com/water-bottle-afk/aurex/crypto"
	"github.com/water-bottle-afk/aurex/modules"
	"github.com/water-bottle-afk/aurex/modules/ledger"
	"github.com/water-bottle-afk/aurex/modules/miner"
	"github.com/water-bottle-afk/aurex/persist"
	"github.com/water-bottle-afk/aurex/sync"
	"github.com/water-bottle-afk/aurex/types"
)

const (
	// keyCacheSize bounds the PEM → parsed key cache used during signature
	// validation. The peer set is closed, so a handful of entries suffice;
	// the bound only guards against junk blocks with unique keys.
	keyCacheSize = 64

	// handlerDeadline bounds one inbound connection: read the message,
	// handle it, write the reply.
	handlerDeadline = 10 * time.Second
)

// A Config carries everything a Node needs to start.
type Config struct {
	// Addr is the listen address. A port of 0 picks an ephemeral port,
	// which the tests rely on.
	Addr modules.NetAddress

	// Peers is the full configured node set, self included; the node
	// filters itself out by port.
	Peers []modules.NetAddress

	// GatewayAddr is where block confirmations are sent. Empty disables
	// confirmation emission.
	GatewayAddr modules.NetAddress

	// Difficulty is the number of leading hex zeros a block hash needs.
	Difficulty int

	// Dir is the node's data directory.
	Dir string
}

// A Node is a running mining node.
type Node struct {
	nodeID      string
	addr        modules.NetAddress
	peers       []modules.NetAddress
	gatewayAddr modules.NetAddress
	difficulty  int

	key      *crypto.KeyPair
	ledger   *ledger.Ledger
	log      *persist.Logger
	keyCache *lru.Cache

	// The state lock guards the mempool, the chain tip, and the current
	// miner. It demotes to a read lock while snapshots are taken for
	// broadcast.
	mu        demotemutex.DemoteMutex
	mempool   []types.Transaction
	lastIndex int64
	lastHash  string
	miner     *miner.Miner

	listener net.Listener
	tg       sync.ThreadGroup
}

// New starts a node: it restores the identity and chain tip, opens the
// listener, and begins accepting gossip. The returned node is live until
// Close.
func New(config Config) (*Node, error) {
	if !config.Addr.IsValid() {
		return nil, errors.New("invalid listen address: " + string(config.Addr))
	}
	if err := persist.MkdirAll(config.Dir); err != nil {
		return nil, errors.AddContext(err, "unable to create node directory")
	}

	n := &Node{
		gatewayAddr: config.GatewayAddr,
		difficulty:  config.Difficulty,
	}

	var err error
	n.log, err = persist.NewLogger(logPath(config.Dir))
	if err != nil {
		return nil, errors.AddContext(err, "unable to open node log")
	}
	n.tg.AfterStop(func() {
		if err := n.log.Close(); err != nil {
			// The logger is gone; stderr is all that is left.
			println("unable to close node log:", err.Error())
		}
	})

	n.nodeID, err = loadOrCreateIdentity(config.Dir)
	if err != nil {
		return nil, errors.AddContext(err, "unable to establish node identity")
	}
	n.key, err = crypto.LoadOrGenerateKeyPair(config.Dir, n.nodeID)
	if err != nil {
		return nil, errors.AddContext(err, "unable to load node keypair")
	}
	n.keyCache, err = lru.New(keyCacheSize)
	if err != nil {
		return nil, errors.AddContext(err, "unable to create key cache")
	}

	// The listener is opened before the ledger so that the real port is
	// known; the ledger file is keyed by it.
	n.listener, err = net.Listen("tcp", string(config.Addr))
	if err != nil {
		return nil, errors.AddContext(err, "unable to open node listener")
	}
	n.tg.BeforeStop(func() {
		n.listener.Close()
	})
	n.addr = modules.NetAddress(n.listener.Addr().String())
	n.peers = modules.PeerSet(config.Peers, n.addr)

	n.ledger, err = ledger.Open(config.Dir, n.addr.PortInt())
	if err != nil {
		n.listener.Close()
		return nil, errors.AddContext(err, "unable to open node ledger")
	}
	n.tg.AfterStop(func() {
		if err := n.ledger.Close(); err != nil {
			n.log.Println("ERROR: unable to close ledger:", err)
		}
	})
	n.lastIndex, n.lastHash, err = n.ledger.LastBlock()
	if err != nil {
		n.listener.Close()
		n.ledger.Close()
		return nil, errors.AddContext(err, "unable to restore chain tip")
	}

	// The miner latch trips on shutdown so the CPU loop exits promptly.
	n.tg.BeforeStop(func() {
		n.mu.Lock()
		if n.miner != nil {
			n.miner.Stop()
		}
		n.mu.Unlock()
	})

	// Registry bootstrap row: best-effort, the node works without it.
	err = n.ledger.UpsertNode(ledger.RegistryEntry{
		NodeID:   n.nodeID,
		Host:     n.addr.Host(),
		Port:     n.addr.PortInt(),
		NodeType: "pow",
		Status:   "active",
		LastSeen: types.NowTimestamp(),
	})
	if err != nil {
		n.log.Println("WARN: unable to upsert registry row:", err)
	}

	if err := n.tg.Add(); err != nil {
		return nil, err
	}
	go func() {
		defer n.tg.Done()
		n.threadedListen()
	}()

	n.log.Printf("INFO: node %s listening on %s at height %d, difficulty %d, %d peers",
		n.nodeID, n.addr, n.lastIndex+1, n.difficulty, len(n.peers))
	return n, nil
}

// Close shuts the node down and blocks until every thread has exited.
func (n *Node) Close() error {
	return n.tg.Stop()
}

// NodeID returns the node's stable UUID.
func (n *Node) NodeID() string {
	return n.nodeID
}

// Address returns the bound listen address, with the real port.
func (n *Node) Address() modules.NetAddress {
	return n.addr
}

// Peers returns the immutable peer snapshot.
func (n *Node) Peers() []modules.NetAddress {
	return n.peers
}

// Tip returns the chain tip index and hash.
func (n *Node) Tip() (int64, string) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lastIndex, n.lastHash
}

// Height returns the number of blocks on the node's ledger.
func (n *Node) Height() int64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lastIndex + 1
}

// Mempool returns a copy of the pending transactions, FIFO order.
func (n *Node) Mempool() []types.Transaction {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]types.Transaction, len(n.mempool))
	copy(out, n.mempool)
	return out
}

// Mining reports whether a miner is currently running.
func (n *Node) Mining() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.miner != nil
}

// Ledger exposes the node's ledger for read-only consumers: the status API
// and the dump command.
func (n *Node) Ledger() *ledger.Ledger {
	return n.ledger
}

// generateNodeID mints the UUID used as a node's stable identity.
func generateNodeID() string {
	return uuid.NewString()
}
