package api

import (
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"gitlab.com/NebulousLabs/errors"

	"github.com/water-bottle-afk/aurex/build"
	"github.com/water-bottle-afk/aurex/encoding"
	"github.com/water-bottle-afk/aurex/modules"
	"github.com/water-bottle-afk/aurex/modules/node"
	"github.com/water-bottle-afk/aurex/types"
)

var errTooSoon = errors.New("condition not met yet")

// newTestingServer starts a node with a status API attached.
func newTestingServer(t *testing.T) (*Server, *node.Node) {
	n, err := node.New(node.Config{
		Addr:       "localhost:0",
		Difficulty: 1,
		Dir:        build.TempDir("api", t.Name()),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { n.Close() })
	srv, err := New("localhost:0", n)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv, n
}

// getJSON performs a GET and decodes the JSON body.
func getJSON(t *testing.T, url string, obj interface{}) {
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatal("unexpected status:", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(obj); err != nil {
		t.Fatal(err)
	}
}

// TestStatusEndpoint checks /status on a fresh node.
func TestStatusEndpoint(t *testing.T) {
	srv, n := newTestingServer(t)
	var status StatusGET
	getJSON(t, "http://"+srv.Address()+"/status", &status)
	if status.NodeID != n.NodeID() {
		t.Fatal("status reports wrong node id")
	}
	if status.Height != 0 || status.TipIndex != -1 || status.TipHash != types.GenesisPrevHash {
		t.Fatal("fresh node reports nonzero chain:", status)
	}
	if status.Mining || status.MempoolLen != 0 {
		t.Fatal("fresh node reports activity:", status)
	}
	if status.Version != build.Version {
		t.Fatal("version mismatch:", status.Version)
	}
}

// TestChainAndMempoolEndpoints mines one block through the TCP protocol and
// reads it back over HTTP.
func TestChainAndMempoolEndpoints(t *testing.T) {
	srv, n := newTestingServer(t)

	// Inject one transaction over the node's wire protocol.
	conn, err := net.Dial("tcp", string(n.Address()))
	if err != nil {
		t.Fatal(err)
	}
	tx := types.Transaction{
		Sender: "gateway",
		Data: types.TxData{
			Action: "purchase", TxID: "T1", From: "alice", To: "bob", Amount: 25,
		},
		StartTimestamp: types.NowTimestamp(),
	}
	msg, err := modules.NewMessage(modules.MsgNewTransaction, "test", tx)
	if err != nil {
		t.Fatal(err)
	}
	if err := encoding.WriteObject(conn, msg); err != nil {
		t.Fatal(err)
	}
	var ack modules.MiningAck
	if err := encoding.ReadObject(conn, &ack); err != nil {
		t.Fatal(err)
	}
	conn.Close()

	err = build.Retry(100, 100*time.Millisecond, func() error {
		if n.Height() < 1 {
			return errTooSoon
		}
		return nil
	})
	if err != nil {
		t.Fatal("node never mined the block")
	}

	var chain ChainGET
	getJSON(t, "http://"+srv.Address()+"/chain?limit=5", &chain)
	if chain.Height != 1 || len(chain.Blocks) != 1 {
		t.Fatal("chain endpoint missed the block:", chain.Height, len(chain.Blocks))
	}
	b := chain.Blocks[0]
	if b.Index != 0 || len(b.Transactions) != 1 || b.Transactions[0].Data.TxID != "T1" {
		t.Fatal("chain endpoint returned a mangled block")
	}

	var mempool MempoolGET
	getJSON(t, "http://"+srv.Address()+"/mempool", &mempool)
	if len(mempool.Transactions) != 0 {
		t.Fatal("mempool not drained after sealing")
	}

	// Bad limit is a 400.
	resp, err := http.Get("http://" + srv.Address() + "/chain?limit=nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatal("bad limit accepted:", resp.Status)
	}
}
