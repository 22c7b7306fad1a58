package gateway

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/water-bottle-afk/aurex/build"
	"github.com/water-bottle-afk/aurex/encoding"
	"github.com/water-bottle-afk/aurex/modules"
	"github.com/water-bottle-afk/aurex/types"
)

// newTestingGateway starts a gateway over the given node and app server
// addresses.
func newTestingGateway(t *testing.T, nodes []modules.NetAddress, appServer modules.NetAddress) *Gateway {
	g, err := New(Config{
		Addr:          "localhost:0",
		Nodes:         nodes,
		AppServerAddr: appServer,
		Dir:           build.TempDir("gateway", t.Name()),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { g.Close() })
	return g
}

// submit sends one framed submission and returns the reply.
func submit(t *testing.T, addr modules.NetAddress, action string, body interface{}) modules.SubmitReply {
	conn, err := net.Dial("tcp", string(addr))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	req := modules.SubmitRequest{Action: action}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		req.Body = raw
	}
	if err := encoding.WriteObject(conn, req); err != nil {
		t.Fatal(err)
	}
	var reply modules.SubmitReply
	if err := encoding.ReadObject(conn, &reply); err != nil {
		t.Fatal(err)
	}
	return reply
}

// fakeNode accepts NEW_TRANSACTION messages, acks them, and delivers each
// received transaction on a channel.
func fakeNode(t *testing.T) (modules.NetAddress, <-chan types.Transaction) {
	listener, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { listener.Close() })

	received := make(chan types.Transaction, 16)
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				conn.SetDeadline(time.Now().Add(5 * time.Second))
				var msg modules.Message
				if err := encoding.ReadObject(conn, &msg); err != nil {
					return
				}
				if msg.Type != modules.MsgNewTransaction {
					return
				}
				var tx types.Transaction
				if err := msg.DecodeData(&tx); err != nil {
					return
				}
				received <- tx
				encoding.WriteObject(conn, modules.MiningAck{
					Status: modules.MiningStarted,
					NodeID: "fake",
				})
			}()
		}
	}()
	return modules.NetAddress(listener.Addr().String()), received
}

// validPurchase is a complete submit_purchase body.
func validPurchase(txID string) map[string]interface{} {
	return map[string]interface{}{
		"buyer":      "alice",
		"seller":     "bob",
		"asset_id":   "deer",
		"asset_name": "Deer",
		"price":      25.00,
		"timestamp":  types.NowTimestamp(),
		"tx_id":      txID,
	}
}

// TestHealth checks the health probe.
func TestHealth(t *testing.T) {
	g := newTestingGateway(t, nil, "")
	reply := submit(t, g.Address(), modules.ActionHealth, nil)
	if reply.Status != "ok" || reply.Service != "gateway" {
		t.Fatal("bad health reply:", reply)
	}
}

// TestUnknownAction checks the explicit failure for unrecognized actions.
func TestUnknownAction(t *testing.T) {
	g := newTestingGateway(t, nil, "")
	reply := submit(t, g.Address(), "mystery", nil)
	if reply.Status != modules.SubmitStatusFailed {
		t.Fatal("unknown action did not fail:", reply)
	}
}

// TestSubmitMissingFields checks the field validation on purchases.
func TestSubmitMissingFields(t *testing.T) {
	node, _ := fakeNode(t)
	g := newTestingGateway(t, []modules.NetAddress{node}, "")

	body := validPurchase("T1")
	delete(body, "seller")
	delete(body, "tx_id")
	reply := submit(t, g.Address(), modules.ActionSubmitPurchase, body)
	if reply.Status != modules.SubmitStatusFailed {
		t.Fatal("incomplete purchase accepted")
	}
	if reply.Message != "Missing fields: seller, tx_id" {
		t.Fatal("unexpected message:", reply.Message)
	}
}

// TestSubmitFanOut submits a purchase against two fake nodes and checks the
// constructed transaction on both.
func TestSubmitFanOut(t *testing.T) {
	nodeA, receivedA := fakeNode(t)
	nodeB, receivedB := fakeNode(t)
	g := newTestingGateway(t, []modules.NetAddress{nodeA, nodeB}, "")

	reply := submit(t, g.Address(), modules.ActionSubmitPurchase, validPurchase("T1"))
	if reply.Status != modules.SubmitStatusSubmitted {
		t.Fatal("submission failed:", reply.Message)
	}
	if reply.NodesReached != 2 {
		t.Fatal("expected 2 nodes reached, got", reply.NodesReached)
	}
	if reply.Transaction == nil || reply.Transaction.TxID != "T1" {
		t.Fatal("reply does not echo the transaction")
	}

	for _, received := range []<-chan types.Transaction{receivedA, receivedB} {
		select {
		case tx := <-received:
			if tx.Data.TxID != "T1" || tx.Data.From != "alice" || tx.Data.To != "bob" {
				t.Fatal("node received a mangled transaction:", tx.Data)
			}
			if tx.Data.Amount != 25.00 || tx.Data.Action != "purchase" {
				t.Fatal("purchase mapping wrong:", tx.Data)
			}
			if tx.Sender != "gateway" || tx.StartTimestamp == "" {
				t.Fatal("envelope fields wrong")
			}
		case <-time.After(5 * time.Second):
			t.Fatal("a node never received the transaction")
		}
	}
}

// TestSubmitNoNodesReached checks the zero-reach failure against dead
// endpoints.
func TestSubmitNoNodesReached(t *testing.T) {
	// A listener that is immediately closed leaves a dead port.
	dead, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}
	deadAddr := modules.NetAddress(dead.Addr().String())
	dead.Close()

	g := newTestingGateway(t, []modules.NetAddress{deadAddr}, "")
	reply := submit(t, g.Address(), modules.ActionSubmitPurchase, validPurchase("T4"))
	if reply.Status != modules.SubmitStatusFailed {
		t.Fatal("zero-reach submission did not fail")
	}
	if reply.NodesReached != 0 {
		t.Fatal("expected 0 nodes reached, got", reply.NodesReached)
	}
	if reply.Message != "Transaction failed: no nodes reached. Start nodes first." {
		t.Fatal("unexpected message:", reply.Message)
	}
}

// TestSubmitTransactionPassthrough checks the generic action.
func TestSubmitTransactionPassthrough(t *testing.T) {
	node, received := fakeNode(t)
	g := newTestingGateway(t, []modules.NetAddress{node}, "")

	reply := submit(t, g.Address(), modules.ActionSubmitTransaction, types.TxData{
		TxID: "T9", From: "x", To: "y", Amount: 1.5,
	})
	if reply.Status != modules.SubmitStatusSubmitted {
		t.Fatal("passthrough failed:", reply.Message)
	}
	select {
	case tx := <-received:
		if tx.Data.TxID != "T9" || tx.Data.Amount != 1.5 {
			t.Fatal("passthrough mangled the body:", tx.Data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("node never received the transaction")
	}

	// Without a tx_id the passthrough is rejected.
	reply = submit(t, g.Address(), modules.ActionSubmitTransaction, types.TxData{From: "x"})
	if reply.Status != modules.SubmitStatusFailed {
		t.Fatal("passthrough without tx_id accepted")
	}
}

// sendConfirmation delivers one newline confirmation to the gateway.
func sendConfirmation(t *testing.T, addr modules.NetAddress, conf modules.BlockConfirmation) {
	conn, err := net.Dial("tcp", string(addr))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	if err := encoding.WriteLine(conn, conf); err != nil {
		t.Fatal(err)
	}
}

// TestConfirmationForwarding checks record-once-forward-once across a
// duplicate delivery.
func TestConfirmationForwarding(t *testing.T) {
	appListener, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}
	defer appListener.Close()

	forwarded := make(chan modules.BlockConfirmation, 4)
	go func() {
		for {
			conn, err := appListener.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				var conf modules.BlockConfirmation
				if encoding.ReadLine(encoding.NewLineReader(conn), &conf) == nil {
					forwarded <- conf
				}
			}()
		}
	}()

	g := newTestingGateway(t, nil, modules.NetAddress(appListener.Addr().String()))
	conf := modules.BlockConfirmation{
		Type:       modules.BlockConfirmationType,
		BlockIndex: 0,
		BlockHash:  "00ab" + "00" + "cdef" + "0000000000000000000000000000000000000000000000000000ffff",
		MinerID:    "miner-a",
		NodeID:     "node-a",
		Timestamp:  types.NowTimestamp(),
		Transactions: []types.Transaction{{
			Sender: "gateway",
			Data:   types.TxData{TxID: "T1", From: "alice", To: "bob", Amount: 25},
		}},
	}

	sendConfirmation(t, g.Address(), conf)
	select {
	case got := <-forwarded:
		if got.BlockHash != conf.BlockHash || len(got.Transactions) != 1 {
			t.Fatal("forwarded confirmation mangled")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("confirmation was not forwarded")
	}

	// The race loser reports the same block from another node; it is
	// recorded as a duplicate and not forwarded.
	conf.NodeID = "node-b"
	sendConfirmation(t, g.Address(), conf)
	select {
	case <-forwarded:
		t.Fatal("duplicate confirmation was forwarded")
	case <-time.After(500 * time.Millisecond):
	}

	count, err := g.chain.Count()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatal("expected 1 recorded confirmation, got", count)
	}
}

// TestConfirmationForwardOnRecordError breaks the dedup store and checks
// that a confirmation still reaches the app server: recording is
// best-effort, forwarding is not.
func TestConfirmationForwardOnRecordError(t *testing.T) {
	appListener, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}
	defer appListener.Close()

	forwarded := make(chan modules.BlockConfirmation, 1)
	go func() {
		conn, err := appListener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var conf modules.BlockConfirmation
		if encoding.ReadLine(encoding.NewLineReader(conn), &conf) == nil {
			forwarded <- conf
		}
	}()

	g := newTestingGateway(t, nil, modules.NetAddress(appListener.Addr().String()))
	// Close the store out from under the handler so every Record fails.
	if err := g.chain.db.Close(); err != nil {
		t.Fatal(err)
	}

	conf := modules.BlockConfirmation{
		Type:       modules.BlockConfirmationType,
		BlockIndex: 0,
		BlockHash:  "00ffee00000000000000000000000000000000000000000000000000000000aa",
		MinerID:    "miner-a",
		NodeID:     "node-a",
		Timestamp:  types.NowTimestamp(),
		Transactions: []types.Transaction{{
			Sender: "gateway",
			Data:   types.TxData{TxID: "T1", From: "alice", To: "bob", Amount: 25},
		}},
	}
	sendConfirmation(t, g.Address(), conf)

	select {
	case got := <-forwarded:
		if got.BlockHash != conf.BlockHash {
			t.Fatal("forwarded confirmation mangled")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("confirmation lost after record failure")
	}
}
