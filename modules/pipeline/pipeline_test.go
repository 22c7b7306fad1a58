package pipeline

import (
	"encoding/json"
	"math"
	"net"
	"testing"
	"time"

	"gitlab.com/NebulousLabs/errors"

	"github.com/water-bottle-afk/aurex/build"
	"github.com/water-bottle-afk/aurex/encoding"
	"github.com/water-bottle-afk/aurex/modules"
	"github.com/water-bottle-afk/aurex/modules/market"
	"github.com/water-bottle-afk/aurex/persist"
	"github.com/water-bottle-afk/aurex/types"
)

var errTooSoon = errors.New("condition not met yet")

// recordingNotifier captures terminal notifications on a channel.
type recordingNotifier struct {
	calls chan string
}

func (n *recordingNotifier) Notify(txID string, status types.TxStatus, message string) {
	n.calls <- txID + "|" + status.Wire()
}

// newTestingMarket opens a fresh store with alice (rich), bob (broke), and
// one listed asset owned by bob.
func newTestingMarket(t *testing.T) *market.Market {
	dir := build.TempDir("pipeline", t.Name(), "market")
	if err := persist.MkdirAll(dir); err != nil {
		t.Fatal(err)
	}
	m, err := market.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { m.Close() })
	if err := m.Signup("alice", "alice", "alice@example.com"); err != nil {
		t.Fatal(err)
	}
	if err := m.Signup("bob", "bob", "bob@example.com"); err != nil {
		t.Fatal(err)
	}
	// Drain bob so insufficient-funds paths have a broke buyer.
	if err := m.Transfer("bob", "alice", types.StartingBalance); err != nil {
		t.Fatal(err)
	}
	err = m.AddAsset(market.Asset{
		AssetID: "deer", AssetName: "Deer", Owner: "bob", Cost: 25.00, IsListed: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

// newTestingPipeline starts a pipeline against the given gateway address.
func newTestingPipeline(t *testing.T, m *market.Market, gateway modules.NetAddress) (*Pipeline, *recordingNotifier) {
	notifier := &recordingNotifier{calls: make(chan string, 16)}
	p, err := New(Config{
		GatewayAddr: gateway,
		ConfirmAddr: "localhost:0",
		Market:      m,
		Notifier:    notifier,
		Dir:         build.TempDir("pipeline", t.Name()),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Close() })
	return p, notifier
}

// fakeGateway answers every framed submission with a canned reply.
func fakeGateway(t *testing.T, reply modules.SubmitReply) modules.NetAddress {
	listener, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { listener.Close() })
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				conn.SetDeadline(time.Now().Add(5 * time.Second))
				var req modules.SubmitRequest
				if encoding.ReadObject(conn, &req) != nil {
					return
				}
				encoding.WriteObject(conn, reply)
			}()
		}
	}()
	return modules.NetAddress(listener.Addr().String())
}

// waitForStatus polls until the record reaches the wanted status.
func waitForStatus(t *testing.T, p *Pipeline, txID string, want types.TxStatus) StatusRecord {
	var record StatusRecord
	err := build.Retry(100, 50*time.Millisecond, func() error {
		r, ok := p.Status(txID)
		if !ok {
			return errTooSoon
		}
		if r.Status != want {
			return errTooSoon
		}
		record = r
		return nil
	})
	if err != nil {
		r, _ := p.Status(txID)
		t.Fatalf("tx %s never reached %s, last seen %q (%s)", txID, want, r.Status, r.Message)
	}
	return record
}

// TestBuyValidation checks every rejection the BUY path performs before any
// gateway call.
func TestBuyValidation(t *testing.T) {
	m := newTestingMarket(t)
	p, _ := newTestingPipeline(t, m, "localhost:1") // never dialed

	// Unknown asset.
	if _, err := p.Buy("alice", "nope", 25.00); !errors.Contains(err, market.ErrAssetNotFound) {
		t.Fatal("expected asset-not-found, got", err)
	}
	// Own asset.
	if _, err := p.Buy("bob", "deer", 25.00); !errors.Contains(err, ErrOwnAsset) {
		t.Fatal("expected own-asset rejection, got", err)
	}
	// Price off by more than epsilon.
	if _, err := p.Buy("alice", "deer", 24.00); !errors.Contains(err, ErrPriceMismatch) {
		t.Fatal("expected price mismatch, got", err)
	}
	// Drain alice below the asking price; the broke buyer is rejected.
	if err := m.Transfer("alice", "bob", 2*types.StartingBalance-10); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Buy("alice", "deer", 25.00); !errors.Contains(err, ErrInsufficientFunds) {
		t.Fatal("expected insufficient funds, got", err)
	}
	// Unlisted asset.
	if _, err := m.UpdateAssetOwner("deer", "carol"); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Buy("alice", "deer", 25.00); !errors.Contains(err, ErrAssetUnavailable) {
		t.Fatal("expected unavailable rejection, got", err)
	}
}

// TestBuyGatewayUnreachable checks that a dead gateway yields failed with a
// gateway error, never timeout.
func TestBuyGatewayUnreachable(t *testing.T) {
	// A listener that is immediately closed leaves a dead port.
	dead, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}
	deadAddr := modules.NetAddress(dead.Addr().String())
	dead.Close()

	m := newTestingMarket(t)
	p, notifier := newTestingPipeline(t, m, deadAddr)

	txID, err := p.Buy("alice", "deer", 25.00)
	if err != nil {
		t.Fatal(err)
	}
	record := waitForStatus(t, p, txID, types.StatusFailed)
	if len(record.Message) < len("Gateway error: ") || record.Message[:15] != "Gateway error: " {
		t.Fatal("unexpected failure message:", record.Message)
	}

	// One notification, and it reports FAILED.
	select {
	case call := <-notifier.calls:
		if call != txID+"|FAILED" {
			t.Fatal("unexpected notification:", call)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no notification emitted")
	}

	// No balance moved.
	balance, err := m.Balance("alice")
	if err != nil {
		t.Fatal(err)
	}
	if balance != types.StartingBalance+types.StartingBalance {
		t.Fatal("failed purchase moved money, alice has", balance)
	}
}

// TestBuyGatewayRejection checks that the gateway's failure message lands in
// the status record.
func TestBuyGatewayRejection(t *testing.T) {
	gateway := fakeGateway(t, modules.SubmitReply{
		Status:  modules.SubmitStatusFailed,
		Message: "Transaction failed: no nodes reached. Start nodes first.",
	})
	m := newTestingMarket(t)
	p, _ := newTestingPipeline(t, m, gateway)

	txID, err := p.Buy("alice", "deer", 25.00)
	if err != nil {
		t.Fatal(err)
	}
	record := waitForStatus(t, p, txID, types.StatusFailed)
	if record.Message != "Transaction failed: no nodes reached. Start nodes first." {
		t.Fatal("gateway message lost:", record.Message)
	}
}

// TestConfirmationSettlement runs the full pipeline cycle: queued,
// submitted, confirmed; wallets and ownership move exactly once even when
// the confirmation is delivered twice.
func TestConfirmationSettlement(t *testing.T) {
	gateway := fakeGateway(t, modules.SubmitReply{
		Status:       modules.SubmitStatusSubmitted,
		NodesReached: 1,
		Message:      "Transaction sent to 1 nodes",
	})
	m := newTestingMarket(t)
	p, notifier := newTestingPipeline(t, m, gateway)

	txID, err := p.Buy("alice", "deer", 25.00)
	if err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, p, txID, types.StatusSubmitted)

	conf := modules.BlockConfirmation{
		Type:       modules.BlockConfirmationType,
		BlockIndex: 0,
		BlockHash:  "00aa00aa00aa00aa00aa00aa00aa00aa00aa00aa00aa00aa00aa00aa00aa00aa",
		MinerID:    "miner",
		NodeID:     "node",
		Timestamp:  types.NowTimestamp(),
		Transactions: []types.Transaction{{
			Sender: "gateway",
			Data: types.TxData{
				Action: "purchase", TxID: txID, AssetID: "deer", AssetName: "Deer",
				Price: 25.00, From: "alice", To: "bob", Amount: 25.00,
			},
			StartTimestamp: types.NowTimestamp(),
		}},
	}
	deliver := func() {
		conn, err := net.Dial("tcp", string(p.ConfirmAddr()))
		if err != nil {
			t.Fatal(err)
		}
		defer conn.Close()
		if err := encoding.WriteLine(conn, conf); err != nil {
			t.Fatal(err)
		}
	}

	deliver()
	record := waitForStatus(t, p, txID, types.StatusConfirmed)
	if !record.Notified {
		t.Fatal("confirmed record not marked notified")
	}

	aliceBalance, err := m.Balance("alice")
	if err != nil {
		t.Fatal(err)
	}
	bobBalance, err := m.Balance("bob")
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(aliceBalance-175.00) > 1e-9 || math.Abs(bobBalance-25.00) > 1e-9 {
		t.Fatalf("bad balances after settlement: alice %.2f bob %.2f", aliceBalance, bobBalance)
	}
	asset, err := m.Asset("deer")
	if err != nil {
		t.Fatal(err)
	}
	if asset.Owner != "bob" || asset.IsListed {
		t.Fatal("asset not reassigned:", asset)
	}

	select {
	case call := <-notifier.calls:
		if call != txID+"|CONFIRMED" {
			t.Fatal("unexpected notification:", call)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no notification emitted")
	}

	// Redelivery: terminal record, so no second transfer and no second
	// notification.
	deliver()
	time.Sleep(300 * time.Millisecond)
	aliceBalance, _ = m.Balance("alice")
	if math.Abs(aliceBalance-175.00) > 1e-9 {
		t.Fatal("duplicate confirmation moved money again, alice has", aliceBalance)
	}
	select {
	case call := <-notifier.calls:
		t.Fatal("duplicate confirmation re-notified:", call)
	default:
	}
}

// TestTimeoutMonitor forces a deadline expiry and checks the transition and
// its stickiness.
func TestTimeoutMonitor(t *testing.T) {
	m := newTestingMarket(t)
	p, notifier := newTestingPipeline(t, m, "localhost:1")

	p.managedCreateStatus(types.Purchase{
		TxID: "T-stale", Buyer: "alice", Seller: "bob",
		AssetID: "deer", Price: 25.00, Timestamp: types.NowTimestamp(),
	})
	p.mu.Lock()
	p.statuses["T-stale"].CreatedAt = time.Now().Add(-types.PurchaseDeadline - time.Minute)
	p.mu.Unlock()

	p.managedExpireStale()
	record, ok := p.Status("T-stale")
	if !ok || record.Status != types.StatusTimeout {
		t.Fatal("stale record not timed out:", record.Status)
	}
	if record.Message != "PoW Timeout after 10 mins" {
		t.Fatal("unexpected timeout message:", record.Message)
	}
	select {
	case call := <-notifier.calls:
		if call != "T-stale|TIMEOUT" {
			t.Fatal("unexpected notification:", call)
		}
	default:
		t.Fatal("timeout emitted no notification")
	}

	// Terminal is sticky: a late confirmation transition is refused.
	if p.managedTransition("T-stale", types.StatusConfirmed, "late") {
		t.Fatal("terminal record accepted a transition")
	}
	// A second expiry pass neither re-transitions nor re-notifies.
	p.managedExpireStale()
	select {
	case call := <-notifier.calls:
		t.Fatal("expiry re-notified:", call)
	default:
	}
}

// TestStatusMonotonicity drives transition sequences and checks no
// terminal state ever regresses.
func TestStatusMonotonicity(t *testing.T) {
	m := newTestingMarket(t)
	p, _ := newTestingPipeline(t, m, "localhost:1")

	all := []types.TxStatus{
		types.StatusQueued, types.StatusSubmitted, types.StatusConfirmed,
		types.StatusFailed, types.StatusTimeout,
	}
	p.managedCreateStatus(types.Purchase{TxID: "T-seq", Buyer: "alice", Seller: "bob"})
	for i := 0; i < 100; i++ {
		record, _ := p.Status("T-seq")
		before := record.Status
		target := all[i%len(all)]
		p.managedTransition("T-seq", target, "walk")
		record, _ = p.Status("T-seq")
		if before.IsTerminal() && record.Status != before {
			t.Fatalf("terminal %s regressed to %s", before, record.Status)
		}
	}
	record, _ := p.Status("T-seq")
	if !record.Status.IsTerminal() {
		t.Fatal("walk never reached a terminal state")
	}
}

// TestStatusRecordCopy makes sure Status returns a copy, not the live row.
func TestStatusRecordCopy(t *testing.T) {
	m := newTestingMarket(t)
	p, _ := newTestingPipeline(t, m, "localhost:1")

	p.managedCreateStatus(types.Purchase{TxID: "T-copy", Buyer: "alice"})
	record, ok := p.Status("T-copy")
	if !ok {
		t.Fatal("record missing")
	}
	record.Status = types.StatusFailed
	fresh, _ := p.Status("T-copy")
	if fresh.Status != types.StatusQueued {
		t.Fatal("Status leaked the live record")
	}
	if _, err := json.Marshal(fresh); err != nil {
		t.Fatal("status record not serializable:", err)
	}
}
