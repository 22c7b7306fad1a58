package ledger

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/water-bottle-afk/aurex/build"
	"github.com/water-bottle-afk/aurex/persist"
	"github.com/water-bottle-afk/aurex/types"
)

// testBlock builds a minimal block for ledger tests. The hash is fake but
// unique; the ledger does not validate, it stores.
func testBlock(index int64, prevHash, txID string) types.Block {
	return types.Block{
		Index:       index,
		Timestamp:   types.NowTimestamp(),
		PrevHash:    prevHash,
		CurrentHash: fmt.Sprintf("%064x", index+0xbeef),
		Nonce:       uint64(index) * 7,
		MinerID:     "miner-1",
		Signature:   "sig",
		Transactions: []types.Transaction{{
			Sender:         "gateway",
			Data:           types.TxData{TxID: txID, From: "alice", To: "bob", Amount: 25},
			StartTimestamp: types.NowTimestamp(),
		}},
	}
}

// newTestingLedger opens a fresh ledger in a per-test directory.
func newTestingLedger(t *testing.T, port int) *Ledger {
	testdir := build.TempDir("ledger", t.Name())
	if err := persist.MkdirAll(testdir); err != nil {
		t.Fatal(err)
	}
	l, err := Open(testdir, port)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

// TestGenesisTip checks the empty-ledger tip values.
func TestGenesisTip(t *testing.T) {
	l := newTestingLedger(t, 9000)
	index, hash, err := l.LastBlock()
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, int64(-1), index)
	assert.Equal(t, types.GenesisPrevHash, hash)

	height, err := l.Height()
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, int64(0), height)
}

// TestAppendAndLookup appends a short chain and exercises every lookup.
func TestAppendAndLookup(t *testing.T) {
	l := newTestingLedger(t, 9000)

	b0 := testBlock(0, types.GenesisPrevHash, "T0")
	b1 := testBlock(1, b0.CurrentHash, "T1")
	if err := l.AppendBlock(b0); err != nil {
		t.Fatal(err)
	}
	if err := l.AppendBlock(b1); err != nil {
		t.Fatal(err)
	}

	index, hash, err := l.LastBlock()
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, int64(1), index)
	assert.Equal(t, b1.CurrentHash, hash)

	byIndex, err := l.BlockByIndex(0)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, b0.CurrentHash, byIndex.CurrentHash)
	assert.Len(t, byIndex.Transactions, 1)
	assert.Equal(t, "T0", byIndex.Transactions[0].Data.TxID)
	// The stored transaction took the block timestamp as end_timestamp.
	assert.Equal(t, b0.Timestamp, byIndex.Transactions[0].EndTimestamp)

	byHash, err := l.BlockByHash(b1.CurrentHash)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, int64(1), byHash.Index)

	sealedTx, blockHash, err := l.TransactionByID("T1")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, b1.CurrentHash, blockHash)
	assert.Equal(t, "alice", sealedTx.Data.From)

	if _, err := l.BlockByIndex(5); err != ErrBlockNotFound {
		t.Fatal("expected ErrBlockNotFound, got", err)
	}
	if _, _, err := l.TransactionByID("nope"); err != ErrTxNotFound {
		t.Fatal("expected ErrTxNotFound, got", err)
	}
}

// TestDuplicateAppend checks that re-appending a block is rejected without
// touching the chain.
func TestDuplicateAppend(t *testing.T) {
	l := newTestingLedger(t, 9000)
	b0 := testBlock(0, types.GenesisPrevHash, "T0")
	if err := l.AppendBlock(b0); err != nil {
		t.Fatal(err)
	}
	if err := l.AppendBlock(b0); err != ErrDuplicateBlock {
		t.Fatal("expected ErrDuplicateBlock, got", err)
	}
	height, err := l.Height()
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, int64(1), height)
}

// TestChainInvariants appends a longer chain and checks the link invariant
// over a full scan.
func TestChainInvariants(t *testing.T) {
	l := newTestingLedger(t, 9000)
	prev := types.GenesisPrevHash
	for i := int64(0); i < 20; i++ {
		b := testBlock(i, prev, fmt.Sprintf("T%d", i))
		if err := l.AppendBlock(b); err != nil {
			t.Fatal(err)
		}
		prev = b.CurrentHash
	}

	blocks, err := l.Blocks(0)
	if err != nil {
		t.Fatal(err)
	}
	assert.Len(t, blocks, 20)
	for i := 1; i < len(blocks); i++ {
		assert.Equal(t, blocks[i-1].CurrentHash, blocks[i].PrevHash)
		assert.Equal(t, blocks[i-1].Index+1, blocks[i].Index)
	}

	recent, err := l.Blocks(5)
	if err != nil {
		t.Fatal(err)
	}
	assert.Len(t, recent, 5)
	assert.Equal(t, int64(15), recent[0].Index)
	assert.Equal(t, int64(19), recent[4].Index)
}

// TestReopen closes and reopens a ledger, checking that the tip survives.
func TestReopen(t *testing.T) {
	testdir := build.TempDir("ledger", t.Name())
	if err := persist.MkdirAll(testdir); err != nil {
		t.Fatal(err)
	}
	l, err := Open(testdir, 9000)
	if err != nil {
		t.Fatal(err)
	}
	b0 := testBlock(0, types.GenesisPrevHash, "T0")
	if err := l.AppendBlock(b0); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(testdir, 9000)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	index, hash, err := reopened.LastBlock()
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, int64(0), index)
	assert.Equal(t, b0.CurrentHash, hash)
}

// TestRegistry checks registry upserts and reads.
func TestRegistry(t *testing.T) {
	l := newTestingLedger(t, 9000)
	entry := RegistryEntry{
		NodeID: "node-1", Host: "localhost", Port: 9000,
		NodeType: "pow", Status: "active", LastSeen: types.NowTimestamp(),
	}
	if err := l.UpsertNode(entry); err != nil {
		t.Fatal(err)
	}
	// Upsert again with a new status; the row is replaced, not duplicated.
	entry.Status = "stale"
	if err := l.UpsertNode(entry); err != nil {
		t.Fatal(err)
	}
	nodes, err := l.Nodes()
	if err != nil {
		t.Fatal(err)
	}
	assert.Len(t, nodes, 1)
	assert.Equal(t, "stale", nodes[0].Status)
}
