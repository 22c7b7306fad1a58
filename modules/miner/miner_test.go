package miner

import (
	"testing"
	"time"

	"github.com/water-bottle-afk/aurex/crypto"
	"github.com/water-bottle-afk/aurex/types"
)

// TestMineDifficultyZero checks that difficulty 0 is won by nonce 0.
func TestMineDifficultyZero(t *testing.T) {
	m := New([]byte("any data at all"), 0)
	m.Start()
	select {
	case result := <-m.Result():
		if result.Nonce != 0 {
			t.Fatal("difficulty 0 should be won by nonce 0, got", result.Nonce)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("miner did not produce a result")
	}
}

// TestMineProducesValidHash mines at a small difficulty and checks the
// result against a recomputation.
func TestMineProducesValidHash(t *testing.T) {
	data := []byte(`{"index":0,"prev_hash":"00","timestamp":"t","tx":{}}`)
	m := New(data, 2)
	m.Start()
	var result Result
	select {
	case result = <-m.Result():
	case <-time.After(30 * time.Second):
		t.Fatal("miner did not produce a result")
	}
	if !crypto.MeetsDifficulty(result.HashHex, 2) {
		t.Fatal("result does not meet difficulty:", result.HashHex)
	}
	if types.HashWithNonce(data, result.Nonce) != result.HashHex {
		t.Fatal("result hash does not bind to data and nonce")
	}
	// The goroutine exits after delivering.
	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("miner goroutine did not exit after success")
	}
}

// TestMineCancellation checks that tripping the latch ends the search
// promptly and without a result.
func TestMineCancellation(t *testing.T) {
	// Difficulty 64 is unreachable; the miner would run forever.
	m := New([]byte("unwinnable"), 64)
	m.Start()

	// Let it spin briefly so cancellation is observed mid-search.
	time.Sleep(10 * time.Millisecond)
	m.Stop()

	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("miner did not stop within a second of cancellation")
	}
	select {
	case <-m.Result():
		t.Fatal("cancelled miner delivered a result")
	default:
	}
	if !m.Stopped() {
		t.Fatal("Stopped() is false after Stop()")
	}
	if m.Attempts() == 0 {
		t.Fatal("miner stopped without attempting any hashes")
	}
	// Stop is idempotent.
	m.Stop()
}

// TestStartOnce checks that repeated Start calls launch one search.
func TestStartOnce(t *testing.T) {
	m := New([]byte("data"), 0)
	m.Start()
	m.Start()
	select {
	case <-m.Result():
	case <-time.After(5 * time.Second):
		t.Fatal("miner did not produce a result")
	}
	// A second result would mean a second goroutine ran.
	select {
	case <-m.Result():
		t.Fatal("two results delivered for one miner")
	case <-time.After(50 * time.Millisecond):
	}
}
