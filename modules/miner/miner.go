// Package miner implements the CPU-bound nonce search. A Miner is built
// for exactly one block attempt: it owns the canonical header bytes and a
// difficulty, runs the search on its own goroutine, and delivers at most
// one result on a capacity-1 channel. The search is cancellable from the
// outside through a one-shot latch observed every nonce iteration.
package miner

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/water-bottle-afk/aurex/crypto"
)

// A Result is the outcome of a successful nonce search.
type Result struct {
	HashHex string
	Nonce   uint64
}

// A Miner performs one externally cancellable proof-of-work search.
type Miner struct {
	data       []byte
	difficulty int

	stop     atomic.Bool
	result   chan Result
	attempts atomic.Uint64
	started  time.Time

	startOnce sync.Once
	done      chan struct{}
}

// New prepares a miner over the canonical header bytes. Start launches the
// search.
func New(canonicalData []byte, difficulty int) *Miner {
	return &Miner{
		data:       canonicalData,
		difficulty: difficulty,
		result:     make(chan Result, 1),
		done:       make(chan struct{}),
	}
}

// Start launches the mining goroutine. Calling Start more than once has no
// effect; a Miner performs a single search.
func (m *Miner) Start() {
	m.startOnce.Do(func() {
		m.started = time.Now()
		go m.threadedMine()
	})
}

// threadedMine is the search loop. It checks the stop latch every nonce, so
// cancellation latency is bounded by one hash.
func (m *Miner) threadedMine() {
	defer close(m.done)

	// The nonce is appended as ascii decimal; reusing one buffer keeps the
	// loop allocation-free.
	buf := make([]byte, len(m.data), len(m.data)+20)
	copy(buf, m.data)
	for nonce := uint64(0); ; nonce++ {
		if m.stop.Load() {
			return
		}
		attempt := strconv.AppendUint(buf, nonce, 10)
		hash := crypto.HashBytes(attempt)
		m.attempts.Add(1)
		if hash.MeetsDifficulty(m.difficulty) {
			m.result <- Result{HashHex: hash.String(), Nonce: nonce}
			return
		}
	}
}

// Stop trips the one-shot latch. It is idempotent and safe to call from any
// goroutine; the search ends within one hash iteration.
func (m *Miner) Stop() {
	m.stop.Store(true)
}

// Stopped reports whether the latch has been tripped.
func (m *Miner) Stopped() bool {
	return m.stop.Load()
}

// Result returns the channel on which the single successful result is
// delivered. A stopped miner never delivers.
func (m *Miner) Result() <-chan Result {
	return m.result
}

// Done returns a channel that closes when the mining goroutine has exited,
// whether by success or cancellation.
func (m *Miner) Done() <-chan struct{} {
	return m.done
}

// Attempts returns the number of hashes tried so far.
func (m *Miner) Attempts() uint64 {
	return m.attempts.Load()
}

// HashRate estimates hashes per second since Start.
func (m *Miner) HashRate() float64 {
	elapsed := time.Since(m.started).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(m.Attempts()) / elapsed
}
