package pipeline

// monitor.go enforces the end-to-end purchase deadline: any record still
// nonterminal past the deadline is timed out.

import (
	"time"

	"github.com/water-bottle-afk/aurex/types"
)

// timeoutMessage is the user-visible reason for a deadline expiry.
const timeoutMessage = "PoW Timeout after 10 mins"

// threadedTimeoutMonitor scans the status map on a fixed interval.
func (p *Pipeline) threadedTimeoutMonitor() {
	ticker := time.NewTicker(types.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.tg.StopChan():
			return
		case <-ticker.C:
			p.managedExpireStale()
		}
	}
}

// managedExpireStale times out every nonterminal record older than the
// purchase deadline.
func (p *Pipeline) managedExpireStale() {
	cutoff := time.Now().Add(-types.PurchaseDeadline)
	var stale []string
	p.mu.Lock()
	for txID, record := range p.statuses {
		if !record.Status.IsTerminal() && record.CreatedAt.Before(cutoff) {
			stale = append(stale, txID)
		}
	}
	p.mu.Unlock()

	// Transitions re-check under the lock, so a confirmation racing this
	// scan still wins.
	for _, txID := range stale {
		p.managedTransition(txID, types.StatusTimeout, timeoutMessage)
	}
}
