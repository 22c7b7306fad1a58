package pipeline

// status.go is the purchase status map: one record per tx id, transitions
// gated by the status state machine, terminal states sticky, and exactly
// one notification per record.

import (
	"time"

	"github.com/water-bottle-afk/aurex/types"
)

// A StatusRecord tracks one purchase through the pipeline.
type StatusRecord struct {
	TxID      string         `json:"tx_id"`
	Status    types.TxStatus `json:"status"`
	Message   string         `json:"message"`
	CreatedAt time.Time      `json:"created_at"`

	AssetID   string  `json:"asset_id"`
	AssetName string  `json:"asset_name"`
	Buyer     string  `json:"buyer"`
	Seller    string  `json:"seller"`
	Amount    float64 `json:"amount"`

	// Notified is set when the terminal notification has been emitted.
	Notified bool `json:"notified"`
}

// managedCreateStatus installs the queued record for a fresh purchase.
func (p *Pipeline) managedCreateStatus(purchase types.Purchase) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[purchase.TxID] = &StatusRecord{
		TxID:      purchase.TxID,
		Status:    types.StatusQueued,
		Message:   "Purchase queued",
		CreatedAt: time.Now(),
		AssetID:   purchase.AssetID,
		AssetName: purchase.AssetName,
		Buyer:     purchase.Buyer,
		Seller:    purchase.Seller,
		Amount:    purchase.Price,
	}
}

// Status returns a copy of the record for a tx id.
func (p *Pipeline) Status(txID string) (StatusRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	record, ok := p.statuses[txID]
	if !ok {
		return StatusRecord{}, false
	}
	return *record, true
}

// managedTransition applies one status transition if the state machine
// allows it, reporting whether the record changed. Reaching a terminal
// status emits the record's single notification.
func (p *Pipeline) managedTransition(txID string, to types.TxStatus, message string) bool {
	p.mu.Lock()
	record, ok := p.statuses[txID]
	if !ok || !record.Status.CanTransitionTo(to) {
		p.mu.Unlock()
		return false
	}
	record.Status = to
	record.Message = message
	notify := to.IsTerminal() && !record.Notified
	if notify {
		record.Notified = true
	}
	p.mu.Unlock()

	p.log.Printf("INFO: tx %s -> %s: %s", txID, to, message)
	if notify && p.notifier != nil {
		p.notifier.Notify(txID, to, message)
	}
	return true
}
