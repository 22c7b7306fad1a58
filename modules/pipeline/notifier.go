package pipeline

import (
	"github.com/water-bottle-afk/aurex/persist"
	"github.com/water-bottle-afk/aurex/types"
)

// A LogNotifier writes terminal purchase notifications to a logger. It is
// the notifier daemons install; external delivery channels plug in behind
// the same interface.
type LogNotifier struct {
	Log *persist.Logger
}

// Notify records one terminal notification.
func (n LogNotifier) Notify(txID string, status types.TxStatus, message string) {
	n.Log.Printf("NOTIFY: tx %s is %s: %s", txID, status.Wire(), message)
}
