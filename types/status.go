package types

// status.go defines the purchase status lifecycle tracked by the app
// server. A status only moves forward: queued → submitted → one of the
// terminal states, and terminal states are sticky.

// A TxStatus is the lifecycle state of one purchase.
type TxStatus string

const (
	// StatusQueued means the purchase is waiting for the submission worker.
	StatusQueued TxStatus = "queued"
	// StatusSubmitted means the gateway accepted the purchase and reached at
	// least one node.
	StatusSubmitted TxStatus = "submitted"
	// StatusConfirmed means a block sealed the purchase and the wallet
	// transfer was applied.
	StatusConfirmed TxStatus = "confirmed"
	// StatusFailed means the purchase was rejected somewhere along the path.
	StatusFailed TxStatus = "failed"
	// StatusTimeout means the purchase saw no terminal outcome within the
	// end-to-end deadline.
	StatusTimeout TxStatus = "timeout"
)

// IsTerminal reports whether the status permits no further transitions.
func (s TxStatus) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusFailed || s == StatusTimeout
}

// CanTransitionTo reports whether moving from s to next respects the status
// state machine. Self-transitions are not permitted; callers treat a
// repeated set as a no-op before consulting this.
func (s TxStatus) CanTransitionTo(next TxStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case StatusQueued:
		return next == StatusSubmitted || next.IsTerminal()
	case StatusSubmitted:
		return next.IsTerminal()
	}
	return false
}

// Wire returns the uppercase form used by the GET_TX_STATUS reply.
func (s TxStatus) Wire() string {
	switch s {
	case StatusQueued:
		return "QUEUED"
	case StatusSubmitted:
		return "SUBMITTED"
	case StatusConfirmed:
		return "CONFIRMED"
	case StatusFailed:
		return "FAILED"
	case StatusTimeout:
		return "TIMEOUT"
	}
	return "UNKNOWN"
}
