package types

// timestamp.go holds the ISO-8601 timestamp helpers. Block timestamps are
// advisory, not consensus-critical; they still travel inside the hashed
// header, so the format must be stable.

import (
	"time"
)

// TimestampLayout is the ISO-8601 UTC layout used on the wire and in the
// ledger.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// NowTimestamp returns the current UTC time in the wire layout.
func NowTimestamp() string {
	return time.Now().UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a wire timestamp. It tolerates a missing fractional
// part, which older ledgers contain.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05Z", s)
}
