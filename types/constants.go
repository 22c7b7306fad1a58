package types

// constants.go holds the protocol constants and the tunable defaults shared
// by the daemons. Values that must differ between release and testing
// builds go through build.Select.

import (
	"time"

	"github.com/water-bottle-afk/aurex/build"
)

var (
	// DefaultDifficulty is the number of leading hex '0' characters a block
	// hash must carry. Testing builds keep it low so tests mine in
	// microseconds.
	DefaultDifficulty = build.Select(build.Var{
		Standard: 4,
		Dev:      2,
		Testing:  1,
	}).(int)
)

const (
	// GossipTimeout bounds one connect-send-close to a peer during
	// broadcast and gateway fan-out.
	GossipTimeout = 3 * time.Second

	// GatewayCallTimeout bounds the submission worker's synchronous call to
	// the gateway.
	GatewayCallTimeout = 10 * time.Second

	// PurchaseDeadline is the end-to-end deadline after which an unresolved
	// purchase transitions to timeout.
	PurchaseDeadline = 600 * time.Second

	// MonitorInterval is how often the timeout monitor scans the status
	// map.
	MonitorInterval = 5 * time.Second

	// PriceEpsilon is the tolerance when comparing a requested price to the
	// stored asset cost.
	PriceEpsilon = 0.01

	// StartingBalance is the wallet balance granted to new accounts.
	StartingBalance = 100.0
)
