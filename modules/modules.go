// Package modules contains the types and interfaces shared between the
// aurex daemons: the wire messages, the network address type, and the
// interfaces that the node, gateway, and pipeline implement. The packages
// under modules/ hold the implementations.
package modules

import (
	"github.com/water-bottle-afk/aurex/types"
)

const (
	// NodeDir is the name of the directory that stores per-node state:
	// ledger files, keypair PEMs, the settings file, and the node log.
	NodeDir = "node"

	// GatewayDir is the name of the directory that stores gateway state:
	// the chain record file and the gateway log.
	GatewayDir = "gateway"

	// AppServerDir is the name of the directory that stores app server
	// state: the wallet/asset store, TLS material, and the app server log.
	AppServerDir = "appserver"
)

// Closer is implemented by every long-running module; Close releases all
// resources and blocks until background threads have exited.
type Closer interface {
	Close() error
}

// A Notifier receives exactly-once notifications for terminal purchase
// outcomes. The app server installs a logging notifier; external delivery
// systems plug in here.
type Notifier interface {
	// Notify is called once per purchase when its status becomes terminal.
	Notify(txID string, status types.TxStatus, message string)
}
