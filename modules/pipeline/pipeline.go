// Package pipeline implements the app server's purchase pipeline: the BUY
// submission path, a single submission worker feeding the gateway, a status
// map with sticky terminal states, a timeout monitor, and the confirmation
// consumer that mutates wallets and asset ownership. It is purely
// in-process state plus two sockets (one dial-out to the gateway, one
// listener for confirmations).
package pipeline

import (
	"net"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"gitlab.com/NebulousLabs/errors"

	"github.com/water-bottle-afk/aurex/modules"
	"github.com/water-bottle-afk/aurex/modules/market"
	"github.com/water-bottle-afk/aurex/persist"
	aurexsync "github.com/water-bottle-afk/aurex/sync"
	"github.com/water-bottle-afk/aurex/types"
)

var (
	// ErrAssetUnavailable is returned by Buy for an unlisted asset.
	ErrAssetUnavailable = errors.New("asset is not listed for sale")

	// ErrOwnAsset is returned by Buy when the buyer already owns the asset.
	ErrOwnAsset = errors.New("asset already owned by buyer")

	// ErrPriceMismatch is returned by Buy when the offered amount does not
	// match the listed cost.
	ErrPriceMismatch = errors.New("amount does not match asset cost")

	// ErrInsufficientFunds is returned by Buy when the buyer's wallet
	// cannot cover the purchase.
	ErrInsufficientFunds = errors.New("Insufficient funds")
)

// queueSize bounds the purchase backlog. The worker is the single consumer;
// a full queue stalls BUY callers rather than dropping purchases.
const queueSize = 64

// A Config carries everything a Pipeline needs to start.
type Config struct {
	// GatewayAddr is the gateway's submission endpoint.
	GatewayAddr modules.NetAddress

	// ConfirmAddr is the listen address for block confirmations from the
	// gateway; port 0 picks an ephemeral port.
	ConfirmAddr modules.NetAddress

	// Market is the open wallet/asset store.
	Market *market.Market

	// Notifier receives exactly one call per purchase reaching a terminal
	// status. Nil disables notifications.
	Notifier modules.Notifier

	// Dir is the pipeline's log directory.
	Dir string
}

// A Pipeline is a running purchase pipeline.
type Pipeline struct {
	gatewayAddr modules.NetAddress
	market      *market.Market
	notifier    modules.Notifier
	log         *persist.Logger

	queue chan types.Purchase

	mu       sync.Mutex
	statuses map[string]*StatusRecord

	listener    net.Listener
	confirmAddr modules.NetAddress
	tg          aurexsync.ThreadGroup
}

// New starts a pipeline: the confirmation listener, the submission worker,
// and the timeout monitor.
func New(config Config) (*Pipeline, error) {
	if config.Market == nil {
		return nil, errors.New("pipeline requires an open market store")
	}
	if err := persist.MkdirAll(config.Dir); err != nil {
		return nil, errors.AddContext(err, "unable to create pipeline directory")
	}

	p := &Pipeline{
		gatewayAddr: config.GatewayAddr,
		market:      config.Market,
		notifier:    config.Notifier,
		queue:       make(chan types.Purchase, queueSize),
		statuses:    make(map[string]*StatusRecord),
	}

	var err error
	p.log, err = persist.NewLogger(filepath.Join(config.Dir, "pipeline.log"))
	if err != nil {
		return nil, errors.AddContext(err, "unable to open pipeline log")
	}
	p.tg.AfterStop(func() {
		if err := p.log.Close(); err != nil {
			println("unable to close pipeline log:", err.Error())
		}
	})

	p.listener, err = net.Listen("tcp", string(config.ConfirmAddr))
	if err != nil {
		return nil, errors.AddContext(err, "unable to open confirmation listener")
	}
	p.confirmAddr = modules.NetAddress(p.listener.Addr().String())
	p.tg.BeforeStop(func() {
		p.listener.Close()
	})

	for _, threaded := range []func(){
		p.threadedConfirmationListen,
		p.threadedSubmissionWorker,
		p.threadedTimeoutMonitor,
	} {
		if err := p.tg.Add(); err != nil {
			return nil, err
		}
		go func(fn func()) {
			defer p.tg.Done()
			fn()
		}(threaded)
	}

	p.log.Printf("INFO: pipeline started, gateway %q, confirmations on %s",
		p.gatewayAddr, p.confirmAddr)
	return p, nil
}

// Close shuts the pipeline down.
func (p *Pipeline) Close() error {
	return p.tg.Stop()
}

// ConfirmAddr returns the bound confirmation listen address.
func (p *Pipeline) ConfirmAddr() modules.NetAddress {
	return p.confirmAddr
}

// Buy validates a purchase request against the market and, if it holds,
// mints a tx id, records a queued status, and enqueues the purchase for the
// submission worker. The caller has already authorized buyer against the
// requesting session.
func (p *Pipeline) Buy(buyer, assetID string, amount float64) (string, error) {
	asset, err := p.market.Asset(assetID)
	if err != nil {
		return "", err
	}
	if !asset.IsListed {
		return "", ErrAssetUnavailable
	}
	if asset.Owner == buyer {
		return "", ErrOwnAsset
	}
	if amount-asset.Cost > types.PriceEpsilon || asset.Cost-amount > types.PriceEpsilon {
		return "", ErrPriceMismatch
	}
	balance, err := p.market.Balance(buyer)
	if err != nil {
		return "", err
	}
	if balance < amount {
		return "", ErrInsufficientFunds
	}

	purchase := types.Purchase{
		TxID:      uuid.NewString(),
		Buyer:     buyer,
		Seller:    asset.Owner,
		AssetID:   asset.AssetID,
		AssetName: asset.AssetName,
		Price:     amount,
		Timestamp: types.NowTimestamp(),
	}
	p.managedCreateStatus(purchase)

	select {
	case p.queue <- purchase:
	case <-p.tg.StopChan():
		return "", errors.New("pipeline is shutting down")
	}
	p.log.Printf("INFO: tx %s queued: %s buys %s from %s for %.2f",
		purchase.TxID, buyer, assetID, purchase.Seller, amount)
	return purchase.TxID, nil
}
