package gateway

// forward.go handles the fan-in side: newline-delimited confirmations from
// winning nodes, recorded once and forwarded to the app server.

import (
	"bufio"
	"io"
	"net"
	"time"

	"github.com/water-bottle-afk/aurex/encoding"
	"github.com/water-bottle-afk/aurex/modules"
	"github.com/water-bottle-afk/aurex/types"
)

// handleConfirmations consumes every confirmation line on one connection.
// Nodes send one line per connection today, but the loop costs nothing and
// tolerates batching.
func (g *Gateway) handleConfirmations(br *bufio.Reader) {
	for {
		var conf modules.BlockConfirmation
		err := encoding.ReadLine(br, &conf)
		if err == io.EOF {
			return
		}
		if err != nil {
			g.log.Println("WARN: malformed confirmation line:", err)
			return
		}
		if conf.Type != modules.BlockConfirmationType {
			g.log.Printf("WARN: unexpected line type %q on confirmation path", conf.Type)
			continue
		}

		first, err := g.chain.Record(conf)
		if err != nil {
			// Recording is best-effort dedup and the consumer tolerates
			// re-delivery; a failed write must not eat the confirmation.
			g.log.Println("ERROR: unable to record confirmation, forwarding anyway:", err)
			first = true
		}
		if !first {
			// At-most-once forwarding per block: the race loser's
			// confirmation dies here.
			g.log.Printf("INFO: duplicate confirmation for block %.12s… dropped", conf.BlockHash)
			continue
		}
		g.log.Printf("INFO: block %d (%.12s…) confirmed by node %s",
			conf.BlockIndex, conf.BlockHash, conf.NodeID)
		g.forwardConfirmation(conf)
	}
}

// forwardConfirmation relays one confirmation line to the app server.
func (g *Gateway) forwardConfirmation(conf modules.BlockConfirmation) {
	if g.appServerAddr == "" {
		return
	}
	conn, err := net.DialTimeout("tcp", string(g.appServerAddr), types.GossipTimeout)
	if err != nil {
		g.log.Println("WARN: app server unreachable for confirmation:", err)
		return
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(types.GossipTimeout))
	if err := encoding.WriteLine(conn, conf); err != nil {
		g.log.Println("WARN: could not forward confirmation:", err)
	}
}
