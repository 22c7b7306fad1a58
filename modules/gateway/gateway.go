// Package gateway implements the fan-out/fan-in service between the app
// server and the mining nodes. One TCP listener serves two message
// families: framed client submissions, which fan out to every configured
// node, and newline-delimited block confirmations from winning nodes, which
// are recorded once and forwarded upstream to the app server.
package gateway

import (
	"bufio"
	"net"
	"path/filepath"
	"time"

	"gitlab.com/NebulousLabs/errors"

	"github.com/water-bottle-afk/aurex/modules"
	"github.com/water-bottle-afk/aurex/persist"
	"github.com/water-bottle-afk/aurex/sync"
)

// A Config carries everything a Gateway needs to start.
type Config struct {
	// Addr is the listen address; port 0 picks an ephemeral port.
	Addr modules.NetAddress

	// Nodes are the mining node endpoints the gateway fans out to.
	Nodes []modules.NetAddress

	// AppServerAddr is the app server's confirmation listener.
	// Confirmations are recorded but not forwarded when it is empty.
	AppServerAddr modules.NetAddress

	// Dir is the gateway's data directory.
	Dir string
}

// A Gateway is a running fan-out/fan-in service.
type Gateway struct {
	nodes         []modules.NetAddress
	appServerAddr modules.NetAddress

	chain *chainRecord
	log   *persist.Logger

	listener net.Listener
	addr     modules.NetAddress
	tg       sync.ThreadGroup
}

// New starts a gateway.
func New(config Config) (*Gateway, error) {
	if !config.Addr.IsValid() {
		return nil, errors.New("invalid listen address: " + string(config.Addr))
	}
	if err := persist.MkdirAll(config.Dir); err != nil {
		return nil, errors.AddContext(err, "unable to create gateway directory")
	}

	g := &Gateway{
		nodes:         config.Nodes,
		appServerAddr: config.AppServerAddr,
	}

	var err error
	g.log, err = persist.NewLogger(filepath.Join(config.Dir, "gateway.log"))
	if err != nil {
		return nil, errors.AddContext(err, "unable to open gateway log")
	}
	g.tg.AfterStop(func() {
		if err := g.log.Close(); err != nil {
			println("unable to close gateway log:", err.Error())
		}
	})

	g.chain, err = openChainRecord(config.Dir)
	if err != nil {
		return nil, errors.AddContext(err, "unable to open chain record")
	}
	g.tg.AfterStop(func() {
		if err := g.chain.Close(); err != nil {
			g.log.Println("ERROR: unable to close chain record:", err)
		}
	})

	g.listener, err = net.Listen("tcp", string(config.Addr))
	if err != nil {
		return nil, errors.AddContext(err, "unable to open gateway listener")
	}
	g.addr = modules.NetAddress(g.listener.Addr().String())
	g.tg.BeforeStop(func() {
		g.listener.Close()
	})

	if err := g.tg.Add(); err != nil {
		return nil, err
	}
	go func() {
		defer g.tg.Done()
		g.threadedListen()
	}()

	g.log.Printf("INFO: gateway listening on %s, %d nodes, app server %q",
		g.addr, len(g.nodes), g.appServerAddr)
	return g, nil
}

// Close shuts the gateway down.
func (g *Gateway) Close() error {
	return g.tg.Stop()
}

// Address returns the bound listen address.
func (g *Gateway) Address() modules.NetAddress {
	return g.addr
}

// threadedListen accepts connections and sniffs the first byte to pick the
// message family: '{' begins a newline-delimited confirmation stream,
// anything else is a length prefix. A frame starting with 0x7B would claim
// at least 31488 bytes, which submissions never reach.
func (g *Gateway) threadedListen() {
	for {
		conn, err := g.listener.Accept()
		if err != nil {
			return
		}
		if g.tg.Add() != nil {
			conn.Close()
			return
		}
		go func() {
			defer g.tg.Done()
			defer conn.Close()
			g.threadedHandleConn(conn)
		}()
	}
}

// threadedHandleConn dispatches one connection to the confirmation or
// submission path.
func (g *Gateway) threadedHandleConn(conn net.Conn) {
	conn.SetDeadline(time.Now().Add(10 * time.Second))
	br := bufio.NewReader(conn)
	first, err := br.Peek(1)
	if err != nil {
		g.log.Println("WARN: could not read from", conn.RemoteAddr(), "-", err)
		return
	}
	if first[0] == '{' {
		g.handleConfirmations(br)
		return
	}
	g.handleSubmission(br, conn)
}
