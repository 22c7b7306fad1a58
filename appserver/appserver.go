// Package appserver implements the marketplace's client-facing TLS server:
// a pipe-delimited text protocol carried in length-prefixed frames, session
// binding via LOGIN, marketplace reads, and the BUY entry point into the
// purchase pipeline.
package appserver

import (
	"crypto/tls"
	"net"
	"path/filepath"

	"gitlab.com/NebulousLabs/errors"

	"github.com/water-bottle-afk/aurex/modules"
	"github.com/water-bottle-afk/aurex/modules/market"
	"github.com/water-bottle-afk/aurex/modules/pipeline"
	"github.com/water-bottle-afk/aurex/persist"
	"github.com/water-bottle-afk/aurex/sync"
)

// A Config carries everything a Server needs to start.
type Config struct {
	// Addr is the TLS listen address; port 0 picks an ephemeral port.
	Addr modules.NetAddress

	// CertFile and KeyFile locate the TLS pair. When both are empty a
	// self-signed pair is generated under Dir.
	CertFile string
	KeyFile  string

	// Market is the open wallet/asset store.
	Market *market.Market

	// Pipeline is the running purchase pipeline.
	Pipeline *pipeline.Pipeline

	// Dir is the server's data directory.
	Dir string
}

// A Server is a running app server.
type Server struct {
	market   *market.Market
	pipeline *pipeline.Pipeline
	log      *persist.Logger

	listener net.Listener
	addr     modules.NetAddress
	tg       sync.ThreadGroup
}

// New starts the app server.
func New(config Config) (*Server, error) {
	if config.Market == nil || config.Pipeline == nil {
		return nil, errors.New("app server requires a market store and a pipeline")
	}
	if err := persist.MkdirAll(config.Dir); err != nil {
		return nil, errors.AddContext(err, "unable to create app server directory")
	}

	srv := &Server{
		market:   config.Market,
		pipeline: config.Pipeline,
	}

	var err error
	srv.log, err = persist.NewLogger(filepath.Join(config.Dir, "appserver.log"))
	if err != nil {
		return nil, errors.AddContext(err, "unable to open app server log")
	}
	srv.tg.AfterStop(func() {
		if err := srv.log.Close(); err != nil {
			println("unable to close app server log:", err.Error())
		}
	})

	certFile, keyFile := config.CertFile, config.KeyFile
	if certFile == "" && keyFile == "" {
		certFile = filepath.Join(config.Dir, "server.crt")
		keyFile = filepath.Join(config.Dir, "server.key")
		if err := ensureCertificate(certFile, keyFile); err != nil {
			return nil, errors.AddContext(err, "unable to provision tls certificate")
		}
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, errors.AddContext(err, "unable to load tls certificate")
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	srv.listener, err = tls.Listen("tcp", string(config.Addr), tlsConfig)
	if err != nil {
		return nil, errors.AddContext(err, "unable to open tls listener")
	}
	srv.addr = modules.NetAddress(srv.listener.Addr().String())
	srv.tg.BeforeStop(func() {
		srv.listener.Close()
	})

	if err := srv.tg.Add(); err != nil {
		return nil, err
	}
	go func() {
		defer srv.tg.Done()
		srv.threadedListen()
	}()

	srv.log.Println("INFO: app server listening on", srv.addr)
	return srv, nil
}

// Close shuts the app server down.
func (srv *Server) Close() error {
	return srv.tg.Stop()
}

// Address returns the bound listen address.
func (srv *Server) Address() modules.NetAddress {
	return srv.addr
}

// threadedListen accepts client sessions.
func (srv *Server) threadedListen() {
	for {
		conn, err := srv.listener.Accept()
		if err != nil {
			return
		}
		if srv.tg.Add() != nil {
			conn.Close()
			return
		}
		go func() {
			defer srv.tg.Done()
			defer conn.Close()
			srv.threadedHandleSession(conn)
		}()
	}
}
