// Package api implements the node's read-only status HTTP API. It exposes
// the node's identity, chain tip, recent blocks, and mempool for operators
// and dashboards; all mutation happens over the TCP protocol, never here.
package api

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"gitlab.com/NebulousLabs/errors"

	"github.com/water-bottle-afk/aurex/modules/node"
	"github.com/water-bottle-afk/aurex/sync"
)

// A Server serves the status API for one node.
type Server struct {
	node *node.Node

	listener  net.Listener
	apiServer *http.Server
	tg        sync.ThreadGroup
}

// New starts the status API on addr.
func New(addr string, n *node.Node) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.AddContext(err, "unable to open api listener")
	}
	srv := &Server{
		node:     n,
		listener: listener,
	}

	router := httprouter.New()
	router.NotFound = http.HandlerFunc(srv.unrecognizedCallHandler)
	router.GET("/status", srv.statusHandler)
	router.GET("/chain", srv.chainHandler)
	router.GET("/mempool", srv.mempoolHandler)
	srv.apiServer = &http.Server{Handler: router}

	srv.tg.BeforeStop(func() {
		srv.listener.Close()
	})
	if err := srv.tg.Add(); err != nil {
		return nil, err
	}
	go func() {
		defer srv.tg.Done()
		srv.apiServer.Serve(srv.listener)
	}()
	return srv, nil
}

// Close shuts the API server down.
func (srv *Server) Close() error {
	return srv.tg.Stop()
}

// Address returns the bound listen address.
func (srv *Server) Address() string {
	return srv.listener.Addr().String()
}

// unrecognizedCallHandler handles calls to unknown pages (404).
func (srv *Server) unrecognizedCallHandler(w http.ResponseWriter, req *http.Request) {
	http.Error(w, "404 - unknown endpoint", http.StatusNotFound)
}

// writeError writes an error to the API caller.
func writeError(w http.ResponseWriter, msg string, err int) {
	http.Error(w, msg, err)
}

// writeJSON writes the object to the ResponseWriter. If the encoding fails,
// an error is written instead.
func writeJSON(w http.ResponseWriter, obj interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if json.NewEncoder(w).Encode(obj) != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
