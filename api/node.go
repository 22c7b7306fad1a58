package api

import (
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"github.com/water-bottle-afk/aurex/build"
	"github.com/water-bottle-afk/aurex/modules"
	"github.com/water-bottle-afk/aurex/types"
)

// StatusGET is the response to a GET request to /status.
type StatusGET struct {
	NodeID     string               `json:"node_id"`
	Address    modules.NetAddress   `json:"address"`
	Height     int64                `json:"height"`
	TipIndex   int64                `json:"tip_index"`
	TipHash    string               `json:"tip_hash"`
	MempoolLen int                  `json:"mempool_len"`
	Mining     bool                 `json:"mining"`
	Peers      []modules.NetAddress `json:"peers"`
	Version    string               `json:"version"`
}

// ChainGET is the response to a GET request to /chain.
type ChainGET struct {
	Height int64         `json:"height"`
	Blocks []types.Block `json:"blocks"`
}

// MempoolGET is the response to a GET request to /mempool.
type MempoolGET struct {
	Transactions []types.Transaction `json:"transactions"`
}

// statusHandler handles the API call that queries the node's state.
func (srv *Server) statusHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	tipIndex, tipHash := srv.node.Tip()
	writeJSON(w, StatusGET{
		NodeID:     srv.node.NodeID(),
		Address:    srv.node.Address(),
		Height:     srv.node.Height(),
		TipIndex:   tipIndex,
		TipHash:    tipHash,
		MempoolLen: len(srv.node.Mempool()),
		Mining:     srv.node.Mining(),
		Peers:      srv.node.Peers(),
		Version:    build.Version,
	})
}

// chainHandler handles the API call that returns recent blocks. The limit
// query parameter bounds the count; absent or non-positive returns all.
func (srv *Server) chainHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	limit := 0
	if raw := req.FormValue("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, "invalid limit: "+err.Error(), http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	blocks, err := srv.node.Ledger().Blocks(limit)
	if err != nil {
		writeError(w, "unable to read chain: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, ChainGET{
		Height: srv.node.Height(),
		Blocks: blocks,
	})
}

// mempoolHandler handles the API call that lists pending transactions.
func (srv *Server) mempoolHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	writeJSON(w, MempoolGET{
		Transactions: srv.node.Mempool(),
	})
}
