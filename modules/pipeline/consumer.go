package pipeline

// consumer.go is the confirmation consumer: the only writer of wallet
// balances and asset ownership on the purchase path. It listens for
// newline-delimited block confirmations from the gateway and applies each
// confirmed transaction once.

import (
	"io"
	"net"
	"time"

	"github.com/water-bottle-afk/aurex/encoding"
	"github.com/water-bottle-afk/aurex/modules"
	"github.com/water-bottle-afk/aurex/types"
)

// threadedConfirmationListen accepts confirmation connections.
func (p *Pipeline) threadedConfirmationListen() {
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			return
		}
		if p.tg.Add() != nil {
			conn.Close()
			return
		}
		go func() {
			defer p.tg.Done()
			defer conn.Close()
			p.threadedHandleConfirmations(conn)
		}()
	}
}

// threadedHandleConfirmations consumes every confirmation line on one
// connection.
func (p *Pipeline) threadedHandleConfirmations(conn net.Conn) {
	conn.SetDeadline(time.Now().Add(10 * time.Second))
	br := encoding.NewLineReader(conn)
	for {
		var conf modules.BlockConfirmation
		err := encoding.ReadLine(br, &conf)
		if err == io.EOF {
			return
		}
		if err != nil {
			p.log.Println("WARN: malformed confirmation line:", err)
			return
		}
		if conf.Type != modules.BlockConfirmationType {
			p.log.Printf("WARN: unexpected line type %q on confirmation path", conf.Type)
			continue
		}
		p.log.Printf("INFO: block %d confirmed by node %s, %d txs",
			conf.BlockIndex, conf.NodeID, len(conf.Transactions))
		for _, tx := range conf.Transactions {
			p.managedApplyTransaction(tx)
		}
	}
}

// managedApplyTransaction settles one confirmed transaction: wallet
// transfer, asset reassignment, status transition. A transaction whose
// status record is already terminal is skipped entirely, which makes block
// re-delivery a no-op.
func (p *Pipeline) managedApplyTransaction(tx types.Transaction) {
	data := tx.Data
	if data.TxID == "" || data.From == "" || data.To == "" {
		p.log.Println("WARN: confirmed transaction missing settlement fields, skipped")
		return
	}

	p.mu.Lock()
	record, known := p.statuses[data.TxID]
	if known && record.Status.IsTerminal() {
		p.mu.Unlock()
		p.log.Printf("INFO: tx %s already terminal, confirmation skipped", data.TxID)
		return
	}
	if !known {
		// A confirmation can outlive a restart of the app server. The
		// settlement still applies; a fresh record keeps re-delivery
		// idempotent.
		record = &StatusRecord{
			TxID:      data.TxID,
			Status:    types.StatusSubmitted,
			Message:   "Recovered from confirmation",
			CreatedAt: time.Now(),
			AssetID:   data.AssetID,
			AssetName: data.AssetName,
			Buyer:     data.From,
			Seller:    data.To,
			Amount:    data.Amount,
		}
		p.statuses[data.TxID] = record
	}
	p.mu.Unlock()

	if err := p.market.Transfer(data.From, data.To, data.Amount); err != nil {
		p.log.Printf("ERROR: transfer for tx %s failed: %v", data.TxID, err)
		p.managedTransition(data.TxID, types.StatusFailed, err.Error())
		return
	}
	if data.AssetID != "" {
		changed, err := p.market.UpdateAssetOwner(data.AssetID, data.To)
		if err != nil {
			p.log.Printf("ERROR: ownership update for tx %s failed: %v", data.TxID, err)
		} else if !changed {
			p.log.Printf("WARN: tx %s names unknown asset %s", data.TxID, data.AssetID)
		}
	}
	p.managedTransition(data.TxID, types.StatusConfirmed, "Purchase confirmed")
}
