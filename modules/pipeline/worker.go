package pipeline

// worker.go is the single submission worker: it drains the purchase queue
// one at a time and performs the synchronous framed call to the gateway.
// Back-pressure is implicit; nothing else reads the queue.

import (
	"encoding/json"
	"net"
	"time"

	"github.com/water-bottle-afk/aurex/encoding"
	"github.com/water-bottle-afk/aurex/modules"
	"github.com/water-bottle-afk/aurex/types"
)

// threadedSubmissionWorker loops until stop, submitting queued purchases.
func (p *Pipeline) threadedSubmissionWorker() {
	for {
		select {
		case <-p.tg.StopChan():
			return
		case purchase := <-p.queue:
			p.managedSubmit(purchase)
		}
	}
}

// managedSubmit performs one gateway call and transitions the purchase's
// status from the outcome.
func (p *Pipeline) managedSubmit(purchase types.Purchase) {
	reply, err := p.callGateway(purchase)
	if err != nil {
		p.managedTransition(purchase.TxID, types.StatusFailed, "Gateway error: "+err.Error())
		return
	}
	if reply.Status != modules.SubmitStatusSubmitted {
		p.managedTransition(purchase.TxID, types.StatusFailed, reply.Message)
		return
	}
	p.managedTransition(purchase.TxID, types.StatusSubmitted, reply.Message)
}

// callGateway frames one submit_purchase request to the gateway and reads
// the reply, bounded by the gateway call timeout.
func (p *Pipeline) callGateway(purchase types.Purchase) (modules.SubmitReply, error) {
	body, err := json.Marshal(map[string]interface{}{
		"buyer":      purchase.Buyer,
		"seller":     purchase.Seller,
		"asset_id":   purchase.AssetID,
		"asset_name": purchase.AssetName,
		"price":      purchase.Price,
		"timestamp":  purchase.Timestamp,
		"tx_id":      purchase.TxID,
	})
	if err != nil {
		return modules.SubmitReply{}, err
	}

	conn, err := net.DialTimeout("tcp", string(p.gatewayAddr), types.GatewayCallTimeout)
	if err != nil {
		return modules.SubmitReply{}, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(types.GatewayCallTimeout))

	err = encoding.WriteObject(conn, modules.SubmitRequest{
		Action: modules.ActionSubmitPurchase,
		Body:   body,
	})
	if err != nil {
		return modules.SubmitReply{}, err
	}
	var reply modules.SubmitReply
	if err := encoding.ReadObject(conn, &reply); err != nil {
		return modules.SubmitReply{}, err
	}
	return reply, nil
}
