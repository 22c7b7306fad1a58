package gateway

// submit.go handles the framed client submissions: purchase fan-out,
// generic transaction passthrough, and the health probe.

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/water-bottle-afk/aurex/encoding"
	"github.com/water-bottle-afk/aurex/modules"
	"github.com/water-bottle-afk/aurex/types"
)

// purchaseBody is the body of a submit_purchase request. Every field is
// required.
type purchaseBody struct {
	Buyer     string  `json:"buyer"`
	Seller    string  `json:"seller"`
	AssetID   string  `json:"asset_id"`
	AssetName string  `json:"asset_name"`
	Price     float64 `json:"price"`
	Timestamp string  `json:"timestamp"`
	TxID      string  `json:"tx_id"`
}

// missingFields lists the absent required fields of a purchase body.
func (pb purchaseBody) missingFields() []string {
	var missing []string
	if pb.Buyer == "" {
		missing = append(missing, "buyer")
	}
	if pb.Seller == "" {
		missing = append(missing, "seller")
	}
	if pb.AssetID == "" {
		missing = append(missing, "asset_id")
	}
	if pb.AssetName == "" {
		missing = append(missing, "asset_name")
	}
	if pb.Price <= 0 {
		missing = append(missing, "price")
	}
	if pb.Timestamp == "" {
		missing = append(missing, "timestamp")
	}
	if pb.TxID == "" {
		missing = append(missing, "tx_id")
	}
	return missing
}

// handleSubmission reads one framed request from br and writes one framed
// reply to conn.
func (g *Gateway) handleSubmission(br *bufio.Reader, conn net.Conn) {
	var req modules.SubmitRequest
	if err := encoding.ReadObject(br, &req); err != nil {
		g.log.Println("WARN: malformed submission from", conn.RemoteAddr(), "-", err)
		return
	}

	var reply modules.SubmitReply
	switch req.Action {
	case modules.ActionSubmitPurchase:
		reply = g.managedSubmitPurchase(req.Body)
	case modules.ActionSubmitTransaction:
		reply = g.managedSubmitTransaction(req.Body)
	case modules.ActionHealth:
		reply = modules.SubmitReply{Status: "ok", Service: "gateway", Timestamp: types.NowTimestamp()}
	default:
		reply = modules.SubmitReply{
			Status:    modules.SubmitStatusFailed,
			Message:   fmt.Sprintf("unknown action: %q", req.Action),
			Timestamp: types.NowTimestamp(),
		}
	}
	if err := encoding.WriteObject(conn, reply); err != nil {
		g.log.Println("WARN: could not write submission reply:", err)
	}
}

// managedSubmitPurchase validates a purchase body, builds the transaction,
// and fans it out to every node.
func (g *Gateway) managedSubmitPurchase(body json.RawMessage) modules.SubmitReply {
	var pb purchaseBody
	if len(body) > 0 {
		if err := json.Unmarshal(body, &pb); err != nil {
			return modules.SubmitReply{
				Status:    modules.SubmitStatusFailed,
				Message:   "malformed purchase body: " + err.Error(),
				Timestamp: types.NowTimestamp(),
			}
		}
	}
	if missing := pb.missingFields(); len(missing) > 0 {
		return modules.SubmitReply{
			Status:    modules.SubmitStatusFailed,
			Message:   "Missing fields: " + strings.Join(missing, ", "),
			Timestamp: types.NowTimestamp(),
		}
	}

	txData := types.TxData{
		Action:    "purchase",
		TxID:      pb.TxID,
		AssetID:   pb.AssetID,
		AssetName: pb.AssetName,
		Price:     pb.Price,
		From:      pb.Buyer,
		To:        pb.Seller,
		Amount:    pb.Price,
		Timestamp: pb.Timestamp,
	}
	return g.managedFanOut(txData)
}

// managedSubmitTransaction is the generic passthrough: the body is used as
// the transaction data verbatim.
func (g *Gateway) managedSubmitTransaction(body json.RawMessage) modules.SubmitReply {
	var txData types.TxData
	if len(body) > 0 {
		if err := json.Unmarshal(body, &txData); err != nil {
			return modules.SubmitReply{
				Status:    modules.SubmitStatusFailed,
				Message:   "malformed transaction body: " + err.Error(),
				Timestamp: types.NowTimestamp(),
			}
		}
	}
	if txData.TxID == "" {
		return modules.SubmitReply{
			Status:    modules.SubmitStatusFailed,
			Message:   "Missing fields: tx_id",
			Timestamp: types.NowTimestamp(),
		}
	}
	return g.managedFanOut(txData)
}

// managedFanOut wraps the transaction in a NEW_TRANSACTION message and
// connect-send-closes it to every node, counting successes. A node counts
// as reached when it acks; there are no retries.
func (g *Gateway) managedFanOut(txData types.TxData) modules.SubmitReply {
	tx := types.Transaction{
		Sender:         "gateway",
		Data:           txData,
		Signature:      "gateway",
		StartTimestamp: types.NowTimestamp(),
	}
	msg, err := modules.NewMessage(modules.MsgNewTransaction, "gateway", tx)
	if err != nil {
		return modules.SubmitReply{
			Status:    modules.SubmitStatusFailed,
			Message:   "unable to build transaction message: " + err.Error(),
			Timestamp: types.NowTimestamp(),
		}
	}

	reached := 0
	for _, node := range g.nodes {
		if err := g.sendToNode(node, msg); err != nil {
			g.log.Printf("WARN: node %s unreachable: %v", node, err)
			continue
		}
		reached++
	}

	if reached == 0 {
		return modules.SubmitReply{
			Status:       modules.SubmitStatusFailed,
			NodesReached: 0,
			Message:      "Transaction failed: no nodes reached. Start nodes first.",
			Timestamp:    types.NowTimestamp(),
			Transaction:  &txData,
		}
	}
	g.log.Printf("INFO: tx %s fanned out to %d/%d nodes", txData.TxID, reached, len(g.nodes))
	return modules.SubmitReply{
		Status:       modules.SubmitStatusSubmitted,
		NodesReached: reached,
		Message:      fmt.Sprintf("Transaction sent to %d nodes", reached),
		Timestamp:    types.NowTimestamp(),
		Transaction:  &txData,
	}
}

// sendToNode performs one connect-send-ack-close against a node, bounded by
// the gossip timeout.
func (g *Gateway) sendToNode(node modules.NetAddress, msg modules.Message) error {
	conn, err := net.DialTimeout("tcp", string(node), types.GossipTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(types.GossipTimeout))
	if err := encoding.WriteObject(conn, msg); err != nil {
		return err
	}
	var ack modules.MiningAck
	return encoding.ReadObject(conn, &ack)
}
