package modules

// message.go defines the framed wire messages exchanged between nodes and
// the gateway, and the newline-delimited block confirmation that travels
// from a winning node up to the app server. Messages are a tagged union
// over the Type field; unknown types are an explicit error, never a silent
// drop.

import (
	"encoding/json"

	"gitlab.com/NebulousLabs/errors"

	"github.com/water-bottle-afk/aurex/types"
)

// Node-to-node and gateway-to-node message types.
const (
	MsgPing           = "ping"
	MsgPong           = "pong"
	MsgNodeDiscovery  = "node_discovery"
	MsgNewTransaction = "NEW_TRANSACTION"
	MsgNewBlock       = "new_block"
	MsgStopMining     = "STOP_MINING"
)

// ErrUnknownMessage is returned when a message carries a type that no
// handler recognizes.
var ErrUnknownMessage = errors.New("unknown message type")

// A Message is the envelope for every framed node message. Data holds the
// type-specific payload and is decoded by the handler that matches Type.
type Message struct {
	Type   string          `json:"type"`
	NodeID string          `json:"node_id,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// NewMessage builds a Message with data marshalled into the envelope.
func NewMessage(msgType, nodeID string, data interface{}) (Message, error) {
	msg := Message{Type: msgType, NodeID: nodeID}
	if data == nil {
		return msg, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, errors.AddContext(err, "unable to marshal message data")
	}
	msg.Data = raw
	return msg, nil
}

// DecodeData unmarshals the message payload into obj.
func (m Message) DecodeData(obj interface{}) error {
	if len(m.Data) == 0 {
		return errors.New("message carries no data")
	}
	if err := json.Unmarshal(m.Data, obj); err != nil {
		return errors.AddContext(err, "unable to decode message data")
	}
	return nil
}

// A PongReply answers a ping.
type PongReply struct {
	Type   string `json:"type"`
	NodeID string `json:"node_id"`
}

// A DiscoveryReply answers node_discovery with the node's peer snapshot.
type DiscoveryReply struct {
	Type   string       `json:"type"`
	NodeID string       `json:"node_id"`
	Peers  []NetAddress `json:"peers"`
}

// A MiningAck acknowledges a NEW_TRANSACTION.
type MiningAck struct {
	Status string `json:"status"`
	NodeID string `json:"node_id"`
}

// MiningStarted is the ack status for an accepted transaction.
const MiningStarted = "MINING_STARTED"

// A BlockConfirmation announces a sealed, persisted block to the
// application layer. It travels as one line of JSON from the winning node
// to the gateway, and from the gateway to the app server.
type BlockConfirmation struct {
	Type         string              `json:"type"`
	BlockIndex   int64               `json:"block_index"`
	BlockHash    string              `json:"block_hash"`
	MinerID      string              `json:"miner_id"`
	NodeID       string              `json:"node_id"`
	Timestamp    string              `json:"timestamp"`
	Transactions []types.Transaction `json:"transactions"`
}

// BlockConfirmationType is the Type value of a BlockConfirmation.
const BlockConfirmationType = "block_confirmation"

// Gateway submission actions.
const (
	ActionSubmitPurchase    = "submit_purchase"
	ActionSubmitTransaction = "submit_transaction"
	ActionHealth            = "health"
)

// Gateway reply statuses.
const (
	SubmitStatusSubmitted = "submitted"
	SubmitStatusFailed    = "failed"
)

// A SubmitRequest is a framed client submission to the gateway.
type SubmitRequest struct {
	Action string          `json:"action"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// A SubmitReply reports the outcome of a gateway fan-out.
type SubmitReply struct {
	Status       string        `json:"status"`
	NodesReached int           `json:"nodes_reached"`
	Message      string        `json:"message,omitempty"`
	Timestamp    string        `json:"timestamp"`
	Transaction  *types.TxData `json:"transaction,omitempty"`
	Service      string        `json:"service,omitempty"`
}
