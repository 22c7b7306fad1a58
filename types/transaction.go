package types

// transaction.go defines the purchase transaction that flows from the app
// server through the gateway into node mempools and, eventually, into
// blocks. Nodes treat the signature as opaque; the gateway is trusted.

// TxData is the structured payload of a transaction. For purchases, From
// pays To and the asset moves the other way.
type TxData struct {
	Action    string  `json:"action,omitempty"`
	TxID      string  `json:"tx_id"`
	AssetID   string  `json:"asset_id,omitempty"`
	AssetName string  `json:"asset_name,omitempty"`
	Price     float64 `json:"price,omitempty"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	Amount    float64 `json:"amount"`
	Timestamp string  `json:"timestamp,omitempty"`
}

// A Transaction is one mempool entry and, once sealed, one element of a
// block. EndTimestamp is empty until the transaction is sealed, at which
// point it takes the block timestamp.
type Transaction struct {
	Sender         string `json:"sender"`
	Data           TxData `json:"data"`
	Signature      string `json:"signature"`
	StartTimestamp string `json:"start_timestamp"`
	EndTimestamp   string `json:"end_timestamp,omitempty"`
}

// A Purchase is a buy order accepted by the app server and queued for
// submission to the gateway.
type Purchase struct {
	TxID      string  `json:"tx_id"`
	Buyer     string  `json:"buyer"`
	Seller    string  `json:"seller"`
	AssetID   string  `json:"asset_id"`
	AssetName string  `json:"asset_name"`
	Price     float64 `json:"price"`
	Timestamp string  `json:"timestamp"`
}
