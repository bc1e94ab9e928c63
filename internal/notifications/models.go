package notifications

import (
	"time"

	"yideng/edu-market/edu-market-backend/internal/chain"
)

// MessageType identifies a websocket message
type MessageType string

const (
	MessageTypeTransaction MessageType = "transaction"
	MessageTypeStatus      MessageType = "status"
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeError       MessageType = "error"
)

// Message is the websocket envelope
type Message struct {
	Type      MessageType            `json:"type"`
	Channel   string                 `json:"channel,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	// Accounts limits delivery to connections following one of them; empty means everyone
	Accounts []chain.Address `json:"-"`
}

// TransactionMessage wraps a committed receipt for delivery
func TransactionMessage(r chain.Receipt) Message {
	return Message{
		Type:    MessageTypeTransaction,
		Channel: "transactions",
		Data: map[string]interface{}{
			"tx_id":    r.TxID,
			"caller":   r.Caller,
			"method":   r.Method,
			"events":   r.Events,
			"accounts": r.Accounts,
		},
		Timestamp: r.CommittedAt,
		Accounts:  r.Accounts,
	}
}

// StatusMessage acknowledges a connection or subscription change
func StatusMessage(status string, data map[string]interface{}) Message {
	if data == nil {
		data = map[string]interface{}{}
	}
	data["status"] = status
	return Message{Type: MessageTypeStatus, Channel: "private", Data: data, Timestamp: time.Now().UTC()}
}
