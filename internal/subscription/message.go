package subscription

import (
	"encoding/json"

	language "github.com/hanpama/graphcore/internal/language"
	walker "github.com/hanpama/graphcore/internal/walker"
)

// Protocol is the WebSocket subprotocol name of graphql-transport-ws.
const Protocol = "graphql-transport-ws"

// MessageType names a graphql-transport-ws message.
type MessageType string

const (
	MessageConnectionInit MessageType = "connection_init"
	MessageConnectionAck  MessageType = "connection_ack"
	MessageSubscribe      MessageType = "subscribe"
	MessageNext           MessageType = "next"
	MessageError          MessageType = "error"
	MessageComplete       MessageType = "complete"
	MessagePing           MessageType = "ping"
	MessagePong           MessageType = "pong"
)

// Message is one protocol frame.
type Message struct {
	ID      string          `json:"id,omitempty"`
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubscribePayload is the payload of a subscribe message.
type SubscribePayload struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

// DefaultFallbackChannel is used when no channel can be read from a
// subscription document.
const DefaultFallbackChannel = "default"

// ChannelName returns the name of the first root field of the subscription
// operation in query. operationName selects among several operations. The
// fallback is returned when the document does not parse or has no matching
// subscription operation.
func ChannelName(query, operationName, fallback string) string {
	doc, err := language.ParseQuery(query)
	if err != nil {
		return fallback
	}
	for _, op := range doc.Operations {
		if op.Operation != language.Subscription {
			continue
		}
		if operationName != "" && op.Name != operationName {
			continue
		}
		for f := range walker.New(doc).Fields(op.SelectionSet) {
			if f.Name != "__typename" {
				return f.Name
			}
		}
		return fallback
	}
	return fallback
}
