package events

// ConnectionOpened is emitted when a subscription transport connects.
type ConnectionOpened struct {
	ConnectionID string
}

// ConnectionClosed is emitted once a connection and all of its
// subscriptions have been torn down.
type ConnectionClosed struct {
	ConnectionID  string
	Subscriptions int
}

// SubscriptionStarted is emitted when an operation is bound to a channel.
type SubscriptionStarted struct {
	ConnectionID string
	OperationID  string
	Channel      string
}

// SubscriptionStopped is emitted when an operation is unbound.
type SubscriptionStopped struct {
	ConnectionID string
	OperationID  string
	Channel      string
}

// EventPublished is emitted after a payload was delivered to the local
// subscribers of a channel.
type EventPublished struct {
	Channel     string
	Subscribers int
	Failures    int
}
