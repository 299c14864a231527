package events

import "time"

// GraphQLStart is emitted before executing a GraphQL operation.
type GraphQLStart struct {
	Query         string
	OperationName string
	OperationType string
}

// GraphQLFinish is emitted after executing a GraphQL operation.
type GraphQLFinish struct {
	Query         string
	OperationName string
	OperationType string
	Errors        []error
	Duration      time.Duration
}

// ValidationRejected is emitted for each custom validation rule that
// reported at least one violation.
type ValidationRejected struct {
	Rule       string
	Violations int
}

// PersistedQuery is emitted when a request references a persisted query hash.
type PersistedQuery struct {
	Hit bool
}
