// Package executor runs GraphQL operations level by level.
//
// Each level starts from a frontier of field instances. Fields the schema
// marks as synchronous (schema.Field.Async == false) are resolved on the spot
// through Runtime.ResolveSync and their object children are expanded at the
// same level. Asynchronous fields are queued, and once the frontier is
// exhausted the whole queue goes to Runtime.BatchResolveAsync in a single
// call. Children of batched results form the next level. An operation whose
// deepest chain crosses d asynchronous fields therefore makes exactly d batch
// calls, no matter how wide each level is.
//
// Completion follows the usual GraphQL rules. Leaves are serialized by
// Runtime.SerializeLeafValue, abstract types are narrowed by
// Runtime.ResolveType, and lists complete element by element with indexed
// paths. A null or error at a non-null position nulls the nearest nullable
// ancestor; queued work beneath that ancestor is dropped before the next
// batch. Errors carry their response path and execution keeps going for the
// rest of the tree.
//
// Mutation root fields run serially: each one, including its asynchronous
// descendants, completes before the next starts.
//
// Variables are coerced against the operation's definitions before anything
// runs; coercion failures abort the request with no data.
package executor
