// Package outbox implements the transactional outbox engine: a durable
// record store written in the same transaction as a domain mutation, and a
// relay worker that publishes those records to a broker at least once.
package outbox

import "errors"

// Unit of Work errors.
var (
	// ErrAlreadyActive is returned by Begin when a transaction is already
	// open on the UnitOfWork.
	ErrAlreadyActive = errors.New("outbox: unit of work already active")

	// ErrNotActive is returned by Save/Commit/Rollback when no transaction
	// is currently open.
	ErrNotActive = errors.New("outbox: unit of work not active")
)

// Store errors.
var (
	// ErrRecordNotFound is returned when a record lookup finds no row.
	ErrRecordNotFound = errors.New("outbox: record not found")

	// ErrTransientStore wraps a store-layer failure believed to be
	// recoverable on retry (connection reset, deadlock, statement timeout).
	ErrTransientStore = errors.New("outbox: transient store failure")

	// ErrFatalStore wraps a store-layer failure that retrying will not fix
	// (constraint violation, malformed query).
	ErrFatalStore = errors.New("outbox: fatal store failure")
)

// Codec / registry errors.
var (
	// ErrUnknownType is returned when a record's type tag has no registered
	// decoder. Treated as a permanent, quarantine-worthy failure: retrying
	// will not make the decoder appear.
	ErrUnknownType = errors.New("outbox: unknown event type tag")

	// ErrMalformed is returned when a record's payload fails to decode
	// under its registered decoder. Also permanent.
	ErrMalformed = errors.New("outbox: malformed event payload")

	// ErrDuplicateTypeTag's text heads the message Registry.Register panics
	// with when a type tag is registered twice.
	ErrDuplicateTypeTag = errors.New("outbox: type tag already registered")
)

// Publisher errors.
var (
	// ErrTransientPublish wraps a broker failure believed to be recoverable
	// on retry (connection refused, broker unavailable, request timeout).
	ErrTransientPublish = errors.New("outbox: transient publish failure")

	// ErrPermanentPublish wraps a broker failure that retrying will not fix
	// (message too large, topic does not exist, authorization denied).
	ErrPermanentPublish = errors.New("outbox: permanent publish failure")
)
