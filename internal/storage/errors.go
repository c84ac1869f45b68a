package storage

import "errors"

var (
	// ErrWrongTransactionStage is returned when a mutation is attempted
	// against a write transaction that has already been committed or
	// rolled back.
	ErrWrongTransactionStage = errors.New("storage: transaction is not in the writing stage")

	// ErrSchemaVersionMismatch is returned by Init when the persisted
	// schema version differs from the compiled constant.
	ErrSchemaVersionMismatch = errors.New("storage: persisted schema version does not match compiled version")
)
