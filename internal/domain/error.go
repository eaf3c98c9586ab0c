package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound                = errors.New("entity not found")
	ErrAlreadyExists           = errors.New("entity already exists")
	ErrInvalidArgument         = errors.New("invalid argument")
	ErrAlreadyInProgress       = errors.New("a run is already in progress for this subject")
	ErrCapabilityNotConfigured = errors.New("capability backend not configured")
	ErrUnknownTaskType         = errors.New("unknown task type")
	ErrEmptyResponse           = errors.New("empty response from capability backend")
	ErrNoStructuredPayload     = errors.New("no structured payload found")
	ErrSchemaViolation         = errors.New("structured payload does not match schema")

	// Persistence errors
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrOperationFailed    = errors.New("operation failed")
)
