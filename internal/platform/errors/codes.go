package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Input errors
	CodeValidation Code = "VALIDATION"

	// Remote store errors
	CodeRemoteUnavailable Code = "REMOTE_UNAVAILABLE"
	CodeNotFound          Code = "NOT_FOUND"

	// Position errors
	CodePositionNotFound Code = "POSITION_NOT_FOUND"
	CodePositionConflict Code = "POSITION_CONFLICT"

	// Conversation errors
	CodeDuplicateEvent   Code = "DUPLICATE_EVENT"
	CodeFlowStateInvalid Code = "FLOW_STATE_INVALID"
)
