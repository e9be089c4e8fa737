package catalog

import "errors"

// Catalog registry errors.
var (
	// ErrToolNotFound is returned when a tool is not registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrAgentNotFound is returned when an agent is not registered.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrToolNameEmpty is returned when a tool has no name.
	ErrToolNameEmpty = errors.New("tool name cannot be empty")

	// ErrToolAgentEmpty is returned when a tool has no owning agent.
	ErrToolAgentEmpty = errors.New("tool agent cannot be empty")

	// ErrToolExecuteNil is returned when a tool has no execute function.
	ErrToolExecuteNil = errors.New("tool execute function cannot be nil")

	// ErrToolAlreadyRegistered is returned when registering a duplicate.
	ErrToolAlreadyRegistered = errors.New("tool already registered")

	// ErrMissingRequiredArg is returned when a required argument is missing.
	ErrMissingRequiredArg = errors.New("missing required argument")

	// ErrUnknownHandler is returned when a catalog entry names a handler
	// that was never registered in code.
	ErrUnknownHandler = errors.New("unknown tool handler")
)
