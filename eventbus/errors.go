package eventbus

import "errors"

var (
	// Listener registration errors
	ErrMaxListeners    = errors.New("maximum listeners reached")
	ErrHandlerNil      = errors.New("event handler cannot be nil")
	ErrInvalidPattern  = errors.New("invalid listener pattern")
	ErrEventTypeEmpty  = errors.New("event type cannot be empty")
	ErrBusDestroyed    = errors.New("event bus destroyed")
	ErrHandlerPanicked = errors.New("event handler panicked")

	// Config errors
	ErrInvalidBatchSize = errors.New("batch size must be at least 1")
)
