package opscore

import (
	"errors"
)

// Core errors
var (
	// Lifecycle errors
	ErrAlreadyStarted = errors.New("core already started")
	ErrCoreFailed     = errors.New("core initialization failed")
	ErrNoCore         = errors.New("no core in context")

	// Config errors
	ErrConfigNil                 = errors.New("config is nil")
	ErrConfigNotPointer          = errors.New("config must be a pointer")
	ErrConfigNotStruct           = errors.New("config must be a struct")
	ErrConfigValidationFailed    = errors.New("config validation failed")
	ErrUnsupportedTypeForDefault = errors.New("unsupported type for default value")
	ErrDefaultValueOverflows     = errors.New("default value overflows field")
	ErrUnsupportedFormatType     = errors.New("unsupported format type")
	ErrConfigFeederError         = errors.New("config feeder error")
	ErrNoConfigFile              = errors.New("no config file to watch")
)
