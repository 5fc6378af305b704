package feeders

import (
	"errors"
	"fmt"
)

// Structure errors
var (
	ErrEnvInvalidStructure     = errors.New("env: invalid structure")
	ErrEnvEmptyPrefixAndSuffix = errors.New("env: prefix or suffix cannot be empty")
	ErrFieldCannotBeSet        = errors.New("field cannot be set")
)

// File errors
var (
	ErrUnsupportedFormat = errors.New("unsupported configuration format")
	ErrFileRead          = errors.New("failed to read configuration file")
	ErrDecode            = errors.New("failed to decode configuration")
)

func wrapFileReadError(path string, err error) error {
	return fmt.Errorf("%w %s: %w", ErrFileRead, path, err)
}

func wrapDecodeError(format, path string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrDecode, format, path, err)
}
