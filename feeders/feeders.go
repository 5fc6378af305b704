// Package feeders provides configuration feeders for reading data from various sources
// including environment variables, JSON, YAML and TOML files.
package feeders

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Feeder populates a configuration structure from one source.
type Feeder interface {
	Feed(structure any) error
}

// ForFile picks the file feeder matching the extension of path.
func ForFile(path string) (Feeder, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return NewYamlFeeder(path), nil
	case ".toml":
		return NewTomlFeeder(path), nil
	case ".json":
		return NewJSONFeeder(path), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Feed applies feeders to structure in order. Later feeders override values
// set by earlier ones.
func Feed(structure any, feeders ...Feeder) error {
	for _, f := range feeders {
		if err := f.Feed(structure); err != nil {
			return err
		}
	}
	return nil
}
