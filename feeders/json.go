package feeders

import (
	"bytes"
	"encoding/json"
	"os"
)

// JSONFeeder is a feeder that reads JSON files
type JSONFeeder struct {
	Path string

	// Strict rejects keys that do not map to a field.
	Strict bool
}

// NewJSONFeeder creates a new JSONFeeder that reads from the specified JSON file
func NewJSONFeeder(filePath string) JSONFeeder {
	return JSONFeeder{Path: filePath}
}

// Feed decodes the file into structure.
func (j JSONFeeder) Feed(structure any) error {
	data, err := os.ReadFile(j.Path)
	if err != nil {
		return wrapFileReadError(j.Path, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if j.Strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(structure); err != nil {
		return wrapDecodeError("json", j.Path, err)
	}
	return nil
}
