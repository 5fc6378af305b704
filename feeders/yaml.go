package feeders

import (
	"os"

	"gopkg.in/yaml.v3"
)

// YamlFeeder is a feeder that reads YAML files
type YamlFeeder struct {
	Path string
}

// NewYamlFeeder creates a new YamlFeeder that reads from the specified YAML file
func NewYamlFeeder(filePath string) YamlFeeder {
	return YamlFeeder{Path: filePath}
}

// Feed decodes the file into structure. Keys absent from the file leave
// the corresponding fields untouched.
func (y YamlFeeder) Feed(structure any) error {
	data, err := os.ReadFile(y.Path)
	if err != nil {
		return wrapFileReadError(y.Path, err)
	}
	if err := yaml.Unmarshal(data, structure); err != nil {
		return wrapDecodeError("yaml", y.Path, err)
	}
	return nil
}
