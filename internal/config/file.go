package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

var ErrSettingsFile = errors.New("unable to read settings file")

// LoadFile overlays the YAML settings file at path onto s. Keys absent from
// the file keep their current values
func (s *Settings) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSettingsFile, err)
	}
	return s.LoadYAML(data)
}

// LoadYAML overlays a YAML settings document onto s. Unknown keys are
// rejected
func (s *Settings) LoadYAML(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	return nil
}
