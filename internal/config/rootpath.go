package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// RootPath is the mount point of an HTTP surface. It is either a path such
// as "/admin" or disabled, written as `false` in the settings file
type RootPath struct {
	path     string
	disabled bool
}

var ErrInvalidRootPath = errors.New("root path must start with '/' or be false")

// Root returns an enabled RootPath mounted at path
func Root(path string) RootPath {
	return RootPath{path: path}
}

// DisabledRoot returns a RootPath that removes its surface entirely
func DisabledRoot() RootPath {
	return RootPath{disabled: true}
}

// ParseRootPath reads the environment form of a RootPath: "false" disables
// the surface, anything else is a path
func ParseRootPath(s string) RootPath {
	if strings.EqualFold(strings.TrimSpace(s), "false") {
		return DisabledRoot()
	}
	return Root(s)
}

// Enabled reports whether the surface is mounted
func (r RootPath) Enabled() bool {
	return !r.disabled
}

// Path returns the normalized mount path: "/" when unset and never a
// trailing slash otherwise
func (r RootPath) Path() string {
	if r.disabled {
		return ""
	}
	p := strings.TrimRight(r.path, "/")
	if p == "" {
		return "/"
	}
	return p
}

// Validate checks that an enabled path is absolute
func (r RootPath) Validate() error {
	if r.disabled || r.path == "" || strings.HasPrefix(r.path, "/") {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidRootPath, r.path)
}

func (r RootPath) String() string {
	if r.disabled {
		return "false"
	}
	return r.Path()
}

// UnmarshalYAML accepts a path string or the boolean false
func (r *RootPath) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("%w: line %d", ErrInvalidRootPath, node.Line)
	}
	if node.Tag == "!!bool" {
		var b bool
		if err := node.Decode(&b); err != nil {
			return err
		}
		if b {
			return fmt.Errorf("%w: true", ErrInvalidRootPath)
		}
		*r = DisabledRoot()
		return nil
	}
	*r = Root(node.Value)
	return nil
}

// MarshalYAML writes the path string or false
func (r RootPath) MarshalYAML() (any, error) {
	if r.disabled {
		return false, nil
	}
	return r.Path(), nil
}

// MarshalJSON writes the path string or false
func (r RootPath) MarshalJSON() ([]byte, error) {
	if r.disabled {
		return []byte("false"), nil
	}
	return json.Marshal(r.Path())
}

// UnmarshalJSON accepts a path string or the boolean false
func (r *RootPath) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		if b {
			return fmt.Errorf("%w: true", ErrInvalidRootPath)
		}
		*r = DisabledRoot()
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRootPath, err)
	}
	*r = Root(s)
	return nil
}
