package nodes

import (
	"errors"
	"fmt"
	"maps"

	"github.com/mitchellh/mapstructure"

	"github.com/kode4food/wireflow/pkg/api"
)

var ErrInvalidProps = errors.New("invalid node properties")

// Decode copies a node's properties into a typed configuration struct.
// Fields are matched by their json tag, and numbers given as strings are
// converted, which is how flow editors commonly store them
func Decode(def *api.NodeDef, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
		WeaklyTypedInput: true,
		TagName:          "json",
		Result:           out,
	})
	if err != nil {
		return err
	}
	props := maps.Clone(def.Props)
	if props == nil {
		props = map[string]any{}
	}
	if def.Name != "" {
		props["name"] = def.Name
	}
	if err := dec.Decode(props); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidProps, def.ID, err)
	}
	return nil
}

// ConfigNode resolves a config node instance of the expected type
func ConfigNode[T Node](env Env, id api.NodeID) (T, error) {
	var zero T
	n, ok := env.ConfigNode(id)
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrConfigNotFound, id)
	}
	res, ok := n.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrNotConfigNode, id)
	}
	return res, nil
}
