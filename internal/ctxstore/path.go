package ctxstore

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	"github.com/tidwall/gjson"
)

// lookupPath resolves a dotted path inside a stored value
func lookupPath(value any, path string) (any, bool, error) {
	if path == "" {
		return value, true, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, false, err
	}
	return lookupJSON(data, path)
}

// lookupJSON resolves a dotted path inside an encoded value
func lookupJSON(data []byte, path string) (any, bool, error) {
	if path == "" {
		var res any
		if err := json.Unmarshal(data, &res); err != nil {
			return nil, false, err
		}
		return res, true, nil
	}
	r := gjson.GetBytes(data, path)
	if !r.Exists() {
		return nil, false, nil
	}
	return r.Value(), true, nil
}

// assignPath returns a copy of root with value stored at path, creating
// intermediate objects as needed. A nil value removes the leaf
func assignPath(root any, path string, value any) (any, error) {
	if path == "" {
		return value, nil
	}
	var obj map[string]any
	switch r := root.(type) {
	case nil:
		obj = map[string]any{}
	case map[string]any:
		obj = maps.Clone(r)
	default:
		return nil, fmt.Errorf("%w: %T", ErrNotAMap, root)
	}

	head, rest, _ := strings.Cut(path, ".")
	child, err := assignPath(obj[head], rest, value)
	if err != nil {
		return nil, err
	}
	if child == nil {
		delete(obj, head)
	} else {
		obj[head] = child
	}
	return obj, nil
}
