package api

import (
	"maps"
	"reflect"

	"github.com/google/uuid"
)

// Message is the envelope passed along wires. It is a mapping of named
// fields that always carries a payload and a correlation id
type Message map[string]any

const (
	MsgIDKey   = "_msgid"
	PayloadKey = "payload"
	TopicKey   = "topic"
	ErrorKey   = "error"
)

// NewMessage creates a message with a fresh correlation id
func NewMessage(payload any) Message {
	return Message{
		MsgIDKey:   NewMsgID(),
		PayloadKey: payload,
	}
}

// NewMsgID generates a correlation id
func NewMsgID() string {
	return uuid.NewString()
}

// ID returns the correlation id of the message
func (m Message) ID() string {
	id, _ := m[MsgIDKey].(string)
	return id
}

// Payload returns the payload field
func (m Message) Payload() any {
	return m[PayloadKey]
}

// Clone deep-copies the message so that mutation of the copy is never
// visible through the original. Maps, slices, and pointers reachable from
// the message are copied; channels and funcs are shared
func (m Message) Clone() Message {
	if m == nil {
		return nil
	}
	res := make(Message, len(m))
	for k, v := range m {
		res[k] = cloneValue(v)
	}
	return res
}

// CloneValue deep-copies a value the way Clone copies message fields
func CloneValue(v any) any {
	return cloneValue(v)
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case nil, string, bool, int, int32, int64, uint, uint32, uint64,
		float32, float64:
		return v
	case Message:
		return v.Clone()
	case map[string]any:
		res := make(map[string]any, len(v))
		for k, e := range v {
			res[k] = cloneValue(e)
		}
		return res
	case []any:
		res := make([]any, len(v))
		for i, e := range v {
			res[i] = cloneValue(e)
		}
		return res
	case []byte:
		return append([]byte(nil), v...)
	case map[string]string:
		return maps.Clone(v)
	default:
		return cloneReflect(reflect.ValueOf(v)).Interface()
	}
}

func cloneReflect(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		res := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			res.SetMapIndex(iter.Key(), cloneElem(iter.Value()))
		}
		return res
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		res := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := range v.Len() {
			res.Index(i).Set(cloneElem(v.Index(i)))
		}
		return res
	case reflect.Pointer:
		if v.IsNil() {
			return v
		}
		res := reflect.New(v.Type().Elem())
		res.Elem().Set(cloneElem(v.Elem()))
		return res
	default:
		return v
	}
}

func cloneElem(v reflect.Value) reflect.Value {
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return v
		}
		res := reflect.ValueOf(cloneValue(v.Interface()))
		out := reflect.New(v.Type()).Elem()
		out.Set(res)
		return out
	}
	return cloneReflect(v)
}
