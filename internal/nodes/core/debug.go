package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/kode4food/wireflow/internal/nodes"
	"github.com/kode4food/wireflow/pkg/api"
	"github.com/kode4food/wireflow/pkg/log"
)

type (
	// Debug publishes the messages it receives, or one property of them,
	// as debug events on the comms stream
	Debug struct {
		env  nodes.Env
		cfg  *debugConfig
		name string
		id   api.NodeID
	}

	debugConfig struct {
		Active   *bool  `json:"active"`
		Complete string `json:"complete"`
		Console  bool   `json:"console"`
		ToStatus bool   `json:"tostatus"`
	}
)

// CompleteMessage selects the whole message instead of a property
const CompleteMessage = "true"

const maxStatusText = 32

// NewDebug constructs a debug node
func NewDebug(env nodes.Env, def *api.NodeDef) (nodes.Node, error) {
	cfg := &debugConfig{}
	if err := nodes.Decode(def, cfg); err != nil {
		return nil, err
	}
	if cfg.Complete == "" || cfg.Complete == "false" {
		cfg.Complete = api.PayloadKey
	}
	return nodes.Func((&Debug{
		env:  env,
		cfg:  cfg,
		name: def.Name,
		id:   env.ID(),
	}).handle), nil
}

func (n *Debug) handle(
	_ context.Context, msg api.Message,
) (nodes.Output, error) {
	if n.cfg.Active != nil && !*n.cfg.Active {
		return nil, nil
	}
	ev, err := n.event(msg)
	if err != nil {
		return nil, err
	}
	n.env.Publish(api.TopicDebug, ev)
	if n.cfg.Console {
		n.env.Log().Info("Debug",
			log.MsgID(msg.ID()),
			"property", ev.Property,
			"value", ev.Value)
	}
	if n.cfg.ToStatus {
		n.env.Status(&api.NodeStatus{
			Fill:  "grey",
			Shape: "dot",
			Text:  statusText(ev),
		})
	}
	return nil, nil
}

func (n *Debug) event(msg api.Message) (*api.DebugEvent, error) {
	ev := &api.DebugEvent{ID: n.id, Name: n.name}
	ev.Topic, _ = msg[api.TopicKey].(string)
	if n.cfg.Complete == CompleteMessage {
		ev.Msg = msg.Clone()
		return ev, nil
	}

	ev.Property = n.cfg.Complete
	if v, ok := msg[n.cfg.Complete]; ok {
		ev.Value = api.CloneValue(v)
		return ev, nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if res := gjson.GetBytes(data, n.cfg.Complete); res.Exists() {
		ev.Value = res.Value()
	}
	return ev, nil
}

func statusText(ev *api.DebugEvent) string {
	v := ev.Value
	if ev.Msg != nil {
		v = ev.Msg.Payload()
	}
	var text string
	switch v := v.(type) {
	case string:
		text = v
	case nil:
		text = "undefined"
	default:
		if data, err := json.Marshal(v); err == nil {
			text = string(data)
		} else {
			text = fmt.Sprint(v)
		}
	}
	if r := []rune(text); len(r) > maxStatusText {
		return string(r[:maxStatusText]) + "..."
	}
	return text
}
