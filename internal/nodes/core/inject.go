package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/kode4food/wireflow/internal/nodes"
	"github.com/kode4food/wireflow/pkg/api"
)

type (
	// Inject emits a configured message when triggered from the admin API,
	// once after starting, or repeatedly on an interval
	Inject struct {
		env nodes.Env
		cfg *injectConfig
	}

	injectConfig struct {
		Payload     any     `json:"payload"`
		PayloadType string  `json:"payloadType"`
		Topic       string  `json:"topic"`
		Repeat      float64 `json:"repeat"`
		OnceDelay   float64 `json:"onceDelay"`
		Once        bool    `json:"once"`
	}
)

// Payload types understood by inject nodes. Any other type injects the
// payload property as configured
const (
	PayloadString = "str"
	PayloadNumber = "num"
	PayloadBool   = "bool"
	PayloadJSON   = "json"
	PayloadDate   = "date"
)

const (
	defaultOnceDelay = 0.1

	timerOnce   = "once"
	timerRepeat = "repeat"
)

var ErrInvalidPayload = errors.New("invalid inject payload")

var (
	_ nodes.Starter  = (*Inject)(nil)
	_ nodes.Injector = (*Inject)(nil)
)

// NewInject constructs an inject node
func NewInject(env nodes.Env, def *api.NodeDef) (nodes.Node, error) {
	cfg := &injectConfig{OnceDelay: defaultOnceDelay}
	if err := nodes.Decode(def, cfg); err != nil {
		return nil, err
	}
	if cfg.Repeat < 0 || cfg.OnceDelay < 0 {
		return nil, fmt.Errorf("%w: %s: negative interval",
			nodes.ErrInvalidProps, def.ID)
	}
	n := &Inject{env: env, cfg: cfg}
	if _, err := n.payload(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", nodes.ErrInvalidProps, def.ID,
			err)
	}
	return n, nil
}

// Start arms the once and repeat timers
func (n *Inject) Start(context.Context) error {
	timers := n.env.Timers()
	if n.cfg.Once {
		timers.After(timerOnce, seconds(n.cfg.OnceDelay), n.fire)
	}
	if n.cfg.Repeat > 0 {
		timers.Every(timerRepeat, seconds(n.cfg.Repeat), n.fire)
	}
	return nil
}

// Inject emits msg, or the configured message when msg is nil
func (n *Inject) Inject(_ context.Context, msg api.Message) error {
	if msg == nil {
		var err error
		if msg, err = n.message(); err != nil {
			return err
		}
	}
	n.env.Send(nodes.Single(msg))
	return nil
}

func (n *Inject) Close(context.Context) error {
	timers := n.env.Timers()
	timers.Cancel(timerOnce)
	timers.Cancel(timerRepeat)
	return nil
}

func (n *Inject) fire(ctx context.Context) error {
	return n.Inject(ctx, nil)
}

func (n *Inject) message() (api.Message, error) {
	payload, err := n.payload()
	if err != nil {
		return nil, err
	}
	msg := api.NewMessage(payload)
	if n.cfg.Topic != "" {
		msg[api.TopicKey] = n.cfg.Topic
	}
	return msg, nil
}

func (n *Inject) payload() (any, error) {
	p := n.cfg.Payload
	switch n.cfg.PayloadType {
	case PayloadDate:
		return time.Now().UnixMilli(), nil
	case PayloadString:
		if p == nil {
			return "", nil
		}
		return fmt.Sprint(p), nil
	case PayloadNumber:
		switch v := p.(type) {
		case float64, int, int64:
			return v, nil
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
			}
			return f, nil
		default:
			return nil, fmt.Errorf("%w: %v is not a number",
				ErrInvalidPayload, p)
		}
	case PayloadBool:
		switch v := p.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
			}
			return b, nil
		default:
			return nil, fmt.Errorf("%w: %v is not a boolean",
				ErrInvalidPayload, p)
		}
	case PayloadJSON:
		s, ok := p.(string)
		if !ok {
			return api.CloneValue(p), nil
		}
		var res any
		if err := json.Unmarshal([]byte(s), &res); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		return res, nil
	default:
		return api.CloneValue(p), nil
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
