package helpers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/kode4food/wireflow/internal/ctxstore"
	"github.com/kode4food/wireflow/internal/nodes"
	"github.com/kode4food/wireflow/pkg/api"
)

type (
	// Collector records the messages received by "collect" nodes
	Collector struct {
		msgs map[api.NodeID][]api.Message
		mu   sync.Mutex
	}

	// Gate blocks "block" nodes until it is opened
	Gate struct {
		open chan struct{}
		once sync.Once
	}

	// TestNodes holds the shared state of the test node types
	TestNodes struct {
		Collector *Collector
		Gate      *Gate
		// Constructed counts instances created per node id
		Constructed map[api.NodeID]int
		// Closed counts instances closed per node id
		Closed map[api.NodeID]int
		mu     sync.Mutex
	}

	closer struct {
		nodes.Receiver
		onClose func(context.Context) error
	}

	concurrent struct {
		nodes.Receiver
		limit int
	}
)

// Test node types
const (
	TypePass       = "pass"
	TypeDouble     = "double"
	TypeCollect    = "collect"
	TypeCounter    = "counter"
	TypeFail       = "fail"
	TypeBlock      = "block"
	TypeStubborn   = "stubborn"
	TypeMutate     = "mutate"
	TypeSplit      = "split"
	TypeConcurrent = "concurrent"
	TypeSlowFirst  = "slow-first"
	TypeBroker     = "broker"
	TypeBrokerUser = "broker-user"
	TypeEndpoint   = "endpoint"
)

var ErrTestFailure = errors.New("test node failure")

// NewTestNodes creates the test node state
func NewTestNodes() *TestNodes {
	return &TestNodes{
		Collector:   NewCollector(),
		Gate:        NewGate(),
		Constructed: map[api.NodeID]int{},
		Closed:      map[api.NodeID]int{},
	}
}

// Register adds the test node types to a registry:
//   - pass forwards its input
//   - double multiplies a numeric payload by two
//   - collect records what it receives
//   - counter counts messages in node and flow context and forwards the
//     node count as payload
//   - fail returns an error for every message
//   - block waits for the gate before completing
//   - stubborn never returns from Close
//   - mutate sets payload to "mutated" and forwards
//   - split sends the same message on both of its output ports
//   - concurrent sleeps for payload milliseconds, up to four at a time
//   - slow-first delays the first message it receives
//   - broker is a config node; broker-user forwards the broker's prefix
//   - endpoint serves GET on its configured path, answering with its id
func (tn *TestNodes) Register(r *nodes.Registry) {
	fn := func(typ string, h func(nodes.Env) nodes.HandlerFunc) {
		r.MustRegister(&nodes.TypeInfo{
			Type: typ, Kind: api.KindFunction, Inputs: 1, Outputs: 1,
			Category: "test",
			New: func(env nodes.Env, def *api.NodeDef) (nodes.Node, error) {
				tn.constructed(env.ID())
				return &closer{
					Receiver: nodes.Func(h(env)),
					onClose: func(context.Context) error {
						tn.closed(env.ID())
						return nil
					},
				}, nil
			},
		})
	}

	fn(TypePass, func(nodes.Env) nodes.HandlerFunc {
		return func(_ context.Context, msg api.Message) (nodes.Output, error) {
			return nodes.Single(msg), nil
		}
	})
	fn(TypeDouble, func(nodes.Env) nodes.HandlerFunc {
		return func(_ context.Context, msg api.Message) (nodes.Output, error) {
			n, err := number(msg.Payload())
			if err != nil {
				return nil, err
			}
			msg[api.PayloadKey] = n * 2
			return nodes.Single(msg), nil
		}
	})
	fn(TypeCounter, func(env nodes.Env) nodes.HandlerFunc {
		return func(ctx context.Context, msg api.Message) (nodes.Output, error) {
			count, err := increment(ctx, env.Context().Update)
			if err != nil {
				return nil, err
			}
			if _, err := increment(ctx, env.FlowContext().Update); err != nil {
				return nil, err
			}
			msg[api.PayloadKey] = count
			return nodes.Single(msg), nil
		}
	})
	fn(TypeFail, func(nodes.Env) nodes.HandlerFunc {
		return func(context.Context, api.Message) (nodes.Output, error) {
			return nil, ErrTestFailure
		}
	})
	fn(TypeMutate, func(nodes.Env) nodes.HandlerFunc {
		return func(_ context.Context, msg api.Message) (nodes.Output, error) {
			msg[api.PayloadKey] = "mutated"
			return nodes.Single(msg), nil
		}
	})

	r.MustRegister(&nodes.TypeInfo{
		Type: TypeSplit, Kind: api.KindFunction, Inputs: 1, Outputs: 2,
		Category: "test",
		New: func(env nodes.Env, def *api.NodeDef) (nodes.Node, error) {
			tn.constructed(env.ID())
			return nodes.Func(func(
				_ context.Context, msg api.Message,
			) (nodes.Output, error) {
				return nodes.Output{{msg}, {msg}}, nil
			}), nil
		},
	})

	r.MustRegister(&nodes.TypeInfo{
		Type: TypeCollect, Kind: api.KindOutput, Inputs: 1, Category: "test",
		New: func(env nodes.Env, def *api.NodeDef) (nodes.Node, error) {
			tn.constructed(env.ID())
			id := env.ID()
			return &closer{
				Receiver: nodes.Func(func(
					_ context.Context, msg api.Message,
				) (nodes.Output, error) {
					tn.Collector.add(id, msg)
					return nil, nil
				}),
				onClose: func(context.Context) error {
					tn.closed(env.ID())
					return nil
				},
			}, nil
		},
	})

	r.MustRegister(&nodes.TypeInfo{
		Type: TypeBlock, Kind: api.KindFunction, Inputs: 1, Outputs: 1,
		Category: "test",
		New: func(env nodes.Env, def *api.NodeDef) (nodes.Node, error) {
			tn.constructed(env.ID())
			return &closer{
				Receiver: nodes.Func(func(
					ctx context.Context, msg api.Message,
				) (nodes.Output, error) {
					select {
					case <-tn.Gate.open:
					case <-ctx.Done():
						return nil, ctx.Err()
					}
					return nodes.Single(msg), nil
				}),
				onClose: func(context.Context) error {
					tn.closed(env.ID())
					return nil
				},
			}, nil
		},
	})

	r.MustRegister(&nodes.TypeInfo{
		Type: TypeStubborn, Kind: api.KindFunction, Inputs: 1, Outputs: 1,
		Category: "test",
		New: func(env nodes.Env, def *api.NodeDef) (nodes.Node, error) {
			tn.constructed(env.ID())
			return &closer{
				Receiver: nodes.Func(func(
					_ context.Context, msg api.Message,
				) (nodes.Output, error) {
					return nodes.Single(msg), nil
				}),
				onClose: func(context.Context) error {
					tn.closed(env.ID())
					<-tn.Gate.open
					return nil
				},
			}, nil
		},
	})

	r.MustRegister(&nodes.TypeInfo{
		Type: TypeConcurrent, Kind: api.KindFunction, Inputs: 1, Outputs: 1,
		Category: "test",
		New: func(env nodes.Env, def *api.NodeDef) (nodes.Node, error) {
			tn.constructed(env.ID())
			return &concurrent{
				limit: 4,
				Receiver: nodes.Func(func(
					ctx context.Context, msg api.Message,
				) (nodes.Output, error) {
					ms, err := number(msg.Payload())
					if err != nil {
						return nil, err
					}
					select {
					case <-time.After(time.Duration(ms) * time.Millisecond):
					case <-ctx.Done():
						return nil, ctx.Err()
					}
					return nodes.Single(msg), nil
				}),
			}, nil
		},
	})

	r.MustRegister(&nodes.TypeInfo{
		Type: TypeSlowFirst, Kind: api.KindFunction, Inputs: 1, Outputs: 1,
		Category: "test",
		New: func(env nodes.Env, def *api.NodeDef) (nodes.Node, error) {
			tn.constructed(env.ID())
			var first sync.Once
			return nodes.Func(func(
				_ context.Context, msg api.Message,
			) (nodes.Output, error) {
				first.Do(func() {
					time.Sleep(50 * time.Millisecond)
				})
				return nodes.Single(msg), nil
			}), nil
		},
	})

	r.MustRegister(&nodes.TypeInfo{
		Type: TypeBroker, Kind: api.KindConfig, Category: "test",
		New: func(env nodes.Env, def *api.NodeDef) (nodes.Node, error) {
			tn.constructed(env.ID())
			b := &Broker{}
			if err := nodes.Decode(def, b); err != nil {
				return nil, err
			}
			return b, nil
		},
	})

	r.MustRegister(&nodes.TypeInfo{
		Type: TypeBrokerUser, Kind: api.KindFunction, Inputs: 1, Outputs: 1,
		Category: "test",
		New: func(env nodes.Env, def *api.NodeDef) (nodes.Node, error) {
			tn.constructed(env.ID())
			var cfg struct {
				Broker api.NodeID `json:"broker"`
			}
			if err := nodes.Decode(def, &cfg); err != nil {
				return nil, err
			}
			b, err := nodes.ConfigNode[*Broker](env, cfg.Broker)
			if err != nil {
				return nil, err
			}
			return nodes.Func(func(
				_ context.Context, msg api.Message,
			) (nodes.Output, error) {
				msg[api.PayloadKey] = fmt.Sprint(b.Prefix, msg.Payload())
				return nodes.Single(msg), nil
			}), nil
		},
	})

	r.MustRegister(&nodes.TypeInfo{
		Type: TypeEndpoint, Kind: api.KindInput, Outputs: 1, Category: "test",
		New: func(env nodes.Env, def *api.NodeDef) (nodes.Node, error) {
			tn.constructed(env.ID())
			var cfg struct {
				Path string `json:"path"`
			}
			if err := nodes.Decode(def, &cfg); err != nil {
				return nil, err
			}
			id := env.ID()
			_, err := env.HTTP().Handle(http.MethodGet, cfg.Path,
				func(c *gin.Context) {
					c.JSON(http.StatusOK, gin.H{"node": id})
				},
			)
			if err != nil && !errors.Is(err, nodes.ErrHTTPDisabled) {
				return nil, err
			}
			return &closer{
				Receiver: nodes.Func(func(
					_ context.Context, msg api.Message,
				) (nodes.Output, error) {
					return nodes.Single(msg), nil
				}),
				onClose: func(context.Context) error {
					tn.closed(id)
					return nil
				},
			}, nil
		},
	})
}

// Instances returns how many instances of a node were constructed
func (tn *TestNodes) Instances(id api.NodeID) int {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	return tn.Constructed[id]
}

// Closes returns how many instances of a node were closed
func (tn *TestNodes) Closes(id api.NodeID) int {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	return tn.Closed[id]
}

func (tn *TestNodes) constructed(id api.NodeID) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	tn.Constructed[id]++
}

func (tn *TestNodes) closed(id api.NodeID) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	tn.Closed[id]++
}

// Broker is the config node used by broker-user nodes
type Broker struct {
	Prefix string `json:"prefix"`
}

func (*Broker) Close(context.Context) error {
	return nil
}

func (c *closer) Close(ctx context.Context) error {
	return c.onClose(ctx)
}

func (c *concurrent) Concurrency() int {
	return c.limit
}

// NewCollector creates an empty Collector
func NewCollector() *Collector {
	return &Collector{msgs: map[api.NodeID][]api.Message{}}
}

// Messages returns what a collect node has received so far
func (c *Collector) Messages(id api.NodeID) []api.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]api.Message(nil), c.msgs[id]...)
}

// Wait waits until a collect node has received count messages
func (c *Collector) Wait(
	t *testing.T, id api.NodeID, count int,
) []api.Message {
	t.Helper()
	assert.Eventually(t, func() bool {
		return len(c.Messages(id)) >= count
	}, 5*time.Second, 5*time.Millisecond)
	return c.Messages(id)
}

// Payloads returns the payloads a collect node has received so far
func (c *Collector) Payloads(id api.NodeID) []any {
	msgs := c.Messages(id)
	res := make([]any, len(msgs))
	for i, m := range msgs {
		res[i] = m.Payload()
	}
	return res
}

func (c *Collector) add(id api.NodeID, msg api.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs[id] = append(c.msgs[id], msg)
}

// NewGate creates a closed Gate
func NewGate() *Gate {
	return &Gate{open: make(chan struct{})}
}

// Open releases every blocked node
func (g *Gate) Open() {
	g.once.Do(func() {
		close(g.open)
	})
}

func number(v any) (float64, error) {
	switch v := v.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("%w: payload %v is not a number",
			ErrTestFailure, v)
	}
}

func increment(
	ctx context.Context,
	update func(context.Context, string, ctxstore.UpdateFunc) (any, error),
) (float64, error) {
	v, err := update(ctx, "count", func(old any, ok bool) (any, error) {
		if !ok {
			return float64(1), nil
		}
		n, err := number(old)
		if err != nil {
			return nil, err
		}
		return n + 1, nil
	})
	if err != nil {
		return 0, err
	}
	return number(v)
}
