// Package nodes defines the contract between the flow engine and the node
// types it runs, and the registry through which a host makes node types
// available to deploys
package nodes

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/wireflow/internal/ctxstore"
	"github.com/kode4food/wireflow/pkg/api"
	"github.com/kode4food/wireflow/pkg/log"
)

type (
	// Node is a running instance of a node definition
	Node interface {
		// Close releases the instance. The engine bounds how long Close
		// may take and abandons instances that exceed it
		Close(ctx context.Context) error
	}

	// Receiver is implemented by nodes that accept wired messages. Each
	// Input must be completed with Done; further inputs are not delivered
	// until then unless the node is Concurrent
	Receiver interface {
		Node
		Receive(ctx context.Context, in *Input)
	}

	// Starter is implemented by nodes that begin work once the whole
	// topology they belong to has been published
	Starter interface {
		Node
		Start(ctx context.Context) error
	}

	// Concurrent is implemented by nodes that may process more than one
	// input at a time. Outputs are still released in input order
	Concurrent interface {
		Receiver
		Concurrency() int
	}

	// Injector is implemented by input nodes that can be triggered from
	// the admin API
	Injector interface {
		Node
		Inject(ctx context.Context, msg api.Message) error
	}

	// Catcher is implemented by nodes that receive the failures of other
	// nodes in the same scope. The engine emits the failed message, with
	// its error property set, from every Catcher that accepts the source
	Catcher interface {
		Node
		Catches(source api.NodeID) bool
	}

	// Constructor creates a node instance from its definition
	Constructor func(env Env, def *api.NodeDef) (Node, error)

	// HandlerFunc is the synchronous form of a Receiver
	HandlerFunc func(ctx context.Context, msg api.Message) (Output, error)

	// TimerFunc is called when a node timer fires
	TimerFunc func(ctx context.Context) error

	// Env is what the engine provides to a node instance
	Env interface {
		ID() api.NodeID
		Flow() api.FlowID
		Log() *log.Logger

		// Send emits messages that are not a response to an Input, as
		// input nodes do. Messages without a correlation id get a new one
		Send(out Output)

		// Status publishes the node's status indicator. nil clears it
		Status(st *api.NodeStatus)

		// Publish emits an event on the runtime's comms stream
		Publish(topic string, data any)

		Context() *ctxstore.Scope
		FlowContext() *ctxstore.Scope
		GlobalContext() *ctxstore.Scope

		HTTP() HTTPSurface
		Timers() Timers

		// ConfigNode returns the running instance of a config node
		ConfigNode(id api.NodeID) (Node, bool)
	}

	// Timers schedules named timers owned by one node. Timers are
	// cancelled automatically when the node closes
	Timers interface {
		After(name string, d time.Duration, fn TimerFunc)
		Every(name string, d time.Duration, fn TimerFunc)
		Cancel(name string)
	}

	// HTTPSurface lets nodes expose endpoints under the runtime's node
	// root. Registering a method and path that is already registered
	// replaces the previous handler
	HTTPSurface interface {
		Handle(method, path string, h gin.HandlerFunc) (func(), error)
	}

	funcNode struct {
		handler HandlerFunc
	}
)

var (
	ErrHTTPDisabled   = errors.New("node HTTP surface is disabled")
	ErrNotConfigNode  = errors.New("referenced node is not a config node")
	ErrConfigNotFound = errors.New("config node not found")
)

// Func adapts a HandlerFunc to a Receiver
func Func(h HandlerFunc) Receiver {
	return &funcNode{handler: h}
}

func (f *funcNode) Receive(ctx context.Context, in *Input) {
	out, err := f.handler(ctx, in.Msg)
	if err == nil {
		in.Send(out)
	}
	in.Done(err)
}

func (f *funcNode) Close(context.Context) error {
	return nil
}
