package nodes

import (
	"sync"
	"sync/atomic"

	"github.com/kode4food/wireflow/pkg/api"
)

type (
	// Output holds messages per output port. A nil or empty port sends
	// nothing on that port
	Output [][]api.Message

	// Input is one message delivered to a Receiver
	Input struct {
		Msg      api.Message
		send     func(Output)
		done     func(error)
		Port     int
		once     sync.Once
		finished atomic.Bool
	}
)

// Single sends one message on port 0
func Single(msg api.Message) Output {
	return Output{{msg}}
}

// OnPort sends one message on the given port
func OnPort(port int, msg api.Message) Output {
	out := make(Output, port+1)
	out[port] = []api.Message{msg}
	return out
}

// NewInput is used by the engine to wrap a delivery
func NewInput(
	msg api.Message, port int, send func(Output), done func(error),
) *Input {
	return &Input{Msg: msg, Port: port, send: send, done: done}
}

// Send emits messages in response to this input. It may be called any
// number of times before Done and is ignored afterward
func (in *Input) Send(out Output) {
	if len(out) == 0 || in.finished.Load() {
		return
	}
	in.send(out)
}

// Done completes the input. A non-nil error is routed to catch nodes.
// Only the first call has any effect
func (in *Input) Done(err error) {
	in.once.Do(func() {
		in.finished.Store(true)
		in.done(err)
	})
}

// Count returns the number of messages the output carries
func (o Output) Count() int {
	n := 0
	for _, port := range o {
		n += len(port)
	}
	return n
}
