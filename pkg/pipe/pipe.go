// Package pipe routes transaction-shaped messages to a per-(address,
// endpoint) aggregator, creating pipes lazily as new endpoints are seen.
package pipe

import (
	"github.com/vpelletier/ITI1480A-linux/pkg/sink"
	"github.com/vpelletier/ITI1480A-linux/pkg/transaction"
	"github.com/vpelletier/ITI1480A-linux/pkg/transfer"
)

// Sink is a per-pipe consumer: a control-transfer composer on endpoint 0,
// a plain passthrough on every other endpoint.
type Sink interface {
	Push(sink.Message)
	Stop()
}

// Factory builds the per-pipe sink for a newly observed (address,
// endpoint) pair.
type Factory func(address, endpoint byte) Sink

type key struct {
	address  byte
	endpoint byte
}

// Router implements transaction.Sink: it keys incoming Transaction/Ping/
// Split messages by device address and endpoint, lazily creating a pipe
// for each new pair, and passes anything it cannot key (SOF, parser
// diagnostics) straight through to the observer.
type Router struct {
	factory  Factory
	observer sink.Observer
	pipes    map[key]Sink
}

// NewRouter returns a Router using factory to build per-pipe sinks and
// observer for anything that cannot be keyed by endpoint.
func NewRouter(factory Factory, observer sink.Observer) *Router {
	return &Router{factory: factory, observer: observer, pipes: make(map[key]Sink)}
}

// DefaultFactory routes endpoint 0 through a control transfer composer
// and every other endpoint straight through to observer, tagged as-is.
func DefaultFactory(observer sink.Observer) Factory {
	return func(address, endpoint byte) Sink {
		if endpoint == 0 {
			return transfer.NewAggregator(observer)
		}
		return passthrough{observer: observer}
	}
}

type passthrough struct {
	observer sink.Observer
}

func (p passthrough) Push(msg sink.Message) { p.observer.Emit(msg) }
func (p passthrough) Stop()                 {}

// Push implements transaction.Sink.
func (r *Router) Push(msg sink.Message) {
	address, endpoint, ok := addressOf(msg)
	if !ok {
		r.observer.Emit(msg)
		return
	}
	k := key{address, endpoint}
	p, exists := r.pipes[k]
	if !exists {
		p = r.factory(address, endpoint)
		r.pipes[k] = p
	}
	p.Push(msg)
}

func addressOf(msg sink.Message) (address, endpoint byte, ok bool) {
	switch msg.Kind {
	case sink.Transaction:
		t := msg.Body.(transaction.Transaction)
		return t.Token.Address, t.Token.Endpoint, true
	case sink.Ping:
		t := msg.Body.(transaction.Ping)
		return t.Token.Address, t.Token.Endpoint, true
	case sink.Split:
		s := msg.Body.(transaction.Split)
		if s.PreErrOnly {
			return 0, 0, false
		}
		return s.Inner.Address, s.Inner.Endpoint, true
	default:
		return 0, 0, false
	}
}

// Stop cascades termination to every pipe created so far, then lets any
// trailing diagnostics reach the observer directly.
func (r *Router) Stop() {
	for _, p := range r.pipes {
		p.Stop()
	}
}
