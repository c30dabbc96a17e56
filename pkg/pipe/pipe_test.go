package pipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpelletier/ITI1480A-linux/pkg/sink"
	"github.com/vpelletier/ITI1480A-linux/pkg/transaction"
)

type fakeSink struct {
	pushes []sink.Message
	stops  int
}

func (f *fakeSink) Push(m sink.Message) { f.pushes = append(f.pushes, m) }
func (f *fakeSink) Stop()               { f.stops++ }

func transactionMsg(address, endpoint byte) sink.Message {
	return sink.Message{Kind: sink.Transaction, Body: transaction.Transaction{
		Token: transaction.TokenFields{Name: "OUT", Address: address, Endpoint: endpoint},
	}}
}

func TestRouterCreatesOnePipePerAddressEndpointPair(t *testing.T) {
	made := map[key]*fakeSink{}
	factory := func(address, endpoint byte) Sink {
		s := &fakeSink{}
		made[key{address, endpoint}] = s
		return s
	}
	r := NewRouter(factory, sink.Func(func(sink.Message) {}))

	r.Push(transactionMsg(1, 0))
	r.Push(transactionMsg(1, 0))
	r.Push(transactionMsg(2, 0))

	require.Len(t, made, 2)
	assert.Len(t, made[key{1, 0}].pushes, 2)
	assert.Len(t, made[key{2, 0}].pushes, 1)
}

func TestRouterKeysByEndpointTooNotJustAddress(t *testing.T) {
	made := map[key]*fakeSink{}
	factory := func(address, endpoint byte) Sink {
		s := &fakeSink{}
		made[key{address, endpoint}] = s
		return s
	}
	r := NewRouter(factory, sink.Func(func(sink.Message) {}))

	r.Push(transactionMsg(1, 0))
	r.Push(transactionMsg(1, 1))

	assert.Len(t, made, 2)
	assert.Len(t, made[key{1, 0}].pushes, 1)
	assert.Len(t, made[key{1, 1}].pushes, 1)
}

func TestRouterPassesUnkeyableMessagesStraightToObserver(t *testing.T) {
	var observed []sink.Message
	r := NewRouter(func(byte, byte) Sink { return &fakeSink{} },
		sink.Func(func(m sink.Message) { observed = append(observed, m) }))

	r.Push(sink.Message{Kind: sink.SOF, Body: "frame"})

	require.Len(t, observed, 1)
	assert.Equal(t, sink.SOF, observed[0].Kind)
}

func TestRouterRoutesSplitByInnerAddressWhenNotPreErrOnly(t *testing.T) {
	made := map[key]*fakeSink{}
	factory := func(address, endpoint byte) Sink {
		s := &fakeSink{}
		made[key{address, endpoint}] = s
		return s
	}
	var observed []sink.Message
	r := NewRouter(factory, sink.Func(func(m sink.Message) { observed = append(observed, m) }))

	r.Push(sink.Message{Kind: sink.Split, Body: transaction.Split{
		HasInner: true,
		Inner:    transaction.TokenFields{Address: 5, Endpoint: 2},
	}})

	require.Len(t, made, 1)
	assert.Len(t, made[key{5, 2}].pushes, 1)
	assert.Empty(t, observed)
}

func TestRouterSendsPreErrOnlySplitToObserverNotAPipe(t *testing.T) {
	made := map[key]*fakeSink{}
	factory := func(address, endpoint byte) Sink {
		s := &fakeSink{}
		made[key{address, endpoint}] = s
		return s
	}
	var observed []sink.Message
	r := NewRouter(factory, sink.Func(func(m sink.Message) { observed = append(observed, m) }))

	r.Push(sink.Message{Kind: sink.Split, Body: transaction.Split{PreErrOnly: true}})

	assert.Empty(t, made)
	require.Len(t, observed, 1)
}

func TestRouterStopCascadesToEveryCreatedPipe(t *testing.T) {
	made := map[key]*fakeSink{}
	factory := func(address, endpoint byte) Sink {
		s := &fakeSink{}
		made[key{address, endpoint}] = s
		return s
	}
	r := NewRouter(factory, sink.Func(func(sink.Message) {}))

	r.Push(transactionMsg(1, 0))
	r.Push(transactionMsg(2, 0))
	r.Stop()

	for k, s := range made {
		assert.Equal(t, 1, s.stops, "pipe %+v was not stopped", k)
	}
}

func TestDefaultFactoryRoutesEndpointZeroToControlAggregatorAndOthersToPassthrough(t *testing.T) {
	var observed []sink.Message
	factory := DefaultFactory(sink.Func(func(m sink.Message) { observed = append(observed, m) }))

	ep0 := factory(1, 0)
	_, isPassthroughEP0 := ep0.(passthrough)
	assert.False(t, isPassthroughEP0)

	other := factory(1, 3)
	_, isPassthroughOther := other.(passthrough)
	assert.True(t, isPassthroughOther)

	msg := sink.Message{Kind: sink.SOF, Body: "frame"}
	other.Push(msg)
	require.Len(t, observed, 1)
	assert.Equal(t, sink.SOF, observed[0].Kind)
}
