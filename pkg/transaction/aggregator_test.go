package transaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpelletier/ITI1480A-linux/pkg/sink"
	"github.com/vpelletier/ITI1480A-linux/pkg/token"
)

type capturingSink struct {
	messages []sink.Message
	stops    int
}

func (c *capturingSink) Push(m sink.Message) { c.messages = append(c.messages, m) }
func (c *capturingSink) Stop()               { c.stops++ }

func TestAggregatorOutTransactionWithAck(t *testing.T) {
	next := &capturingSink{}
	agg := NewAggregator(next, sink.Func(func(sink.Message) {}))

	agg.Push(tok(token.OUT, 0x01, 0x00, 0x00))
	agg.Push(tok(token.DATA0, 0xc3, 0x41, 0x42, 0xaa, 0xbb))
	agg.Push(tok(token.ACK, 0xd2))

	require.Len(t, next.messages, 1)
	msg := next.messages[0]
	assert.Equal(t, sink.Transaction, msg.Kind)
	trans := msg.Body.(Transaction)
	assert.Equal(t, "OUT", trans.Token.Name)
	require.NotNil(t, trans.Data)
	assert.Equal(t, []byte{0x41, 0x42}, trans.Data.Data)
	require.NotNil(t, trans.Handshake)
	assert.Equal(t, "ACK", trans.Handshake.Name)
}

func TestAggregatorInTransactionWithNakHasNoDataStage(t *testing.T) {
	next := &capturingSink{}
	agg := NewAggregator(next, sink.Func(func(sink.Message) {}))

	agg.Push(tok(token.IN, 0x01, 0x00, 0x00))
	agg.Push(tok(token.NAK, 0x5a))

	require.Len(t, next.messages, 1)
	trans := next.messages[0].Body.(Transaction)
	assert.Nil(t, trans.Data)
	require.NotNil(t, trans.Handshake)
	assert.Equal(t, "NAK", trans.Handshake.Name)
}

func TestAggregatorInTransactionIsochronousHasNoHandshake(t *testing.T) {
	next := &capturingSink{}
	agg := NewAggregator(next, sink.Func(func(sink.Message) {}))

	agg.Push(tok(token.IN, 0x01, 0x00, 0x00))
	agg.Push(tok(token.DATA0, 0xc3, 0x01, 0xaa, 0xbb))
	// A fresh SOF starts immediately after, with no trailing handshake;
	// the lookahead token must be replayed against the idle state.
	agg.Push(tok(token.SOF, 0xa5, 0x00, 0x00))

	require.Len(t, next.messages, 2)
	trans := next.messages[0].Body.(Transaction)
	assert.Nil(t, trans.Handshake)
	require.NotNil(t, trans.Data)
	assert.Equal(t, sink.SOF, next.messages[1].Kind)
}

func TestAggregatorPingHandshakeRestrictedToAckNakStall(t *testing.T) {
	next := &capturingSink{}
	agg := NewAggregator(next, sink.Func(func(sink.Message) {}))

	agg.Push(tok(token.PING, 0x01, 0x00, 0x00))
	agg.Push(tok(token.ACK, 0xd2))

	require.Len(t, next.messages, 1)
	assert.Equal(t, sink.Ping, next.messages[0].Kind)
	ping := next.messages[0].Body.(Ping)
	assert.Equal(t, "ACK", ping.Handshake.Name)

	// NYET is a handshake elsewhere but does not complete a PING.
	agg.Push(tok(token.PING, 0x01, 0x00, 0x00))
	agg.Push(tok(token.NYET, 0x96))
	assert.Len(t, next.messages, 1)
}

func TestAggregatorLowSpeedOutOrdersPreErrBeforeAndAfterToken(t *testing.T) {
	next := &capturingSink{}
	agg := NewAggregator(next, sink.Func(func(sink.Message) {}))

	agg.Push(tok(token.PreErr, 0xc1))
	agg.Push(tok(token.OUT, 0x01, 0x00, 0x00))
	agg.Push(tok(token.PreErr, 0xc1))
	agg.Push(tok(token.DATA0, 0xc3, 0x01, 0xaa, 0xbb))
	agg.Push(tok(token.ACK, 0xd2))

	require.Len(t, next.messages, 1)
	trans := next.messages[0].Body.(Transaction)
	assert.True(t, trans.LowSpeed)
	assert.Equal(t, "OUT", trans.Token.Name)
}

func TestAggregatorCSplitBareProductionHasNoInner(t *testing.T) {
	next := &capturingSink{}
	agg := NewAggregator(next, sink.Func(func(sink.Message) {}))

	agg.Push(tok(token.CSplit, 0xb4, 0x02, 0x00, 0x01))
	agg.Push(tok(token.SOF, 0xa5, 0x00, 0x00))

	require.Len(t, next.messages, 2)
	split := next.messages[0].Body.(Split)
	assert.False(t, split.HasInner)
	assert.False(t, split.PreErrOnly)
}

func TestAggregatorCSplitPreErrOnlyProduction(t *testing.T) {
	next := &capturingSink{}
	agg := NewAggregator(next, sink.Func(func(sink.Message) {}))

	agg.Push(tok(token.CSplit, 0xb4, 0x02, 0x00, 0x01))
	agg.Push(tok(token.PreErr, 0xc1))

	require.Len(t, next.messages, 1)
	split := next.messages[0].Body.(Split)
	assert.True(t, split.PreErrOnly)
}

func TestAggregatorSSplitWithDataAndHandshake(t *testing.T) {
	next := &capturingSink{}
	agg := NewAggregator(next, sink.Func(func(sink.Message) {}))

	agg.Push(tok(token.SSplit, 0xb4, 0x02, 0x00, 0x01))
	agg.Push(tok(token.OUT, 0x01, 0x00, 0x00))
	agg.Push(tok(token.DATA0, 0xc3, 0x01, 0xaa, 0xbb))
	agg.Push(tok(token.ACK, 0xd2))

	require.Len(t, next.messages, 1)
	split := next.messages[0].Body.(Split)
	assert.True(t, split.HasInner)
	require.NotNil(t, split.Data)
	require.NotNil(t, split.Handshake)
}

func TestAggregatorStopFlushesIncompleteTransaction(t *testing.T) {
	var diagnostics []sink.Message
	next := &capturingSink{}
	agg := NewAggregator(next, sink.Func(func(m sink.Message) { diagnostics = append(diagnostics, m) }))

	agg.Push(tok(token.OUT, 0x01, 0x00, 0x00))
	agg.Stop()

	assert.Empty(t, next.messages)
	require.Len(t, diagnostics, 1)
	assert.Equal(t, sink.Incomplete, diagnostics[0].Kind)
	assert.Equal(t, 1, next.stops)
}

func TestAggregatorStrayHandshakeIsReportedAndDiscarded(t *testing.T) {
	var diagnostics []sink.Message
	next := &capturingSink{}
	agg := NewAggregator(next, sink.Func(func(m sink.Message) { diagnostics = append(diagnostics, m) }))

	agg.Push(tok(token.ACK, 0xd2))

	assert.Empty(t, next.messages)
	require.Len(t, diagnostics, 1)
	assert.Equal(t, sink.Incomplete, diagnostics[0].Kind)
}
