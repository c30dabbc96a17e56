package pid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpelletier/ITI1480A-linux/pkg/packet"
	"github.com/vpelletier/ITI1480A-linux/pkg/sink"
	"github.com/vpelletier/ITI1480A-linux/pkg/token"
)

type recordingSink struct {
	tokens []token.Token
	stops  int
}

func (r *recordingSink) Push(t token.Token) { r.tokens = append(r.tokens, t) }
func (r *recordingSink) Stop()              { r.stops++ }

func TestValidatorForwardsGoodToken(t *testing.T) {
	next := &recordingSink{}
	var diagnostics []sink.Message
	observer := sink.Func(func(m sink.Message) { diagnostics = append(diagnostics, m) })
	v := NewValidator(next, observer)

	// OUT PID: nibble 0x1, bit-complement 0xe.
	pkt := packet.Packet{{Value: 0x1 | 0xe<<4}, {Value: 0x3a}, {Value: 0x05}}
	v.Push(pkt)

	require.Len(t, next.tokens, 1)
	assert.Empty(t, diagnostics)
}

func TestValidatorDivertsBadPID(t *testing.T) {
	next := &recordingSink{}
	var diagnostics []sink.Message
	observer := sink.Func(func(m sink.Message) { diagnostics = append(diagnostics, m) })
	v := NewValidator(next, observer)

	pkt := packet.Packet{{Value: 0x11}} // bad complement
	v.Push(pkt)

	assert.Empty(t, next.tokens)
	require.Len(t, diagnostics, 1)
	assert.Equal(t, sink.Raw, diagnostics[0].Kind)
}

func TestValidatorStopCascades(t *testing.T) {
	next := &recordingSink{}
	v := NewValidator(next, sink.Func(func(sink.Message) {}))
	v.Stop()
	assert.Equal(t, 1, next.stops)
}
