// Package pid sits between the Packetiser and the transaction aggregator:
// it validates each packet's PID byte and turns good packets into typed
// tokens, diverting bad ones to the observer as raw diagnostics.
package pid

import (
	"github.com/vpelletier/ITI1480A-linux/pkg/packet"
	"github.com/vpelletier/ITI1480A-linux/pkg/sink"
	"github.com/vpelletier/ITI1480A-linux/pkg/token"
)

// Sink receives validated tokens and participates in the stop cascade.
type Sink interface {
	Push(token.Token)
	Stop()
}

// Validator implements packet.Sink, converting each incoming packet into
// a token.Token or reporting it as a bad PID.
type Validator struct {
	next     Sink
	observer sink.Observer
}

// NewValidator returns a Validator forwarding good tokens to next and bad
// PID diagnostics to observer.
func NewValidator(next Sink, observer sink.Observer) *Validator {
	return &Validator{next: next, observer: observer}
}

// Push validates one packet. Empty packets cannot occur (the Packetiser
// only forwards non-empty buffers) but are defensively dropped rather
// than panicking a live capture.
func (v *Validator) Push(pkt packet.Packet) {
	if len(pkt) == 0 {
		return
	}
	tok, ok := token.Validate(pkt)
	if !ok {
		v.observer.Emit(sink.Message{Tic: pkt[0].Tic, Kind: sink.Raw, Body: token.BadPIDLabel(pkt)})
		return
	}
	v.next.Push(tok)
}

// Stop propagates termination downstream.
func (v *Validator) Stop() {
	v.next.Stop()
}
