// Package transfer composes a control endpoint's transaction stream into
// whole control transfers, using the same push-mode shift-reduce style
// as pkg/transaction but over a second, synthetic-token grammar: each
// incoming transaction is first rewritten into one of SETUP_OUT,
// SETUP_IN, IN_ACK, IN_NAK, IN_STALL, OUT_ACK, OUT_NAK, OUT_NYET,
// OUT_STALL, PING_ACK or PING_NAK by pairing its initiating token kind
// with its concluding handshake kind, and that synthetic token drives
// the transfer grammar.
package transfer

import (
	"github.com/vpelletier/ITI1480A-linux/pkg/sink"
	"github.com/vpelletier/ITI1480A-linux/pkg/tic"
	"github.com/vpelletier/ITI1480A-linux/pkg/transaction"
)

// synth is a token of the endpoint-0 transfer grammar.
type synth int

const (
	synthNone synth = iota
	setupOut
	setupIn
	inAck
	inNak
	inStall
	outAck
	outNak
	outNyet
	outStall
	pingAck
	pingNak
)

func isOutDataStart(s synth) bool {
	switch s {
	case outAck, outNak, outStall, pingAck, pingNak:
		return true
	}
	return false
}

func isInDataStart(s synth) bool {
	switch s {
	case inAck, inNak, inStall:
		return true
	}
	return false
}

// dataAccepted reports whether tok's handshake actually accepted the
// transaction's data: a NAK or STALL means the sender must retry the
// same bytes, so they must not be folded into the transfer's data yet.
func dataAccepted(tok synth) bool {
	switch tok {
	case outAck, outNyet, inAck:
		return true
	}
	return false
}

// rewrite turns a routed Transaction into its synthetic token. The
// direction of a SETUP's data stage is read from the request's own
// bmRequestType byte (bit 7 of the first SETUP data byte) rather than
// from the token packet's address byte: the address byte's bit 7 is the
// low bit of the endpoint field, not a direction marker, so only the
// request payload can answer "IN or OUT data stage".
func rewrite(t transaction.Transaction) (synth, bool) {
	switch t.Token.Name {
	case "SETUP":
		if t.Data == nil || len(t.Data.Data) == 0 {
			return synthNone, false
		}
		if t.Data.Data[0]&0x80 != 0 {
			return setupIn, true
		}
		return setupOut, true
	case "IN":
		if t.Handshake == nil {
			return synthNone, false
		}
		switch t.Handshake.Name {
		case "ACK":
			return inAck, true
		case "NAK":
			return inNak, true
		case "STALL":
			return inStall, true
		}
	case "OUT":
		if t.Handshake == nil {
			return synthNone, false
		}
		switch t.Handshake.Name {
		case "ACK":
			return outAck, true
		case "NAK":
			return outNak, true
		case "NYET":
			return outNyet, true
		case "STALL":
			return outStall, true
		}
	}
	return synthNone, false
}

func rewritePing(p transaction.Ping) (synth, bool) {
	switch p.Handshake.Name {
	case "ACK":
		return pingAck, true
	case "NAK":
		return pingNak, true
	}
	return synthNone, false
}

// Transfer is the body of a sink.Transfer message: a fully composed
// control transfer addressed to one device endpoint.
type Transfer struct {
	Address   byte
	Endpoint  byte
	Setup     []byte
	Data      []byte
	Direction string // "IN", "OUT" or "NoData"
	Status    string
}

type phase int

const (
	phWaitSetup phase = iota
	phAfterSetupOut
	phOutData
	phOutDataPingAckWait
	phInData
	phOutHandshake
)

// Aggregator is a per-(address,endpoint) control transfer composer. It
// implements the pipe.Sink shape so the router can use it directly as a
// per-pipe sink.
type Aggregator struct {
	observer sink.Observer

	phase            phase
	startTic         tic.Tic
	addr             byte
	ep               byte
	setup            []byte
	data             []byte
	ackPending       bool
	thenOutHandshake bool
	status           string
}

// NewAggregator returns a control transfer composer reporting to
// observer.
func NewAggregator(observer sink.Observer) *Aggregator {
	return &Aggregator{observer: observer}
}

// Push consumes one routed message. Transaction and Ping messages drive
// the grammar; everything else passes straight through.
func (a *Aggregator) Push(msg sink.Message) {
	switch body := msg.Body.(type) {
	case transaction.Transaction:
		tok, ok := rewrite(body)
		if !ok {
			a.transferError(msg.Tic, "unrewritable transaction in control transfer")
			return
		}
		if body.Token.Name == "SETUP" {
			a.beginSetup(msg.Tic, body, tok)
			return
		}
		if a.phase == phWaitSetup {
			a.transferError(msg.Tic, "transaction outside a control transfer")
			return
		}
		if body.Data != nil && dataAccepted(tok) {
			a.data = append(a.data, body.Data.Data...)
		}
		a.run(msg.Tic, tok)
	case transaction.Ping:
		tok, ok := rewritePing(body)
		if !ok {
			a.transferError(msg.Tic, "unrewritable ping in control transfer")
			return
		}
		if a.phase == phWaitSetup {
			a.transferError(msg.Tic, "ping outside a control transfer")
			return
		}
		a.run(msg.Tic, tok)
	default:
		a.observer.Emit(msg)
	}
}

func (a *Aggregator) beginSetup(at tic.Tic, t transaction.Transaction, tok synth) {
	a.startTic = at
	a.addr, a.ep = t.Token.Address, t.Token.Endpoint
	a.setup = append([]byte(nil), t.Data.Data...)
	a.data = nil
	a.ackPending = false
	a.status = ""
	if tok == setupOut {
		a.phase = phAfterSetupOut
	} else {
		a.phase = phInData
		a.thenOutHandshake = true
	}
}

// run feeds one synthetic token through the grammar, replaying it across
// epsilon phase transitions (no token consumed yet) until it is either
// consumed or rejected.
func (a *Aggregator) run(at tic.Tic, tok synth) {
	for a.advance(at, tok) {
	}
}

// advance processes tok against the current phase. It returns true when
// tok was not consumed (a phase change with nothing yet to show for it)
// and must be retried against the new phase.
func (a *Aggregator) advance(at tic.Tic, tok synth) bool {
	switch a.phase {
	case phAfterSetupOut:
		switch {
		case isOutDataStart(tok):
			a.phase = phOutData
			return true
		case isInDataStart(tok):
			a.phase = phInData
			a.thenOutHandshake = false
			return true
		}
		a.transferError(at, "SETUP_OUT: unexpected token")
		return false

	case phOutData:
		if a.ackPending {
			a.ackPending = false
			if !isOutDataStart(tok) {
				a.phase = phInData
				return true
			}
			// previous OUT_ACK was mid-sequence; tok continues out_data below.
		}
		switch tok {
		case outStall:
			a.phase = phInData
			return false
		case outAck:
			a.ackPending = true
			return false
		case outNak:
			return false
		case pingAck:
			a.phase = phOutDataPingAckWait
			return false
		case pingNak:
			return false
		}
		a.transferError(at, "out_data: unexpected token")
		return false

	case phOutDataPingAckWait:
		switch tok {
		case outAck, outNyet:
			a.phase = phInData
			return false
		}
		a.transferError(at, "PING_ACK must be followed by OUT_ACK or OUT_NYET")
		return false

	case phInData:
		if a.ackPending {
			a.ackPending = false
			if !isInDataStart(tok) {
				a.finishInData(at, "ACK")
				return true
			}
			// previous IN_ACK was mid-sequence; tok continues in_data below.
		}
		switch tok {
		case inStall:
			a.finishInData(at, "STALL")
			return false
		case inAck:
			a.ackPending = true
			return false
		case inNak:
			return false
		}
		a.transferError(at, "in_data: unexpected token")
		return false

	case phOutHandshake:
		switch tok {
		case outAck:
			a.finishTransfer(at, "ACK")
			return false
		case outNak, pingAck, pingNak:
			return false
		}
		a.transferError(at, "out_handshake: unexpected token")
		return false
	}
	a.transferError(at, "synthetic token with no open control transfer")
	return false
}

// finishInData closes the in_data nonterminal with the handshake name
// that ended it, then either hands off to out_handshake (SETUP_IN path)
// or completes the transfer directly (SETUP_OUT path).
func (a *Aggregator) finishInData(at tic.Tic, terminal string) {
	if a.thenOutHandshake {
		a.phase = phOutHandshake
		return
	}
	a.finishTransfer(at, terminal)
}

func (a *Aggregator) finishTransfer(_ tic.Tic, status string) {
	direction := "NoData"
	if len(a.data) > 0 {
		if a.thenOutHandshake {
			direction = "IN"
		} else {
			direction = "OUT"
		}
	}
	a.observer.Emit(sink.Message{Tic: a.startTic, Kind: sink.Transfer, Body: Transfer{
		Address:   a.addr,
		Endpoint:  a.ep,
		Setup:     a.setup,
		Data:      a.data,
		Direction: direction,
		Status:    status,
	}})
	a.reset()
}

func (a *Aggregator) transferError(at tic.Tic, reason string) {
	a.observer.Emit(sink.Message{Tic: at, Kind: sink.TransferError, Body: reason})
	a.reset()
}

func (a *Aggregator) reset() {
	a.phase = phWaitSetup
	a.setup = nil
	a.data = nil
	a.ackPending = false
	a.thenOutHandshake = false
	a.status = ""
}

// Stop reports an in-progress transfer left unterminated at capture
// stop. A pending IN_ACK on a SETUP_OUT transfer has nothing left to
// precede, so it is resolved as the terminal in_data handshake; every
// other open phase still has a mandatory production left unseen (the
// status stage, an out_handshake ACK, ...) and is reported incomplete.
// There is nothing further to cascade: the transfer aggregator is a
// pipeline leaf.
func (a *Aggregator) Stop() {
	switch {
	case a.phase == phWaitSetup:
		return
	case a.phase == phInData && a.ackPending && !a.thenOutHandshake:
		a.finishTransfer(a.startTic, "ACK")
	default:
		a.transferError(a.startTic, "incomplete control transfer at capture stop")
	}
}
