// Package transaction aggregates the token stream into USB transactions
// (token + optional data + optional handshake) using a hand-written
// push-mode shift-reduce parser: a table-driven LR grammar is of no use
// here, since records must be emitted as soon as they are unambiguous
// rather than batched for a generator to replay.
package transaction

import (
	"fmt"

	"github.com/vpelletier/ITI1480A-linux/pkg/sink"
	"github.com/vpelletier/ITI1480A-linux/pkg/tic"
	"github.com/vpelletier/ITI1480A-linux/pkg/token"
)

// Sink receives routable transaction-shaped messages (Transaction, Ping,
// SOF, Split) and participates in the stop cascade.
type Sink interface {
	Push(sink.Message)
	Stop()
}

// Transaction is the body of a sink.Transaction message: a token plus its
// optional data stage and optional handshake.
type Transaction struct {
	LowSpeed  bool
	Token     TokenFields
	Data      *DataFields
	Handshake *HandshakeFields
}

// Ping is the body of a sink.Ping message.
type Ping struct {
	Token     TokenFields
	Handshake HandshakeFields
}

// Split is the body of a sink.Split message: a start- or complete-split
// token wrapping an inner IN/OUT/SETUP token and its optional data or
// handshake stage.
type Split struct {
	Split SplitFields
	// HasInner is false for the bare "CSPLIT" and "CSPLIT PRE_ERR"
	// productions, where no IN/OUT/SETUP token follows.
	HasInner  bool
	Inner     TokenFields
	Data      *DataFields
	Handshake *HandshakeFields
	// PreErrOnly is set for the "CSPLIT PRE_ERR" degenerate production
	// (HasInner is false).
	PreErrOnly bool
	// TrailingPreErr is set for "CSPLIT token PRE_ERR": a token follows
	// but its tail is a bare PRE_ERR rather than data or a handshake.
	TrailingPreErr bool
}

type state int

const (
	stIdle state = iota
	stPingWaitHandshake
	stControlWaitData0
	stControlWaitAck
	stPreWaitTokenForLS
	stLSControlWaitPre
	stLSControlWaitData0
	stLSControlWaitAck
	stLSOutWaitData
	stLSOutWaitPre
	stLSOutWaitHandshake
	stLSInWaitDataOrHandshake
	stLSInWaitPre
	stLSInWaitAck
	stInWaitDataOrHandshake
	stInWaitAckOptional
	stOutWaitData
	stOutWaitHandshakeOptional
	stSSplitWaitToken
	stSSplitWaitDataOrHandshakeOptional
	stSSplitWaitHandshakeOptional
	stCSplitWaitToken
	stCSplitWaitTail
)

// Aggregator is the push-mode transaction parser. It is not safe for
// concurrent use: the pipeline drives it from a single goroutine.
type Aggregator struct {
	next     Sink
	observer sink.Observer

	state state
	buf   []token.Token
}

// NewAggregator returns an Aggregator forwarding completed transactions
// to next and parse-error diagnostics to observer.
func NewAggregator(next Sink, observer sink.Observer) *Aggregator {
	return &Aggregator{next: next, observer: observer}
}

func isData(k token.Kind) bool {
	switch k {
	case token.DATA0, token.DATA1, token.DATA2, token.MDATA:
		return true
	}
	return false
}

func isLowSpeedData(k token.Kind) bool {
	return k == token.DATA0 || k == token.DATA1
}

func isHandshake(k token.Kind) bool {
	switch k {
	case token.ACK, token.NAK, token.STALL, token.NYET:
		return true
	}
	return false
}

func isLowSpeedHandshake(k token.Kind) bool {
	switch k {
	case token.ACK, token.NAK, token.STALL:
		return true
	}
	return false
}

// Push feeds one validated token into the parser. It may emit zero, one
// or (across an incomplete-then-fresh-start recovery) two messages.
func (a *Aggregator) Push(tok token.Token) {
	for a.step(tok) {
		// current token did not fit the state we were in; the state
		// was reduced (or flushed as incomplete) and reset to idle,
		// so retry it as the start of a fresh attempt.
	}
}

// step processes tok against the current state. It returns true when tok
// was not consumed and must be retried against the (now idle) state.
func (a *Aggregator) step(tok token.Token) bool {
	switch a.state {
	case stIdle:
		return a.stepIdle(tok)
	case stPingWaitHandshake:
		// "PING (ACK | NAK | STALL)" — no NYET, unlike the general
		// handshake nonterminal.
		if isLowSpeedHandshake(tok.Kind) {
			a.emitPing(tok)
			return false
		}
		return a.incomplete(tok)
	case stControlWaitData0:
		if tok.Kind == token.DATA0 {
			a.shift(tok, stControlWaitAck)
			return false
		}
		return a.incomplete(tok)
	case stControlWaitAck:
		if tok.Kind == token.ACK {
			a.emitControl(false, tok)
			return false
		}
		return a.incomplete(tok)
	case stPreWaitTokenForLS:
		switch tok.Kind {
		case token.SETUP:
			a.shift(tok, stLSControlWaitPre)
			return false
		case token.OUT:
			a.shift(tok, stLSOutWaitPre)
			return false
		case token.IN:
			a.shift(tok, stLSInWaitDataOrHandshake)
			return false
		}
		return a.incomplete(tok)
	case stLSControlWaitPre:
		if tok.Kind == token.PreErr {
			a.shift(tok, stLSControlWaitData0)
			return false
		}
		return a.incomplete(tok)
	case stLSControlWaitData0:
		if tok.Kind == token.DATA0 {
			a.shift(tok, stLSControlWaitAck)
			return false
		}
		return a.incomplete(tok)
	case stLSControlWaitAck:
		if tok.Kind == token.ACK {
			a.emitControl(true, tok)
			return false
		}
		return a.incomplete(tok)
	case stLSOutWaitPre:
		if tok.Kind == token.PreErr {
			a.shift(tok, stLSOutWaitData)
			return false
		}
		return a.incomplete(tok)
	case stLSOutWaitData:
		if isLowSpeedData(tok.Kind) {
			a.shift(tok, stLSOutWaitHandshake)
			return false
		}
		return a.incomplete(tok)
	case stLSOutWaitHandshake:
		if isLowSpeedHandshake(tok.Kind) {
			a.emitOut(true, tok)
			return false
		}
		return a.incomplete(tok)
	case stLSInWaitDataOrHandshake:
		switch {
		case isLowSpeedData(tok.Kind):
			a.shift(tok, stLSInWaitPre)
			return false
		case tok.Kind == token.NAK || tok.Kind == token.STALL:
			a.emitIn(true, tok)
			return false
		}
		return a.incomplete(tok)
	case stLSInWaitPre:
		if tok.Kind == token.PreErr {
			a.shift(tok, stLSInWaitAck)
			return false
		}
		return a.incomplete(tok)
	case stLSInWaitAck:
		if tok.Kind == token.ACK {
			a.emitIn(true, tok)
			return false
		}
		return a.incomplete(tok)
	case stInWaitDataOrHandshake:
		switch {
		case isData(tok.Kind):
			a.shift(tok, stInWaitAckOptional)
			return false
		case tok.Kind == token.NAK || tok.Kind == token.STALL:
			a.emitIn(false, tok)
			return false
		}
		return a.incomplete(tok)
	case stInWaitAckOptional:
		if tok.Kind == token.ACK {
			a.emitIn(false, tok)
			return false
		}
		a.emitInNoHandshake()
		return true
	case stOutWaitData:
		if isData(tok.Kind) {
			a.shift(tok, stOutWaitHandshakeOptional)
			return false
		}
		return a.incomplete(tok)
	case stOutWaitHandshakeOptional:
		if isHandshake(tok.Kind) {
			a.emitOut(false, tok)
			return false
		}
		a.emitOutNoHandshake()
		return true
	case stSSplitWaitToken:
		switch tok.Kind {
		case token.IN, token.OUT, token.SETUP:
			a.shift(tok, stSSplitWaitDataOrHandshakeOptional)
			return false
		}
		return a.incomplete(tok)
	case stSSplitWaitDataOrHandshakeOptional:
		switch {
		case isData(tok.Kind):
			a.shift(tok, stSSplitWaitHandshakeOptional)
			return false
		case isHandshake(tok.Kind):
			a.emitSplit(nil, &tok)
			return false
		}
		a.emitSplit(nil, nil)
		return true
	case stSSplitWaitHandshakeOptional:
		if isHandshake(tok.Kind) {
			data := a.buf[2]
			a.emitSplit(&data, &tok)
			return false
		}
		data := a.buf[2]
		a.emitSplit(&data, nil)
		return true
	case stCSplitWaitToken:
		// The inner token is optional: an IN/OUT/SETUP token continues
		// the split and a PRE_ERR completes "CSPLIT PRE_ERR". Any other
		// token, data and handshakes included, completes a bare CSPLIT
		// and is then retried from idle; a data or handshake tail with no
		// inner token is not attached to the split.
		switch {
		case tok.Kind == token.IN || tok.Kind == token.OUT || tok.Kind == token.SETUP:
			a.shift(tok, stCSplitWaitTail)
			return false
		case tok.Kind == token.PreErr:
			a.emitSplitPreErr()
			return false
		}
		a.emitSplitAlone()
		return true
	case stCSplitWaitTail:
		switch {
		case tok.Kind == token.PreErr:
			a.emitSplitTrailingPreErr()
			return false
		case isData(tok.Kind):
			a.emitSplit(&tok, nil)
			return false
		case isHandshake(tok.Kind):
			a.emitSplit(nil, &tok)
			return false
		}
		a.emitSplit(nil, nil)
		return true
	}
	return a.incomplete(tok)
}

func (a *Aggregator) stepIdle(tok token.Token) bool {
	switch tok.Kind {
	case token.SOF:
		if fields, ok := decodeSOF(tok); ok {
			a.next.Push(sink.Message{Tic: tok.Tic(), Kind: sink.SOF, Body: fields})
		} else {
			a.observer.Emit(sink.Message{Tic: tok.Tic(), Kind: sink.Incomplete, Body: "malformed SOF"})
		}
		return false
	case token.PING:
		a.shift(tok, stPingWaitHandshake)
		return false
	case token.SETUP:
		a.shift(tok, stControlWaitData0)
		return false
	case token.IN:
		a.shift(tok, stInWaitDataOrHandshake)
		return false
	case token.OUT:
		a.shift(tok, stOutWaitData)
		return false
	case token.PreErr:
		a.shift(tok, stPreWaitTokenForLS)
		return false
	case token.SSplit:
		a.shift(tok, stSSplitWaitToken)
		return false
	case token.CSplit:
		a.shift(tok, stCSplitWaitToken)
		return false
	}
	// A handshake or data token with no preceding token/split is a stray
	// packet: report and discard, nothing to retry it against.
	a.emitStray(tok)
	return false
}

func (a *Aggregator) shift(tok token.Token, next state) {
	a.buf = append(a.buf, tok)
	a.state = next
}

func (a *Aggregator) reset() {
	a.state = stIdle
	a.buf = nil
}

// incomplete reports the buffered partial production as a short
// transaction and signals that tok must be retried from idle.
func (a *Aggregator) incomplete(tok token.Token) bool {
	t := tic.Tic(0)
	if len(a.buf) > 0 {
		t = a.buf[0].Tic()
	} else {
		t = tok.Tic()
	}
	a.observer.Emit(sink.Message{Tic: t, Kind: sink.Incomplete, Body: "Short transaction"})
	a.reset()
	return true
}

func (a *Aggregator) emitStray(tok token.Token) {
	a.observer.Emit(sink.Message{Tic: tok.Tic(), Kind: sink.Incomplete, Body: fmt.Sprintf("Short transaction (stray %s)", tok.Kind)})
}

func (a *Aggregator) emitPing(handshake token.Token) {
	start := a.buf[0]
	a.next.Push(sink.Message{Tic: start.Tic(), Kind: sink.Ping, Body: Ping{
		Token:     decodeToken(start.Kind.String(), start),
		Handshake: decodeHandshake(handshake.Kind.String()),
	}})
	a.reset()
}

func (a *Aggregator) emitControl(lowSpeed bool, ack token.Token) {
	var startTok, dataTok token.Token
	if lowSpeed {
		// buf: [PRE_ERR, SETUP, PRE_ERR, DATA0]
		startTok, dataTok = a.buf[1], a.buf[3]
	} else {
		startTok, dataTok = a.buf[0], a.buf[1]
	}
	data := decodeData(dataTok.Kind.String(), dataTok)
	handshake := decodeHandshake(ack.Kind.String())
	a.next.Push(sink.Message{Tic: startTok.Tic(), Kind: sink.Transaction, Body: Transaction{
		LowSpeed:  lowSpeed,
		Token:     decodeToken(startTok.Kind.String(), startTok),
		Data:      &data,
		Handshake: &handshake,
	}})
	a.reset()
}

func (a *Aggregator) emitIn(lowSpeed bool, last token.Token) {
	var startTok token.Token
	var dataTok *token.Token
	if lowSpeed {
		startTok = a.buf[1]
		if len(a.buf) > 2 {
			d := a.buf[2]
			dataTok = &d
		}
	} else {
		startTok = a.buf[0]
		if len(a.buf) > 1 {
			d := a.buf[1]
			dataTok = &d
		}
	}
	trans := Transaction{LowSpeed: lowSpeed, Token: decodeToken(startTok.Kind.String(), startTok)}
	if dataTok != nil {
		d := decodeData(dataTok.Kind.String(), *dataTok)
		trans.Data = &d
	}
	if last.Kind == token.ACK {
		h := decodeHandshake(last.Kind.String())
		trans.Handshake = &h
	} else if last.Kind == token.NAK || last.Kind == token.STALL {
		h := decodeHandshake(last.Kind.String())
		trans.Handshake = &h
	}
	a.next.Push(sink.Message{Tic: startTok.Tic(), Kind: sink.Transaction, Body: trans})
	a.reset()
}

// emitInNoHandshake completes "IN data" with no handshake (isochronous):
// the lookahead token did not fit and must be retried.
func (a *Aggregator) emitInNoHandshake() {
	startTok, dataTok := a.buf[0], a.buf[1]
	data := decodeData(dataTok.Kind.String(), dataTok)
	a.next.Push(sink.Message{Tic: startTok.Tic(), Kind: sink.Transaction, Body: Transaction{
		Token: decodeToken(startTok.Kind.String(), startTok),
		Data:  &data,
	}})
	a.reset()
}

func (a *Aggregator) emitOut(lowSpeed bool, handshake token.Token) {
	var startTok, dataTok token.Token
	if lowSpeed {
		// buf: [PRE_ERR, OUT, PRE_ERR, low_speed_data]
		startTok, dataTok = a.buf[1], a.buf[3]
	} else {
		startTok, dataTok = a.buf[0], a.buf[1]
	}
	data := decodeData(dataTok.Kind.String(), dataTok)
	h := decodeHandshake(handshake.Kind.String())
	a.next.Push(sink.Message{Tic: startTok.Tic(), Kind: sink.Transaction, Body: Transaction{
		LowSpeed:  lowSpeed,
		Token:     decodeToken(startTok.Kind.String(), startTok),
		Data:      &data,
		Handshake: &h,
	}})
	a.reset()
}

// emitOutNoHandshake completes "OUT data" with no handshake (isochronous).
func (a *Aggregator) emitOutNoHandshake() {
	startTok, dataTok := a.buf[0], a.buf[1]
	data := decodeData(dataTok.Kind.String(), dataTok)
	a.next.Push(sink.Message{Tic: startTok.Tic(), Kind: sink.Transaction, Body: Transaction{
		Token: decodeToken(startTok.Kind.String(), startTok),
		Data:  &data,
	}})
	a.reset()
}

// emitSplit completes a split production with an inner IN/OUT/SETUP
// token (buf[1]) and an optional data or handshake tail.
func (a *Aggregator) emitSplit(dataTok, handshakeTok *token.Token) {
	splitTok, innerTok := a.buf[0], a.buf[1]
	out := Split{
		Split:    decodeSplit(splitTok.Kind.String(), splitTok),
		HasInner: true,
		Inner:    decodeToken(innerTok.Kind.String(), innerTok),
	}
	if dataTok != nil {
		d := decodeData(dataTok.Kind.String(), *dataTok)
		out.Data = &d
	}
	if handshakeTok != nil {
		h := decodeHandshake(handshakeTok.Kind.String())
		out.Handshake = &h
	}
	a.next.Push(sink.Message{Tic: splitTok.Tic(), Kind: sink.Split, Body: out})
	a.reset()
}

// emitSplitTrailingPreErr completes "CSPLIT token PRE_ERR": an inner
// token is present but its tail is a bare PRE_ERR marker.
func (a *Aggregator) emitSplitTrailingPreErr() {
	splitTok, innerTok := a.buf[0], a.buf[1]
	a.next.Push(sink.Message{Tic: splitTok.Tic(), Kind: sink.Split, Body: Split{
		Split:          decodeSplit(splitTok.Kind.String(), splitTok),
		HasInner:       true,
		Inner:          decodeToken(innerTok.Kind.String(), innerTok),
		TrailingPreErr: true,
	}})
	a.reset()
}

// emitSplitPreErr completes the bare "CSPLIT PRE_ERR" production: no
// inner token at all.
func (a *Aggregator) emitSplitPreErr() {
	splitTok := a.buf[0]
	a.next.Push(sink.Message{Tic: splitTok.Tic(), Kind: sink.Split, Body: Split{
		Split:      decodeSplit(splitTok.Kind.String(), splitTok),
		PreErrOnly: true,
	}})
	a.reset()
}

// emitSplitAlone completes the bare "CSPLIT" production: no inner token,
// no tail.
func (a *Aggregator) emitSplitAlone() {
	splitTok := a.buf[0]
	a.next.Push(sink.Message{Tic: splitTok.Tic(), Kind: sink.Split, Body: Split{
		Split: decodeSplit(splitTok.Kind.String(), splitTok),
	}})
	a.reset()
}

// Stop flushes any partially buffered transaction as incomplete and
// propagates termination downstream.
func (a *Aggregator) Stop() {
	if len(a.buf) > 0 {
		a.observer.Emit(sink.Message{Tic: a.buf[0].Tic(), Kind: sink.Incomplete, Body: "Short transaction (capture stopped)"})
		a.reset()
	}
	a.next.Stop()
}
