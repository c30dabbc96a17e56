// Package packet groups consecutive USB data bytes into packets and
// drives the bus-level state machine (reset/EOP/connection/speed
// detection) described by the analyzer's RxActive and RxCmd records.
package packet

import (
	"github.com/vpelletier/ITI1480A-linux/pkg/record"
	"github.com/vpelletier/ITI1480A-linux/pkg/sink"
	"github.com/vpelletier/ITI1480A-linux/pkg/tic"
)

// Byte is one on-the-wire USB byte tagged with the tic it was observed at.
type Byte struct {
	Tic   tic.Tic
	Value byte
}

// Packet is a non-empty ordered sequence of bytes captured between an
// RxActive rising edge and the following falling edge. Its first byte is
// a USB PID.
type Packet []Byte

// Sink receives complete packets from the Packetiser and participates in
// the pipeline-wide stop cascade.
type Sink interface {
	Push(Packet)
	Stop()
}

// reset/EOP classification thresholds, expressed in nanoseconds and
// compared in the tic domain (1 tic = 100/6 ns).
const (
	thresholdFSToChirpNs  = 3_000_000.0
	thresholdReset10msNs  = 10_000_000.0
	thresholdReset2_5usNs = 2_500.0
	thresholdLSEOPNs      = 670.0
	thresholdFSEOPNs      = 82.0
)

func ticThreshold(ns float64) float64 {
	return ns / tic.Multiplier
}

var (
	tFSToChirp  = ticThreshold(thresholdFSToChirpNs)
	tReset10ms  = ticThreshold(thresholdReset10msNs)
	tReset2_5us = ticThreshold(thresholdReset2_5usNs)
	tLSEOP      = ticThreshold(thresholdLSEOPNs)
	tFSEOP      = ticThreshold(thresholdFSEOPNs)
)

// classifySE0 maps an SE0 duration to the table in the component design,
// given the bus state snapshot needed to resolve the HS-idle ambiguity.
func classifySE0(delta tic.Duration, fullSpeedDevice, highSpeedDeviceNow bool) (kind sink.Kind, ok bool) {
	d := float64(delta)
	switch {
	case d >= tFSToChirp && fullSpeedDevice:
		return sink.FSToChirp, true
	case d >= tReset10ms:
		return sink.Reset, true
	case d >= tReset2_5us && !highSpeedDeviceNow:
		return sink.Reset, true
	case d >= tLSEOP:
		return sink.LSEOP, true
	case d >= tFSEOP:
		return sink.FSEOP, true
	default:
		return 0, false
	}
}

// Packetiser consumes framer records and emits packets downstream plus
// bus-level events to the observer.
type Packetiser struct {
	next     Sink
	observer sink.Observer

	rxActive bool
	data     Packet

	connected        bool
	fullSpeedDevice  bool
	deviceChirped    bool
	highSpeedDevice  bool
	highSpeed        bool

	vbusSet bool
	vbus    byte

	resetStartTic          tic.Tic
	resetStartPending      bool
	resetStartWasHighSpeed bool

	pending []sink.Message
}

// NewPacketiser returns a Packetiser that forwards complete packets to
// next and bus events to observer.
func NewPacketiser(next Sink, observer sink.Observer) *Packetiser {
	return &Packetiser{next: next, observer: observer}
}

// PushRecord consumes one framer record. Its signature matches
// record.Sink so it can be passed directly as a Framer callback. It
// returns done=true when a terminal Capture-stopped event is seen.
func (p *Packetiser) PushRecord(t tic.Tic, kind record.Kind, payload byte) (done bool) {
	if p.resetStartPending {
		if p.se0Continues(kind, payload) {
			// still in SE0, keep waiting
		} else {
			p.resolveReset(t)
		}
	}

	switch kind {
	case record.Event:
		return p.handleEvent(t, Event(payload))
	case record.Data:
		p.handleData(t, payload)
	case record.RxCmd:
		p.handleRxCmd(t, RxCmd(payload))
	}
	return false
}

func (p *Packetiser) se0Continues(kind record.Kind, payload byte) bool {
	if kind == record.Event {
		return true
	}
	if kind == record.RxCmd && RxCmd(payload).LineState() == LineStateSE0 {
		return true
	}
	return false
}

func (p *Packetiser) resolveReset(t tic.Tic) {
	delta := tic.Duration(t - p.resetStartTic)
	kind, ok := classifySE0(delta, p.fullSpeedDevice, p.highSpeed)
	if ok && kind == sink.Reset && p.resetStartWasHighSpeed && p.highSpeed {
		ok = false
	}
	if ok {
		p.observer.Emit(sink.Message{Tic: p.resetStartTic, Kind: kind, Body: delta})
	}
	p.resetStartPending = false
	p.flushPending()
}

func (p *Packetiser) flushPending() {
	for _, msg := range p.pending {
		p.observer.Emit(msg)
	}
	p.pending = nil
}

func (p *Packetiser) queueOrEmit(msg sink.Message) {
	if p.resetStartPending {
		p.pending = append(p.pending, msg)
		return
	}
	p.observer.Emit(msg)
}

func (p *Packetiser) handleEvent(t tic.Tic, ev Event) (done bool) {
	p.queueOrEmit(sink.Message{Tic: t, Kind: sink.Raw, Body: ev.String()})
	switch {
	case ev.IsConnection():
		p.connected = true
		if ev == EventFSConnection {
			p.fullSpeedDevice = true
		}
	case ev == EventDeviceChirp:
		p.deviceChirped = true
	case ev == EventHostChirp:
		if p.deviceChirped {
			p.highSpeedDevice = true
			p.highSpeed = true
		}
	case ev == EventHSIdle:
		p.highSpeed = false
	case ev.IsCaptureStopped():
		return true
	}
	return false
}

func (p *Packetiser) handleData(t tic.Tic, payload byte) {
	if !p.rxActive {
		panic("iti1480a: data record received while RxActive is false")
	}
	p.data = append(p.data, Byte{Tic: t, Value: payload})
}

func (p *Packetiser) handleRxCmd(t tic.Tic, rx RxCmd) {
	rxActive := rx.RxActive()
	if p.rxActive != rxActive {
		if rxActive {
			p.data = nil
		} else if len(p.data) > 0 {
			p.next.Push(p.data)
			p.data = nil
		}
		p.rxActive = rxActive
	}

	if rx.HostDisconnect() && p.connected {
		p.queueOrEmit(sink.Message{Tic: t, Kind: sink.Raw, Body: "Device disconnected"})
		p.connected = false
		p.fullSpeedDevice = false
		p.deviceChirped = false
		p.highSpeedDevice = false
		p.highSpeed = false
		return
	}

	if !p.resetStartPending && rx.LineState() == LineStateSE0 {
		p.resetStartTic = t
		p.resetStartPending = true
		p.resetStartWasHighSpeed = p.highSpeed
	}

	vbus := rx.VBus()
	if !p.vbusSet || vbus != p.vbus {
		p.vbusSet = true
		p.vbus = vbus
		p.queueOrEmit(sink.Message{Tic: t, Kind: sink.Raw, Body: vbusRendered(vbus)})
	}
}

// Stop emits any bus events queued behind a pending SE0, flushes any
// buffered packet and propagates termination downstream.
// Per the emission contract, pending SE0 classification is not resolved
// here: the run ended before it could be classified against a following
// record, so it is simply dropped.
func (p *Packetiser) Stop() {
	p.resetStartPending = false
	p.flushPending()
	if len(p.data) > 0 {
		p.next.Push(p.data)
		p.data = nil
	}
	p.next.Stop()
}
