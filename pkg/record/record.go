// Package record demultiplexes the ITI1480A capture byte stream into
// timestamped records: the first stage of the decoder pipeline.
package record

import (
	"errors"
	"fmt"

	"github.com/vpelletier/ITI1480A-linux/pkg/tic"
)

// Kind identifies the payload carried by a record, from bits 7-6 of its
// first byte.
type Kind uint8

const (
	TimeDelta Kind = iota // no payload, advances tic only
	Event                 // one bus-event byte
	Data                  // one on-the-wire USB byte
	RxCmd                 // one ULPI status byte
)

func (k Kind) String() string {
	switch k {
	case TimeDelta:
		return "TimeDelta"
	case Event:
		return "Event"
	case Data:
		return "Data"
	case RxCmd:
		return "RxCmd"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// ErrMalformed reports a capture stream that cannot be resynchronized: an
// odd total byte count, or a non-zero low byte in a 5-byte record's
// trailing word.
var ErrMalformed = errors.New("iti1480a: malformed capture stream")

const (
	typeShift   = 6
	lengthShift = 4
	lengthMask  = 0x3
	ticHeadMask = 0xf
)

// Sink receives records emitted by the Framer. It returns done=true to
// stop feeding further records for the current Push call (used to
// propagate a terminal condition, such as Packetiser's CaptureDone, back
// up through the pipeline without unwinding via panics or channels).
type Sink func(t tic.Tic, kind Kind, payload byte) (done bool)

// Framer reconstructs timestamped records from byte-swapped 16-bit words.
// It is safe to call Push repeatedly with chunks of any length, including
// chunks that split a word or a record in half: unconsumed bytes are
// carried as residue to the next call.
type Framer struct {
	residue []byte
	tic     tic.Tic
}

// NewFramer returns a Framer starting at tic 0.
func NewFramer() *Framer {
	return &Framer{}
}

// Tic returns the current accumulated tic count.
func (f *Framer) Tic() tic.Tic {
	return f.tic
}

// Push feeds a chunk of raw capture bytes to the framer, invoking sink for
// every Event/Data/RxCmd record decoded (TimeDelta records only advance
// the internal tic and are never passed to sink). Push returns done=true
// if sink requested an early stop; any residual bytes from the current
// chunk are retained and the stop is not otherwise visible to the caller
// (pushing more data resumes decoding where it left off).
func (f *Framer) Push(chunk []byte, sink Sink) (done bool, err error) {
	buf := chunk
	if len(f.residue) != 0 {
		buf = make([]byte, 0, len(f.residue)+len(chunk))
		buf = append(buf, f.residue...)
		buf = append(buf, chunk...)
	}

	pos := 0
	read16 := func() (uint16, bool) {
		if pos+2 > len(buf) {
			return 0, false
		}
		// File order is little-endian; the high byte of the decoded
		// word is logical byte 0 of the record.
		lo, hi := buf[pos], buf[pos+1]
		pos += 2
		return uint16(hi)<<8 | uint16(lo), true
	}

	for {
		start := pos
		word1, ok := read16()
		if !ok {
			break
		}
		head := byte(word1 >> 8)
		kind := Kind(head >> typeShift)
		length := (head >> lengthShift) & lengthMask
		ticCount := uint64(head & ticHeadMask)

		var (
			payload    byte
			incomplete bool
		)

		switch {
		case length == 0:
			payload = byte(word1 & 0xff)
		case length == 1:
			word2, ok := read16()
			if !ok {
				incomplete = true
				break
			}
			ticCount |= uint64(word1&0xff) << 4
			payload = byte(word2 >> 8)
		default: // length 2 or 3
			word2, ok := read16()
			if !ok {
				incomplete = true
				break
			}
			ticCount |= uint64(word1&0xff) << 4
			ticCount |= uint64(word2&0xff00) << 4
			if length == 2 {
				payload = byte(word2 & 0xff)
			} else {
				ticCount |= uint64(word2&0xff) << 20
				if kind != TimeDelta {
					// 3 extension bytes consumed two words; a non-TimeDelta
					// record needs a 4th word whose low byte must be zero.
					word3, ok := read16()
					if !ok {
						incomplete = true
						break
					}
					if word3&0xff != 0 {
						return false, fmt.Errorf("%w: non-zero low byte in 5-byte record trailer: 0x%04x", ErrMalformed, word3)
					}
					payload = byte(word3 >> 8)
				}
			}
		}

		if incomplete {
			pos = start
			break
		}

		f.tic += tic.Tic(ticCount)
		if kind != TimeDelta {
			if sink(f.tic, kind, payload) {
				f.residue = append(f.residue[:0], buf[pos:]...)
				return true, nil
			}
		}
	}

	f.residue = append(f.residue[:0], buf[pos:]...)
	return false, nil
}

// Finish signals true end of stream. It returns ErrMalformed if residual
// bytes remain that cannot form a complete record (e.g. an odd total byte
// count left a single dangling byte).
func (f *Framer) Finish() error {
	if len(f.residue) != 0 {
		return fmt.Errorf("%w: %d residual byte(s) at end of stream", ErrMalformed, len(f.residue))
	}
	return nil
}
