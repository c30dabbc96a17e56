// Package token assigns a typed kind to a packet's PID byte and rejects
// packets whose PID nibble fails its complement check.
package token

import (
	"fmt"

	"github.com/vpelletier/ITI1480A-linux/pkg/packet"
	"github.com/vpelletier/ITI1480A-linux/pkg/tic"
)

// Kind enumerates the USB PID-derived token types the grammar layers
// operate on.
type Kind int

const (
	OUT Kind = iota
	IN
	SETUP
	SOF
	ACK
	NAK
	STALL
	NYET
	PING
	DATA0
	DATA1
	DATA2
	MDATA
	PreErr
	SSplit
	CSplit
)

func (k Kind) String() string {
	switch k {
	case OUT:
		return "OUT"
	case IN:
		return "IN"
	case SETUP:
		return "SETUP"
	case SOF:
		return "SOF"
	case ACK:
		return "ACK"
	case NAK:
		return "NAK"
	case STALL:
		return "STALL"
	case NYET:
		return "NYET"
	case PING:
		return "PING"
	case DATA0:
		return "DATA0"
	case DATA1:
		return "DATA1"
	case DATA2:
		return "DATA2"
	case MDATA:
		return "MDATA"
	case PreErr:
		return "PRE_ERR"
	case SSplit:
		return "SSPLIT"
	case CSplit:
		return "CSPLIT"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// PID nibbles, per USB 2.0 Table 8-1.
const (
	pidReserved = 0x0
	pidOUT      = 0x1
	pidACK      = 0x2
	pidDATA0    = 0x3
	pidPING     = 0x4
	pidSOF      = 0x5
	pidNYET     = 0x6
	pidDATA2    = 0x7
	pidSPLIT    = 0x8
	pidIN       = 0x9
	pidNAK      = 0xa
	pidDATA1    = 0xb
	pidPREERR   = 0xc
	pidSETUP    = 0xd
	pidSTALL    = 0xe
	pidMDATA    = 0xf
)

var kindByPID = map[byte]Kind{
	pidOUT:    OUT,
	pidACK:    ACK,
	pidDATA0:  DATA0,
	pidPING:   PING,
	pidSOF:    SOF,
	pidNYET:   NYET,
	pidDATA2:  DATA2,
	pidIN:     IN,
	pidNAK:    NAK,
	pidDATA1:  DATA1,
	pidPREERR: PreErr,
	pidSETUP:  SETUP,
	pidSTALL:  STALL,
	pidMDATA:  MDATA,
}

// Token is a typed packet: the PID-derived kind plus the raw bytes it was
// decoded from.
type Token struct {
	Kind   Kind
	Packet packet.Packet
}

// Tic identifies the token by its first byte's tic.
func (t Token) Tic() tic.Tic {
	return t.Packet[0].Tic
}

// Validate converts a non-empty packet into a typed Token. ok is false
// when the PID nibble fails its bit-complement check (bad PID) or is the
// reserved 0x0 PID; the caller should surface this as a Raw diagnostic
// and drop the packet.
func Validate(pkt packet.Packet) (Token, bool) {
	pid := pkt[0].Value
	canon := pid & 0xf
	if canon != (^pid>>4)&0xf {
		return Token{}, false
	}
	if canon == pidReserved {
		return Token{}, false
	}
	if canon == pidSPLIT {
		direction := byte(0)
		if len(pkt) > 1 {
			direction = pkt[1].Value >> 7 & 1
		}
		kind := SSplit
		if direction != 0 {
			kind = CSplit
		}
		return Token{Kind: kind, Packet: pkt}, true
	}
	kind, ok := kindByPID[canon]
	if !ok {
		return Token{}, false
	}
	return Token{Kind: kind, Packet: pkt}, true
}

// BadPIDLabel renders the diagnostic label for a packet that failed PID
// validation, e.g. "(bad pid) 0x50 0xab 0xcd".
func BadPIDLabel(pkt packet.Packet) string {
	s := "(bad pid)"
	for _, b := range pkt {
		s += fmt.Sprintf(" 0x%02x", b.Value)
	}
	return s
}
