package transaction

import (
	"github.com/vpelletier/ITI1480A-linux/pkg/crc"
	"github.com/vpelletier/ITI1480A-linux/pkg/token"
)

// TokenFields is the decoded body of an IN/OUT/SETUP/SSPLIT/CSPLIT token
// packet.
type TokenFields struct {
	Name     string
	Address  byte
	Endpoint byte
	CRC      byte
	CRCError bool
}

func decodeToken(name string, tok token.Token) TokenFields {
	raw := tok.Packet
	addr := raw[1].Value
	crcByte := raw[2].Value
	return TokenFields{
		Name:     name,
		Address:  addr & 0x7f,
		Endpoint: (addr >> 7) | ((crcByte & 0x7) << 1),
		CRC:      crcByte >> 3,
		CRCError: !crc.CRC5Valid([]byte{raw[1].Value, raw[2].Value}),
	}
}

// DataFields is the decoded body of a DATA0/DATA1/DATA2/MDATA packet.
type DataFields struct {
	Name     string
	Data     []byte
	CRC16    uint16
	CRCError bool
}

func decodeData(name string, tok token.Token) DataFields {
	raw := tok.Packet
	n := len(raw)
	payload := make([]byte, 0, n-3)
	for _, b := range raw[1 : n-2] {
		payload = append(payload, b.Value)
	}
	tail := make([]byte, 0, n-1)
	for _, b := range raw[1:] {
		tail = append(tail, b.Value)
	}
	crcHi := raw[n-2].Value
	crcLo := raw[n-1].Value
	return DataFields{
		Name:     name,
		Data:     payload,
		CRC16:    uint16(crcHi)<<8 | uint16(crcLo),
		CRCError: !crc.CRC16Valid(tail),
	}
}

// HandshakeFields is the decoded body of an ACK/NAK/STALL/NYET packet: it
// carries nothing but its own name.
type HandshakeFields struct {
	Name string
}

func decodeHandshake(name string) HandshakeFields {
	return HandshakeFields{Name: name}
}

// SOFFields is the decoded body of a SOF packet.
type SOFFields struct {
	Name     string
	Frame    uint16
	CRC      byte
	CRCError bool
}

func decodeSOF(tok token.Token) (SOFFields, bool) {
	raw := tok.Packet
	if len(raw) != 3 {
		return SOFFields{}, false
	}
	crcByte := raw[2].Value
	return SOFFields{
		Name:     "SOF",
		Frame:    uint16(raw[1].Value) | uint16(crcByte&0x7)<<8,
		CRC:      crcByte >> 3,
		CRCError: !crc.CRC5Valid([]byte{raw[1].Value, raw[2].Value}),
	}, true
}

// endpoint types carried by a SPLIT packet.
const (
	splitEndpointControl     = 0x00
	splitEndpointIsochronous = 0x01 << 1
	splitEndpointBulk        = 0x02 << 1
	splitEndpointInterrupt   = 0x03 << 1
)

var splitEndpointTypeName = map[byte]string{
	splitEndpointControl:     "Control",
	splitEndpointIsochronous: "Isochronous",
	splitEndpointBulk:        "Bulk",
	splitEndpointInterrupt:   "Interrupt",
}

var splitContinuationName = map[[2]byte]string{
	{0, 0}: "middle",
	{0, 1}: "end",
	{1, 0}: "beginning",
	{1, 1}: "whole",
}

// SplitFields is the decoded body of an SSPLIT/CSPLIT token.
type SplitFields struct {
	Name         string
	Hub          byte
	Port         byte
	EndpointType string
	CRC          byte
	CRCError     bool
	// Speed and End are set for non-isochronous endpoints; Continuation
	// is set for isochronous ones. Exactly one of Continuation or
	// (Speed, End) applies, matching the packet's endpoint type.
	Speed         byte
	End           bool
	IsIsochronous bool
	Continuation  string
}

func decodeSplit(name string, tok token.Token) SplitFields {
	raw := tok.Packet
	hubByte := raw[1].Value
	portByte := raw[2].Value
	tail := raw[3].Value
	endpointType := tail & 0x6
	result := SplitFields{
		Name:         name,
		Hub:          hubByte & 0x7,
		Port:         portByte & 0x7,
		EndpointType: splitEndpointTypeName[endpointType],
		CRC:          tail >> 3,
		CRCError:     !crc.CRC5Valid([]byte{portByte, tail}),
	}
	speed := portByte >> 3
	end := tail & 0x1
	if endpointType == splitEndpointIsochronous {
		result.IsIsochronous = true
		result.Continuation = splitContinuationName[[2]byte{speed & 1, end}]
	} else {
		result.Speed = speed
		result.End = end != 0
	}
	return result
}
