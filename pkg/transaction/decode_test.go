package transaction

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vpelletier/ITI1480A-linux/pkg/packet"
	"github.com/vpelletier/ITI1480A-linux/pkg/token"
)

func tok(kind token.Kind, values ...byte) token.Token {
	pkt := make(packet.Packet, len(values))
	for i, v := range values {
		pkt[i] = packet.Byte{Value: v}
	}
	return token.Token{Kind: kind, Packet: pkt}
}

func TestDecodeTokenSplitsAddressAndEndpoint(t *testing.T) {
	// 7-bit address 0x3a plus endpoint bit0 in addr's bit7, endpoint bits
	// 1-3 in the crc byte's low 3 bits: endpoint 0x05 = 0b0101.
	addr := byte(0x3a) | 0x80
	crcByte := byte(0x02)
	fields := decodeToken("OUT", tok(token.OUT, 0xaa, addr, crcByte))
	assert.Equal(t, byte(0x3a), fields.Address)
	assert.Equal(t, byte(0x05), fields.Endpoint)
}

func TestDecodeDataExtractsPayloadExcludingCRC(t *testing.T) {
	fields := decodeData("DATA0", tok(token.DATA0, 0xc3, 0x01, 0x02, 0x03, 0xaa, 0xbb))
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, fields.Data)
}

func TestDecodeSOFRejectsWrongLength(t *testing.T) {
	_, ok := decodeSOF(tok(token.SOF, 0xa5, 0x12))
	assert.False(t, ok)
}

func TestDecodeSOFExtractsFrameNumber(t *testing.T) {
	fields, ok := decodeSOF(tok(token.SOF, 0xa5, 0x34, 0x02))
	assert := assert.New(t)
	assert.True(ok)
	assert.Equal(uint16(0x234), fields.Frame)
}

func TestDecodeSplitIsochronousUsesContinuation(t *testing.T) {
	fields := decodeSplit("SSPLIT", tok(token.SSplit, 0xa5, 0x02, 0x00, (splitEndpointIsochronous)|0x1))
	assert.True(t, fields.IsIsochronous)
	assert.Equal(t, "end", fields.Continuation)
}

func TestDecodeSplitNonIsochronousUsesSpeedAndEnd(t *testing.T) {
	fields := decodeSplit("SSPLIT", tok(token.SSplit, 0xa5, 0x02, 0x00, splitEndpointBulk|0x1))
	assert.False(t, fields.IsIsochronous)
	assert.True(t, fields.End)
}
