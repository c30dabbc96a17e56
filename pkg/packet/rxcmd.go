package packet

// RxCmd is the one-byte ULPI status word reported alongside each bus
// record: line state, VBus level, RxActive, HostDisconnect.
type RxCmd byte

// LineState values, bits 0-1.
const (
	LineStateSE0 byte = iota
	LineStateJ
	LineStateK
	LineStateSE1
)

// LineState returns bits 0-1.
func (r RxCmd) LineState() byte {
	return byte(r) & 0x3
}

// VBus returns bits 2-3, one of four threshold levels.
func (r RxCmd) VBus() byte {
	return byte(r) & 0x0c
}

// RxActive reports bit 4.
func (r RxCmd) RxActive() bool {
	return byte(r)&0x10 != 0
}

// HostDisconnect reports bit 5.
func (r RxCmd) HostDisconnect() bool {
	return byte(r)&0x20 != 0
}

// VBus threshold levels, as returned by VBus().
const (
	VBusOff          byte = 0x0 // VBUS < VB_SESS_END
	VBusSessionEnd   byte = 0x4 // VB_SESS_END <= VBUS < VB_SESS_VLD
	VBusSessionStart byte = 0x8 // VB_SESS_VLD <= VBUS < VA_VBUS_VLD
	VBusOn           byte = 0xc // VA_VBUS_VLD <= VBUS
)

var vbusLabel = map[byte]string{
	VBusOff:          "OTG VBus off",
	VBusSessionEnd:   "OTG Session end",
	VBusSessionStart: "OTG Session start",
	VBusOn:           "OTG VBus on",
}

// vbusRendered renders the human-readable name of a VBus() value.
func vbusRendered(vbus byte) string {
	return vbusLabel[vbus]
}
