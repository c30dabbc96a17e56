package packet

import "fmt"

// Event is the one-byte payload of an Event record: a bus-level occurrence
// reported by the analyzer's FPGA front-end.
type Event byte

const (
	EventLSConnection  Event = 0x0b
	EventFSConnection  Event = 0x0f
	EventDeviceChirp   Event = 0x15
	EventHostChirp     Event = 0x18
	EventHSIdle        Event = 0x24
	EventOTGSession    Event = 0x62
	EventOTGHNP        Event = 0x69
	EventCapturePaused Event = 0xd0
	EventCaptureResume Event = 0xd1
	EventCaptureStart  Event = 0xe0
	EventCaptureStopFIFO Event = 0xf0
	EventCaptureStopUser Event = 0xf1
)

var eventNames = map[Event]string{
	EventLSConnection:    "LS device connection",
	EventFSConnection:    "FS device connection",
	EventDeviceChirp:     "Device chirp",
	EventHostChirp:       "Host chirp",
	EventHSIdle:          "HS idle",
	EventOTGSession:      "OTG Session request",
	EventOTGHNP:          "OTG HNP (Host-role changed)",
	EventCapturePaused:   "Capture paused",
	EventCaptureResume:   "Capture resumed",
	EventCaptureStart:    "Capture started",
	EventCaptureStopFIFO: "Capture stopped (fifo)",
	EventCaptureStopUser: "Capture stopped (user)",
}

// String renders the event's human label, or a hex fallback for unknown
// event codes.
func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("(unknown event 0x%02x)", byte(e))
}

// IsConnection reports a LS or FS device connection event.
func (e Event) IsConnection() bool {
	return e == EventLSConnection || e == EventFSConnection
}

// IsCaptureStopped reports the terminal fifo/user stop variants.
func (e Event) IsCaptureStopped() bool {
	return e == EventCaptureStopFIFO || e == EventCaptureStopUser
}
