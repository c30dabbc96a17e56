// Package capture drives a live ITI1480A analyzer over USB: it opens the
// device by vendor/product ID, issues the bulk-transfer command protocol
// (firmware upload, pause/continue/stop, status), and streams raw capture
// bytes to a caller-supplied sink. It is an outer collaborator, never
// imported by pkg/...: the core decoder pipeline only ever sees bytes,
// regardless of whether they came from a file or from this driver.
package capture

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/gousb"
)

// VendorID and ProductID identify the ITI1480A analyzer's FX2 USB
// controller.
const (
	VendorID  gousb.ID = 0x16C0
	ProductID gousb.ID = 0x07A9
)

const (
	commandDataLen = 61
	commandLen     = 64

	commandFPGA          = 0x00
	commandStop          = 0x01
	commandStatus        = 0x02
	commandPause         = 0x03
	fpgaConfigureStart   = 0x00
	fpgaConfigureWrite   = 0x01
	fpgaConfigureStop    = 0x02
	pauseContinue        = 0x00
	pausePause           = 0x01
	dataReadSize         = 0x8000
	dataReadTimeout      = 500 * time.Millisecond
	postConfigureSettle  = 100 * time.Millisecond
)

// Device is an open connection to one ITI1480A analyzer.
type Device struct {
	ctx     *gousb.Context
	dev     *gousb.Device
	cfg     *gousb.Config
	intf    *gousb.Interface
	epCmdOut *gousb.OutEndpoint
	epCmdIn  *gousb.InEndpoint
	epData   *gousb.InEndpoint
}

// Open claims the analyzer's single interface and its command and bulk
// data endpoints. The caller must call Close when done.
func Open() (*Device, error) {
	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(VendorID, ProductID)
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("open ITI1480A: %w", err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("ITI1480A not found (VID:0x%04x PID:0x%04x)", VendorID, ProductID)
	}
	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("set config: %w", err)
	}
	intf, err := cfg.Interface(0, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("claim interface: %w", err)
	}
	epCmdOut, err := intf.OutEndpoint(1)
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("open command OUT endpoint: %w", err)
	}
	epCmdIn, err := intf.InEndpoint(1)
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("open command IN endpoint: %w", err)
	}
	epData, err := intf.InEndpoint(2)
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("open data IN endpoint: %w", err)
	}
	return &Device{ctx: ctx, dev: dev, cfg: cfg, intf: intf, epCmdOut: epCmdOut, epCmdIn: epCmdIn, epData: epData}, nil
}

// Close releases the interface, config, device and context, in that order.
func (d *Device) Close() error {
	d.intf.Close()
	d.cfg.Close()
	if err := d.dev.Close(); err != nil {
		d.ctx.Close()
		return fmt.Errorf("close device: %w", err)
	}
	d.ctx.Close()
	return nil
}

// WriteCommand sends one 64-byte command: command byte, sub-command byte,
// up to commandDataLen data bytes zero-padded, and a trailing data-length
// byte. internal/firmware uses this directly to drive the FPGA
// configuration sub-protocol.
func (d *Device) WriteCommand(command, subCommand byte, data []byte) error {
	if len(data) > commandDataLen {
		return fmt.Errorf("command data too long: %d > %d", len(data), commandDataLen)
	}
	buf := make([]byte, commandLen)
	buf[0] = command
	buf[1] = subCommand
	copy(buf[2:], data)
	buf[commandLen-1] = byte(len(data))
	if _, err := d.epCmdOut.Write(buf); err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	return nil
}

// readResult reads one 64-byte command reply and returns its first length
// bytes.
func (d *Device) readResult(length int) ([]byte, error) {
	buf := make([]byte, commandLen)
	n, err := d.epCmdIn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("read command reply: %w", err)
	}
	if length > n {
		length = n
	}
	return buf[:length], nil
}

// Status returns the analyzer's one-byte status code.
func (d *Device) Status() (byte, error) {
	if err := d.WriteCommand(commandStatus, 0, nil); err != nil {
		return 0, err
	}
	result, err := d.readResult(1)
	if err != nil {
		return 0, err
	}
	return result[0], nil
}

// Pause asks the analyzer to pause the in-progress capture.
func (d *Device) Pause() error { return d.WriteCommand(commandPause, pausePause, nil) }

// Continue resumes a paused capture.
func (d *Device) Continue() error { return d.WriteCommand(commandPause, pauseContinue, nil) }

// Stop asks the analyzer to stop the in-progress capture. The data read
// loop keeps draining until the device's end-of-transfer marker appears.
func (d *Device) Stop() error { return d.WriteCommand(commandStop, 0, nil) }

// ConfigureFPGA uploads an FPGA bitstream chunk-by-chunk over the command
// channel, mirroring rbfsend.py's USBAnalyzer.sendFirmware loop.
func (d *Device) ConfigureFPGA(chunks <-chan []byte) error {
	if err := d.WriteCommand(commandFPGA, fpgaConfigureStart, nil); err != nil {
		return fmt.Errorf("start FPGA configure: %w", err)
	}
	for chunk := range chunks {
		if err := d.WriteCommand(commandFPGA, fpgaConfigureWrite, chunk); err != nil {
			return fmt.Errorf("write FPGA configure chunk: %w", err)
		}
	}
	if err := d.WriteCommand(commandFPGA, fpgaConfigureStop, nil); err != nil {
		return fmt.Errorf("stop FPGA configure: %w", err)
	}
	// Accessing the device too soon after CONFIGURE_STOP confuses it; this
	// matches the delay measured against the original vendor software.
	time.Sleep(postConfigureSettle)
	return nil
}

// isEndOfTransferMarker reports whether data (one raw bulk IN transfer)
// is the analyzer's "nothing more to send" padding marker: high nibble
// 0xf at the marker byte, followed by 0x41.
func isEndOfTransferMarker(data []byte) bool {
	for _, offset := range [2]int{0, 1} {
		if len(data) > offset+1 && data[offset]&0xf0 == 0xf0 && data[offset+1] == 0x41 {
			return true
		}
	}
	return false
}

// Sink receives one chunk of raw capture bytes. It returns an error to
// abort the read loop.
type Sink func(chunk []byte) error

// Run reads capture data from the analyzer until ctx is cancelled or two
// consecutive end-of-transfer markers are seen (the analyzer has nothing
// left to report, typically right after Stop). Every non-marker chunk is
// handed to sink in arrival order.
func (d *Device) Run(ctx context.Context, sink Sink) error {
	buf := make([]byte, dataReadSize)
	markerStreak := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		readCtx, cancel := context.WithTimeout(ctx, dataReadTimeout)
		n, err := d.epData.ReadContext(readCtx, buf)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read capture data: %w", err)
		}
		if n == 0 {
			continue
		}
		chunk := buf[:n]
		if isEndOfTransferMarker(chunk) {
			markerStreak++
			if markerStreak >= 2 {
				return nil
			}
			continue
		}
		markerStreak = 0
		if err := sink(chunk); err != nil {
			return err
		}
	}
}

// Logger is the package-level logger, defaulting to log.Default(). No
// function in this package writes to it.
var Logger = log.Default()
