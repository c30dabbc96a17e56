// Package firmware uploads an FPGA bitstream (.rbf) to an ITI1480A
// analyzer before a live capture begins. It is a thin, out-of-core
// collaborator: pkg/... never imports it, and it is only ever invoked by
// cmd/capture when --rbf is given, mirroring rbfsend.py's page-at-a-time
// control-transfer upload loop.
package firmware

import (
	"fmt"
	"io"
	"os"

	"github.com/vpelletier/ITI1480A-linux/internal/capture"
)

// chunkSize matches the analyzer's command payload size: each bitstream
// page is sent as one command with up to this many data bytes.
const chunkSize = 61

// Upload reads the bitstream at path and pushes it to dev in chunkSize
// pieces, wrapped in the FPGA_CONFIGURE_START/WRITE/STOP sequence.
func Upload(dev *capture.Device, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open firmware file: %w", err)
	}
	defer f.Close()

	chunks := make(chan []byte)
	errCh := make(chan error, 1)
	go func() {
		errCh <- dev.ConfigureFPGA(chunks)
	}()

	buf := make([]byte, chunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			chunks <- chunk
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			close(chunks)
			<-errCh
			return fmt.Errorf("read firmware file: %w", err)
		}
	}
	close(chunks)
	if err := <-errCh; err != nil {
		return fmt.Errorf("upload firmware: %w", err)
	}
	return nil
}
