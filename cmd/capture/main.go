// Command capture drives a live ITI1480A analyzer: optionally uploads
// its FPGA bitstream, streams capture data from the device, and decodes
// it the same way cmd/dump decodes a stored file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/vpelletier/ITI1480A-linux/internal/capture"
	"github.com/vpelletier/ITI1480A-linux/internal/diag"
	"github.com/vpelletier/ITI1480A-linux/internal/firmware"
	"github.com/vpelletier/ITI1480A-linux/internal/render"
	"github.com/vpelletier/ITI1480A-linux/internal/statusd"
	"github.com/vpelletier/ITI1480A-linux/internal/tui"
	"github.com/vpelletier/ITI1480A-linux/pkg/decoder"
	"github.com/vpelletier/ITI1480A-linux/pkg/sink"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		outPath  string
		rbfPath  string
		httpAddr string
		tree     bool
		verbose  int
		quiet    int
	)
	flag.StringVar(&outPath, "outfile", "-", "where to write decoded text, or - for stdout")
	flag.StringVar(&rbfPath, "rbf", "", "upload this FPGA bitstream before capturing")
	flag.StringVar(&httpAddr, "http", "", "serve /status and /health on this address (host:port)")
	flag.BoolVar(&tree, "tree", false, "interactive tree view instead of flat text")
	flag.BoolFunc("v", "increase verbosity (repeatable)", func(string) error { verbose++; return nil })
	flag.BoolFunc("q", "decrease verbosity (repeatable)", func(string) error { quiet++; return nil })
	flag.Parse()

	level := render.Verbosity(verbose - quiet)

	dev, err := capture.Open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "capture: %v\n", err)
		return 2
	}
	defer dev.Close()

	if rbfPath != "" {
		if err := firmware.Upload(dev, rbfPath); err != nil {
			fmt.Fprintf(os.Stderr, "capture: %v\n", err)
			return 2
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var counters *statusd.Counters
	var observer sink.Observer
	var out *os.File
	var closeOut func() error = func() error { return nil }

	if !tree {
		w, c, err := openOutput(outPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "capture: %v\n", err)
			return 2
		}
		out, closeOut = w, c
		observer = render.New(out, level)
	}
	defer closeOut()

	if httpAddr != "" {
		counters = &statusd.Counters{}
		server := statusd.New(httpAddr, counters)
		go func() {
			if err := server.Serve(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "capture: status server: %v\n", err)
			}
		}()
	}

	if level >= render.Verbose {
		go diag.Run(ctx, os.Stderr)
	}

	if tree {
		return runTreeCapture(ctx, dev, level, counters)
	}
	if counters != nil {
		observer = counters.Observing(observer)
	}
	return runFlatCapture(ctx, dev, observer)
}

func openOutput(path string) (*os.File, func() error, error) {
	if path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, f.Close, nil
}

func runFlatCapture(ctx context.Context, dev *capture.Device, observer sink.Observer) int {
	pipeline := decoder.New(observer)
	err := dev.Run(ctx, func(chunk []byte) error {
		done, perr := pipeline.Push(chunk)
		if perr != nil {
			return perr
		}
		if done {
			return errCaptureStopped
		}
		return nil
	})
	pipeline.Stop()
	switch {
	case err == nil, err == errCaptureStopped, ctx.Err() != nil:
		return 0
	default:
		fmt.Fprintf(os.Stderr, "capture: %v\n", err)
		return 1
	}
}

func runTreeCapture(ctx context.Context, dev *capture.Device, level render.Verbosity, counters *statusd.Counters) int {
	model := tui.New(level)
	program := tea.NewProgram(model, tea.WithAltScreen())

	var observer sink.Observer = tui.Observer(program)
	if counters != nil {
		observer = counters.Observing(observer)
	}
	pipeline := decoder.New(observer)

	errCh := make(chan error, 1)
	go func() {
		errCh <- dev.Run(ctx, func(chunk []byte) error {
			done, perr := pipeline.Push(chunk)
			if perr != nil {
				return perr
			}
			if done {
				return errCaptureStopped
			}
			return nil
		})
		pipeline.Stop()
		tui.SendDone(program)
	}()

	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "capture: tree view: %v\n", err)
		return 2
	}
	err := <-errCh
	if err == nil || err == errCaptureStopped || ctx.Err() != nil {
		return 0
	}
	fmt.Fprintf(os.Stderr, "capture: %v\n", err)
	return 1
}

// errCaptureStopped is a sentinel returned from the capture.Sink
// callback to unwind dev.Run cleanly once a terminal capture-stopped
// record has been decoded.
var errCaptureStopped = fmt.Errorf("capture stopped")
