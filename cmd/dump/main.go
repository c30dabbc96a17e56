// Command dump decodes a stored ITI1480A capture file (or stdin) into
// human-readable USB bus traffic, offline, the way the original
// analyzer's dump tool replayed .cap files.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/vpelletier/ITI1480A-linux/internal/render"
	"github.com/vpelletier/ITI1480A-linux/internal/tui"
	"github.com/vpelletier/ITI1480A-linux/pkg/decoder"
)

const readChunkSize = 1 << 16

func main() {
	os.Exit(run())
}

func run() int {
	var (
		inPath  string
		outPath string
		teePath string
		follow  bool
		tree    bool
		verbose int
		quiet   int
	)
	flag.StringVar(&inPath, "infile", "-", "capture file to decode, or - for stdin")
	flag.StringVar(&outPath, "outfile", "-", "where to write decoded text, or - for stdout")
	flag.StringVar(&teePath, "tee", "", "also copy raw input bytes to this file (stdin input only)")
	flag.BoolVar(&follow, "follow", false, "keep reading as the input file grows")
	flag.BoolVar(&tree, "tree", false, "interactive tree view instead of flat text")
	flag.BoolFunc("v", "increase verbosity (repeatable)", func(string) error { verbose++; return nil })
	flag.BoolFunc("q", "decrease verbosity (repeatable)", func(string) error { quiet++; return nil })
	flag.Parse()

	level := render.Verbosity(verbose - quiet)

	in, closeIn, err := openInput(inPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dump: %v\n", err)
		return 2
	}
	defer closeIn()

	if teePath != "" {
		if inPath != "-" {
			fmt.Fprintln(os.Stderr, "dump: --tee is a no-op when reading from a file, only meaningful with stdin")
		} else {
			tf, err := os.Create(teePath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "dump: --tee: %v\n", err)
				return 2
			}
			defer tf.Close()
			in = io.TeeReader(in, tf)
		}
	}

	if tree {
		return runTree(in, outPath, level, follow)
	}
	return runFlat(in, outPath, level, follow)
}

func openInput(path string) (io.Reader, func() error, error) {
	if path == "-" {
		return bufio.NewReader(os.Stdin), func() error { return nil }, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	return bufio.NewReader(f), f.Close, nil
}

func openOutput(path string) (io.Writer, func() error, error) {
	if path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, f.Close, nil
}

func runFlat(in io.Reader, outPath string, level render.Verbosity, follow bool) int {
	out, closeOut, err := openOutput(outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dump: %v\n", err)
		return 2
	}
	defer closeOut()

	renderer := render.New(out, level)
	pipeline := decoder.New(renderer)
	return decodeLoop(in, pipeline, follow)
}

func runTree(in io.Reader, outPath string, level render.Verbosity, follow bool) int {
	_ = outPath // --tree is always interactive; --outfile is ignored in this mode
	model := tui.New(level)
	program := tea.NewProgram(model, tea.WithAltScreen())

	pipeline := decoder.New(tui.Observer(program))
	errCh := make(chan int, 1)
	go func() {
		code := decodeLoop(in, pipeline, follow)
		tui.SendDone(program)
		errCh <- code
	}()

	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "dump: tree view: %v\n", err)
		return 2
	}
	return <-errCh
}

// decodeLoop pushes chunks of in through pipeline until EOF or a
// terminal capture-stopped record, returning the process exit code:
// 0 clean EOF/stop, 1 malformed input, 2 other I/O errors.
func decodeLoop(in io.Reader, pipeline *decoder.Pipeline, follow bool) int {
	buf := make([]byte, readChunkSize)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			done, perr := pipeline.Push(buf[:n])
			if perr != nil {
				fmt.Fprintf(os.Stderr, "dump: %v\n", perr)
				pipeline.Stop()
				return 1
			}
			if done {
				pipeline.Stop()
				return 0
			}
		}
		if err == io.EOF {
			if follow {
				continue
			}
			break
		}
		if err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				pipeline.Stop()
				return 0
			}
			fmt.Fprintf(os.Stderr, "dump: read: %v\n", err)
			pipeline.Stop()
			return 2
		}
	}
	if err := pipeline.Finish(); err != nil {
		fmt.Fprintf(os.Stderr, "dump: %v\n", err)
		pipeline.Stop()
		return 1
	}
	pipeline.Stop()
	return 0
}
