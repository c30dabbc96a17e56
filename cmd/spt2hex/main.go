// Command spt2hex converts an ITI1480A SPT capture-tool command log into
// one or more Intel HEX firmware images.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/vpelletier/ITI1480A-linux/internal/spt2hex"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s <file.spt>\n  Result: <file_0.ihx> [<file_1.ihx> ...]\n", os.Args[0])
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	inPath := flag.Arg(0)
	f, err := os.Open(inPath)
	if err != nil {
		log.Fatalf("spt2hex: %v", err)
	}
	defer f.Close()

	images, err := spt2hex.ToIntelHex(f)
	if err != nil {
		log.Fatalf("spt2hex: %v", err)
	}

	prefix := strings.TrimSuffix(filepath.Base(inPath), filepath.Ext(inPath))
	for i, image := range images {
		outPath := fmt.Sprintf("%s_%d.ihx", prefix, i)
		if err := os.WriteFile(outPath, []byte(image), 0o644); err != nil {
			log.Fatalf("spt2hex: write %s: %v", outPath, err)
		}
	}
}
