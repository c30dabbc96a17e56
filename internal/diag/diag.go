// Package diag periodically reports host resource usage (goroutine count
// and host memory use) to stderr during live captures, gated behind -v,
// the way
// internal/cli/ui samples memory usage for its status line.
package diag

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"time"

	psmem "github.com/shirou/gopsutil/v3/mem"
)

// Interval between reports.
const Interval = 5 * time.Second

// Run writes one resource-usage line to w every Interval until ctx is
// cancelled.
func Run(ctx context.Context, w io.Writer) {
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report(w)
		}
	}
}

func report(w io.Writer) {
	goroutines := runtime.NumGoroutine()
	vm, err := psmem.VirtualMemory()
	if err != nil {
		fmt.Fprintf(w, "diag: goroutines=%d mem=unavailable (%v)\n", goroutines, err)
		return
	}
	fmt.Fprintf(w, "diag: goroutines=%d mem_used=%.1f%% mem_available=%dMB\n",
		goroutines, vm.UsedPercent, vm.Available/1024/1024)
}
