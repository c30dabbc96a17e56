// Package statusd serves a small HTTP status/health endpoint for a live
// capture run: tic position plus transaction, transfer and error counts
// as JSON, the way cmd/driver/hasher-host exposes device state over gin.
package statusd

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/vpelletier/ITI1480A-linux/pkg/sink"
)

// Counters tracks the running totals surfaced at /status. All fields are
// updated with atomic operations so they can be read concurrently from
// an HTTP handler while the decode loop keeps advancing.
type Counters struct {
	Tics         uint64
	Transactions uint64
	Transfers    uint64
	Errors       uint64
}

// Snapshot reports the current counter values.
func (c *Counters) Snapshot() Counters {
	return Counters{
		Tics:         atomic.LoadUint64(&c.Tics),
		Transactions: atomic.LoadUint64(&c.Transactions),
		Transfers:    atomic.LoadUint64(&c.Transfers),
		Errors:       atomic.LoadUint64(&c.Errors),
	}
}

// Observing wraps next, counting messages as they pass through and
// returning an Observer to install in front of the real one.
func (c *Counters) Observing(next sink.Observer) sink.Observer {
	return sink.Func(func(msg sink.Message) {
		atomic.StoreUint64(&c.Tics, uint64(msg.Tic))
		switch msg.Kind {
		case sink.Transaction, sink.Ping, sink.Split:
			atomic.AddUint64(&c.Transactions, 1)
		case sink.Transfer:
			atomic.AddUint64(&c.Transfers, 1)
		case sink.TransactionError, sink.TransferError, sink.Incomplete:
			atomic.AddUint64(&c.Errors, 1)
		}
		next.Emit(msg)
	})
}

// Server is the HTTP status endpoint.
type Server struct {
	counters *Counters
	http     *http.Server
}

// New builds a Server reporting counters on addr (host:port). Call
// Serve to start listening.
func New(addr string, counters *Counters) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, counters.Snapshot())
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return &Server{counters: counters, http: &http.Server{Addr: addr, Handler: router}}
}

// Serve blocks serving HTTP until ctx is cancelled, then shuts down.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.http.ListenAndServe() }()
	select {
	case <-ctx.Done():
		return s.http.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	}
}
