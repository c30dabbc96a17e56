// Package decoder wires the framer, packetiser, PID validator,
// transaction aggregator, pipe router and per-pipe aggregators into the
// single-threaded, cooperative push pipeline that turns a raw capture
// byte stream into sink.Messages.
package decoder

import (
	"github.com/vpelletier/ITI1480A-linux/pkg/packet"
	"github.com/vpelletier/ITI1480A-linux/pkg/pid"
	"github.com/vpelletier/ITI1480A-linux/pkg/pipe"
	"github.com/vpelletier/ITI1480A-linux/pkg/record"
	"github.com/vpelletier/ITI1480A-linux/pkg/sink"
	"github.com/vpelletier/ITI1480A-linux/pkg/transaction"
)

// Pipeline is the complete offline/live decode pipeline: push capture
// bytes in, receive sink.Messages out via the observer passed to New.
type Pipeline struct {
	framer     *record.Framer
	packetiser *packet.Packetiser
}

// New builds a Pipeline that reports every decoded message to observer.
func New(observer sink.Observer) *Pipeline {
	router := pipe.NewRouter(pipe.DefaultFactory(observer), observer)
	aggregator := transaction.NewAggregator(router, observer)
	validator := pid.NewValidator(aggregator, observer)
	packetiser := packet.NewPacketiser(validator, observer)
	return &Pipeline{
		framer:     record.NewFramer(),
		packetiser: packetiser,
	}
}

// Push feeds one chunk of raw capture bytes through the pipeline. Chunk
// boundaries need not align with record boundaries. done reports that a
// terminal capture-stopped event was observed; the caller should stop
// feeding further chunks and call Stop.
func (p *Pipeline) Push(chunk []byte) (done bool, err error) {
	return p.framer.Push(chunk, p.packetiser.PushRecord)
}

// Tic returns the current decode position, for progress reporting.
func (p *Pipeline) Tic() uint64 {
	return uint64(p.framer.Tic())
}

// Finish reports a framing error if the stream ended mid-record.
func (p *Pipeline) Finish() error {
	return p.framer.Finish()
}

// Stop flushes every buffered stage and cascades termination through the
// whole pipeline. Call once, after the last Push.
func (p *Pipeline) Stop() {
	p.packetiser.Stop()
}
