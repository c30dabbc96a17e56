// Package render formats decoded sink.Messages as flat human-readable
// text, one line per event, in the spirit of the original analyzer's
// console dump. Format is exported separately from Renderer so
// internal/tui can reuse the same per-message text in its tree view.
package render

import (
	"fmt"
	"io"

	"github.com/vpelletier/ITI1480A-linux/pkg/sink"
	"github.com/vpelletier/ITI1480A-linux/pkg/tic"
	"github.com/vpelletier/ITI1480A-linux/pkg/transaction"
	"github.com/vpelletier/ITI1480A-linux/pkg/transfer"
)

// Verbosity gates how much detail is printed. Level 0 is the default;
// -v raises it, -q lowers it (it may go negative).
type Verbosity int

const (
	Quiet   Verbosity = -1
	Normal  Verbosity = 0
	Verbose Verbosity = 1
)

// Renderer is a sink.Observer that writes one formatted line per message
// to w.
type Renderer struct {
	w     io.Writer
	level Verbosity
}

// New returns a Renderer writing to w at the given verbosity level.
func New(w io.Writer, level Verbosity) *Renderer {
	return &Renderer{w: w, level: level}
}

// Emit implements sink.Observer.
func (r *Renderer) Emit(msg sink.Message) {
	text, ok := Format(msg, r.level)
	if !ok {
		return
	}
	fmt.Fprintf(r.w, "%s %s\n", msg.Tic, text)
}

// Format renders msg's body as a single line of text (without the
// leading tic), or returns ok=false when level suppresses this kind of
// message entirely.
func Format(msg sink.Message, level Verbosity) (line string, ok bool) {
	switch msg.Kind {
	case sink.Raw:
		if level < Normal {
			return "", false
		}
		return fmt.Sprintf("%s", msg.Body), true
	case sink.Reset, sink.FSToChirp, sink.LSEOP, sink.FSEOP:
		d, _ := msg.Body.(tic.Duration)
		return fmt.Sprintf("%s duration=%s", msg.Kind, d.Short()), true
	case sink.Transaction:
		return formatTransaction(msg.Body), true
	case sink.SOF:
		return fmt.Sprintf("SOF %+v", msg.Body), true
	case sink.Ping:
		return formatPing(msg.Body), true
	case sink.Split:
		return formatSplit(msg.Body), true
	case sink.Transfer:
		return formatTransfer(msg.Body, level), true
	case sink.Incomplete:
		if level < Normal {
			return "", false
		}
		return fmt.Sprintf("Incomplete: %s", msg.Body), true
	case sink.TransactionError, sink.TransferError:
		return fmt.Sprintf("%s: %s", msg.Kind, msg.Body), true
	default:
		return fmt.Sprintf("%s %+v", msg.Kind, msg.Body), true
	}
}

func formatTransaction(body any) string {
	t, ok := body.(transaction.Transaction)
	if !ok {
		return fmt.Sprintf("Transaction %+v", body)
	}
	prefix := ""
	if t.LowSpeed {
		prefix = "PRE_ERR "
	}
	line := fmt.Sprintf("%s%s addr=%d ep=%d", prefix, t.Token.Name, t.Token.Address, t.Token.Endpoint)
	if t.Token.CRCError {
		line += " crc-error"
	}
	if t.Data != nil {
		line += fmt.Sprintf(" %s len=%d", t.Data.Name, len(t.Data.Data))
		if t.Data.CRCError {
			line += " crc-error"
		}
	}
	if t.Handshake != nil {
		line += " " + t.Handshake.Name
	}
	return line
}

func formatPing(body any) string {
	p, ok := body.(transaction.Ping)
	if !ok {
		return fmt.Sprintf("Ping %+v", body)
	}
	return fmt.Sprintf("PING addr=%d ep=%d %s", p.Token.Address, p.Token.Endpoint, p.Handshake.Name)
}

func formatSplit(body any) string {
	s, ok := body.(transaction.Split)
	if !ok {
		return fmt.Sprintf("Split %+v", body)
	}
	line := fmt.Sprintf("%s hub=%d port=%d type=%s", s.Split.Name, s.Split.Hub, s.Split.Port, s.Split.EndpointType)
	switch {
	case s.PreErrOnly:
		line += " PRE_ERR"
	case !s.HasInner:
		// bare CSPLIT
	default:
		line += fmt.Sprintf(" %s addr=%d ep=%d", s.Inner.Name, s.Inner.Address, s.Inner.Endpoint)
		if s.TrailingPreErr {
			line += " PRE_ERR"
		}
		if s.Data != nil {
			line += fmt.Sprintf(" %s len=%d", s.Data.Name, len(s.Data.Data))
		}
		if s.Handshake != nil {
			line += " " + s.Handshake.Name
		}
	}
	return line
}

func formatTransfer(body any, level Verbosity) string {
	t, ok := body.(transfer.Transfer)
	if !ok {
		return fmt.Sprintf("Transfer %+v", body)
	}
	line := fmt.Sprintf("Transfer addr=%d ep=%d dir=%s status=%s setup=% x", t.Address, t.Endpoint, t.Direction, t.Status, t.Setup)
	if level >= Verbose && len(t.Data) > 0 {
		line += fmt.Sprintf(" data=% x", t.Data)
	} else if len(t.Data) > 0 {
		line += fmt.Sprintf(" datalen=%d", len(t.Data))
	}
	return line
}
