// Package sink defines the message contract every decoder layer uses to
// surface semantically meaningful events to the outer observer (a
// renderer, a TUI, a test harness).
package sink

import "github.com/vpelletier/ITI1480A-linux/pkg/tic"

// Kind tags the body carried by a Message.
type Kind int

const (
	Raw Kind = iota
	Reset
	FSToChirp
	LSEOP
	FSEOP
	Transaction
	SOF
	Ping
	Split
	Transfer
	Incomplete
	TransactionError
	TransferError
)

func (k Kind) String() string {
	switch k {
	case Raw:
		return "Raw"
	case Reset:
		return "Reset"
	case FSToChirp:
		return "FS_to_Chirp"
	case LSEOP:
		return "LS_EOP"
	case FSEOP:
		return "FS_EOP"
	case Transaction:
		return "Transaction"
	case SOF:
		return "SOF"
	case Ping:
		return "Ping"
	case Split:
		return "Split"
	case Transfer:
		return "Transfer"
	case Incomplete:
		return "Incomplete"
	case TransactionError:
		return "TransactionError"
	case TransferError:
		return "TransferError"
	default:
		return "Kind(?)"
	}
}

// Message is the tagged tuple emitted by every layer of the pipeline.
type Message struct {
	Tic  tic.Tic
	Kind Kind
	Body any
}

// Observer receives Messages from the pipeline. Implementations must not
// block or retain ownership of Body beyond the call.
type Observer interface {
	Emit(Message)
}

// Func adapts a plain function to Observer.
type Func func(Message)

// Emit implements Observer.
func (f Func) Emit(m Message) { f(m) }
