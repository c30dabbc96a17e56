package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpelletier/ITI1480A-linux/pkg/sink"
	"github.com/vpelletier/ITI1480A-linux/pkg/transaction"
)

type capturingObserver struct {
	messages []sink.Message
}

func (c *capturingObserver) Emit(m sink.Message) { c.messages = append(c.messages, m) }

func setupToken(name string, direction byte) transaction.Transaction {
	return transaction.Transaction{
		Token: transaction.TokenFields{Name: "SETUP", Address: 1, Endpoint: 0},
		Data:  &transaction.DataFields{Name: "DATA0", Data: []byte{direction, 0, 0, 0, 0, 0, 0, 0}},
	}
}

func dataTransaction(name string, payload []byte, handshake string) transaction.Transaction {
	var h *transaction.HandshakeFields
	if handshake != "" {
		h = &transaction.HandshakeFields{Name: handshake}
	}
	var d *transaction.DataFields
	if payload != nil {
		d = &transaction.DataFields{Name: "DATA1", Data: payload}
	}
	return transaction.Transaction{
		Token:     transaction.TokenFields{Name: name, Address: 1, Endpoint: 0},
		Data:      d,
		Handshake: h,
	}
}

func msg(kind sink.Kind, body any) sink.Message {
	return sink.Message{Kind: kind, Body: body}
}

func TestSetupOutWithDataStageAndFinalAck(t *testing.T) {
	obs := &capturingObserver{}
	agg := NewAggregator(obs)

	agg.Push(msg(sink.Transaction, setupToken("SETUP", 0x00))) // OUT direction: bit7=0
	agg.Push(msg(sink.Transaction, dataTransaction("OUT", []byte{1, 2, 3, 4}, "ACK")))
	agg.Push(msg(sink.Transaction, dataTransaction("IN", nil, "ACK")))
	// The trailing IN_ACK is ambiguous until something follows it (it
	// could start another in_data packet); Stop resolves it as terminal.
	agg.Stop()

	require.Len(t, obs.messages, 1)
	xfer := obs.messages[0].Body.(Transfer)
	assert.Equal(t, "OUT", xfer.Direction)
	assert.Equal(t, "ACK", xfer.Status)
	assert.Equal(t, []byte{1, 2, 3, 4}, xfer.Data)
}

func TestSetupOutNoDataStage(t *testing.T) {
	obs := &capturingObserver{}
	agg := NewAggregator(obs)

	agg.Push(msg(sink.Transaction, setupToken("SETUP", 0x00)))
	agg.Push(msg(sink.Transaction, dataTransaction("IN", nil, "ACK")))
	agg.Stop()

	require.Len(t, obs.messages, 1)
	xfer := obs.messages[0].Body.(Transfer)
	assert.Equal(t, "NoData", xfer.Direction)
	assert.Equal(t, "ACK", xfer.Status)
}

func TestSetupInWithDataStageAndOutHandshake(t *testing.T) {
	obs := &capturingObserver{}
	agg := NewAggregator(obs)

	agg.Push(msg(sink.Transaction, setupToken("SETUP", 0x80))) // IN direction: bit7=1
	agg.Push(msg(sink.Transaction, dataTransaction("IN", []byte{0xaa, 0xbb}, "ACK")))
	agg.Push(msg(sink.Transaction, dataTransaction("OUT", nil, "ACK")))

	require.Len(t, obs.messages, 1)
	xfer := obs.messages[0].Body.(Transfer)
	assert.Equal(t, "IN", xfer.Direction)
	assert.Equal(t, []byte{0xaa, 0xbb}, xfer.Data)
	assert.Equal(t, "ACK", xfer.Status)
}

func TestSetupOutStatusStageStalled(t *testing.T) {
	// Per the grammar, OUT_STALL only closes out_data; the status stage
	// (in_data) still follows. Here the data stage is ACKed and the device
	// stalls the status stage instead of acking it, which is the
	// unambiguous terminal case.
	obs := &capturingObserver{}
	agg := NewAggregator(obs)

	agg.Push(msg(sink.Transaction, setupToken("SETUP", 0x00)))
	agg.Push(msg(sink.Transaction, dataTransaction("OUT", []byte{1}, "ACK")))
	agg.Push(msg(sink.Transaction, dataTransaction("IN", nil, "STALL")))

	require.Len(t, obs.messages, 1)
	xfer := obs.messages[0].Body.(Transfer)
	assert.Equal(t, "STALL", xfer.Status)
	assert.Equal(t, "OUT", xfer.Direction)
	assert.Equal(t, []byte{1}, xfer.Data)
}

func TestOutDataStageNakRetryDoesNotDuplicateData(t *testing.T) {
	// A NAK'd OUT data packet must not be folded into the transfer: the
	// host retries the identical bytes, and only the ACK'd attempt
	// should contribute to Transfer.Data.
	obs := &capturingObserver{}
	agg := NewAggregator(obs)

	agg.Push(msg(sink.Transaction, setupToken("SETUP", 0x00)))
	agg.Push(msg(sink.Transaction, dataTransaction("OUT", []byte{1, 2, 3, 4}, "NAK")))
	agg.Push(msg(sink.Transaction, dataTransaction("OUT", []byte{1, 2, 3, 4}, "ACK")))
	agg.Push(msg(sink.Transaction, dataTransaction("IN", nil, "ACK")))
	agg.Stop()

	require.Len(t, obs.messages, 1)
	xfer := obs.messages[0].Body.(Transfer)
	assert.Equal(t, []byte{1, 2, 3, 4}, xfer.Data)
}

func TestNakRetriesDoNotCloseTheTransfer(t *testing.T) {
	obs := &capturingObserver{}
	agg := NewAggregator(obs)

	agg.Push(msg(sink.Transaction, setupToken("SETUP", 0x80)))
	agg.Push(msg(sink.Transaction, dataTransaction("IN", nil, "NAK")))
	agg.Push(msg(sink.Transaction, dataTransaction("IN", nil, "NAK")))
	agg.Push(msg(sink.Transaction, dataTransaction("IN", []byte{0x01}, "ACK")))
	agg.Push(msg(sink.Transaction, dataTransaction("OUT", nil, "ACK")))

	require.Len(t, obs.messages, 1)
	xfer := obs.messages[0].Body.(Transfer)
	assert.Equal(t, []byte{0x01}, xfer.Data)
}

func TestPingNakKeepsTransferOpen(t *testing.T) {
	obs := &capturingObserver{}
	agg := NewAggregator(obs)

	agg.Push(msg(sink.Transaction, setupToken("SETUP", 0x00)))
	agg.Push(msg(sink.Ping, transaction.Ping{
		Token:     transaction.TokenFields{Name: "PING", Address: 1, Endpoint: 0},
		Handshake: transaction.HandshakeFields{Name: "NAK"},
	}))
	agg.Push(msg(sink.Transaction, dataTransaction("OUT", []byte{1, 2}, "ACK")))
	agg.Push(msg(sink.Transaction, dataTransaction("IN", nil, "ACK")))
	agg.Stop()

	require.Len(t, obs.messages, 1)
	xfer := obs.messages[0].Body.(Transfer)
	assert.Equal(t, "OUT", xfer.Direction)
}

func TestTransactionOutsideTransferIsReportedAsError(t *testing.T) {
	obs := &capturingObserver{}
	agg := NewAggregator(obs)

	agg.Push(msg(sink.Transaction, dataTransaction("OUT", []byte{1}, "ACK")))

	require.Len(t, obs.messages, 1)
	assert.Equal(t, sink.TransferError, obs.messages[0].Kind)
}

func TestNonTransactionMessagesPassThrough(t *testing.T) {
	obs := &capturingObserver{}
	agg := NewAggregator(obs)

	sof := msg(sink.SOF, "frame")
	agg.Push(sof)

	require.Len(t, obs.messages, 1)
	assert.Equal(t, sink.SOF, obs.messages[0].Kind)
}
