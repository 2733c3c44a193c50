package mcu

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loadcell/protocol"
)

const boardDictionary = `command 1 identify offset=%u count=%c
command 2 get_clock
command 5 query_hx71x oid=%c rest_ticks=%u
response 0 identify_response offset=%u data=%*s
response 3 clock clock=%u
response 12 sensor_bulk_data oid=%c sequence=%hu data=%*s
constant CLOCK_FREQ=12000000
`

// fakeBoard speaks the firmware side of the link: every frame written
// by the host is run through a real firmware transport whose output
// becomes the host's read data.
type fakeBoard struct {
	mu      sync.Mutex
	readBuf bytes.Buffer

	fw  *protocol.Transport
	in  *protocol.FifoBuffer
	out *protocol.ScratchOutput

	clockQueries int
}

func newFakeBoard() *fakeBoard {
	b := &fakeBoard{
		in:  protocol.NewFifoBuffer(256),
		out: protocol.NewScratchOutput(),
	}
	b.fw = protocol.NewTransport(b.out, b.handleCommand)
	return b
}

func (b *fakeBoard) handleCommand(cmdID uint16, data *[]byte) error {
	switch cmdID {
	case 1: // identify
		offset, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		count, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		dict := []byte(boardDictionary)
		var chunk []byte
		if int(offset) < len(dict) {
			end := int(offset) + int(count)
			if end > len(dict) {
				end = len(dict)
			}
			chunk = dict[offset:end]
		}
		b.fw.SendCommand(0, func(out protocol.OutputBuffer) {
			protocol.EncodeVLQUint(out, offset)
			protocol.EncodeVLQBytes(out, chunk)
		})
	case 2: // get_clock
		b.clockQueries++
		b.fw.SendCommand(3, func(out protocol.OutputBuffer) {
			protocol.EncodeVLQUint(out, 4242)
		})
	case 5: // query_hx71x, configured but never polled here
	}
	return nil
}

func (b *fakeBoard) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.in.Write(p)
	b.fw.Receive(b.in)
	b.readBuf.Write(b.out.Result())
	b.out.Reset()
	return len(p), nil
}

func (b *fakeBoard) Read(p []byte) (int, error) {
	b.mu.Lock()
	n, _ := b.readBuf.Read(p)
	b.mu.Unlock()
	if n == 0 {
		time.Sleep(time.Millisecond)
	}
	return n, nil
}

func (b *fakeBoard) Close() error { return nil }
func (b *fakeBoard) Flush() error { return nil }

func connectFakeBoard(t *testing.T) (*MCU, *fakeBoard) {
	t.Helper()
	board := newFakeBoard()
	m := NewMCU()
	m.ConnectPort(board)
	t.Cleanup(func() { m.Close() })
	return m, board
}

func TestRetrieveDictionary(t *testing.T) {
	m, _ := connectFakeBoard(t)

	require.NoError(t, m.RetrieveDictionary())
	dict := m.Dictionary()
	require.NotNil(t, dict)

	assert.Contains(t, dict.Commands, "query_hx71x")
	assert.Contains(t, dict.Responses, uint16(12))

	freq, err := dict.ConstantUint("CLOCK_FREQ")
	require.NoError(t, err)
	assert.Equal(t, uint32(12000000), freq)
}

func TestSendCommandByName(t *testing.T) {
	m, board := connectFakeBoard(t)
	require.NoError(t, m.RetrieveDictionary())

	clocks := make(chan uint32, 1)
	m.OnResponse("clock", func(values *Values) {
		clocks <- values.Uint("clock")
	})

	require.NoError(t, m.SendCommand("get_clock", nil))

	select {
	case clock := <-clocks:
		assert.Equal(t, uint32(4242), clock)
	case <-time.After(time.Second):
		t.Fatal("no clock response")
	}
	assert.Equal(t, 1, board.clockQueries)
}

func TestSendCommandRequiresDictionary(t *testing.T) {
	m, _ := connectFakeBoard(t)
	assert.Error(t, m.SendCommand("get_clock", nil))
}

func TestSendUnknownCommand(t *testing.T) {
	m, _ := connectFakeBoard(t)
	require.NoError(t, m.RetrieveDictionary())
	assert.Error(t, m.SendCommand("fly_to_the_moon", nil))
}

func TestSendCommandDisconnected(t *testing.T) {
	m := NewMCU()
	assert.Error(t, m.SendCommand("get_clock", nil))
	assert.False(t, m.IsConnected())
}
