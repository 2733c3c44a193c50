package protocol

import "sync/atomic"

// CommandHandler is invoked for every decoded command in a frame. The
// handler decodes its own arguments from data.
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport implements the firmware side of the transport layer: it
// parses incoming blocks, dispatches commands and frames outgoing
// responses.
type Transport struct {
	isSynchronized uint32 // atomic bool
	nextSequence   uint32 // atomic, 0x10-0x1f

	output        OutputBuffer
	handler       CommandHandler
	resetCallback func()
	flushCallback func()
}

// NewTransport creates a transport writing framed responses to output
// and dispatching decoded commands to handler.
func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	return &Transport{
		isSynchronized: 1,
		nextSequence:   MessageDest,
		output:         output,
		handler:        handler,
	}
}

// Receive consumes as much of the input as possible, dispatching every
// complete, valid frame. Invalid data forces a resync on the next sync
// byte.
func (t *Transport) Receive(input InputBuffer) {
	data := input.Data()

	for len(data) > 0 {
		if !t.synchronized() {
			syncPos := -1
			for i, b := range data {
				if b == MessageValueSync {
					syncPos = i
					break
				}
			}
			if syncPos < 0 {
				data = nil
				break
			}
			data = data[syncPos+1:]
			t.setSynchronized(true)
			t.sendAck()
			continue
		}

		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}
		if len(data) < MessageLengthMin {
			break
		}

		msgLen := int(data[MessagePositionLen])
		if msgLen < MessageLengthMin || msgLen > MessageLengthMax {
			t.setSynchronized(false)
			continue
		}

		seq := data[MessagePositionSeq]
		if seq&^uint8(MessageSeqMask) != MessageDest {
			t.setSynchronized(false)
			continue
		}
		if len(data) < msgLen {
			break
		}
		if data[msgLen-MessageTrailerSync] != MessageValueSync {
			t.setSynchronized(false)
			continue
		}

		wireCRC := uint16(data[msgLen-MessageTrailerCRC])<<8 |
			uint16(data[msgLen-MessageTrailerCRC+1])
		if wireCRC != CRC16(data[:msgLen-MessageTrailerSize]) {
			t.setSynchronized(false)
			continue
		}

		frame := data[MessageHeaderSize : msgLen-MessageTrailerSize]
		data = data[msgLen:]

		expected := uint8(atomic.LoadUint32(&t.nextSequence))
		if seq == MessageDest && expected != MessageDest {
			// Host restarted; fall back to the initial sequence.
			atomic.StoreUint32(&t.nextSequence, MessageDest)
			expected = MessageDest
			if t.resetCallback != nil {
				t.resetCallback()
			}
		}

		if seq == expected {
			next := ((seq + 1) & MessageSeqMask) | MessageDest
			atomic.StoreUint32(&t.nextSequence, uint32(next))
			_ = t.parseFrame(frame)
		}
		// The ack doubles as a nak when the sequence did not match:
		// it carries the sequence we expect next.
		t.sendAck()
	}

	consumed := input.Available() - len(data)
	if consumed > 0 {
		input.Pop(consumed)
	}
}

// parseFrame dispatches every command in a frame payload.
func (t *Transport) parseFrame(frame []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			// A handler panic must not take the firmware down;
			// drop the frame and resynchronize.
			t.setSynchronized(false)
		}
	}()

	for len(frame) > 0 {
		cmdID, err := DecodeVLQUint(&frame)
		if err != nil {
			t.setSynchronized(false)
			return err
		}
		if t.handler != nil {
			if err := t.handler(uint16(cmdID), &frame); err != nil {
				return err
			}
		}
	}
	return nil
}

// sendAck emits an empty block carrying the next expected sequence.
// The ack must reach the host before any queued response.
func (t *Transport) sendAck() {
	ns := uint8(atomic.LoadUint32(&t.nextSequence))
	crc := CRC16([]byte{MessageLengthMin, ns})
	t.output.Output([]byte{
		MessageLengthMin,
		ns,
		uint8(crc >> 8),
		uint8(crc & 0xff),
		MessageValueSync,
	})
	if t.flushCallback != nil {
		t.flushCallback()
	}
}

// EncodeFrame frames a payload with header, CRC and sync byte.
func (t *Transport) EncodeFrame(frameData func(output OutputBuffer)) {
	cursor := t.output.CurPosition()

	seq := uint8(atomic.LoadUint32(&t.nextSequence))
	t.output.Output([]byte{0, seq})

	frameData(t.output)

	written := len(t.output.DataSince(cursor))
	t.output.Update(cursor, uint8(written+MessageTrailerSize))

	crc := CRC16(t.output.DataSince(cursor))
	t.output.Output([]byte{uint8(crc >> 8), uint8(crc & 0xff), MessageValueSync})
}

// SendCommand frames a single command id plus arguments.
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) {
	t.EncodeFrame(func(output OutputBuffer) {
		EncodeVLQUint(output, uint32(cmdID))
		if args != nil {
			args(output)
		}
	})
}

// Reset returns the transport to its initial synchronized state.
func (t *Transport) Reset() {
	atomic.StoreUint32(&t.isSynchronized, 1)
	atomic.StoreUint32(&t.nextSequence, MessageDest)
	if t.resetCallback != nil {
		t.resetCallback()
	}
}

// SetResetCallback registers a callback run when a host restart is
// detected.
func (t *Transport) SetResetCallback(callback func()) {
	t.resetCallback = callback
}

// SetFlushCallback registers a callback used to push acks to the wire
// immediately instead of waiting for the main loop.
func (t *Transport) SetFlushCallback(callback func()) {
	t.flushCallback = callback
}

func (t *Transport) synchronized() bool {
	return atomic.LoadUint32(&t.isSynchronized) != 0
}

func (t *Transport) setSynchronized(val bool) {
	if val {
		atomic.StoreUint32(&t.isSynchronized, 1)
	} else {
		atomic.StoreUint32(&t.isSynchronized, 0)
	}
}
