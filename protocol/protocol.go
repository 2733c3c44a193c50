// Package protocol implements the Klipper-style command/response wire
// protocol used between the sampling firmware and its supervising host.
//
// A message block looks like:
//
//	<length> <sequence> <payload...> <crc16 hi> <crc16 lo> <sync 0x7e>
//
// The payload is a series of VLQ encoded command ids and arguments.
package protocol

// Framing constants.
const (
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64

	// Offsets relative to the start (header) or end (trailer) of a block.
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1

	MessageValueSync = 0x7e
	MessageSeqMask   = 0x0f
	MessageDest      = 0x10

	// MessageMax bounds the scratch space used when encoding outgoing
	// blocks; large enough for several queued responses.
	MessageMax = 512
)

// Message is a fully parsed message block.
type Message struct {
	Length   uint8
	Sequence uint8
	Payload  []byte
	CRC      uint16
}
