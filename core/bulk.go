package core

import "loadcell/protocol"

const (
	// BytesPerSample is the width of one encoded sample on the wire.
	BytesPerSample = 4

	// DefaultSampleBufferSize is the per-sensor buffer capacity in
	// bytes; always a multiple of BytesPerSample.
	DefaultSampleBufferSize = 52
)

// SampleError is the reserved sample value marking an error record in
// the stream. No valid 24-bit reading sign-extends to it.
const SampleError int32 = -0x80000000

// SampleBuffer accumulates encoded samples for one sensor until they
// are reported to the host in a sensor_bulk_data message.
type SampleBuffer struct {
	Sequence  uint16
	ErrorCode uint16 // carried in the possible_overflows status field
	DataCount uint8
	data      []byte
}

// InitSensorBulkResponses registers the bulk report messages. Each
// sensor family calls this from its init; registration is idempotent.
func InitSensorBulkResponses() {
	RegisterResponse("sensor_bulk_data", "oid=%c sequence=%hu data=%*s")
	RegisterResponse("sensor_bulk_status",
		"oid=%c clock=%u query_ticks=%u next_sequence=%hu buffered=%c possible_overflows=%hu")
}

func (sb *SampleBuffer) ensure() {
	if sb.data == nil {
		sb.data = make([]byte, DefaultSampleBufferSize)
	}
}

// SetCapacity resizes the buffer. Capacity must be a positive multiple
// of BytesPerSample; used by tests and target configuration.
func (sb *SampleBuffer) SetCapacity(capacity int) {
	if capacity <= 0 || capacity%BytesPerSample != 0 {
		panic("sample buffer capacity must be a positive multiple of 4")
	}
	sb.data = make([]byte, capacity)
	sb.DataCount = 0
}

// Capacity returns the buffer capacity in bytes.
func (sb *SampleBuffer) Capacity() int {
	sb.ensure()
	return len(sb.data)
}

// Reset discards buffered data and restarts the report sequence.
func (sb *SampleBuffer) Reset() {
	sb.Sequence = 0
	sb.ErrorCode = 0
	sb.DataCount = 0
}

// AppendSample encodes counts as 4 little-endian bytes. It never
// checks capacity; the flush policy keeps the buffer append-ready
// after every poll.
func (sb *SampleBuffer) AppendSample(counts int32) {
	sb.ensure()
	c := uint32(counts)
	sb.data[sb.DataCount] = uint8(c)
	sb.data[sb.DataCount+1] = uint8(c >> 8)
	sb.data[sb.DataCount+2] = uint8(c >> 16)
	sb.data[sb.DataCount+3] = uint8(c >> 24)
	sb.DataCount += BytesPerSample
}

// FlushIfFull reports the buffer when one more sample would not fit.
func (sb *SampleBuffer) FlushIfFull(oid uint8) {
	sb.ensure()
	if int(sb.DataCount)+BytesPerSample > len(sb.data) {
		sb.Report(oid)
	}
}

// Report unconditionally sends the buffered samples to the host and
// resets the fill count. Error records use this directly so faults
// are never held behind the flush threshold.
func (sb *SampleBuffer) Report(oid uint8) {
	sb.ensure()
	sequence := sb.Sequence
	count := sb.DataCount
	SendResponse("sensor_bulk_data", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(oid))
		protocol.EncodeVLQUint(output, uint32(sequence))
		protocol.EncodeVLQBytes(output, sb.data[:count])
	})
	sb.DataCount = 0
	sb.Sequence++
}

// SendStatus reports buffer fill and readiness information for host
// side flow control.
func (sb *SampleBuffer) SendStatus(oid uint8, clock, queryTicks uint32, pendingBytes uint8) {
	buffered := sb.DataCount
	sequence := sb.Sequence
	errorCode := sb.ErrorCode
	SendResponse("sensor_bulk_status", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(oid))
		protocol.EncodeVLQUint(output, clock)
		protocol.EncodeVLQUint(output, queryTicks)
		protocol.EncodeVLQUint(output, uint32(sequence))
		protocol.EncodeVLQUint(output, uint32(buffered)+uint32(pendingBytes))
		protocol.EncodeVLQUint(output, uint32(errorCode))
	})
}
