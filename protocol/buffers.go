package protocol

// InputBuffer abstracts a source of incoming protocol bytes.
type InputBuffer interface {
	// Data returns the currently available bytes.
	Data() []byte

	// Available returns the number of available bytes.
	Available() int

	// Pop discards n bytes from the front.
	Pop(n int)
}

// OutputBuffer abstracts a sink for outgoing protocol bytes. The
// position based methods exist so the framing layer can back-patch the
// length field once a block is complete.
type OutputBuffer interface {
	Output(data []byte)
	CurPosition() int
	Update(pos int, val byte)
	DataSince(pos int) []byte
}

// SliceInputBuffer is an InputBuffer over a plain byte slice.
type SliceInputBuffer struct {
	data []byte
}

func NewSliceInputBuffer(data []byte) *SliceInputBuffer {
	return &SliceInputBuffer{data: data}
}

func (s *SliceInputBuffer) Data() []byte   { return s.data }
func (s *SliceInputBuffer) Available() int { return len(s.data) }

func (s *SliceInputBuffer) Pop(n int) {
	if n > len(s.data) {
		n = len(s.data)
	}
	s.data = s.data[n:]
}

// ScratchOutput is an OutputBuffer over a fixed scratch array, sized
// for the largest burst of queued responses.
type ScratchOutput struct {
	buf [MessageMax]byte
	pos int
}

func NewScratchOutput() *ScratchOutput {
	return &ScratchOutput{}
}

func (s *ScratchOutput) Output(data []byte) {
	n := copy(s.buf[s.pos:], data)
	s.pos += n
}

func (s *ScratchOutput) CurPosition() int { return s.pos }

func (s *ScratchOutput) Update(pos int, val byte) {
	if pos < len(s.buf) {
		s.buf[pos] = val
	}
}

func (s *ScratchOutput) DataSince(pos int) []byte {
	if pos > s.pos {
		return nil
	}
	return s.buf[pos:s.pos]
}

// Result returns everything written so far.
func (s *ScratchOutput) Result() []byte { return s.buf[:s.pos] }

// Reset discards all written data.
func (s *ScratchOutput) Reset() { s.pos = 0 }

// FifoBuffer is a ring buffer used between the serial driver and the
// protocol parser. One slot is kept free to distinguish full from
// empty.
type FifoBuffer struct {
	buf   []byte
	read  int
	write int
	size  int
}

func NewFifoBuffer(capacity int) *FifoBuffer {
	return &FifoBuffer{buf: make([]byte, capacity), size: capacity}
}

// Write appends as much of data as fits and returns the count written.
func (f *FifoBuffer) Write(data []byte) int {
	written := 0
	for _, b := range data {
		next := (f.write + 1) % f.size
		if next == f.read {
			break
		}
		f.buf[f.write] = b
		f.write = next
		written++
	}
	return written
}

// Read fills data with up to len(data) bytes and returns the count.
func (f *FifoBuffer) Read(data []byte) int {
	n := 0
	for i := range data {
		if f.read == f.write {
			break
		}
		data[i] = f.buf[f.read]
		f.read = (f.read + 1) % f.size
		n++
	}
	return n
}

func (f *FifoBuffer) Available() int {
	if f.write >= f.read {
		return f.write - f.read
	}
	return f.size - f.read + f.write
}

func (f *FifoBuffer) Free() int {
	return f.size - f.Available() - 1
}

// Data returns the buffered bytes as one contiguous slice. The wrapped
// case copies; the parser needs contiguous data to frame messages.
func (f *FifoBuffer) Data() []byte {
	if f.read <= f.write {
		return f.buf[f.read:f.write]
	}
	result := make([]byte, f.Available())
	n := copy(result, f.buf[f.read:])
	copy(result[n:], f.buf[:f.write])
	return result
}

func (f *FifoBuffer) Pop(n int) {
	for i := 0; i < n && f.read != f.write; i++ {
		f.read = (f.read + 1) % f.size
	}
}

func (f *FifoBuffer) IsEmpty() bool { return f.read == f.write }

func (f *FifoBuffer) Reset() {
	f.read = 0
	f.write = 0
}
