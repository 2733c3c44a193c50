package protocol

import "errors"

var (
	ErrInvalidVLQ     = errors.New("invalid VLQ encoding")
	ErrBufferTooSmall = errors.New("buffer too small for VLQ")
)

// EncodeVLQInt writes a signed integer in the variable length quantity
// encoding used on the wire: 7 data bits per byte, most significant
// group first, continuation flag in the top bit.
func EncodeVLQInt(output OutputBuffer, v int32) {
	if !(-(1<<26) <= v && v < (3<<26)) {
		output.Output([]byte{byte((v>>28)&0x7f) | 0x80})
	}
	if !(-(1<<19) <= v && v < (3<<19)) {
		output.Output([]byte{byte((v>>21)&0x7f) | 0x80})
	}
	if !(-(1<<12) <= v && v < (3<<12)) {
		output.Output([]byte{byte((v>>14)&0x7f) | 0x80})
	}
	if !(-(1<<5) <= v && v < (3<<5)) {
		output.Output([]byte{byte((v>>7)&0x7f) | 0x80})
	}
	output.Output([]byte{byte(v & 0x7f)})
}

// EncodeVLQUint encodes an unsigned integer.
func EncodeVLQUint(output OutputBuffer, v uint32) {
	EncodeVLQInt(output, int32(v))
}

// DecodeVLQInt decodes a signed integer, advancing *data past the
// consumed bytes.
func DecodeVLQInt(data *[]byte) (int32, error) {
	if len(*data) == 0 {
		return 0, ErrBufferTooSmall
	}
	c := uint32((*data)[0])
	*data = (*data)[1:]

	v := c & 0x7f
	if (c & 0x60) == 0x60 {
		// First byte carries the sign; extend it.
		v |= ^uint32(0x1f)
	}
	for c&0x80 != 0 {
		if len(*data) == 0 {
			return 0, ErrBufferTooSmall
		}
		c = uint32((*data)[0])
		*data = (*data)[1:]
		v = (v << 7) | (c & 0x7f)
	}
	return int32(v), nil
}

// DecodeVLQUint decodes an unsigned integer.
func DecodeVLQUint(data *[]byte) (uint32, error) {
	v, err := DecodeVLQInt(data)
	return uint32(v), err
}

// EncodeVLQBytes writes a length-prefixed byte array.
func EncodeVLQBytes(output OutputBuffer, data []byte) {
	EncodeVLQUint(output, uint32(len(data)))
	output.Output(data)
}

// DecodeVLQBytes reads a length-prefixed byte array.
func DecodeVLQBytes(data *[]byte) ([]byte, error) {
	length, err := DecodeVLQUint(data)
	if err != nil {
		return nil, err
	}
	if len(*data) < int(length) {
		return nil, ErrBufferTooSmall
	}
	result := (*data)[:length]
	*data = (*data)[length:]
	return result, nil
}

// EncodeVLQString writes a length-prefixed string.
func EncodeVLQString(output OutputBuffer, s string) {
	EncodeVLQBytes(output, []byte(s))
}

// DecodeVLQString reads a length-prefixed string.
func DecodeVLQString(data *[]byte) (string, error) {
	b, err := DecodeVLQBytes(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// EncodeVLQ returns the encoded bytes for a single value.
func EncodeVLQ(v int32) []byte {
	output := NewScratchOutput()
	EncodeVLQInt(output, v)
	return output.Result()
}

// DecodeVLQ decodes a value without modifying the input slice and
// reports how many bytes were consumed.
func DecodeVLQ(data []byte) (int32, int, error) {
	original := len(data)
	v, err := DecodeVLQInt(&data)
	if err != nil {
		return 0, 0, err
	}
	return v, original - len(data), nil
}
