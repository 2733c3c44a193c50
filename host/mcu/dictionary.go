package mcu

import (
	"fmt"
	"strconv"
	"strings"

	"loadcell/protocol"
)

// FieldKind describes how one message field is encoded on the wire.
type FieldKind int

const (
	// FieldUint covers %u, %c and %hu: a VLQ-encoded unsigned value.
	FieldUint FieldKind = iota
	// FieldInt covers %i and %hi: a VLQ-encoded signed value.
	FieldInt
	// FieldBytes covers %*s: a length-prefixed byte block.
	FieldBytes
)

// Field is one named argument of a command or response.
type Field struct {
	Name string
	Kind FieldKind
}

// Entry is one command or response from the downloaded dictionary.
type Entry struct {
	ID     uint16
	Name   string
	Fields []Field
}

// Dictionary is the parsed identify data: the command and response
// tables plus exported firmware constants. The firmware serializes it
// as plain text, one entry per line:
//
//	command 3 query_hx71x oid=%c rest_ticks=%u
//	response 12 sensor_bulk_data oid=%c sequence=%hu data=%*s
//	constant CLOCK_FREQ=12000000
type Dictionary struct {
	Commands  map[string]*Entry
	Responses map[uint16]*Entry
	Constants map[string]string
}

// ParseDictionary parses the serialized dictionary text.
func ParseDictionary(data []byte) (*Dictionary, error) {
	dict := &Dictionary{
		Commands:  make(map[string]*Entry),
		Responses: make(map[uint16]*Entry),
		Constants: make(map[string]string),
	}

	for lineNum, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "command", "response":
			if len(fields) < 3 {
				return nil, fmt.Errorf("line %d: malformed entry %q", lineNum+1, line)
			}
			id, err := strconv.ParseUint(fields[1], 10, 16)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad id %q: %w", lineNum+1, fields[1], err)
			}
			entry := &Entry{ID: uint16(id), Name: fields[2]}
			for _, spec := range fields[3:] {
				field, err := parseField(spec)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNum+1, err)
				}
				entry.Fields = append(entry.Fields, field)
			}
			if fields[0] == "command" {
				dict.Commands[entry.Name] = entry
			} else {
				dict.Responses[entry.ID] = entry
			}

		case "constant":
			rest := strings.TrimPrefix(line, "constant ")
			name, value, ok := strings.Cut(rest, "=")
			if !ok {
				return nil, fmt.Errorf("line %d: malformed constant %q", lineNum+1, line)
			}
			dict.Constants[name] = value

		default:
			return nil, fmt.Errorf("line %d: unknown entry kind %q", lineNum+1, fields[0])
		}
	}
	return dict, nil
}

func parseField(spec string) (Field, error) {
	name, format, ok := strings.Cut(spec, "=")
	if !ok {
		return Field{}, fmt.Errorf("malformed field spec %q", spec)
	}
	switch format {
	case "%u", "%c", "%hu":
		return Field{Name: name, Kind: FieldUint}, nil
	case "%i", "%hi":
		return Field{Name: name, Kind: FieldInt}, nil
	case "%*s", "%s":
		return Field{Name: name, Kind: FieldBytes}, nil
	default:
		return Field{}, fmt.Errorf("unknown field format %q in %q", format, spec)
	}
}

// ConstantUint returns a numeric firmware constant.
func (d *Dictionary) ConstantUint(name string) (uint32, error) {
	value, ok := d.Constants[name]
	if !ok {
		return 0, fmt.Errorf("constant %s not in dictionary", name)
	}
	v, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("constant %s=%q is not numeric: %w", name, value, err)
	}
	return uint32(v), nil
}

// Values holds one decoded response message.
type Values struct {
	Name  string
	ints  map[string]int64
	blobs map[string][]byte
}

// Int returns a decoded numeric field. Missing fields read as zero.
func (v *Values) Int(name string) int64 {
	return v.ints[name]
}

// Uint returns a decoded numeric field as an unsigned 32-bit value.
func (v *Values) Uint(name string) uint32 {
	return uint32(v.ints[name])
}

// Bytes returns a decoded byte-block field.
func (v *Values) Bytes(name string) []byte {
	return v.blobs[name]
}

// DecodeResponse decodes a response payload, starting with its VLQ
// message id, against the dictionary's response table.
func (d *Dictionary) DecodeResponse(payload []byte) (*Values, error) {
	id, err := protocol.DecodeVLQUint(&payload)
	if err != nil {
		return nil, fmt.Errorf("decode response id: %w", err)
	}
	return d.DecodeResponseFields(uint16(id), payload)
}

// DecodeResponseFields decodes the argument fields of a response
// whose id has already been consumed.
func (d *Dictionary) DecodeResponseFields(id uint16, payload []byte) (*Values, error) {
	entry, ok := d.Responses[id]
	if !ok {
		return nil, fmt.Errorf("unknown response id %d", id)
	}

	values := &Values{
		Name:  entry.Name,
		ints:  make(map[string]int64),
		blobs: make(map[string][]byte),
	}
	for _, field := range entry.Fields {
		switch field.Kind {
		case FieldUint:
			v, err := protocol.DecodeVLQUint(&payload)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", entry.Name, field.Name, err)
			}
			values.ints[field.Name] = int64(v)
		case FieldInt:
			v, err := protocol.DecodeVLQInt(&payload)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", entry.Name, field.Name, err)
			}
			values.ints[field.Name] = int64(v)
		case FieldBytes:
			b, err := protocol.DecodeVLQBytes(&payload)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", entry.Name, field.Name, err)
			}
			values.blobs[field.Name] = b
		}
	}
	return values, nil
}
