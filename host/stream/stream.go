// Package stream decodes the sensor_bulk_data byte stream produced by
// the firmware into per-sample records.
package stream

import (
	"encoding/binary"
	"fmt"
)

// BytesPerSample is the width of one encoded sample.
const BytesPerSample = 4

// errorSentinel marks an error record in the stream. The code itself
// travels in the possible_overflows field of the next status query.
const errorSentinel = uint32(0x80000000)

// Record is one decoded sample. Error records carry no counts; the
// host learns the cause from the sensor status.
type Record struct {
	Counts  int32
	IsError bool
}

// Decoder tracks the bulk message sequence for one sensor and decodes
// its data blocks. The zero value is ready for use.
type Decoder struct {
	nextSequence uint16
	synced       bool

	// LostMessages counts sequence gaps seen since the last Reset.
	LostMessages int
}

// Reset clears sequence tracking, used when sampling is restarted.
func (d *Decoder) Reset() {
	d.nextSequence = 0
	d.synced = false
	d.LostMessages = 0
}

// Decode parses one sensor_bulk_data block. Sequence gaps are counted
// in LostMessages but do not fail the decode; the samples that did
// arrive are still valid.
func (d *Decoder) Decode(sequence uint16, data []byte) ([]Record, error) {
	if len(data)%BytesPerSample != 0 {
		return nil, fmt.Errorf("bulk data length %d is not a multiple of %d",
			len(data), BytesPerSample)
	}

	if d.synced && sequence != d.nextSequence {
		d.LostMessages += int(sequence - d.nextSequence)
	}
	d.nextSequence = sequence + 1
	d.synced = true

	records := make([]Record, 0, len(data)/BytesPerSample)
	for i := 0; i < len(data); i += BytesPerSample {
		raw := binary.LittleEndian.Uint32(data[i:])
		if raw == errorSentinel {
			records = append(records, Record{IsError: true})
			continue
		}
		records = append(records, Record{Counts: int32(raw)})
	}
	return records, nil
}

// Per-family error codes reported in possible_overflows alongside an
// error record.
var hx71xErrorNames = map[uint16]string{
	1: "chip became ready mid-read",
	2: "read took too long",
	3: "sample out of range",
}

var ads1220ErrorNames = map[uint16]string{
	1: "read took too long",
	2: "sample out of range",
}

// ErrorName translates a status error code for the given sensor
// family. ADS1256 faults halt the firmware instead of producing
// codes, so only the soft-error families have tables.
func ErrorName(family string, code uint16) string {
	var name string
	switch family {
	case "hx711", "hx717", "hx71x":
		name = hx71xErrorNames[code]
	case "ads1220":
		name = ads1220ErrorNames[code]
	}
	if name == "" {
		return fmt.Sprintf("error code %d", code)
	}
	return name
}
