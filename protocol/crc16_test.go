package protocol

import "testing"

func TestCRC16Empty(t *testing.T) {
	if crc := CRC16(nil); crc != 0xffff {
		t.Errorf("CRC of empty input: expected 0xffff, got 0x%04x", crc)
	}
}

func TestCRC16Deterministic(t *testing.T) {
	data := []byte{MessageLengthMin, MessageDest, 0x01, 0x02, 0x03}
	first := CRC16(data)
	for i := 0; i < 10; i++ {
		if crc := CRC16(data); crc != first {
			t.Fatalf("CRC not deterministic: 0x%04x vs 0x%04x", first, crc)
		}
	}
}

func TestCRC16DetectsCorruption(t *testing.T) {
	data := []byte{0x0a, 0x11, 0x05, 0x00, 0x01, 0x02, 0x03}
	good := CRC16(data)

	for i := range data {
		corrupted := make([]byte, len(data))
		copy(corrupted, data)
		corrupted[i] ^= 0x40
		if CRC16(corrupted) == good {
			t.Errorf("single bit flip at byte %d not detected", i)
		}
	}
}
