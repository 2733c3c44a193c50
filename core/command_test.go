package core

import (
	"bytes"
	"testing"
)

func TestRegisterIsIdempotent(t *testing.T) {
	r := NewCommandRegistry()
	id1 := r.Register("query_thing", "oid=%c", func(*[]byte) error { return nil })
	id2 := r.Register("query_thing", "oid=%c", func(*[]byte) error { return nil })
	if id1 != id2 {
		t.Errorf("re-registration returned %d, want %d", id2, id1)
	}
	if r.Count() != 1 {
		t.Errorf("count = %d, want 1", r.Count())
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	r := NewCommandRegistry()
	var data []byte
	if err := r.Dispatch(42, &data); err == nil {
		t.Error("dispatch of unknown id succeeded")
	}
}

func TestDictionaryStableAcrossChunkedReads(t *testing.T) {
	newHarness(t)
	dict := GetGlobalDictionary()
	full := dict.Bytes()
	if len(full) == 0 {
		t.Fatal("empty dictionary")
	}

	var reassembled []byte
	for offset := uint32(0); int(offset) < len(full); offset += 40 {
		chunk := dict.GetChunk(offset, 40)
		if len(chunk) == 0 {
			t.Fatalf("empty chunk at offset %d", offset)
		}
		reassembled = append(reassembled, chunk...)
	}
	if !bytes.Equal(reassembled, full) {
		t.Error("chunked download differs from full dictionary")
	}
	if dict.GetChunk(uint32(len(full)), 40) != nil {
		t.Error("chunk past the end not empty")
	}
}

func TestDictionaryContainsSensorCommands(t *testing.T) {
	newHarness(t)
	text := string(GetGlobalDictionary().Bytes())

	for _, want := range []string{
		"config_hx71x oid=%c gain_channel=%c dout_pin=%u sclk_pin=%u",
		"query_ads1256 oid=%c rest_ticks=%u",
		"sensor_bulk_data oid=%c sequence=%hu data=%*s",
		"constant CLOCK_FREQ=12000000",
	} {
		if !bytes.Contains([]byte(text), []byte(want)) {
			t.Errorf("dictionary missing %q", want)
		}
	}
}

func TestIdentifyDownload(t *testing.T) {
	h := newHarness(t)
	h.clearSent()

	runCommand(t, "identify", encodeArgs(0, 32))
	msgs := h.sentByName(t, "identify_response")
	if len(msgs) != 1 {
		t.Fatalf("%d identify responses, want 1", len(msgs))
	}
	if msgs[0].ints["offset"] != 0 {
		t.Errorf("offset = %d, want 0", msgs[0].ints["offset"])
	}
	if len(msgs[0].blobs["data"]) != 32 {
		t.Errorf("chunk size = %d, want 32", len(msgs[0].blobs["data"]))
	}
}

func TestGetClockAndUptime(t *testing.T) {
	h := newHarness(t)
	SetTime(77)
	h.clearSent()

	runCommand(t, "get_clock", nil)
	clock := h.sentByName(t, "clock")
	if len(clock) != 1 || clock[0].ints["clock"] != 77 {
		t.Errorf("clock response %v, want clock=77", clock)
	}

	h.clearSent()
	runCommand(t, "get_uptime", nil)
	uptime := h.sentByName(t, "uptime")
	if len(uptime) != 1 || uptime[0].ints["clock"] != 77 || uptime[0].ints["high"] != 0 {
		t.Errorf("uptime response %v, want high=0 clock=77", uptime)
	}
}

func TestConfigLifecycle(t *testing.T) {
	h := newHarness(t)
	h.clearSent()

	runCommand(t, "get_config", nil)
	cfg := h.sentByName(t, "config")
	if cfg[0].ints["is_config"] != 0 {
		t.Error("fresh firmware reports configured")
	}

	runCommand(t, "finalize_config", encodeArgs(0x1234))
	h.clearSent()
	runCommand(t, "get_config", nil)
	cfg = h.sentByName(t, "config")
	if cfg[0].ints["is_config"] != 1 || cfg[0].ints["crc"] != 0x1234 {
		t.Errorf("config response %v, want is_config=1 crc=0x1234", cfg)
	}

	runCommand(t, "config_reset", nil)
	h.clearSent()
	runCommand(t, "get_config", nil)
	cfg = h.sentByName(t, "config")
	if cfg[0].ints["is_config"] != 0 {
		t.Error("config_reset did not clear the crc")
	}
}

func TestEmergencyStopShutsDown(t *testing.T) {
	h := newHarness(t)
	configHX71x(t, h, 0, 1)
	runCommand(t, "query_hx71x", encodeArgs(0, 1000))
	h.clearSent()

	runCommand(t, "emergency_stop", nil)
	if !IsShutdown() {
		t.Fatal("emergency stop did not shut down")
	}
	if timerList != nil {
		t.Error("sampling timers survived shutdown")
	}
	if !h.gpio.levels[testSclkPin] {
		t.Error("hx71x not powered down on shutdown")
	}
	msgs := h.sentByName(t, "shutdown")
	if len(msgs) != 1 {
		t.Fatalf("%d shutdown responses, want 1", len(msgs))
	}
	if string(msgs[0].blobs["reason"]) != "emergency stop requested by host" {
		t.Errorf("reason = %q", msgs[0].blobs["reason"])
	}

	// Shutdown latches; a second trigger does not re-report.
	h.clearSent()
	Shutdown("other")
	if len(h.sentByName(t, "shutdown")) != 0 {
		t.Error("second shutdown re-reported")
	}
	if ShutdownReason() != "emergency stop requested by host" {
		t.Errorf("reason changed to %q", ShutdownReason())
	}
}
