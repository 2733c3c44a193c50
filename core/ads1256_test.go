package core

import "testing"

func configADS1256(t *testing.T, h *harness) {
	t.Helper()
	configSPIDevice(t, h)
	runCommand(t, "config_ads1256", encodeArgs(0, testSPIOID, int64(testDrdyPin)))
}

func (h *harness) pollADS1256(ticks uint32) {
	AdvanceTime(ticks)
	ProcessTimers()
	ADS1256CaptureTask()
}

func TestADS1256SampleCapture(t *testing.T) {
	h := newHarness(t)
	configADS1256(t, h)
	runCommand(t, "query_ads1256", encodeArgs(0, 1000))
	h.clearSent()

	h.spi.queueResponse(0x12, 0x34, 0x56)
	h.pollADS1256(1000)

	adc := ads1256Sensors[0]
	if adc.sb.DataCount != BytesPerSample {
		t.Fatalf("buffered %d bytes, want %d", adc.sb.DataCount, BytesPerSample)
	}
	adc.sb.Report(0)
	samples := decodeSamples(t, h.sentByName(t, "sensor_bulk_data")[0].blobs["data"])
	if samples[0] != 0x123456 {
		t.Errorf("sample = %#x, want 0x123456", samples[0])
	}
	if adc.pending {
		t.Error("pending flag not cleared after poll")
	}
	if timerList != &adc.Timer {
		t.Error("poll timer not rearmed")
	}
}

func TestADS1256SignExtension(t *testing.T) {
	cases := []struct {
		msg  [3]byte
		want int32
	}{
		{[3]byte{0x00, 0x00, 0x10}, 16},
		{[3]byte{0x7F, 0xFF, 0xFF}, 0x7FFFFF},
		{[3]byte{0x80, 0x00, 0x01}, -0x7FFFFF},
		// Full-scale negative is a valid reading here; there is no
		// negative-zero remapping on this chip.
		{[3]byte{0x80, 0x00, 0x00}, -0x800000},
	}
	for _, tc := range cases {
		h := newHarness(t)
		configADS1256(t, h)
		runCommand(t, "query_ads1256", encodeArgs(0, 1000))
		h.clearSent()

		h.spi.queueResponse(tc.msg[0], tc.msg[1], tc.msg[2])
		h.pollADS1256(1000)

		if IsShutdown() {
			t.Errorf("msg % x unexpectedly shut down: %s", tc.msg, ShutdownReason())
			continue
		}
		adc := ads1256Sensors[0]
		adc.sb.Report(0)
		samples := decodeSamples(t, h.sentByName(t, "sensor_bulk_data")[0].blobs["data"])
		if len(samples) != 1 || samples[0] != tc.want {
			t.Errorf("msg % x decoded to %v, want [%d]", tc.msg, samples, tc.want)
		}
	}
}

func TestADS1256BadReadShutsDown(t *testing.T) {
	h := newHarness(t)
	configADS1256(t, h)
	runCommand(t, "query_ads1256", encodeArgs(0, 1000))
	h.clearSent()

	// All ones decodes to -1, the signature of a burst that started
	// mid-conversion.
	h.spi.queueResponse(0xFF, 0xFF, 0xFF)
	h.pollADS1256(1000)

	if !IsShutdown() {
		t.Fatal("bad read did not shut down")
	}
	if ShutdownReason() != "ads1256 possible bad read" {
		t.Errorf("reason = %q", ShutdownReason())
	}
	adc := ads1256Sensors[0]
	if adc.sb.DataCount != 0 {
		t.Error("bad read was buffered")
	}
	if timerList != nil {
		t.Error("poll timer still armed after shutdown")
	}
}

func TestADS1256ReadTooLongShutsDown(t *testing.T) {
	h := newHarness(t)
	configADS1256(t, h)
	runCommand(t, "query_ads1256", encodeArgs(0, 1000))
	h.clearSent()

	h.spi.transferTicks = spiMaxReadTicks
	h.spi.queueResponse(0x00, 0x00, 0x10)
	h.pollADS1256(1000)

	if !IsShutdown() {
		t.Fatal("overlong read did not shut down")
	}
	if len(h.sentByName(t, "shutdown")) != 1 {
		t.Error("no shutdown response sent")
	}
	// No error record for this family; faults are fatal.
	if len(h.sentByName(t, "sensor_bulk_data")) != 0 {
		t.Error("unexpected data message after fatal fault")
	}
}

func TestADS1256ForwardsSamplesToEndstop(t *testing.T) {
	h := newHarness(t)
	configADS1256(t, h)
	runCommand(t, "config_load_cell_endstop", encodeArgs(3))
	runCommand(t, "attach_endstop_ads1256", encodeArgs(0, 3))
	runCommand(t, "query_ads1256", encodeArgs(0, 1000))
	h.clearSent()

	h.spi.queueResponse(0x00, 0x10, 0x00)
	h.pollADS1256(1000)

	lce := loadCellEndstops[3]
	if lce.lastSample != 0x1000 {
		t.Errorf("endstop saw sample %#x, want 0x1000", lce.lastSample)
	}
	// The endstop timestamp is the read start time, before the bus
	// transfer.
	if lce.lastSampleTicks != 1000 {
		t.Errorf("endstop saw ticks %d, want 1000", lce.lastSampleTicks)
	}
}

func TestADS1256AttachUnknownEndstop(t *testing.T) {
	h := newHarness(t)
	configADS1256(t, h)

	cmd, _ := GetGlobalRegistry().GetCommandByName("attach_endstop_ads1256")
	args := encodeArgs(0, 9)
	if err := cmd.Handler(&args); err == nil {
		t.Error("attach to unconfigured endstop accepted")
	}
}

func TestADS1256StatusMeasuresQueryTicks(t *testing.T) {
	h := newHarness(t)
	configADS1256(t, h)
	runCommand(t, "query_ads1256", encodeArgs(0, 1000))
	h.clearSent()

	h.gpio.readHook = func(pin GPIOPin) {
		if pin == testDrdyPin {
			AdvanceTime(7)
		}
	}
	runCommand(t, "query_ads1256_status", encodeArgs(0))

	status := h.sentByName(t, "sensor_bulk_status")
	if len(status) != 1 {
		t.Fatalf("%d status messages, want 1", len(status))
	}
	if status[0].ints["query_ticks"] != 7 {
		t.Errorf("query_ticks = %d, want 7", status[0].ints["query_ticks"])
	}
	if status[0].ints["buffered"] != BytesPerSample {
		t.Errorf("buffered = %d, want %d", status[0].ints["buffered"], BytesPerSample)
	}
}
