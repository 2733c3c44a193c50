package core

import (
	"errors"
	"testing"
)

const (
	testCSPin    = GPIOPin(5)
	testDrdyPin  = GPIOPin(4)
	testSPIOID   = int64(7)
	testADS12OID = int64(0)
)

func configSPIDevice(t *testing.T, h *harness) {
	t.Helper()
	runCommand(t, "config_spi", encodeArgs(testSPIOID, int64(testCSPin), 0))
	runCommand(t, "spi_set_bus", encodeArgs(testSPIOID, 0, 1, 512000))
}

func configADS1220(t *testing.T, h *harness) {
	t.Helper()
	configSPIDevice(t, h)
	runCommand(t, "config_ads1220",
		encodeArgs(testADS12OID, testSPIOID, int64(testDrdyPin)))
}

func (h *harness) pollADS1220(ticks uint32) {
	AdvanceTime(ticks)
	ProcessTimers()
	ADS1220CaptureTask()
}

func TestADS1220SampleCapture(t *testing.T) {
	h := newHarness(t)
	configADS1220(t, h)
	runCommand(t, "query_ads1220", encodeArgs(testADS12OID, 1000))
	h.clearSent()

	h.spi.queueResponse(0x12, 0x34, 0x56)
	h.pollADS1220(1000)

	adc := ads1220Sensors[0]
	if adc.sb.DataCount != BytesPerSample {
		t.Fatalf("buffered %d bytes, want %d", adc.sb.DataCount, BytesPerSample)
	}
	adc.sb.Report(0)
	data := h.sentByName(t, "sensor_bulk_data")
	samples := decodeSamples(t, data[0].blobs["data"])
	if samples[0] != 0x123456 {
		t.Errorf("sample = %#x, want 0x123456", samples[0])
	}
	if h.spi.transfers != 1 {
		t.Errorf("%d spi transfers, want 1", h.spi.transfers)
	}
	if !h.gpio.levels[testCSPin] {
		t.Error("chip select not deasserted after transfer")
	}
	if timerList != &adc.Timer {
		t.Error("poll timer not rearmed")
	}
}

func TestADS1220SampleDecode(t *testing.T) {
	cases := []struct {
		msg  [3]byte
		want int32
	}{
		{[3]byte{0x00, 0x00, 0x10}, 16},
		{[3]byte{0x7F, 0xFF, 0xFF}, 0x7FFFFF},
		{[3]byte{0x80, 0x00, 0x00}, 0}, // negative zero maps to zero
		{[3]byte{0x80, 0x00, 0x01}, -0x7FFFFF},
		{[3]byte{0xFF, 0xFF, 0xFF}, -1},
	}
	for _, tc := range cases {
		h := newHarness(t)
		configADS1220(t, h)
		runCommand(t, "query_ads1220", encodeArgs(testADS12OID, 1000))
		h.clearSent()

		h.spi.queueResponse(tc.msg[0], tc.msg[1], tc.msg[2])
		h.pollADS1220(1000)

		adc := ads1220Sensors[0]
		adc.sb.Report(0)
		data := h.sentByName(t, "sensor_bulk_data")
		if len(data) != 1 {
			t.Fatalf("msg % x: %d data messages", tc.msg, len(data))
		}
		samples := decodeSamples(t, data[0].blobs["data"])
		if len(samples) != 1 || samples[0] != tc.want {
			t.Errorf("msg % x decoded to %v, want [%d]", tc.msg, samples, tc.want)
		}
	}
}

func TestADS1220NotReadyDefersSilently(t *testing.T) {
	h := newHarness(t)
	configADS1220(t, h)
	runCommand(t, "query_ads1220", encodeArgs(testADS12OID, 1000))
	h.clearSent()

	h.gpio.levels[testDrdyPin] = true // conversion in progress
	h.pollADS1220(1000)

	adc := ads1220Sensors[0]
	if h.spi.transfers != 0 {
		t.Error("spi transfer issued while not ready")
	}
	if adc.sb.DataCount != 0 {
		t.Error("sample buffered while not ready")
	}
	if msgs := h.sent(t); len(msgs) != 0 {
		t.Errorf("unexpected messages: %v", msgs)
	}
	if timerList != &adc.Timer {
		t.Error("poll timer not rearmed after deferral")
	}
}

func TestADS1220ReadTooLongBoundary(t *testing.T) {
	// Exactly at the window is already too long.
	h := newHarness(t)
	configADS1220(t, h)
	runCommand(t, "query_ads1220", encodeArgs(testADS12OID, 1000))
	h.clearSent()

	h.spi.transferTicks = spiMaxReadTicks
	h.spi.queueResponse(0x00, 0x00, 0x10)
	h.pollADS1220(1000)

	data := h.sentByName(t, "sensor_bulk_data")
	if len(data) != 1 {
		t.Fatalf("%d data messages, want 1", len(data))
	}
	samples := decodeSamples(t, data[0].blobs["data"])
	if samples[len(samples)-1] != SampleError {
		t.Fatalf("last sample %v is not the error sentinel", samples)
	}
	adc := ads1220Sensors[0]
	if adc.sb.ErrorCode != ADS1220ErrorReadTooLong {
		t.Errorf("error code = %d, want %d", adc.sb.ErrorCode, ADS1220ErrorReadTooLong)
	}
	if timerList != nil {
		t.Error("poll timer rearmed after error")
	}
}

func TestADS1220ReadJustUnderWindow(t *testing.T) {
	h := newHarness(t)
	configADS1220(t, h)
	runCommand(t, "query_ads1220", encodeArgs(testADS12OID, 1000))
	h.clearSent()

	h.spi.transferTicks = spiMaxReadTicks - 1
	h.spi.queueResponse(0x00, 0x00, 0x10)
	h.pollADS1220(1000)

	adc := ads1220Sensors[0]
	if adc.sb.ErrorCode != 0 {
		t.Errorf("error code = %d, want 0", adc.sb.ErrorCode)
	}
	if adc.sb.DataCount != BytesPerSample {
		t.Errorf("buffered %d bytes, want %d", adc.sb.DataCount, BytesPerSample)
	}
}

func TestADS1220SPIFaultShutsDown(t *testing.T) {
	h := newHarness(t)
	configADS1220(t, h)
	runCommand(t, "query_ads1220", encodeArgs(testADS12OID, 1000))
	h.clearSent()

	h.spi.err = errors.New("bus stuck")
	h.pollADS1220(1000)

	if !IsShutdown() {
		t.Fatal("spi fault did not shut down")
	}
	if len(h.sentByName(t, "shutdown")) != 1 {
		t.Error("no shutdown response sent")
	}
}

func TestADS1220StopIsIdempotent(t *testing.T) {
	h := newHarness(t)
	configADS1220(t, h)
	runCommand(t, "query_ads1220", encodeArgs(testADS12OID, 1000))
	runCommand(t, "query_ads1220", encodeArgs(testADS12OID, 0))

	adc := ads1220Sensors[0]
	if timerList != nil || adc.pending || adc.RestTicks != 0 {
		t.Error("stop left sampling state armed")
	}
	runCommand(t, "query_ads1220", encodeArgs(testADS12OID, 0))
	if timerList != nil {
		t.Error("second stop armed a timer")
	}
}

func TestADS1220StatusMasksReadinessCheck(t *testing.T) {
	h := newHarness(t)
	configADS1220(t, h)
	runCommand(t, "query_ads1220", encodeArgs(testADS12OID, 1000))
	h.clearSent()

	runCommand(t, "query_ads1220_status", encodeArgs(testADS12OID))
	status := h.sentByName(t, "sensor_bulk_status")
	if len(status) != 1 {
		t.Fatalf("%d status messages, want 1", len(status))
	}
	if status[0].ints["buffered"] != BytesPerSample {
		t.Errorf("buffered = %d, want %d", status[0].ints["buffered"], BytesPerSample)
	}
	if status[0].ints["query_ticks"] != 0 {
		t.Errorf("query_ticks = %d, want 0", status[0].ints["query_ticks"])
	}
}
