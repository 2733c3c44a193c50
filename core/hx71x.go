package core

import (
	"errors"

	"loadcell/protocol"
)

// HX711/HX717 stream error codes, carried in the error record that
// follows a bad read.
const (
	HX71xErrorReadyAfterRead = 1
	HX71xErrorReadTooLong    = 2
	HX71xErrorOutOfRange     = 3
)

// Both chip revisions need 200ns minimum high and low time on sclk.
var hx71xMinPulseTicks = NsecsToTicks(200)

// A bit-bang read stretched past this window may span a conversion
// boundary and mix bits from two samples.
var hx71xMaxReadTicks = TimerFromUS(50)

// HX71x drives one HX711 or HX717 load-cell ADC over two GPIO pins:
// a data/ready input and a bit-bang clock output.
type HX71x struct {
	Timer       Timer
	GainChannel uint8 // extra clock pulses selecting gain+channel (1-4)
	RestTicks   uint32

	doutPin GPIOPin
	sclkPin GPIOPin

	pending bool
	sb      SampleBuffer
}

var (
	hx71xSensors = make(map[uint8]*HX71x)
	wakeHX71x    TaskWake
)

// InitHX71xCommands registers the HX71x configuration and query
// commands.
func InitHX71xCommands() {
	InitSensorBulkResponses()
	RegisterCommand("config_hx71x",
		"oid=%c gain_channel=%c dout_pin=%u sclk_pin=%u", handleConfigHX71x)
	RegisterCommand("query_hx71x", "oid=%c rest_ticks=%u", handleQueryHX71x)
	RegisterCommand("query_hx71x_status", "oid=%c", handleQueryHX71xStatus)
}

// LookupHX71x resolves a sensor oid.
func LookupHX71x(oid uint8) (*HX71x, error) {
	hx, ok := hx71xSensors[oid]
	if !ok {
		return nil, errors.New("unknown hx71x oid: " + itoa(int(oid)))
	}
	return hx, nil
}

// dataReady reports whether a conversion is waiting; the chip holds
// dout high while converting and drops it when data is ready.
func (hx *HX71x) dataReady() bool {
	return !MustGPIO().ReadPin(hx.doutPin)
}

// rearm schedules the next poll one rest interval from now.
func (hx *HX71x) rearm() {
	state := disableInterrupts()
	hx.Timer.WakeTime = GetTime() + hx.RestTicks
	ScheduleTimer(&hx.Timer)
	restoreInterrupts(state)
}

// sendError records a fault in the sample stream and flushes it
// without waiting for the buffer to fill. The poll timer is left
// disarmed; the host restarts the sensor after handling the error.
func (hx *HX71x) sendError(oid uint8, errorCode uint8) {
	hx.pending = false
	hx.sb.AppendSample(SampleError)
	hx.sb.ErrorCode = uint16(errorCode)
	hx.sb.Report(oid)
}

// pulseClock toggles sclk once with interrupts masked so neither edge
// can stretch past the chip's 60us power-down threshold.
func (hx *HX71x) pulseClock() {
	gpio := MustGPIO()
	state := disableInterrupts()
	gpio.WritePin(hx.sclkPin, true)
	delayNoIRQ(GetTime(), hx71xMinPulseTicks)
	gpio.WritePin(hx.sclkPin, false)
	delayNoIRQ(GetTime(), hx71xMinPulseTicks)
	restoreInterrupts(state)
}

// readADC performs one poll: shift out the 24-bit conversion, clock
// the gain/channel selection for the next one, validate, and buffer.
func (hx *HX71x) readADC(oid uint8) {
	if !hx.dataReady() {
		// Conversion still in progress; check again next interval.
		hx.rearm()
		return
	}

	var counts int32
	startTime := GetTime()
	for bit := 0; bit < 24; bit++ {
		hx.pulseClock()
		counts <<= 1
		if MustGPIO().ReadPin(hx.doutPin) {
			counts |= 1
		}
	}

	// 1 to 4 extra pulses select gain and channel for the next sample.
	for i := uint8(0); i < hx.GainChannel; i++ {
		hx.pulseClock()
	}

	if hx.dataReady() {
		// dout should stay high until the next conversion; ready now
		// means the bit clock desynced from the chip.
		hx.sendError(oid, HX71xErrorReadyAfterRead)
		return
	}

	if CheckElapsed(startTime, GetTime(), hx71xMaxReadTicks) {
		hx.sendError(oid, HX71xErrorReadTooLong)
		return
	}

	if counts == 0x800000 {
		// Negative zero.
		counts = 0
	} else if counts > 0x800000 {
		counts |= -0x1000000
	}

	if counts < -0x7FFFFF || counts > 0x7FFFFF {
		hx.sendError(oid, HX71xErrorOutOfRange)
		return
	}

	hx.sb.AppendSample(counts)
	hx.sb.FlushIfFull(oid)
	hx.pending = false
	hx.rearm()
}

func handleConfigHX71x(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	gainChannel, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	doutPin, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	sclkPin, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	if gainChannel < 1 || gainChannel > 4 {
		Shutdown("hx71x gain/channel out of range 1-4")
		return errors.New("hx71x gain/channel out of range 1-4")
	}

	hx := &HX71x{
		GainChannel: uint8(gainChannel),
		doutPin:     GPIOPin(doutPin),
		sclkPin:     GPIOPin(sclkPin),
	}
	hx.Timer.Handler = func(t *Timer) uint8 {
		hx.pending = true
		wakeHX71x.Wake()
		return SF_DONE
	}

	gpio := MustGPIO()
	if err := gpio.ConfigureInput(hx.doutPin, true); err != nil {
		return err
	}
	if err := gpio.ConfigureOutput(hx.sclkPin, false); err != nil {
		return err
	}
	// Hold sclk high to keep the chip powered down until queried.
	gpio.WritePin(hx.sclkPin, true)

	hx71xSensors[uint8(oid)] = hx
	return nil
}

func handleQueryHX71x(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	restTicks, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	hx, err := LookupHX71x(uint8(oid))
	if err != nil {
		return err
	}

	CancelTimer(&hx.Timer)
	hx.pending = false
	hx.RestTicks = restTicks
	if restTicks == 0 {
		MustGPIO().WritePin(hx.sclkPin, true) // power down
		return nil
	}

	MustGPIO().WritePin(hx.sclkPin, false) // wake from power down
	hx.sb.Reset()
	hx.rearm()
	return nil
}

func handleQueryHX71xStatus(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	hx, err := LookupHX71x(uint8(oid))
	if err != nil {
		return err
	}

	state := disableInterrupts()
	startTime := GetTime()
	ready := hx.dataReady()
	restoreInterrupts(state)

	pendingBytes := uint8(0)
	if ready {
		pendingBytes = BytesPerSample
	}
	hx.sb.SendStatus(uint8(oid), startTime, 0, pendingBytes)
	return nil
}

// HX71xCaptureTask polls every sensor whose timer has fired. The
// platform main loop runs this after ProcessTimers.
func HX71xCaptureTask() {
	if !wakeHX71x.CheckWake() {
		return
	}
	for oid, hx := range hx71xSensors {
		if hx.pending {
			hx.readADC(oid)
		}
	}
}

// StopAllHX71x halts sampling on every sensor and powers the chips
// down, part of the firmware shutdown path.
func StopAllHX71x() {
	for _, hx := range hx71xSensors {
		CancelTimer(&hx.Timer)
		hx.pending = false
		hx.RestTicks = 0
		MustGPIO().WritePin(hx.sclkPin, true)
	}
}
