package core

import (
	"errors"

	"loadcell/protocol"
)

// ADS1220 stream error codes.
const (
	ADS1220ErrorReadTooLong = 1
	ADS1220ErrorOutOfRange  = 2
)

// An SPI read delayed past this window straddles the next conversion
// and cannot be trusted.
var spiMaxReadTicks = TimerFromUS(150)

// ADS1220 drives one ADS1220 ADC: a shared SPI device for the data
// burst plus a data-ready input that the chip pulls low when a
// conversion completes.
type ADS1220 struct {
	Timer     Timer
	RestTicks uint32

	dataReadyPin GPIOPin
	spi          *SPIDevice

	pending bool
	sb      SampleBuffer
}

var (
	ads1220Sensors = make(map[uint8]*ADS1220)
	wakeADS1220    TaskWake
)

// InitADS1220Commands registers the ADS1220 configuration and query
// commands.
func InitADS1220Commands() {
	InitSensorBulkResponses()
	RegisterCommand("config_ads1220",
		"oid=%c spi_oid=%c data_ready_pin=%u", handleConfigADS1220)
	RegisterCommand("query_ads1220", "oid=%c rest_ticks=%u", handleQueryADS1220)
	RegisterCommand("query_ads1220_status", "oid=%c", handleQueryADS1220Status)
}

// LookupADS1220 resolves a sensor oid.
func LookupADS1220(oid uint8) (*ADS1220, error) {
	adc, ok := ads1220Sensors[oid]
	if !ok {
		return nil, errors.New("unknown ads1220 oid: " + itoa(int(oid)))
	}
	return adc, nil
}

func (adc *ADS1220) dataReady() bool {
	return !MustGPIO().ReadPin(adc.dataReadyPin)
}

func (adc *ADS1220) rearm() {
	state := disableInterrupts()
	adc.Timer.WakeTime = GetTime() + adc.RestTicks
	ScheduleTimer(&adc.Timer)
	restoreInterrupts(state)
}

// sendError records a fault in the sample stream and flushes
// immediately, leaving the poll timer disarmed for the host to
// restart.
func (adc *ADS1220) sendError(oid uint8, errorCode uint8) {
	adc.pending = false
	adc.sb.AppendSample(SampleError)
	adc.sb.ErrorCode = uint16(errorCode)
	adc.sb.Report(oid)
}

// readADC performs one poll: burst-read the 24-bit conversion over
// SPI, validate, and buffer.
func (adc *ADS1220) readADC(oid uint8) {
	if !adc.dataReady() {
		adc.rearm()
		return
	}

	msg := [3]byte{}
	startTime := GetTime()
	if err := adc.spi.Transfer(msg[:]); err != nil {
		Shutdown("ads1220 spi transfer failed")
		return
	}
	if CheckElapsed(startTime, GetTime(), spiMaxReadTicks) {
		// An interrupt stalled the read long enough to be unusable.
		adc.sendError(oid, ADS1220ErrorReadTooLong)
		return
	}

	counts := int32(msg[0])<<16 | int32(msg[1])<<8 | int32(msg[2])

	if counts == 0x800000 {
		// Negative zero.
		counts = 0
	} else if counts > 0x800000 {
		counts |= -0x1000000
	}

	if counts < -0x7FFFFF || counts > 0x7FFFFF {
		adc.sendError(oid, ADS1220ErrorOutOfRange)
		return
	}

	adc.sb.AppendSample(counts)
	adc.sb.FlushIfFull(oid)
	adc.pending = false
	adc.rearm()
}

func handleConfigADS1220(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	spiOID, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	dataReadyPin, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	spi, err := LookupSPIDevice(uint8(spiOID))
	if err != nil {
		return err
	}

	adc := &ADS1220{
		dataReadyPin: GPIOPin(dataReadyPin),
		spi:          spi,
	}
	adc.Timer.Handler = func(t *Timer) uint8 {
		adc.pending = true
		wakeADS1220.Wake()
		return SF_DONE
	}

	if err := MustGPIO().ConfigureInput(adc.dataReadyPin, false); err != nil {
		return err
	}

	ads1220Sensors[uint8(oid)] = adc
	return nil
}

func handleQueryADS1220(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	restTicks, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	adc, err := LookupADS1220(uint8(oid))
	if err != nil {
		return err
	}

	CancelTimer(&adc.Timer)
	adc.pending = false
	adc.RestTicks = restTicks
	if restTicks == 0 {
		return nil
	}

	adc.sb.Reset()
	adc.rearm()
	return nil
}

func handleQueryADS1220Status(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	adc, err := LookupADS1220(uint8(oid))
	if err != nil {
		return err
	}

	state := disableInterrupts()
	startTime := GetTime()
	ready := adc.dataReady()
	restoreInterrupts(state)

	pendingBytes := uint8(0)
	if ready {
		pendingBytes = BytesPerSample
	}
	adc.sb.SendStatus(uint8(oid), startTime, 0, pendingBytes)
	return nil
}

// ADS1220CaptureTask polls every sensor whose timer has fired.
func ADS1220CaptureTask() {
	if !wakeADS1220.CheckWake() {
		return
	}
	for oid, adc := range ads1220Sensors {
		if adc.pending {
			adc.readADC(oid)
		}
	}
}

// StopAllADS1220 halts sampling on every sensor, part of the firmware
// shutdown path.
func StopAllADS1220() {
	for _, adc := range ads1220Sensors {
		CancelTimer(&adc.Timer)
		adc.pending = false
		adc.RestTicks = 0
	}
}
