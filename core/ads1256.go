package core

import (
	"errors"

	"loadcell/protocol"
)

// ADS1256 drives one ADS1256 ADC over a shared SPI device. Unlike the
// ADS1220 the chip gives no way to resynchronize a desynced burst
// read, so suspect samples halt the firmware instead of producing
// stream error records. Valid samples are also forwarded to an
// optional load-cell endstop.
type ADS1256 struct {
	Timer     Timer
	RestTicks uint32

	dataReadyPin GPIOPin
	spi          *SPIDevice
	endstop      *LoadCellEndstop

	pending bool
	sb      SampleBuffer
}

var (
	ads1256Sensors = make(map[uint8]*ADS1256)
	wakeADS1256    TaskWake
)

// InitADS1256Commands registers the ADS1256 configuration and query
// commands.
func InitADS1256Commands() {
	InitSensorBulkResponses()
	RegisterCommand("config_ads1256",
		"oid=%c spi_oid=%c data_ready_pin=%u", handleConfigADS1256)
	RegisterCommand("attach_endstop_ads1256",
		"oid=%c load_cell_endstop_oid=%c", handleAttachEndstopADS1256)
	RegisterCommand("query_ads1256", "oid=%c rest_ticks=%u", handleQueryADS1256)
	RegisterCommand("query_ads1256_status", "oid=%c", handleQueryADS1256Status)
}

// LookupADS1256 resolves a sensor oid.
func LookupADS1256(oid uint8) (*ADS1256, error) {
	adc, ok := ads1256Sensors[oid]
	if !ok {
		return nil, errors.New("unknown ads1256 oid: " + itoa(int(oid)))
	}
	return adc, nil
}

func (adc *ADS1256) dataReady() bool {
	return !MustGPIO().ReadPin(adc.dataReadyPin)
}

func (adc *ADS1256) rearm() {
	state := disableInterrupts()
	adc.Timer.WakeTime = GetTime() + adc.RestTicks
	ScheduleTimer(&adc.Timer)
	restoreInterrupts(state)
}

// readADC performs one poll: burst-read the 24-bit conversion over
// SPI, validate, buffer, and feed the endstop.
func (adc *ADS1256) readADC(oid uint8) {
	if !adc.dataReady() {
		adc.rearm()
		return
	}

	msg := [3]byte{}
	startTime := GetTime()
	if err := adc.spi.Transfer(msg[:]); err != nil {
		Shutdown("ads1256 spi transfer failed")
		return
	}
	if CheckElapsed(startTime, GetTime(), spiMaxReadTicks) {
		Shutdown("ads1256 read timing error, read took too long")
		return
	}

	raw := int32(msg[0])<<16 | int32(msg[1])<<8 | int32(msg[2])
	mid := int32(1) << 23
	counts := (raw ^ mid) - mid

	if counts == -1 {
		// All-ones reads back when the burst started mid-conversion.
		Shutdown("ads1256 possible bad read")
		return
	}
	if counts >= 0x800000 {
		Shutdown("ads1256 invalid counts")
		return
	}

	adc.sb.AppendSample(counts)

	if adc.endstop != nil {
		adc.endstop.ReportSample(counts, startTime)
	}

	adc.sb.FlushIfFull(oid)
	adc.pending = false
	adc.rearm()
}

func handleConfigADS1256(data *[]byte) error {
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

	adc := &ADS1256{
		dataReadyPin: GPIOPin(dataReadyPin),
		spi:          spi,
	}
	adc.Timer.Handler = func(t *Timer) uint8 {
		adc.pending = true
		wakeADS1256.Wake()
		return SF_DONE
	}

	if err := MustGPIO().ConfigureInput(adc.dataReadyPin, false); err != nil {
		return err
	}

	ads1256Sensors[uint8(oid)] = adc
	return nil
}

func handleAttachEndstopADS1256(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	endstopOID, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	adc, err := LookupADS1256(uint8(oid))
	if err != nil {
		return err
	}
	endstop, err := LookupLoadCellEndstop(uint8(endstopOID))
	if err != nil {
		return err
	}
	adc.endstop = endstop
	return nil
}

func handleQueryADS1256(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	restTicks, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	adc, err := LookupADS1256(uint8(oid))
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

func handleQueryADS1256Status(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	adc, err := LookupADS1256(uint8(oid))
	if err != nil {
		return err
	}

	startTime := GetTime()
	pendingBytes := uint8(0)
	if adc.dataReady() {
		pendingBytes = BytesPerSample
	}
	endTime := GetTime()
	adc.sb.SendStatus(uint8(oid), startTime, endTime-startTime, pendingBytes)
	return nil
}

// ADS1256CaptureTask polls every sensor whose timer has fired.
func ADS1256CaptureTask() {
	if !wakeADS1256.CheckWake() {
		return
	}
	for oid, adc := range ads1256Sensors {
		if adc.pending {
			adc.readADC(oid)
		}
	}
}

// StopAllADS1256 halts sampling on every sensor, part of the firmware
// shutdown path.
func StopAllADS1256() {
	for _, adc := range ads1256Sensors {
		CancelTimer(&adc.Timer)
		adc.pending = false
		adc.RestTicks = 0
	}
}
