//go:build rp2040

package main

import (
	"machine"
	"runtime"

	"loadcell/core"
	"loadcell/protocol"
)

var (
	inputBuffer  *protocol.FifoBuffer
	outputBuffer *protocol.ScratchOutput
	transport    *protocol.Transport
)

func main() {
	InitClock()

	core.InitCoreCommands()
	core.InitSPICommands()
	core.InitTriggerSyncCommands()
	core.InitLoadCellEndstopCommands()
	core.InitHX71xCommands()
	core.InitADS1220Commands()
	core.InitADS1256Commands()

	core.SetGPIODriver(NewRP2040GPIODriver())
	core.SetSPIDriver(NewRP2040SPIDriver())
	core.SetSoftwareSPIDriver(NewSoftwareSPI())

	inputBuffer = protocol.NewFifoBuffer(256)
	outputBuffer = protocol.NewScratchOutput()

	transport = protocol.NewTransport(outputBuffer, handleCommand)
	transport.SetResetCallback(func() {
		inputBuffer.Reset()
		outputBuffer.Reset()
		core.ResetFirmwareState()
	})
	// Acks must reach the host before any queued response.
	transport.SetFlushCallback(flushSerial)
	core.SetGlobalTransport(transport)

	go serialReaderLoop()

	for {
		UpdateSystemTime()

		if inputBuffer.Available() > 0 {
			transport.Receive(inputBuffer)
		}

		core.ProcessTimers()
		core.HX71xCaptureTask()
		core.ADS1220CaptureTask()
		core.ADS1256CaptureTask()

		flushSerial()
		runtime.Gosched()
	}
}

// handleCommand routes decoded commands to the core registry. A
// handler error drops the rest of the frame but keeps the firmware
// running.
func handleCommand(cmdID uint16, data *[]byte) error {
	return core.DispatchCommand(cmdID, data)
}

// serialReaderLoop drains the serial port into the input fifo.
func serialReaderLoop() {
	for {
		n := machine.Serial.Buffered()
		if n == 0 {
			runtime.Gosched()
			continue
		}
		for i := 0; i < n; i++ {
			b, err := machine.Serial.ReadByte()
			if err != nil {
				break
			}
			if inputBuffer.Write([]byte{b}) == 0 {
				// Input overrun; the CRC check will reject the
				// truncated frame and force a retransmit.
				break
			}
		}
	}
}

// flushSerial pushes any framed output to the host.
func flushSerial() {
	data := outputBuffer.Result()
	if len(data) == 0 {
		return
	}
	machine.Serial.Write(data)
	outputBuffer.Reset()
}
