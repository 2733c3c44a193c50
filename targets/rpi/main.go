//go:build linux

// Command loadcell-rpi runs the sampler firmware as a Linux process
// on a Raspberry Pi, with sensors wired to the Pi's own GPIO header
// and SPI ports. The protocol runs over stdin/stdout; point the host
// tool at it through a pty bridge such as socat.
package main

import (
	"fmt"
	"os"
	"runtime"

	"loadcell/core"
	"loadcell/hal/rpi"
	"loadcell/protocol"
)

var (
	inputBuffer  *protocol.FifoBuffer
	outputBuffer *protocol.ScratchOutput
	transport    *protocol.Transport
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "loadcell-rpi:", err)
		os.Exit(1)
	}
}

func run() error {
	gpioDriver, err := rpi.OpenGPIO()
	if err != nil {
		return fmt.Errorf("open gpio: %w", err)
	}
	defer gpioDriver.Close()

	spiDriver, err := rpi.OpenSPI()
	if err != nil {
		return fmt.Errorf("open spi: %w", err)
	}
	defer spiDriver.Close()

	core.InitCoreCommands()
	core.InitSPICommands()
	core.InitTriggerSyncCommands()
	core.InitLoadCellEndstopCommands()
	core.InitHX71xCommands()
	core.InitADS1220Commands()
	core.InitADS1256Commands()

	core.SetGPIODriver(gpioDriver)
	core.SetSPIDriver(spiDriver)

	inputBuffer = protocol.NewFifoBuffer(256)
	outputBuffer = protocol.NewScratchOutput()

	transport = protocol.NewTransport(outputBuffer, func(cmdID uint16, data *[]byte) error {
		return core.DispatchCommand(cmdID, data)
	})
	transport.SetResetCallback(func() {
		inputBuffer.Reset()
		outputBuffer.Reset()
		core.ResetFirmwareState()
	})
	transport.SetFlushCallback(flushOutput)
	core.SetGlobalTransport(transport)

	stop := make(chan struct{})
	defer close(stop)
	go rpi.RunClock(stop)

	incoming := make(chan []byte, 16)
	go readerLoop(incoming)

	for {
		select {
		case data, ok := <-incoming:
			if !ok {
				return nil
			}
			inputBuffer.Write(data)
			transport.Receive(inputBuffer)
		default:
		}

		core.ProcessTimers()
		core.HX71xCaptureTask()
		core.ADS1220CaptureTask()
		core.ADS1256CaptureTask()

		flushOutput()
		runtime.Gosched()
	}
}

// readerLoop drains stdin into the command channel; EOF means the
// host side went away.
func readerLoop(incoming chan<- []byte) {
	defer close(incoming)
	buffer := make([]byte, 256)
	for {
		n, err := os.Stdin.Read(buffer)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buffer[:n])
			incoming <- chunk
		}
		if err != nil {
			return
		}
	}
}

func flushOutput() {
	data := outputBuffer.Result()
	if len(data) == 0 {
		return
	}
	os.Stdout.Write(data)
	outputBuffer.Reset()
}
