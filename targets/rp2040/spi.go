//go:build rp2040

package main

import (
	"errors"
	"machine"

	"loadcell/core"
)

// Hardware SPI bus pinouts, matching the Klipper bus numbering for
// this chip.
type spiBusConfig struct {
	spi  *machine.SPI
	sck  machine.Pin
	mosi machine.Pin
	miso machine.Pin
}

var rp2040SPIBuses = map[core.SPIBusID]spiBusConfig{
	0: {spi: machine.SPI0, sck: machine.GPIO2, mosi: machine.GPIO3, miso: machine.GPIO0},
	1: {spi: machine.SPI0, sck: machine.GPIO6, mosi: machine.GPIO7, miso: machine.GPIO4},
	2: {spi: machine.SPI0, sck: machine.GPIO18, mosi: machine.GPIO19, miso: machine.GPIO16},
	3: {spi: machine.SPI1, sck: machine.GPIO10, mosi: machine.GPIO11, miso: machine.GPIO8},
	4: {spi: machine.SPI1, sck: machine.GPIO14, mosi: machine.GPIO15, miso: machine.GPIO12},
}

// RP2040SPIDriver implements core.SPIDriver over machine.SPI,
// reconfiguring a controller only when the settings change.
type RP2040SPIDriver struct {
	configured map[core.SPIBusID]*spiInstance
}

type spiInstance struct {
	spi  *machine.SPI
	mode core.SPIMode
	rate uint32
}

func NewRP2040SPIDriver() *RP2040SPIDriver {
	return &RP2040SPIDriver{configured: make(map[core.SPIBusID]*spiInstance)}
}

func (d *RP2040SPIDriver) ConfigureBus(config core.SPIConfig) (interface{}, error) {
	if inst, ok := d.configured[config.BusID]; ok {
		if inst.mode == config.Mode && inst.rate == config.Rate {
			return inst, nil
		}
	}

	busConfig, ok := rp2040SPIBuses[config.BusID]
	if !ok {
		return nil, errors.New("unknown spi bus")
	}

	err := busConfig.spi.Configure(machine.SPIConfig{
		Frequency: config.Rate,
		SCK:       busConfig.sck,
		SDO:       busConfig.mosi,
		SDI:       busConfig.miso,
		Mode:      uint8(config.Mode),
	})
	if err != nil {
		return nil, err
	}

	inst := &spiInstance{spi: busConfig.spi, mode: config.Mode, rate: config.Rate}
	d.configured[config.BusID] = inst
	return inst, nil
}

func (d *RP2040SPIDriver) Transfer(busHandle interface{}, tx, rx []byte) error {
	inst, ok := busHandle.(*spiInstance)
	if !ok {
		return errors.New("invalid spi bus handle")
	}
	return inst.spi.Tx(tx, rx)
}

// SoftwareSPI bit-bangs an SPI bus over GPIO for chips wired off the
// hardware bus pinouts. Clock timing comes from the core delay
// helpers so rates stay within what the wired chip tolerates.
type SoftwareSPI struct{}

type softSPIInstance struct {
	sclk, mosi, miso core.GPIOPin
	mode             core.SPIMode
	halfPeriod       uint32
}

func NewSoftwareSPI() *SoftwareSPI {
	return &SoftwareSPI{}
}

func (d *SoftwareSPI) ConfigureSoftwareSPI(sclk, mosi, miso uint32,
	mode core.SPIMode, rate uint32) (interface{}, error) {
	if rate == 0 {
		return nil, errors.New("software spi rate must be nonzero")
	}
	gpio := core.MustGPIO()

	inst := &softSPIInstance{
		sclk:       core.GPIOPin(sclk),
		mosi:       core.GPIOPin(mosi),
		miso:       core.GPIOPin(miso),
		mode:       mode,
		halfPeriod: core.TimerFreq / rate / 2,
	}
	cpol := mode == 2 || mode == 3
	if err := gpio.ConfigureOutput(inst.sclk, cpol); err != nil {
		return nil, err
	}
	if err := gpio.ConfigureOutput(inst.mosi, false); err != nil {
		return nil, err
	}
	if err := gpio.ConfigureInput(inst.miso, false); err != nil {
		return nil, err
	}
	return inst, nil
}

func (d *SoftwareSPI) Transfer(handle interface{}, tx, rx []byte) error {
	inst, ok := handle.(*softSPIInstance)
	if !ok {
		return errors.New("invalid software spi handle")
	}
	gpio := core.MustGPIO()
	cpol := inst.mode == 2 || inst.mode == 3
	cpha := inst.mode == 1 || inst.mode == 3

	for i := range tx {
		out := tx[i]
		var in byte
		for bit := 7; bit >= 0; bit-- {
			if cpha {
				gpio.WritePin(inst.sclk, !cpol)
				gpio.WritePin(inst.mosi, out&(1<<uint(bit)) != 0)
				d.halfDelay(inst)
				gpio.WritePin(inst.sclk, cpol)
				if gpio.ReadPin(inst.miso) {
					in |= 1 << uint(bit)
				}
				d.halfDelay(inst)
			} else {
				gpio.WritePin(inst.mosi, out&(1<<uint(bit)) != 0)
				d.halfDelay(inst)
				gpio.WritePin(inst.sclk, !cpol)
				if gpio.ReadPin(inst.miso) {
					in |= 1 << uint(bit)
				}
				d.halfDelay(inst)
				gpio.WritePin(inst.sclk, cpol)
			}
		}
		if rx != nil {
			rx[i] = in
		}
	}
	return nil
}

func (d *SoftwareSPI) halfDelay(inst *softSPIInstance) {
	start := core.GetTime()
	for !core.CheckElapsed(start, core.GetTime(), inst.halfPeriod) {
	}
}
