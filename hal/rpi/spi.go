//go:build linux

package rpi

import (
	"errors"
	"strconv"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"loadcell/core"
)

// SPIDriver implements core.SPIDriver over the kernel spidev ports.
// Chip select stays with the core SPI device layer, so every bus is
// opened on CS 0 with the kernel CS line unused.
type SPIDriver struct {
	ports map[core.SPIBusID]*spiPort
}

type spiPort struct {
	port spi.PortCloser
	conn spi.Conn
	mode core.SPIMode
	rate uint32
}

// OpenSPI initializes the host drivers and returns the SPI driver.
func OpenSPI() (*SPIDriver, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	return &SPIDriver{ports: make(map[core.SPIBusID]*spiPort)}, nil
}

// Close releases all opened ports.
func (d *SPIDriver) Close() error {
	var firstErr error
	for _, p := range d.ports {
		if err := p.port.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.ports = make(map[core.SPIBusID]*spiPort)
	return firstErr
}

func (d *SPIDriver) ConfigureBus(config core.SPIConfig) (interface{}, error) {
	if p, ok := d.ports[config.BusID]; ok {
		if p.mode == config.Mode && p.rate == config.Rate {
			return p, nil
		}
		p.port.Close()
		delete(d.ports, config.BusID)
	}

	name := "SPI" + strconv.Itoa(int(config.BusID)) + ".0"
	port, err := spireg.Open(name)
	if err != nil {
		return nil, err
	}
	conn, err := port.Connect(physic.Frequency(config.Rate)*physic.Hertz,
		spi.Mode(config.Mode), 8)
	if err != nil {
		port.Close()
		return nil, err
	}

	p := &spiPort{port: port, conn: conn, mode: config.Mode, rate: config.Rate}
	d.ports[config.BusID] = p
	return p, nil
}

func (d *SPIDriver) Transfer(busHandle interface{}, tx, rx []byte) error {
	p, ok := busHandle.(*spiPort)
	if !ok {
		return errors.New("invalid spi bus handle")
	}
	return p.conn.Tx(tx, rx)
}
