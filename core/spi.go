package core

import (
	"errors"

	"loadcell/protocol"
)

// SPI device flags.
const (
	SPIFlagSoftware     = 0x01
	SPIFlagCSActiveHigh = 0x02
	SPIFlagHaveCS       = 0x04
	SPIFlagConfigured   = 0x08
)

// Software SPI bus ids use the high range.
const softwareSPIBusBase = 0x80

// SPIDevice is one host-configured SPI peripheral: an optional chip
// select pin plus a bus binding.
type SPIDevice struct {
	OID   uint8
	Flags uint8
	CSPin GPIOPin

	BusHandle interface{}
	BusID     SPIBusID
	Mode      SPIMode
	Rate      uint32
}

var spiDevices = make(map[uint8]*SPIDevice)

var errSPINotConfigured = errors.New("spi device bus not configured")

// InitSPICommands registers the SPI configuration and transfer
// commands.
func InitSPICommands() {
	RegisterCommand("config_spi", "oid=%c pin=%u cs_active_high=%c", handleConfigSPI)
	RegisterCommand("config_spi_without_cs", "oid=%c", handleConfigSPIWithoutCS)
	RegisterCommand("spi_set_bus", "oid=%c spi_bus=%u mode=%u rate=%u", handleSPISetBus)
	RegisterCommand("spi_set_software_bus",
		"oid=%c miso_pin=%u mosi_pin=%u sclk_pin=%u mode=%u rate=%u",
		handleSPISetSoftwareBus)
	RegisterCommand("spi_transfer", "oid=%c data=%*s", handleSPITransfer)
	RegisterCommand("spi_send", "oid=%c data=%*s", handleSPISend)
	RegisterResponse("spi_transfer_response", "oid=%c response=%*s")
}

// LookupSPIDevice resolves a device oid, for sensors that reference an
// SPI device by oid in their own config commands.
func LookupSPIDevice(oid uint8) (*SPIDevice, error) {
	dev, ok := spiDevices[oid]
	if !ok {
		return nil, errors.New("unknown spi oid: " + itoa(int(oid)))
	}
	return dev, nil
}

func (dev *SPIDevice) csWrite(active bool) {
	if dev.Flags&SPIFlagHaveCS == 0 {
		return
	}
	level := active
	if dev.Flags&SPIFlagCSActiveHigh == 0 {
		level = !active
	}
	MustGPIO().WritePin(dev.CSPin, level)
}

// Transfer runs one full-duplex transfer with chip select held
// asserted, writing received bytes over data in place.
func (dev *SPIDevice) Transfer(data []byte) error {
	if dev.Flags&SPIFlagConfigured == 0 {
		return errSPINotConfigured
	}

	dev.csWrite(true)
	var err error
	if dev.Flags&SPIFlagSoftware != 0 {
		err = GetSoftwareSPI().Transfer(dev.BusHandle, data, data)
	} else {
		err = MustSPI().Transfer(dev.BusHandle, data, data)
	}
	dev.csWrite(false)
	return err
}

func handleConfigSPI(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	pin, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	csActiveHigh, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	dev := &SPIDevice{
		OID:   uint8(oid),
		Flags: SPIFlagHaveCS,
		CSPin: GPIOPin(pin),
	}
	if csActiveHigh != 0 {
		dev.Flags |= SPIFlagCSActiveHigh
	}

	// Start with chip select deasserted.
	idle := csActiveHigh == 0
	if err := MustGPIO().ConfigureOutput(dev.CSPin, idle); err != nil {
		return err
	}

	spiDevices[uint8(oid)] = dev
	return nil
}

func handleConfigSPIWithoutCS(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	spiDevices[uint8(oid)] = &SPIDevice{OID: uint8(oid)}
	return nil
}

func handleSPISetBus(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	spiBus, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	mode, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	rate, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	dev, err := LookupSPIDevice(uint8(oid))
	if err != nil {
		return err
	}
	if spiBus >= softwareSPIBusBase {
		return errors.New("software spi requires spi_set_software_bus")
	}

	dev.BusID = SPIBusID(spiBus)
	dev.Mode = SPIMode(mode)
	dev.Rate = rate

	handle, err := MustSPI().ConfigureBus(SPIConfig{
		BusID: dev.BusID,
		Mode:  dev.Mode,
		Rate:  rate,
	})
	if err != nil {
		return err
	}
	dev.BusHandle = handle
	dev.Flags |= SPIFlagConfigured
	return nil
}

func handleSPISetSoftwareBus(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	miso, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	mosi, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	sclk, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	mode, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	rate, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	dev, err := LookupSPIDevice(uint8(oid))
	if err != nil {
		return err
	}
	soft := GetSoftwareSPI()
	if soft == nil {
		return errors.New("software spi not available on this target")
	}

	handle, err := soft.ConfigureSoftwareSPI(sclk, mosi, miso, SPIMode(mode), rate)
	if err != nil {
		return err
	}
	dev.BusHandle = handle
	dev.Mode = SPIMode(mode)
	dev.Rate = rate
	dev.Flags |= SPIFlagSoftware | SPIFlagConfigured
	return nil
}

func handleSPITransfer(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	payload, err := protocol.DecodeVLQBytes(data)
	if err != nil {
		return err
	}

	dev, err := LookupSPIDevice(uint8(oid))
	if err != nil {
		return err
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	if err := dev.Transfer(buf); err != nil {
		return err
	}

	SendResponse("spi_transfer_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, oid)
		protocol.EncodeVLQBytes(output, buf)
	})
	return nil
}

func handleSPISend(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	payload, err := protocol.DecodeVLQBytes(data)
	if err != nil {
		return err
	}

	dev, err := LookupSPIDevice(uint8(oid))
	if err != nil {
		return err
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	return dev.Transfer(buf)
}

// ResetSPIDevices clears the device registry, used when the host
// reconnects and reconfigures.
func ResetSPIDevices() {
	spiDevices = make(map[uint8]*SPIDevice)
}
