package core

// SPIBusID identifies a hardware SPI bus.
type SPIBusID uint8

// SPIMode is the SPI clock polarity/phase (0-3).
type SPIMode uint8

// SPIConfig holds the configuration for an SPI bus.
type SPIConfig struct {
	BusID SPIBusID
	Mode  SPIMode
	Rate  uint32 // clock rate in Hz
}

// SPIDriver is the abstract hardware SPI interface the core code uses.
type SPIDriver interface {
	// ConfigureBus sets up a hardware SPI bus and returns an opaque
	// bus handle.
	ConfigureBus(config SPIConfig) (interface{}, error)

	// Transfer performs a full-duplex transfer; tx and rx are the
	// same length.
	Transfer(busHandle interface{}, tx, rx []byte) error
}

// SoftwareSPIDriver bit-bangs SPI over GPIO pins, used for buses
// without hardware support.
type SoftwareSPIDriver interface {
	ConfigureSoftwareSPI(sclk, mosi, miso uint32, mode SPIMode, rate uint32) (interface{}, error)
	Transfer(handle interface{}, tx, rx []byte) error
}

var (
	spiDriver         SPIDriver
	softwareSPIDriver SoftwareSPIDriver
)

// SetSPIDriver registers the hardware SPI driver.
func SetSPIDriver(d SPIDriver) {
	spiDriver = d
}

// SetSoftwareSPIDriver registers the software SPI driver.
func SetSoftwareSPIDriver(d SoftwareSPIDriver) {
	softwareSPIDriver = d
}

// MustSPI returns the configured hardware SPI driver or panics.
func MustSPI() SPIDriver {
	if spiDriver == nil {
		panic("SPI driver not configured")
	}
	return spiDriver
}

// GetSoftwareSPI returns the software SPI driver, or nil.
func GetSoftwareSPI() SoftwareSPIDriver {
	return softwareSPIDriver
}
