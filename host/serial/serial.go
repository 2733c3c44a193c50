package serial

import (
	"io"
)

// Port is the serial link to the microcontroller. The abstraction
// keeps the transport code independent of the underlying device so
// tests can substitute an in-memory pipe.
type Port interface {
	io.ReadWriteCloser

	// Flush discards any buffered but unwritten data.
	Flush() error
}

// Config holds serial port configuration.
type Config struct {
	// Device path, e.g. "/dev/ttyACM0".
	Device string

	// Baud rate. USB CDC devices ignore this.
	Baud int

	// Read timeout in milliseconds. 0 blocks.
	ReadTimeout int
}

// DefaultConfig returns the standard settings for a sampler board.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        250000,
		ReadTimeout: 100,
	}
}
