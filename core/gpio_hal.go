package core

// GPIOPin identifies a hardware GPIO pin number.
type GPIOPin uint32

// GPIODriver is the abstract GPIO interface the core code uses.
// Platform-specific implementations handle the actual hardware.
type GPIODriver interface {
	// ConfigureOutput configures a pin as a digital output driving
	// startValue.
	ConfigureOutput(pin GPIOPin, startValue bool) error

	// ConfigureInput configures a pin as a digital input, with the
	// internal pull-up enabled when pullUp is set.
	ConfigureInput(pin GPIOPin, pullUp bool) error

	// WritePin drives an output pin high (true) or low (false).
	// Called from timing-critical paths; must not block.
	WritePin(pin GPIOPin, value bool)

	// ReadPin returns the current level of a pin.
	ReadPin(pin GPIOPin) bool
}

var gpioDriver GPIODriver

// SetGPIODriver is called by target-specific code to register its
// driver.
func SetGPIODriver(d GPIODriver) {
	gpioDriver = d
}

// MustGPIO returns the configured driver or panics if missing.
func MustGPIO() GPIODriver {
	if gpioDriver == nil {
		panic("GPIO driver not configured")
	}
	return gpioDriver
}
