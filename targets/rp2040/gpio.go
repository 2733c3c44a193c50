//go:build rp2040

package main

import (
	"errors"
	"machine"

	"loadcell/core"
)

const rp2040PinCount = 30

// RP2040GPIODriver implements core.GPIODriver over the machine pin
// API. Pin numbers map directly to GPIO0-GPIO29.
type RP2040GPIODriver struct{}

func NewRP2040GPIODriver() *RP2040GPIODriver {
	return &RP2040GPIODriver{}
}

func (d *RP2040GPIODriver) pin(pin core.GPIOPin) (machine.Pin, error) {
	if pin >= rp2040PinCount {
		return 0, errors.New("gpio pin out of range")
	}
	return machine.Pin(pin), nil
}

func (d *RP2040GPIODriver) ConfigureOutput(pin core.GPIOPin, startValue bool) error {
	p, err := d.pin(pin)
	if err != nil {
		return err
	}
	p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	p.Set(startValue)
	return nil
}

func (d *RP2040GPIODriver) ConfigureInput(pin core.GPIOPin, pullUp bool) error {
	p, err := d.pin(pin)
	if err != nil {
		return err
	}
	mode := machine.PinInput
	if pullUp {
		mode = machine.PinInputPullup
	}
	p.Configure(machine.PinConfig{Mode: mode})
	return nil
}

func (d *RP2040GPIODriver) WritePin(pin core.GPIOPin, value bool) {
	machine.Pin(pin).Set(value)
}

func (d *RP2040GPIODriver) ReadPin(pin core.GPIOPin) bool {
	return machine.Pin(pin).Get()
}
