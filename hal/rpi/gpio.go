//go:build linux

// Package rpi provides Raspberry Pi implementations of the core
// hardware interfaces: memory-mapped GPIO for the bit-banged sensors
// and the kernel SPI ports for the burst-read ones.
package rpi

import (
	"errors"

	"github.com/warthog618/gpio"

	"loadcell/core"
)

const maxGPIOPin = 54

// GPIODriver implements core.GPIODriver over the memory-mapped
// BCM283x registers. Pin access after Open is register reads and
// writes, fast enough for the sensor clocking paths.
type GPIODriver struct {
	pins map[core.GPIOPin]*gpio.Pin
}

// OpenGPIO maps the GPIO registers and returns the driver. Callers
// own the mapping and release it with Close.
func OpenGPIO() (*GPIODriver, error) {
	if err := gpio.Open(); err != nil {
		return nil, err
	}
	return &GPIODriver{pins: make(map[core.GPIOPin]*gpio.Pin)}, nil
}

// Close reverts configured pins to inputs and unmaps the registers.
func (d *GPIODriver) Close() error {
	for _, pin := range d.pins {
		pin.Input()
	}
	return gpio.Close()
}

func (d *GPIODriver) pin(p core.GPIOPin) (*gpio.Pin, error) {
	if pin, ok := d.pins[p]; ok {
		return pin, nil
	}
	if p >= maxGPIOPin {
		return nil, errors.New("gpio pin out of range")
	}
	pin := gpio.NewPin(int(p))
	d.pins[p] = pin
	return pin, nil
}

func (d *GPIODriver) ConfigureOutput(p core.GPIOPin, startValue bool) error {
	pin, err := d.pin(p)
	if err != nil {
		return err
	}
	pin.Write(gpio.Level(startValue))
	pin.Output()
	return nil
}

func (d *GPIODriver) ConfigureInput(p core.GPIOPin, pullUp bool) error {
	pin, err := d.pin(p)
	if err != nil {
		return err
	}
	pin.Input()
	if pullUp {
		pin.PullUp()
	} else {
		pin.PullNone()
	}
	return nil
}

func (d *GPIODriver) WritePin(p core.GPIOPin, value bool) {
	if pin, ok := d.pins[p]; ok {
		pin.Write(gpio.Level(value))
	}
}

func (d *GPIODriver) ReadPin(p core.GPIOPin) bool {
	if pin, ok := d.pins[p]; ok {
		return bool(pin.Read())
	}
	return false
}
