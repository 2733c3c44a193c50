//go:build rp2040

package main

import (
	"runtime/volatile"
	"unsafe"

	"loadcell/core"
)

// RP2040 timer peripheral registers. The hardware counter runs at
// 1MHz; firmware time is kept in a 12MHz tick domain, so raw reads
// are scaled by 12.
const (
	timerBase     = 0x40054000
	timerTIMERAWH = timerBase + 0x08
	timerTIMERAWL = timerBase + 0x0C

	ticksPerMicrosecond = core.TimerFreq / 1000000
)

var (
	timerRAWH = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWH)))
	timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))
)

// InitClock registers the chip identity constants.
func InitClock() {
	core.RegisterConstantString("MCU", "rp2040")
}

// GetHardwareTime returns the low 32 bits of firmware time.
func GetHardwareTime() uint32 {
	return timerRAWL.Get() * ticksPerMicrosecond
}

// GetHardwareUptime returns the full 64-bit counter in firmware ticks.
func GetHardwareUptime() uint64 {
	for {
		high1 := timerRAWH.Get()
		low := timerRAWL.Get()
		high2 := timerRAWH.Get()
		if high1 == high2 {
			us := uint64(high1)<<32 | uint64(low)
			return us * ticksPerMicrosecond
		}
		// High word rolled over mid-read; retry.
	}
}

// UpdateSystemTime publishes hardware time to the core timer. The main
// loop calls this on every iteration.
func UpdateSystemTime() {
	core.SetTime(GetHardwareTime())
}
