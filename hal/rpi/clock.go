//go:build linux

package rpi

import (
	"time"

	"loadcell/core"
)

// RunClock drives the core tick counter from the monotonic clock
// until stop is closed. Hosted builds have no hardware tick source,
// so a background updater stands in for the timer interrupt.
func RunClock(stop <-chan struct{}) {
	start := time.Now()
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			elapsed := time.Since(start)
			core.SetTime(uint32(elapsed.Nanoseconds() * core.TimerFreq / int64(time.Second)))
		}
	}
}
