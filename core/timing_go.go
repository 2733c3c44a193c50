//go:build !tinygo

package core

// Host-Go builds have no free-running hardware counter, so the delay
// helpers step the simulated clock instead of spinning on it. The
// elapsed-time checks in the acquisition drivers observe the same
// advance a real wait would produce.

func delayNoIRQ(start, ticks uint32) {
	now := GetTime()
	if !CheckElapsed(start, now, ticks) {
		SetTime(start + ticks)
	}
}

func delay(start, ticks uint32) {
	delayNoIRQ(start, ticks)
	IRQPoll()
}
