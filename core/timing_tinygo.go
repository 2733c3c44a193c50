//go:build tinygo

package core

// delayNoIRQ busy-waits until ticks have elapsed since start. Callers
// hold the interrupt mask, so the wait must stay in the microsecond
// range.
func delayNoIRQ(start, ticks uint32) {
	for !CheckElapsed(start, GetTime(), ticks) {
	}
}

// delay busy-waits with interrupts enabled, yielding to pending
// interrupt work while waiting.
func delay(start, ticks uint32) {
	for !CheckElapsed(start, GetTime(), ticks) {
		IRQPoll()
	}
}
