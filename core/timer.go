package core

// TimerFreq is the nominal tick rate of the system timer.
const TimerFreq = 12000000 // 12MHz

// GetTime returns the current system time in timer ticks.
func GetTime() uint32 {
	return getSystemTicks()
}

// SetTime sets the current system time. Hardware integration drives
// this from the platform tick interrupt; tests drive it directly.
func SetTime(ticks uint32) {
	setSystemTicks(ticks)
}

// GetUptime returns the 64-bit uptime in timer ticks.
func GetUptime() uint64 {
	return uint64(GetTime())
}

// TimerFromUS converts microseconds to timer ticks.
func TimerFromUS(us uint32) uint32 {
	return (us * (TimerFreq / 1000000))
}

// TimerToUS converts timer ticks to microseconds.
func TimerToUS(ticks uint32) uint32 {
	return ticks / (TimerFreq / 1000000)
}

// NsecsToTicks converts nanoseconds to timer ticks, rounding down.
func NsecsToTicks(ns uint32) uint32 {
	return uint32(uint64(ns) * TimerFreq / 1000000000)
}

// CheckElapsed reports whether at least ticks have passed between t1
// and t2. The comparison is inclusive and safe across counter
// wraparound.
func CheckElapsed(t1, t2, ticks uint32) bool {
	return t2-t1 >= ticks
}

// irqPollHandler lets the platform service pending interrupt work from
// inside long busy-waits.
var irqPollHandler func()

// SetIRQPollHandler registers the platform interrupt poll hook.
func SetIRQPollHandler(handler func()) {
	irqPollHandler = handler
}

// IRQPoll gives the platform a chance to service interrupt work. Used
// by waits that are long enough to tolerate preemption.
func IRQPoll() {
	if irqPollHandler != nil {
		irqPollHandler()
	}
}
