//go:build !tinygo

package core

var systemTicksValue uint32

func getSystemTicks() uint32 {
	return systemTicksValue
}

func setSystemTicks(ticks uint32) {
	systemTicksValue = ticks
}

// AdvanceTime moves the simulated clock forward. Host-Go builds have
// no hardware timer, so tests and simulations step time explicitly.
func AdvanceTime(ticks uint32) {
	systemTicksValue += ticks
}
