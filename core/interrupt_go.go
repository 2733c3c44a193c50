//go:build !tinygo

package core

// State stands in for the saved interrupt mask on host-Go builds.
type State uintptr

func disableInterrupts() State {
	return 0
}

func restoreInterrupts(state State) {
}
