package core

// Timer is a scheduled one-shot wake event. Timers are intrusive:
// the owning object embeds one and the schedule links through Next.
type Timer struct {
	WakeTime uint32
	Handler  func(*Timer) uint8
	Next     *Timer
}

// Timer handler results.
const (
	SF_DONE       = 0
	SF_RESCHEDULE = 1
)

var (
	timerList   *Timer
	currentTime uint32
)

// ScheduleTimer queues a timer. A timer that is already queued is
// first removed, so rescheduling replaces rather than duplicates.
func ScheduleTimer(t *Timer) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	unlinkTimer(t)
	insertTimer(t)
}

// CancelTimer removes a timer from the schedule if it is queued.
func CancelTimer(t *Timer) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	unlinkTimer(t)
}

// insertTimer links a timer into the list, sorted by WakeTime.
func insertTimer(t *Timer) {
	if timerList == nil || t.WakeTime < timerList.WakeTime {
		t.Next = timerList
		timerList = t
		return
	}
	cur := timerList
	for cur.Next != nil && cur.Next.WakeTime < t.WakeTime {
		cur = cur.Next
	}
	t.Next = cur.Next
	cur.Next = t
}

// unlinkTimer removes a timer from the list. Callers hold the
// interrupt mask.
func unlinkTimer(t *Timer) {
	if timerList == t {
		timerList = t.Next
		t.Next = nil
		return
	}
	for cur := timerList; cur != nil; cur = cur.Next {
		if cur.Next == t {
			cur.Next = t.Next
			t.Next = nil
			return
		}
	}
}

// TimerDispatch runs every timer whose wake time has been reached.
func TimerDispatch() {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	for timerList != nil && timerList.WakeTime <= currentTime {
		timer := timerList
		timerList = timer.Next
		timer.Next = nil

		if timer.Handler == nil {
			continue
		}
		if timer.Handler(timer) == SF_RESCHEDULE {
			insertTimer(timer)
		}
	}
}

// ProcessTimers samples the clock and dispatches due timers. The
// platform main loop calls this on every iteration.
func ProcessTimers() {
	currentTime = GetTime()
	TimerDispatch()
}

// TaskWake is the single shared wake signal for a background task.
// Timer handlers set it from interrupt context; the task consumes it.
type TaskWake struct {
	pending bool
}

// Wake flags the task as needing to run.
func (w *TaskWake) Wake() {
	state := disableInterrupts()
	w.pending = true
	restoreInterrupts(state)
}

// CheckWake consumes the wake flag, reporting whether the task should
// run.
func (w *TaskWake) CheckWake() bool {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	if !w.pending {
		return false
	}
	w.pending = false
	return true
}
