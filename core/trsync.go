package core

import (
	"errors"

	"loadcell/protocol"
)

// TriggerSync state flags.
const (
	trsyncCanTrigger = 1 << 0
	trsyncTriggered  = 1 << 1
)

// TriggerSignal is one callback registered on a TriggerSync, fired
// once when the sync triggers.
type TriggerSignal struct {
	Callback func(reason uint8)
	Next     *TriggerSignal
}

// TriggerSync coordinates a homing move: endstops (and the host
// timeout) race to trigger it, and every registered signal sees the
// winning reason. Periodic state reports let the host detect a stalled
// connection.
type TriggerSync struct {
	OID           uint8
	Flags         uint8
	TriggerReason uint8
	ExpireReason  uint8
	ReportTicks   uint32
	ReportTimer   Timer
	ExpireTimer   Timer
	Signals       *TriggerSignal
}

var triggerSyncs = make(map[uint8]*TriggerSync)

// InitTriggerSyncCommands registers the trsync commands.
func InitTriggerSyncCommands() {
	RegisterCommand("trsync_start",
		"oid=%c report_clock=%u report_ticks=%u expire_reason=%c", handleTrsyncStart)
	RegisterCommand("trsync_set_timeout", "oid=%c clock=%u", handleTrsyncSetTimeout)
	RegisterCommand("trsync_trigger", "oid=%c reason=%c", handleTrsyncTrigger)
	RegisterResponse("trsync_state",
		"oid=%c can_trigger=%c trigger_reason=%c clock=%u")
}

// LookupTriggerSync resolves a trsync oid.
func LookupTriggerSync(oid uint8) (*TriggerSync, error) {
	ts, ok := triggerSyncs[oid]
	if !ok {
		return nil, errors.New("unknown trsync oid: " + itoa(int(oid)))
	}
	return ts, nil
}

func handleTrsyncStart(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	reportClock, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	reportTicks, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	expireReason, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	ts, ok := triggerSyncs[uint8(oid)]
	if !ok {
		ts = &TriggerSync{OID: uint8(oid)}
		ts.ReportTimer.Handler = func(t *Timer) uint8 { return ts.reportEvent(t) }
		ts.ExpireTimer.Handler = func(t *Timer) uint8 { return ts.expireEvent() }
		triggerSyncs[uint8(oid)] = ts
	}

	CancelTimer(&ts.ExpireTimer)
	ts.Flags = trsyncCanTrigger
	ts.TriggerReason = 0
	ts.ExpireReason = uint8(expireReason)
	ts.ReportTicks = reportTicks
	ts.Signals = nil

	if reportTicks > 0 {
		ts.ReportTimer.WakeTime = reportClock
		ScheduleTimer(&ts.ReportTimer)
	}
	return nil
}

func handleTrsyncSetTimeout(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	clock, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	ts, err := LookupTriggerSync(uint8(oid))
	if err != nil {
		return err
	}
	if ts.Flags&trsyncCanTrigger != 0 {
		ts.ExpireTimer.WakeTime = clock
		ScheduleTimer(&ts.ExpireTimer)
	}
	return nil
}

func handleTrsyncTrigger(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	reason, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	ts, err := LookupTriggerSync(uint8(oid))
	if err != nil {
		return err
	}
	ts.DoTrigger(uint8(reason))
	ts.report()
	return nil
}

// DoTrigger fires the sync once; later calls are ignored. Endstops
// call this when their trigger condition holds.
func (ts *TriggerSync) DoTrigger(reason uint8) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	if ts.Flags&trsyncCanTrigger == 0 {
		return
	}
	ts.Flags &^= trsyncCanTrigger
	ts.Flags |= trsyncTriggered
	ts.TriggerReason = reason
	CancelTimer(&ts.ExpireTimer)

	for signal := ts.Signals; signal != nil; signal = signal.Next {
		if signal.Callback != nil {
			signal.Callback(reason)
		}
	}
}

// AddSignal registers a callback fired on trigger.
func (ts *TriggerSync) AddSignal(callback func(reason uint8)) *TriggerSignal {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	signal := &TriggerSignal{Callback: callback, Next: ts.Signals}
	ts.Signals = signal
	return signal
}

// Triggered reports whether the sync has fired.
func (ts *TriggerSync) Triggered() bool {
	return ts.Flags&trsyncTriggered != 0
}

func (ts *TriggerSync) reportEvent(t *Timer) uint8 {
	ts.report()
	if ts.Flags&trsyncCanTrigger != 0 {
		t.WakeTime = GetTime() + ts.ReportTicks
		return SF_RESCHEDULE
	}
	return SF_DONE
}

func (ts *TriggerSync) expireEvent() uint8 {
	ts.DoTrigger(ts.ExpireReason)
	ts.report()
	return SF_DONE
}

func (ts *TriggerSync) report() {
	canTrigger := uint32(0)
	if ts.Flags&trsyncCanTrigger != 0 {
		canTrigger = 1
	}
	reason := ts.TriggerReason
	clock := GetTime()
	SendResponse("trsync_state", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(ts.OID))
		protocol.EncodeVLQUint(output, canTrigger)
		protocol.EncodeVLQUint(output, uint32(reason))
		protocol.EncodeVLQUint(output, clock)
	})
}
