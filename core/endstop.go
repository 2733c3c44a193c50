package core

import (
	"errors"

	"loadcell/protocol"
)

// LoadCellEndstop turns a stream of load-cell samples into a homing
// trigger: once armed, a run of consecutive samples deviating from the
// tare point by at least the trigger threshold fires the attached
// TriggerSync. The producing sensor feeds it via ReportSample.
type LoadCellEndstop struct {
	OID uint8

	// Trigger range, set by set_range_load_cell_endstop.
	TriggerCounts uint32
	TareCounts    int32

	// Homing state, set by load_cell_endstop_home.
	trsync          *TriggerSync
	triggerReason   uint8
	homeStartClock  uint32
	sampleCount     uint8
	restTicks       uint32
	watchdogMax     uint32
	homing          bool
	homingTriggered bool

	trigCount    uint8
	triggerTicks uint32

	lastSample      int32
	lastSampleTicks uint32

	watchdog Timer
}

var loadCellEndstops = make(map[uint8]*LoadCellEndstop)

// InitLoadCellEndstopCommands registers the endstop commands.
func InitLoadCellEndstopCommands() {
	RegisterCommand("config_load_cell_endstop", "oid=%c", handleConfigLoadCellEndstop)
	RegisterCommand("set_range_load_cell_endstop",
		"oid=%c trigger_counts=%u tare_counts=%i", handleSetRangeLoadCellEndstop)
	RegisterCommand("load_cell_endstop_home",
		"oid=%c trsync_oid=%c trigger_reason=%c clock=%u sample_count=%c"+
			" rest_ticks=%u timeout=%u", handleLoadCellEndstopHome)
	RegisterCommand("load_cell_endstop_query_state", "oid=%c",
		handleLoadCellEndstopQueryState)
	RegisterResponse("load_cell_endstop_state",
		"oid=%c homing=%c homing_triggered=%c is_triggered=%c"+
			" trigger_ticks=%u sample=%i sample_ticks=%u")
}

// LookupLoadCellEndstop resolves an endstop oid.
func LookupLoadCellEndstop(oid uint8) (*LoadCellEndstop, error) {
	lce, ok := loadCellEndstops[oid]
	if !ok {
		return nil, errors.New("unknown load_cell_endstop oid: " + itoa(int(oid)))
	}
	return lce, nil
}

// isTriggered reports whether a sample deviates from the tare point by
// at least the trigger threshold.
func (lce *LoadCellEndstop) isTriggered(counts int32) bool {
	delta := counts - lce.TareCounts
	if delta < 0 {
		delta = -delta
	}
	return uint32(delta) >= lce.TriggerCounts
}

// ReportSample feeds one validated sample and its read start time into
// the trigger logic. Called by the producing sensor on every sample,
// armed or not.
func (lce *LoadCellEndstop) ReportSample(counts int32, ticks uint32) {
	lce.lastSample = counts
	lce.lastSampleTicks = ticks

	if !lce.homing || lce.homingTriggered {
		return
	}
	// Samples taken before the homing move begins are ignored.
	if int32(ticks-lce.homeStartClock) < 0 {
		return
	}

	if !lce.isTriggered(counts) {
		lce.trigCount = 0
		lce.triggerTicks = 0
		return
	}

	lce.trigCount++
	if lce.trigCount == 1 {
		// The trigger time reported to the host is the first sample of
		// the triggering run.
		lce.triggerTicks = ticks
	}
	if lce.trigCount >= lce.sampleCount {
		lce.homingTriggered = true
		CancelTimer(&lce.watchdog)
		if lce.trsync != nil {
			lce.trsync.DoTrigger(lce.triggerReason)
		}
	}
}

// watchdogEvent halts the firmware if the sensor stops producing
// samples during a homing move.
func (lce *LoadCellEndstop) watchdogEvent(t *Timer) uint8 {
	if !lce.homing || lce.homingTriggered {
		return SF_DONE
	}
	window := lce.restTicks * (lce.watchdogMax + 1)
	if CheckElapsed(lce.lastSampleTicks, GetTime(), window) {
		Shutdown("load cell endstop timed out waiting on adc data")
		return SF_DONE
	}
	t.WakeTime = lce.lastSampleTicks + window
	return SF_RESCHEDULE
}

func handleConfigLoadCellEndstop(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	lce := &LoadCellEndstop{OID: uint8(oid)}
	lce.watchdog.Handler = func(t *Timer) uint8 { return lce.watchdogEvent(t) }
	loadCellEndstops[uint8(oid)] = lce
	return nil
}

func handleSetRangeLoadCellEndstop(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	triggerCounts, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	tareCounts, err := protocol.DecodeVLQInt(data)
	if err != nil {
		return err
	}

	lce, err := LookupLoadCellEndstop(uint8(oid))
	if err != nil {
		return err
	}
	lce.TriggerCounts = triggerCounts
	lce.TareCounts = tareCounts
	lce.trigCount = 0
	lce.triggerTicks = 0
	return nil
}

func handleLoadCellEndstopHome(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	trsyncOID, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	triggerReason, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	clock, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	sampleCount, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	restTicks, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	timeout, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	lce, err := LookupLoadCellEndstop(uint8(oid))
	if err != nil {
		return err
	}

	CancelTimer(&lce.watchdog)
	lce.homing = false
	lce.homingTriggered = false
	lce.trigCount = 0
	lce.triggerTicks = 0
	lce.trsync = nil

	if sampleCount == 0 {
		// Disarm; sent after every homing move and on restart.
		return nil
	}

	ts, err := LookupTriggerSync(uint8(trsyncOID))
	if err != nil {
		return err
	}
	lce.trsync = ts
	lce.triggerReason = uint8(triggerReason)
	lce.homeStartClock = clock
	lce.sampleCount = uint8(sampleCount)
	lce.restTicks = restTicks
	lce.watchdogMax = timeout
	lce.homing = true
	lce.lastSampleTicks = GetTime()

	if restTicks > 0 {
		lce.watchdog.WakeTime = lce.lastSampleTicks + restTicks*(timeout+1)
		ScheduleTimer(&lce.watchdog)
	}
	return nil
}

func handleLoadCellEndstopQueryState(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	lce, err := LookupLoadCellEndstop(uint8(oid))
	if err != nil {
		return err
	}

	homing := uint32(0)
	if lce.homing {
		homing = 1
	}
	homingTriggered := uint32(0)
	if lce.homingTriggered {
		homingTriggered = 1
	}
	isTriggered := uint32(0)
	if lce.isTriggered(lce.lastSample) {
		isTriggered = 1
	}
	triggerTicks := lce.triggerTicks
	sample := lce.lastSample
	sampleTicks := lce.lastSampleTicks

	SendResponse("load_cell_endstop_state", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, oid)
		protocol.EncodeVLQUint(output, homing)
		protocol.EncodeVLQUint(output, homingTriggered)
		protocol.EncodeVLQUint(output, isTriggered)
		protocol.EncodeVLQUint(output, triggerTicks)
		protocol.EncodeVLQInt(output, sample)
		protocol.EncodeVLQUint(output, sampleTicks)
	})
	return nil
}
