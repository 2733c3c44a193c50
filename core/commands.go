package core

import (
	"sync/atomic"

	"loadcell/protocol"
)

// FirmwareState holds the global firmware state shared across
// execution contexts.
type FirmwareState struct {
	configCRC      uint32 // atomic
	isShutdown     uint32 // atomic bool
	shutdownReason string
}

var globalState = &FirmwareState{}

// InitCoreCommands registers the protocol bootstrap and housekeeping
// commands. identify_response and identify must be registered first;
// the host hardcodes their ids to bootstrap the dictionary download.
func InitCoreCommands() {
	RegisterResponse("identify_response", "offset=%u data=%*s") // ID 0
	RegisterCommand("identify", "offset=%u count=%c", handleIdentify) // ID 1

	RegisterCommand("get_uptime", "", handleGetUptime)
	RegisterCommand("get_clock", "", handleGetClock)
	RegisterCommand("get_config", "", handleGetConfig)
	RegisterCommand("config_reset", "", handleConfigReset)
	RegisterCommand("finalize_config", "crc=%u", handleFinalizeConfig)
	RegisterCommand("allocate_oids", "count=%c", handleAllocateOids)
	RegisterCommand("emergency_stop", "", handleEmergencyStop)

	RegisterResponse("clock", "clock=%u")
	RegisterResponse("uptime", "high=%u clock=%u")
	RegisterResponse("config", "is_config=%c crc=%u is_shutdown=%c")
	RegisterResponse("shutdown", "clock=%u reason=%*s")

	RegisterConstant("CLOCK_FREQ", TimerFreq)
}

func handleIdentify(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	chunk := GetGlobalDictionary().GetChunk(offset, uint8(count))
	SendResponse("identify_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQBytes(output, chunk)
	})
	return nil
}

func handleGetUptime(data *[]byte) error {
	uptime := GetUptime()
	SendResponse("uptime", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(uptime>>32))
		protocol.EncodeVLQUint(output, uint32(uptime))
	})
	return nil
}

func handleGetClock(data *[]byte) error {
	clock := GetTime()
	SendResponse("clock", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, clock)
	})
	return nil
}

func handleGetConfig(data *[]byte) error {
	crc := atomic.LoadUint32(&globalState.configCRC)
	SendResponse("config", func(output protocol.OutputBuffer) {
		if crc != 0 {
			protocol.EncodeVLQUint(output, 1)
		} else {
			protocol.EncodeVLQUint(output, 0)
		}
		protocol.EncodeVLQUint(output, crc)
		if IsShutdown() {
			protocol.EncodeVLQUint(output, 1)
		} else {
			protocol.EncodeVLQUint(output, 0)
		}
	})
	return nil
}

func handleConfigReset(data *[]byte) error {
	atomic.StoreUint32(&globalState.configCRC, 0)
	return nil
}

func handleFinalizeConfig(data *[]byte) error {
	crc, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	atomic.StoreUint32(&globalState.configCRC, crc)
	return nil
}

func handleAllocateOids(data *[]byte) error {
	// Object ids are allocated lazily by the config commands; the
	// count is accepted for protocol compatibility.
	_, err := protocol.DecodeVLQUint(data)
	return err
}

func handleEmergencyStop(data *[]byte) error {
	Shutdown("emergency stop requested by host")
	return nil
}

// Shutdown halts all sampling and reports the reason to the host.
// Used for faults that cannot be reported as per-sample errors; the
// firmware stays down until reconfigured.
func Shutdown(reason string) {
	if !atomic.CompareAndSwapUint32(&globalState.isShutdown, 0, 1) {
		return
	}
	globalState.shutdownReason = reason

	StopAllHX71x()
	StopAllADS1220()
	StopAllADS1256()

	SendResponse("shutdown", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, GetTime())
		protocol.EncodeVLQBytes(output, []byte(reason))
	})
}

// IsShutdown reports whether the firmware is halted.
func IsShutdown() bool {
	return atomic.LoadUint32(&globalState.isShutdown) != 0
}

// ShutdownReason returns the recorded halt reason, if any.
func ShutdownReason() string {
	return globalState.shutdownReason
}

// ResetFirmwareState clears the config and shutdown state, used when
// the host reconnects.
func ResetFirmwareState() {
	atomic.StoreUint32(&globalState.configCRC, 0)
	atomic.StoreUint32(&globalState.isShutdown, 0)
	globalState.shutdownReason = ""
}

var globalTransport *protocol.Transport

// SetGlobalTransport installs the transport used for responses.
func SetGlobalTransport(transport *protocol.Transport) {
	globalTransport = transport
}

// SendResponse frames and queues a response message by name. A nil
// transport (tests, early boot) drops the message.
func SendResponse(responseName string, args func(output protocol.OutputBuffer)) {
	if globalTransport == nil {
		return
	}
	cmd, ok := globalRegistry.GetCommandByName(responseName)
	if !ok {
		panic("response not registered: " + responseName)
	}
	globalTransport.SendCommand(cmd.ID, args)
}
