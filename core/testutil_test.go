package core

import (
	"strings"
	"testing"

	"loadcell/protocol"
)

// mockGPIO records pin configuration and serves reads from per-pin
// queues, falling back to the last written level.
type mockGPIO struct {
	levels   map[GPIOPin]bool
	inputs   map[GPIOPin]bool
	outputs  map[GPIOPin]bool
	readSeq  map[GPIOPin][]bool
	readHook func(pin GPIOPin)
}

func newMockGPIO() *mockGPIO {
	return &mockGPIO{
		levels:  make(map[GPIOPin]bool),
		inputs:  make(map[GPIOPin]bool),
		outputs: make(map[GPIOPin]bool),
		readSeq: make(map[GPIOPin][]bool),
	}
}

func (m *mockGPIO) ConfigureOutput(pin GPIOPin, startValue bool) error {
	m.outputs[pin] = true
	m.levels[pin] = startValue
	return nil
}

func (m *mockGPIO) ConfigureInput(pin GPIOPin, pullUp bool) error {
	m.inputs[pin] = true
	return nil
}

func (m *mockGPIO) WritePin(pin GPIOPin, value bool) {
	m.levels[pin] = value
}

func (m *mockGPIO) ReadPin(pin GPIOPin) bool {
	if m.readHook != nil {
		m.readHook(pin)
	}
	if seq := m.readSeq[pin]; len(seq) > 0 {
		v := seq[0]
		m.readSeq[pin] = seq[1:]
		return v
	}
	return m.levels[pin]
}

func (m *mockGPIO) queueReads(pin GPIOPin, values ...bool) {
	m.readSeq[pin] = append(m.readSeq[pin], values...)
}

// queueBitBangSample queues one full HX71x read on the dout pin: the
// ready check (low), 24 data bits MSB first, and the post-read ready
// check (high).
func (m *mockGPIO) queueBitBangSample(dout GPIOPin, raw uint32) {
	m.queueReads(dout, false)
	for bit := 23; bit >= 0; bit-- {
		m.queueReads(dout, raw&(1<<uint(bit)) != 0)
	}
	m.queueReads(dout, true)
}

// mockSPI serves transfers from a queue of canned responses and
// advances the simulated clock to model bus time.
type mockSPI struct {
	responses     [][]byte
	transferTicks uint32
	transfers     int
	err           error
}

func (m *mockSPI) ConfigureBus(config SPIConfig) (interface{}, error) {
	return config, nil
}

func (m *mockSPI) Transfer(busHandle interface{}, tx, rx []byte) error {
	m.transfers++
	AdvanceTime(m.transferTicks)
	if m.err != nil {
		return m.err
	}
	if len(m.responses) > 0 {
		copy(rx, m.responses[0])
		m.responses = m.responses[1:]
	}
	return nil
}

func (m *mockSPI) queueResponse(data ...byte) {
	m.responses = append(m.responses, data)
}

// harness wires mock drivers and a response-capturing transport around
// a reset firmware state.
type harness struct {
	gpio *mockGPIO
	spi  *mockSPI
	out  *protocol.ScratchOutput
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		gpio: newMockGPIO(),
		spi:  &mockSPI{transferTicks: 10},
		out:  protocol.NewScratchOutput(),
	}

	SetGPIODriver(h.gpio)
	SetSPIDriver(h.spi)
	SetGlobalTransport(protocol.NewTransport(h.out, nil))

	hx71xSensors = make(map[uint8]*HX71x)
	ads1220Sensors = make(map[uint8]*ADS1220)
	ads1256Sensors = make(map[uint8]*ADS1256)
	spiDevices = make(map[uint8]*SPIDevice)
	loadCellEndstops = make(map[uint8]*LoadCellEndstop)
	triggerSyncs = make(map[uint8]*TriggerSync)
	wakeHX71x = TaskWake{}
	wakeADS1220 = TaskWake{}
	wakeADS1256 = TaskWake{}
	timerList = nil
	SetTime(0)
	ResetFirmwareState()

	InitCoreCommands()
	InitSPICommands()
	InitHX71xCommands()
	InitADS1220Commands()
	InitADS1256Commands()
	InitTriggerSyncCommands()
	InitLoadCellEndstopCommands()

	t.Cleanup(func() {
		SetGlobalTransport(nil)
		timerList = nil
	})
	return h
}

// encodeArgs builds a command payload from VLQ-encoded values.
func encodeArgs(values ...int64) []byte {
	output := protocol.NewScratchOutput()
	for _, v := range values {
		protocol.EncodeVLQInt(output, int32(v))
	}
	result := make([]byte, len(output.Result()))
	copy(result, output.Result())
	return result
}

// sentMessage is one decoded response frame.
type sentMessage struct {
	name  string
	ints  map[string]int32
	blobs map[string][]byte
}

// sent decodes every response frame captured so far, using the command
// registry formats to interpret the arguments.
func (h *harness) sent(t *testing.T) []sentMessage {
	t.Helper()
	data := h.out.Result()
	var messages []sentMessage

	for len(data) > 0 {
		if len(data) < protocol.MessageLengthMin {
			t.Fatalf("truncated frame: % x", data)
		}
		msgLen := int(data[protocol.MessagePositionLen])
		if msgLen < protocol.MessageLengthMin || len(data) < msgLen {
			t.Fatalf("bad frame length %d in % x", msgLen, data)
		}
		payload := data[protocol.MessageHeaderSize : msgLen-protocol.MessageTrailerSize]
		data = data[msgLen:]
		if len(payload) == 0 {
			continue // ack
		}

		cmdID, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			t.Fatalf("bad command id: %v", err)
		}
		cmd, ok := GetGlobalRegistry().GetCommand(uint16(cmdID))
		if !ok {
			t.Fatalf("response with unregistered id %d", cmdID)
		}

		msg := sentMessage{
			name:  cmd.Name,
			ints:  make(map[string]int32),
			blobs: make(map[string][]byte),
		}
		for _, field := range strings.Fields(cmd.Format) {
			eq := strings.IndexByte(field, '=')
			if eq < 0 {
				t.Fatalf("unparseable format field %q in %q", field, cmd.Format)
			}
			name, spec := field[:eq], field[eq+1:]
			switch spec {
			case "%*s":
				b, err := protocol.DecodeVLQBytes(&payload)
				if err != nil {
					t.Fatalf("decoding %s of %s: %v", name, cmd.Name, err)
				}
				blob := make([]byte, len(b))
				copy(blob, b)
				msg.blobs[name] = blob
			case "%i", "%hi":
				v, err := protocol.DecodeVLQInt(&payload)
				if err != nil {
					t.Fatalf("decoding %s of %s: %v", name, cmd.Name, err)
				}
				msg.ints[name] = v
			default:
				v, err := protocol.DecodeVLQUint(&payload)
				if err != nil {
					t.Fatalf("decoding %s of %s: %v", name, cmd.Name, err)
				}
				msg.ints[name] = int32(v)
			}
		}
		messages = append(messages, msg)
	}
	return messages
}

// sentByName filters captured messages by response name.
func (h *harness) sentByName(t *testing.T, name string) []sentMessage {
	t.Helper()
	var filtered []sentMessage
	for _, msg := range h.sent(t) {
		if msg.name == name {
			filtered = append(filtered, msg)
		}
	}
	return filtered
}

func (h *harness) clearSent() {
	h.out.Reset()
}

// decodeSamples unpacks the 4-byte little-endian records of a
// sensor_bulk_data payload.
func decodeSamples(t *testing.T, data []byte) []int32 {
	t.Helper()
	if len(data)%BytesPerSample != 0 {
		t.Fatalf("sample data length %d not a multiple of %d", len(data), BytesPerSample)
	}
	samples := make([]int32, 0, len(data)/BytesPerSample)
	for i := 0; i < len(data); i += BytesPerSample {
		v := uint32(data[i]) | uint32(data[i+1])<<8 |
			uint32(data[i+2])<<16 | uint32(data[i+3])<<24
		samples = append(samples, int32(v))
	}
	return samples
}

// runCommand dispatches a command by name through the registry, the
// way a decoded frame would.
func runCommand(t *testing.T, name string, args []byte) {
	t.Helper()
	cmd, ok := GetGlobalRegistry().GetCommandByName(name)
	if !ok {
		t.Fatalf("command %s not registered", name)
	}
	if err := cmd.Handler(&args); err != nil {
		t.Fatalf("%s failed: %v", name, err)
	}
	if len(args) != 0 {
		t.Fatalf("%s left %d undecoded bytes", name, len(args))
	}
}
