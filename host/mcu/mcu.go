package mcu

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"loadcell/host/serial"
	"loadcell/protocol"
)

// Bootstrap command ids. The identify pair is fixed so the host can
// download the dictionary before it knows any other id.
const (
	identifyResponseID = 0
	identifyCommandID  = 1
)

const identifyChunkSize = 40

// ResponseFunc handles one decoded response message.
type ResponseFunc func(values *Values)

// MCU is a connection to the sampler board. It owns the serial port
// and the framing transport, and dispatches decoded responses to
// per-message handlers.
type MCU struct {
	transport *protocol.HostTransport
	port      serial.Port

	dictionary *Dictionary

	mu       sync.Mutex
	handlers map[string][]ResponseFunc

	connected bool
}

// NewMCU creates an unconnected MCU handle.
func NewMCU() *MCU {
	return &MCU{
		handlers: make(map[string][]ResponseFunc),
	}
}

// Connect opens the device with default serial settings.
func (m *MCU) Connect(device string) error {
	return m.ConnectWithConfig(serial.DefaultConfig(device))
}

// ConnectWithConfig opens the device and starts the transport.
func (m *MCU) ConnectWithConfig(cfg *serial.Config) error {
	port, err := serial.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}

	m.ConnectPort(port)

	// Give the board time to settle if it just reset.
	time.Sleep(100 * time.Millisecond)

	return nil
}

// ConnectPort attaches to an already opened port. Tests use this to
// run the connection over an in-memory link.
func (m *MCU) ConnectPort(port serial.Port) {
	m.port = port
	m.transport = protocol.NewHostTransport(port)
	m.connected = true
	m.transport.SetResponseHandler(m.handleResponse)
}

// Close shuts down the transport and the port.
func (m *MCU) Close() error {
	if m.transport != nil {
		if err := m.transport.Close(); err != nil {
			return err
		}
	}
	m.connected = false
	return nil
}

// IsConnected reports whether the serial link is open.
func (m *MCU) IsConnected() bool {
	return m.connected
}

// Dictionary returns the parsed dictionary, nil before
// RetrieveDictionary.
func (m *MCU) Dictionary() *Dictionary {
	return m.dictionary
}

// RetrieveDictionary downloads and parses the identify data. The
// download is chunked; a short chunk marks the end.
func (m *MCU) RetrieveDictionary() error {
	if !m.connected {
		return fmt.Errorf("not connected")
	}

	var buf bytes.Buffer
	offset := uint32(0)
	maxIterations := 1000

	for i := 0; i < maxIterations; i++ {
		chunk, err := m.sendIdentify(offset, identifyChunkSize)
		if err != nil {
			return fmt.Errorf("dictionary chunk at offset %d: %w", offset, err)
		}
		if len(chunk) == 0 {
			break
		}
		buf.Write(chunk)
		offset += uint32(len(chunk))
		if len(chunk) < identifyChunkSize {
			break
		}
	}

	dict, err := ParseDictionary(buf.Bytes())
	if err != nil {
		return fmt.Errorf("parse dictionary: %w", err)
	}
	m.dictionary = dict
	return nil
}

func (m *MCU) sendIdentify(offset uint32, count uint8) ([]byte, error) {
	err := m.transport.SendCommand(identifyCommandID, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQUint(output, uint32(count))
	})
	if err != nil {
		return nil, fmt.Errorf("send identify: %w", err)
	}

	resp, err := m.transport.ReceiveResponse(1 * time.Second)
	if err != nil {
		return nil, fmt.Errorf("receive identify response: %w", err)
	}

	payload := resp.Payload
	cmdID, err := protocol.DecodeVLQUint(&payload)
	if err != nil {
		return nil, fmt.Errorf("decode response id: %w", err)
	}
	if cmdID != identifyResponseID {
		return nil, fmt.Errorf("unexpected response id %d", cmdID)
	}

	respOffset, err := protocol.DecodeVLQUint(&payload)
	if err != nil {
		return nil, fmt.Errorf("decode response offset: %w", err)
	}
	if respOffset != offset {
		return nil, fmt.Errorf("offset mismatch: expected %d, got %d", offset, respOffset)
	}

	return protocol.DecodeVLQBytes(&payload)
}

// SendCommand sends a command by dictionary name and waits for the
// ack.
func (m *MCU) SendCommand(name string, args func(output protocol.OutputBuffer)) error {
	if !m.connected {
		return fmt.Errorf("not connected")
	}
	if m.dictionary == nil {
		return fmt.Errorf("dictionary not loaded")
	}

	entry, ok := m.dictionary.Commands[name]
	if !ok {
		return fmt.Errorf("unknown command: %s", name)
	}
	return m.transport.SendCommand(entry.ID, args)
}

// OnResponse registers a handler for a named response. Handlers run
// on the transport's read goroutine and must not block.
func (m *MCU) OnResponse(name string, fn ResponseFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[name] = append(m.handlers[name], fn)
}

func (m *MCU) handleResponse(cmdID uint16, data *[]byte) error {
	if m.dictionary == nil {
		return nil
	}

	values, err := m.dictionary.DecodeResponseFields(cmdID, *data)
	if err != nil {
		return err
	}

	m.mu.Lock()
	handlers := m.handlers[values.Name]
	m.mu.Unlock()

	for _, fn := range handlers {
		fn(values)
	}
	return nil
}
