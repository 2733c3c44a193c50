package core

import (
	"errors"
	"sync"
)

// CommandHandler handles one command; it decodes its own arguments
// from the frame data.
type CommandHandler func(data *[]byte) error

// Command is one entry in the host-visible command table.
type Command struct {
	ID      uint16
	Name    string
	Format  string // argument format, e.g. "oid=%c rest_ticks=%u"
	Handler CommandHandler
}

// CommandRegistry maps command ids to handlers and builds the data
// dictionary the host downloads at connect time.
type CommandRegistry struct {
	mu       sync.RWMutex
	commands map[uint16]*Command
	nameToID map[string]uint16
	nextID   uint16
}

var globalRegistry = NewCommandRegistry()

func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		commands: make(map[uint16]*Command),
		nameToID: make(map[string]uint16),
	}
}

// RegisterCommand adds a host-to-MCU command to the global registry.
// Registration is idempotent per name.
func RegisterCommand(name, format string, handler CommandHandler) uint16 {
	return globalRegistry.Register(name, format, handler)
}

// RegisterResponse adds an MCU-to-host message (no handler).
func RegisterResponse(name, format string) uint16 {
	return globalRegistry.Register(name, format, nil)
}

func (r *CommandRegistry) Register(name, format string, handler CommandHandler) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, exists := r.nameToID[name]; exists {
		return id
	}

	id := r.nextID
	r.nextID++
	r.commands[id] = &Command{ID: id, Name: name, Format: format, Handler: handler}
	r.nameToID[name] = id
	return id
}

func (r *CommandRegistry) GetCommand(id uint16) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[id]
	return cmd, ok
}

func (r *CommandRegistry) GetCommandByName(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.nameToID[name]
	if !ok {
		return nil, false
	}
	return r.commands[id], true
}

func (r *CommandRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Dispatch routes a decoded command id to its handler.
func (r *CommandRegistry) Dispatch(cmdID uint16, data *[]byte) error {
	cmd, ok := r.GetCommand(cmdID)
	if !ok || cmd.Handler == nil {
		return errors.New("unknown command ID: " + itoa(int(cmdID)))
	}
	return cmd.Handler(data)
}

// CommandsAndResponses splits the table into host-to-MCU commands
// (with handlers) and MCU-to-host responses (without), keyed by their
// full format line.
func (r *CommandRegistry) CommandsAndResponses() (map[string]int, map[string]int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	commands := make(map[string]int)
	responses := make(map[string]int)
	for i := uint16(0); i < r.nextID; i++ {
		cmd, ok := r.commands[i]
		if !ok {
			continue
		}
		line := cmd.Name
		if cmd.Format != "" {
			line = cmd.Name + " " + cmd.Format
		}
		if cmd.Handler != nil {
			commands[line] = int(cmd.ID)
		} else {
			responses[line] = int(cmd.ID)
		}
	}
	return commands, responses
}

// CommandsInOrder returns the full table sorted by id.
func (r *CommandRegistry) CommandsInOrder() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Command, 0, len(r.commands))
	for i := uint16(0); i < r.nextID; i++ {
		if cmd, ok := r.commands[i]; ok {
			out = append(out, cmd)
		}
	}
	return out
}

// DispatchCommand routes through the global registry.
func DispatchCommand(cmdID uint16, data *[]byte) error {
	return globalRegistry.Dispatch(cmdID, data)
}

// GetGlobalRegistry returns the global command registry.
func GetGlobalRegistry() *CommandRegistry {
	return globalRegistry
}
