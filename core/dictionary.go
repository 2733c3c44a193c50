package core

import "sync"

// Dictionary holds the identify data the host downloads in chunks at
// connect time: the command/response table plus exported constants,
// serialized as plain text, one entry per line.
type Dictionary struct {
	mu        sync.RWMutex
	constants map[string]string
	order     []string
	registry  *CommandRegistry
	cached    []byte
}

var globalDictionary = NewDictionary(globalRegistry)

func NewDictionary(registry *CommandRegistry) *Dictionary {
	return &Dictionary{
		constants: make(map[string]string),
		registry:  registry,
	}
}

// GetGlobalDictionary returns the dictionary built over the global
// command registry.
func GetGlobalDictionary() *Dictionary {
	return globalDictionary
}

// RegisterConstant exports a firmware constant (clock frequency, chip
// name, buffer sizes) to the host.
func RegisterConstant(name string, value uint32) {
	globalDictionary.SetConstant(name, utoa(value))
}

// RegisterConstantString exports a string-valued constant.
func RegisterConstantString(name, value string) {
	globalDictionary.SetConstant(name, value)
}

func (d *Dictionary) SetConstant(name, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.constants[name]; !exists {
		d.order = append(d.order, name)
	}
	d.constants[name] = value
	d.cached = nil
}

// Bytes serializes the dictionary, caching the result until the next
// mutation.
func (d *Dictionary) Bytes() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cached != nil {
		return d.cached
	}

	// Serialize in id order so chunked downloads see a stable byte
	// stream.
	var out []byte
	for _, cmd := range d.registry.CommandsInOrder() {
		kind := "command"
		if cmd.Handler == nil {
			kind = "response"
		}
		line := cmd.Name
		if cmd.Format != "" {
			line = cmd.Name + " " + cmd.Format
		}
		out = append(out, kind+" "+itoa(int(cmd.ID))+" "+line+"\n"...)
	}
	for _, name := range d.order {
		out = append(out, "constant "+name+"="+d.constants[name]+"\n"...)
	}
	d.cached = out
	return out
}

// GetChunk returns up to count bytes of the serialized dictionary
// starting at offset, for the identify command.
func (d *Dictionary) GetChunk(offset uint32, count uint8) []byte {
	data := d.Bytes()
	if int(offset) >= len(data) {
		return nil
	}
	end := int(offset) + int(count)
	if end > len(data) {
		end = len(data)
	}
	return data[offset:end]
}
