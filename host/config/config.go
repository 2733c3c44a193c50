// Package config loads the host tool configuration: the serial
// device, the sensors wired to the board and the output sinks.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Sensor type names accepted in the config file.
const (
	SensorHX711   = "hx711"
	SensorHX717   = "hx717"
	SensorADS1220 = "ads1220"
	SensorADS1256 = "ads1256"
)

// MQTTConfig configures the MQTT sink.
type MQTTConfig struct {
	Server   string `yaml:"server"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
}

// OutputConfig selects one sink.
type OutputConfig struct {
	Type string      `yaml:"type"` // console or mqtt
	MQTT *MQTTConfig `yaml:"mqtt,omitempty"`
}

// SensorConfig describes one chip wired to the board.
type SensorConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`

	// hx711/hx717 wiring.
	GainChannel int    `yaml:"gain_channel"`
	DoutPin     uint32 `yaml:"dout_pin"`
	SclkPin     uint32 `yaml:"sclk_pin"`

	// ads1220/ads1256 wiring.
	SPIBus       uint32 `yaml:"spi_bus"`
	SPIMode      uint32 `yaml:"spi_mode"`
	SPIRate      uint32 `yaml:"spi_rate"`
	CSPin        uint32 `yaml:"cs_pin"`
	DataReadyPin uint32 `yaml:"data_ready_pin"`

	// SampleRate is the poll rate in samples per second.
	SampleRate int `yaml:"sample_rate"`

	// Calibration converts raw counts to engineering units:
	// value = counts*scale + offset.
	CalibrationScale  float64 `yaml:"calibration_scale"`
	CalibrationOffset float64 `yaml:"calibration_offset"`
}

// Config is the whole host tool configuration.
type Config struct {
	Device  string         `yaml:"device"`
	Baud    int            `yaml:"baud"`
	Sensors []SensorConfig `yaml:"sensors"`
	Outputs []OutputConfig `yaml:"outputs"`
}

// Default returns the baseline configuration used when a field is
// absent from the file.
func Default() Config {
	return Config{
		Device:  "/dev/ttyACM0",
		Baud:    250000,
		Outputs: []OutputConfig{{Type: "console"}},
	}
}

// Load reads, parses and validates a YAML config file.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints and fills per-sensor
// defaults.
func (c *Config) Validate() error {
	if c.Device == "" {
		return fmt.Errorf("device must be set")
	}
	if len(c.Sensors) == 0 {
		return fmt.Errorf("at least one sensor must be configured")
	}

	names := make(map[string]bool)
	for i := range c.Sensors {
		s := &c.Sensors[i]
		if s.Name == "" {
			s.Name = fmt.Sprintf("%s%d", s.Type, i)
		}
		if names[s.Name] {
			return fmt.Errorf("duplicate sensor name %q", s.Name)
		}
		names[s.Name] = true

		if s.CalibrationScale == 0 {
			s.CalibrationScale = 1.0
		}

		switch s.Type {
		case SensorHX711, SensorHX717:
			if s.GainChannel == 0 {
				s.GainChannel = 1
			}
			if s.GainChannel < 1 || s.GainChannel > 4 {
				return fmt.Errorf("sensor %s: gain_channel must be 1-4", s.Name)
			}
			if s.DoutPin == s.SclkPin {
				return fmt.Errorf("sensor %s: dout_pin and sclk_pin must differ", s.Name)
			}
			if s.SampleRate == 0 {
				s.SampleRate = defaultBitBangRate(s.Type)
			}
		case SensorADS1220, SensorADS1256:
			if s.SPIRate == 0 {
				return fmt.Errorf("sensor %s: spi_rate must be set", s.Name)
			}
			if s.SPIMode > 3 {
				return fmt.Errorf("sensor %s: spi_mode must be 0-3", s.Name)
			}
			if s.SampleRate == 0 {
				return fmt.Errorf("sensor %s: sample_rate must be set", s.Name)
			}
		default:
			return fmt.Errorf("sensor %s: unknown type %q", s.Name, s.Type)
		}
		if s.SampleRate < 0 {
			return fmt.Errorf("sensor %s: sample_rate must be positive", s.Name)
		}
	}

	for _, out := range c.Outputs {
		switch out.Type {
		case "console":
		case "mqtt":
			if out.MQTT == nil || out.MQTT.Server == "" {
				return fmt.Errorf("mqtt output requires a server")
			}
		default:
			return fmt.Errorf("unknown output type %q", out.Type)
		}
	}
	return nil
}

// defaultBitBangRate gives the chip's fixed output data rate.
func defaultBitBangRate(sensorType string) int {
	if sensorType == SensorHX717 {
		return 320
	}
	return 80
}

// RestTicks converts a sensor's sample rate to firmware clock ticks
// between polls.
func (s *SensorConfig) RestTicks(clockFreq uint32) uint32 {
	return clockFreq / uint32(s.SampleRate)
}

// IsBitBang reports whether the sensor uses the two-wire serial
// interface rather than SPI.
func (s *SensorConfig) IsBitBang() bool {
	return s.Type == SensorHX711 || s.Type == SensorHX717
}

// Family returns the firmware command family for the sensor type.
func (s *SensorConfig) Family() string {
	if s.IsBitBang() {
		return "hx71x"
	}
	return s.Type
}
