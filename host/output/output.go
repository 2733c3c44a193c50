// Package output publishes decoded sensor readings to one or more
// sinks.
package output

import (
	"fmt"
	"time"

	"loadcell/host/config"
)

// Reading is one calibrated sample ready for publication.
type Reading struct {
	Sensor string
	Counts int32
	Value  float64
	Error  string
	Time   time.Time
}

// Output is a sink for readings.
type Output interface {
	Publish(readings []Reading) error
	Close() error
}

// New builds the sink described by cfg.
func New(cfg config.OutputConfig) (Output, error) {
	switch cfg.Type {
	case "console":
		return NewConsole(), nil
	case "mqtt":
		return NewMQTT(cfg.MQTT)
	default:
		return nil, fmt.Errorf("unknown output type %q", cfg.Type)
	}
}
