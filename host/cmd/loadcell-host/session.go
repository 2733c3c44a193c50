package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"loadcell/host/config"
	"loadcell/host/mcu"
	"loadcell/host/output"
	"loadcell/host/stream"
	"loadcell/protocol"
)

// sensorState tracks one configured sensor through a streaming run.
type sensorState struct {
	cfg     config.SensorConfig
	oid     uint8
	decoder stream.Decoder
}

// session owns a streaming run: sensor configuration on the board,
// response decoding and fan-out to the output sinks.
type session struct {
	board  *mcu.MCU
	cfg    config.Config
	logger *log.Logger

	clockFreq uint32
	sensors   map[uint8]*sensorState
	outputs   []output.Output

	readings chan []output.Reading
	restarts chan uint8
	halted   chan string
}

func newSession(board *mcu.MCU, cfg config.Config, logger *log.Logger) (*session, error) {
	clockFreq, err := board.Dictionary().ConstantUint("CLOCK_FREQ")
	if err != nil {
		return nil, err
	}

	s := &session{
		board:     board,
		cfg:       cfg,
		logger:    logger,
		clockFreq: clockFreq,
		sensors:   make(map[uint8]*sensorState),
		readings:  make(chan []output.Reading, 64),
		restarts:  make(chan uint8, 16),
		halted:    make(chan string, 1),
	}

	for _, outCfg := range cfg.Outputs {
		sink, err := output.New(outCfg)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.outputs = append(s.outputs, sink)
	}

	s.installHandlers()

	if err := s.configureSensors(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the output sinks. The board connection belongs to
// the caller.
func (s *session) Close() {
	for _, sink := range s.outputs {
		if err := sink.Close(); err != nil {
			s.logger.Warn("output close failed", "error", err)
		}
	}
	s.outputs = nil
}

// configureSensors walks the config, assigns object ids and issues
// the per-sensor config commands.
func (s *session) configureSensors() error {
	if err := s.board.SendCommand("config_reset", nil); err != nil {
		return err
	}

	oidCount := 0
	for _, sensor := range s.cfg.Sensors {
		oidCount++
		if !sensor.IsBitBang() {
			oidCount++ // the SPI device gets its own oid
		}
	}
	err := s.board.SendCommand("allocate_oids", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(oidCount))
	})
	if err != nil {
		return err
	}

	nextOID := uint8(0)
	for _, sensor := range s.cfg.Sensors {
		sensor := sensor
		oid := nextOID
		nextOID++

		if sensor.IsBitBang() {
			err = s.board.SendCommand("config_hx71x", func(out protocol.OutputBuffer) {
				protocol.EncodeVLQUint(out, uint32(oid))
				protocol.EncodeVLQUint(out, uint32(sensor.GainChannel))
				protocol.EncodeVLQUint(out, sensor.DoutPin)
				protocol.EncodeVLQUint(out, sensor.SclkPin)
			})
			if err != nil {
				return fmt.Errorf("configure %s: %w", sensor.Name, err)
			}
		} else {
			spiOID := nextOID
			nextOID++
			if err := s.configureSPIDevice(spiOID, &sensor); err != nil {
				return fmt.Errorf("configure %s spi: %w", sensor.Name, err)
			}

			err = s.board.SendCommand("config_"+sensor.Type, func(out protocol.OutputBuffer) {
				protocol.EncodeVLQUint(out, uint32(oid))
				protocol.EncodeVLQUint(out, uint32(spiOID))
				protocol.EncodeVLQUint(out, sensor.DataReadyPin)
			})
			if err != nil {
				return fmt.Errorf("configure %s: %w", sensor.Name, err)
			}
		}

		s.sensors[oid] = &sensorState{cfg: sensor, oid: oid}
		s.logger.Debug("sensor configured",
			"name", sensor.Name, "type", sensor.Type, "oid", oid)
	}

	crc := uint32(protocol.CRC16([]byte(s.cfg.Device)))
	return s.board.SendCommand("finalize_config", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, crc)
	})
}

func (s *session) configureSPIDevice(oid uint8, sensor *config.SensorConfig) error {
	err := s.board.SendCommand("config_spi", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(oid))
		protocol.EncodeVLQUint(out, sensor.CSPin)
		protocol.EncodeVLQUint(out, 0) // chip select is active low
	})
	if err != nil {
		return err
	}
	return s.board.SendCommand("spi_set_bus", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(oid))
		protocol.EncodeVLQUint(out, sensor.SPIBus)
		protocol.EncodeVLQUint(out, sensor.SPIMode)
		protocol.EncodeVLQUint(out, sensor.SPIRate)
	})
}

// installHandlers registers the async response callbacks. They run on
// the transport read goroutine and only hand work to Run's loop.
func (s *session) installHandlers() {
	s.board.OnResponse("sensor_bulk_data", func(values *mcu.Values) {
		oid := uint8(values.Uint("oid"))
		sensor, ok := s.sensors[oid]
		if !ok {
			return
		}

		records, err := sensor.decoder.Decode(
			uint16(values.Uint("sequence")), values.Bytes("data"))
		if err != nil {
			s.logger.Warn("bad bulk data", "sensor", sensor.cfg.Name, "error", err)
			return
		}

		now := time.Now()
		readings := make([]output.Reading, 0, len(records))
		for _, record := range records {
			if record.IsError {
				// The timer is now disarmed; Run restarts the
				// sensor after fetching the error code.
				select {
				case s.restarts <- oid:
				default:
				}
				continue
			}
			readings = append(readings, output.Reading{
				Sensor: sensor.cfg.Name,
				Counts: record.Counts,
				Value: float64(record.Counts)*sensor.cfg.CalibrationScale +
					sensor.cfg.CalibrationOffset,
				Time: now,
			})
		}
		if len(readings) == 0 {
			return
		}
		select {
		case s.readings <- readings:
		default:
			s.logger.Warn("output backlog, dropping samples",
				"sensor", sensor.cfg.Name, "count", len(readings))
		}
	})

	s.board.OnResponse("sensor_bulk_status", func(values *mcu.Values) {
		oid := uint8(values.Uint("oid"))
		sensor, ok := s.sensors[oid]
		if !ok {
			return
		}
		if code := uint16(values.Uint("possible_overflows")); code != 0 {
			s.publishError(sensor, stream.ErrorName(sensor.cfg.Family(), code))
		}
	})

	s.board.OnResponse("shutdown", func(values *mcu.Values) {
		select {
		case s.halted <- string(values.Bytes("reason")):
		default:
		}
	})
}

func (s *session) publishError(sensor *sensorState, message string) {
	reading := []output.Reading{{
		Sensor: sensor.cfg.Name,
		Error:  message,
		Time:   time.Now(),
	}}
	select {
	case s.readings <- reading:
	default:
	}
}

// Run starts sampling and pumps readings to the sinks until the user
// interrupts or the firmware halts.
func (s *session) Run() error {
	for _, sensor := range s.sensors {
		if err := s.startSensor(sensor); err != nil {
			return err
		}
		s.logger.Info("sampling started",
			"sensor", sensor.cfg.Name, "rate_hz", sensor.cfg.SampleRate)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	statusTicker := time.NewTicker(5 * time.Second)
	defer statusTicker.Stop()

	for {
		select {
		case readings := <-s.readings:
			for _, sink := range s.outputs {
				if err := sink.Publish(readings); err != nil {
					s.logger.Warn("publish failed", "error", err)
				}
			}

		case oid := <-s.restarts:
			sensor := s.sensors[oid]
			// The status query reports the error code recorded
			// with the sentinel sample.
			if err := s.queryStatus(sensor); err != nil {
				s.logger.Warn("status query failed",
					"sensor", sensor.cfg.Name, "error", err)
			}
			if err := s.startSensor(sensor); err != nil {
				return fmt.Errorf("restart %s: %w", sensor.cfg.Name, err)
			}
			s.logger.Debug("sampling restarted", "sensor", sensor.cfg.Name)

		case <-statusTicker.C:
			for _, sensor := range s.sensors {
				if err := s.queryStatus(sensor); err != nil {
					s.logger.Warn("status query failed",
						"sensor", sensor.cfg.Name, "error", err)
				}
			}

		case reason := <-s.halted:
			s.logger.Error("firmware halted", "reason", reason)
			return fmt.Errorf("firmware halted: %s", reason)

		case <-interrupt:
			s.logger.Info("stopping")
			s.stopSensors()
			return nil
		}
	}
}

func (s *session) startSensor(sensor *sensorState) error {
	restTicks := sensor.cfg.RestTicks(s.clockFreq)
	return s.board.SendCommand("query_"+sensor.cfg.Family(),
		func(out protocol.OutputBuffer) {
			protocol.EncodeVLQUint(out, uint32(sensor.oid))
			protocol.EncodeVLQUint(out, restTicks)
		})
}

func (s *session) queryStatus(sensor *sensorState) error {
	return s.board.SendCommand("query_"+sensor.cfg.Family()+"_status",
		func(out protocol.OutputBuffer) {
			protocol.EncodeVLQUint(out, uint32(sensor.oid))
		})
}

func (s *session) stopSensors() {
	for _, sensor := range s.sensors {
		err := s.board.SendCommand("query_"+sensor.cfg.Family(),
			func(out protocol.OutputBuffer) {
				protocol.EncodeVLQUint(out, uint32(sensor.oid))
				protocol.EncodeVLQUint(out, 0)
			})
		if err != nil {
			s.logger.Warn("stop failed", "sensor", sensor.cfg.Name, "error", err)
		}
	}
}
