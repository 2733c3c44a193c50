package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"loadcell/host/config"
	"loadcell/host/mcu"
)

var (
	configPath string
	device     string
	debug      bool

	logger *log.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "loadcell-host",
		Short: "host tool for the load cell sampler firmware",
		Long: "Connects to a load cell sampler board over serial, configures its\n" +
			"sensors and streams calibrated readings to the configured outputs.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = log.NewWithOptions(os.Stderr, log.Options{
				ReportTimestamp: true,
				TimeFormat:      time.TimeOnly,
				Prefix:          "loadcell",
			})
			if debug {
				logger.SetLevel(log.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "loadcell.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVarP(&device, "device", "d", "", "serial device, overrides the config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(infoCmd())
	rootCmd.AddCommand(streamCmd())
	rootCmd.AddCommand(stopCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if device != "" {
		cfg.Device = device
	}
	return cfg, nil
}

// connect opens the board and downloads its dictionary.
func connect(dev string) (*mcu.MCU, error) {
	board := mcu.NewMCU()
	logger.Info("connecting", "device", dev)
	if err := board.Connect(dev); err != nil {
		return nil, err
	}
	if err := board.RetrieveDictionary(); err != nil {
		board.Close()
		return nil, err
	}
	logger.Debug("dictionary loaded",
		"commands", len(board.Dictionary().Commands),
		"responses", len(board.Dictionary().Responses))
	return board, nil
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "print the firmware dictionary",
		RunE: func(cmd *cobra.Command, args []string) error {
			dev := device
			if dev == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				dev = cfg.Device
			}

			board, err := connect(dev)
			if err != nil {
				return err
			}
			defer board.Close()

			dict := board.Dictionary()

			names := make([]string, 0, len(dict.Constants))
			for name := range dict.Constants {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("constant %s=%s\n", name, dict.Constants[name])
			}

			cmds := make([]*mcu.Entry, 0, len(dict.Commands))
			for _, entry := range dict.Commands {
				cmds = append(cmds, entry)
			}
			sort.Slice(cmds, func(i, j int) bool { return cmds[i].ID < cmds[j].ID })
			for _, entry := range cmds {
				fmt.Printf("command %d %s\n", entry.ID, entry.Name)
			}
			return nil
		},
	}
}

func streamCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stream",
		Short: "configure the sensors and stream readings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			board, err := connect(cfg.Device)
			if err != nil {
				return err
			}
			defer board.Close()

			session, err := newSession(board, cfg, logger)
			if err != nil {
				return err
			}
			defer session.Close()

			return session.Run()
		},
	}
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "halt the firmware with an emergency stop",
		RunE: func(cmd *cobra.Command, args []string) error {
			dev := device
			if dev == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				dev = cfg.Device
			}

			board, err := connect(dev)
			if err != nil {
				return err
			}
			defer board.Close()

			if err := board.SendCommand("emergency_stop", nil); err != nil {
				return err
			}
			logger.Info("emergency stop sent")
			return nil
		},
	}
}
