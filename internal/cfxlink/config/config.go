// Package config loads cfxlinkd's settings from a YAML file, mirroring the
// teacher's direwolf.conf role but in YAML rather than a bespoke
// line-oriented format.
package config

/*------------------------------------------------------------------
 *
 * Purpose:	Read serial device / logging / GPIO settings from a YAML
 *		file (gopkg.in/yaml.v3), the same file-plus-flag-
 *		override precedence src/config.go and cmd/direwolf/main.go
 *		establish for direwolf.conf, but with a YAML body since
 *		nothing in the corpus's non-cgo files models direwolf.conf's
 *		custom line parser idiomatically.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds everything cmd/cfxlinkd needs to start a session.
type Config struct {
	SerialDevice string `yaml:"serial_device"`
	Baud         int    `yaml:"baud"`
	LogLevel     string `yaml:"log_level"`
	LogFile      string `yaml:"log_file"`
	TraceDir     string `yaml:"trace_dir"`
	TracePattern string `yaml:"trace_pattern"`

	GPIOChip       string `yaml:"gpio_chip"`
	GPIODTRLine    int    `yaml:"gpio_dtr_line"`
	GPIORTSLine    int    `yaml:"gpio_rts_line"`
	UseGPIOFlow    bool   `yaml:"use_gpio_flow"`
	UdevWatch      bool   `yaml:"udev_watch"`
	InspectAddr    string `yaml:"inspect_addr"`
	QueueDepth     int    `yaml:"queue_depth"`
}

// Default returns the settings cfxlinkd runs with when no config file and
// no overriding flags are given.
func Default() Config {
	return Config{
		SerialDevice: "/dev/ttyUSB0",
		Baud:         9600,
		LogLevel:     "info",
		TracePattern: "cfxlink-%Y-%m-%d.trace",
		GPIOChip:     "gpiochip0",
		QueueDepth:   16,
	}
}

// Load reads path and overlays its fields onto Default(). A missing file
// is not an error; cfxlinkd falls back to defaults plus flags.
func Load(path string) (Config, error) {
	var cfg = Default()

	if path == "" {
		return cfg, nil
	}

	var data, err = os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return cfg, nil
}

// ApplyFlags overlays any flag value the caller marked as explicitly set
// (non-zero-value sentinel already resolved by the caller) onto cfg.
// cmd/cfxlinkd calls this after Load so flags win over the file, the same
// precedence the teacher's main.go gives direwolf.conf vs. its own flags.
func (c Config) ApplyFlags(overrides Config) Config {
	var merged = c

	if overrides.SerialDevice != "" {
		merged.SerialDevice = overrides.SerialDevice
	}
	if overrides.Baud != 0 {
		merged.Baud = overrides.Baud
	}
	if overrides.LogLevel != "" {
		merged.LogLevel = overrides.LogLevel
	}
	if overrides.LogFile != "" {
		merged.LogFile = overrides.LogFile
	}
	if overrides.TraceDir != "" {
		merged.TraceDir = overrides.TraceDir
	}
	if overrides.TracePattern != "" {
		merged.TracePattern = overrides.TracePattern
	}
	if overrides.GPIOChip != "" {
		merged.GPIOChip = overrides.GPIOChip
	}
	if overrides.GPIODTRLine != 0 {
		merged.GPIODTRLine = overrides.GPIODTRLine
	}
	if overrides.GPIORTSLine != 0 {
		merged.GPIORTSLine = overrides.GPIORTSLine
	}
	if overrides.UseGPIOFlow {
		merged.UseGPIOFlow = true
	}
	if overrides.UdevWatch {
		merged.UdevWatch = true
	}
	if overrides.InspectAddr != "" {
		merged.InspectAddr = overrides.InspectAddr
	}
	if overrides.QueueDepth != 0 {
		merged.QueueDepth = overrides.QueueDepth
	}

	return merged
}
