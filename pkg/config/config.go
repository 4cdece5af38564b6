// Package config holds the persisted application settings: which
// control mode drives intensity, OSC input mapping, the last connected
// accessory and the relay endpoint. The Bluetooth core itself keeps no
// persistent state; the owner stores the last device address here.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Mode selects what drives intensity updates.
type Mode string

const (
	// ModeManual takes intensity from direct user input.
	ModeManual Mode = "manual"
	// ModeOSC maps incoming OSC float values to intensity.
	ModeOSC Mode = "osc"
	// ModeRemoteSender forwards local intensity to a paired receiver.
	ModeRemoteSender Mode = "remote-sender"
	// ModeRemoteReceiver accepts intensity from a paired sender.
	ModeRemoteReceiver Mode = "remote-receiver"
)

// Settings is the persisted application configuration.
type Settings struct {
	Mode     Mode   `yaml:"mode" default:"manual"`
	LogLevel string `yaml:"log_level" default:"info"`

	OSCPort       int     `yaml:"osc_port" default:"9001"`
	OSCPath       string  `yaml:"osc_path" default:"*"`
	OSCRangeStart float64 `yaml:"osc_range_start" default:"0"`
	OSCRangeEnd   float64 `yaml:"osc_range_end" default:"1"`

	LastDeviceAddress   string `yaml:"last_device_address"`
	MaxIntensityPercent int    `yaml:"max_intensity_percent" default:"100"`

	RelayListen string `yaml:"relay_listen" default:":9210"`
}

// Default returns settings with every field at its default value.
func Default() *Settings {
	s := &Settings{}
	defaults.SetDefaults(s)
	return s
}

// DefaultPath returns the settings file location: next to the
// executable, matching where users expect to find and edit it.
func DefaultPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to locate executable: %w", err)
	}
	return filepath.Join(filepath.Dir(exe), "blemote.yaml"), nil
}

// Load reads settings from path. A missing file is not an error: the
// defaults are returned so first runs work without any setup. Fields
// absent from the file keep their defaults.
func Load(path string) (*Settings, error) {
	s := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Save writes settings to path.
func (s *Settings) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

// Validate rejects settings no control loop could run with.
func (s *Settings) Validate() error {
	switch s.Mode {
	case ModeManual, ModeOSC, ModeRemoteSender, ModeRemoteReceiver:
	default:
		return fmt.Errorf("unknown mode %q", s.Mode)
	}
	if s.OSCPort <= 0 || s.OSCPort > 65535 {
		return fmt.Errorf("osc_port %d out of range", s.OSCPort)
	}
	if s.OSCRangeEnd <= s.OSCRangeStart {
		return fmt.Errorf("osc_range_end must be greater than osc_range_start")
	}
	if s.MaxIntensityPercent < 0 || s.MaxIntensityPercent > 100 {
		return fmt.Errorf("max_intensity_percent %d out of range", s.MaxIntensityPercent)
	}
	return nil
}

// NewLogger creates a logger configured from the settings.
func (s *Settings) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(s.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", s.LogLevel, err)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger, nil
}
