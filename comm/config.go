package comm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"dosgo/btSerial/dc"
)

// Duration is a time.Duration stored as a Go duration string ("5s").
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// Plain numbers are milliseconds.
		var ms int64
		if err := json.Unmarshal(b, &ms); err != nil {
			return fmt.Errorf("comm: bad duration %s", b)
		}
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("comm: bad duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

type Config struct {
	BluetoothMAC string
	// Backend is "bluetooth" or "serial".
	Backend    string
	SerialPort string
	Baud       int

	Channels           []int
	ConnectTimeout     Duration
	SlowConnectTimeout Duration
	// ReadTimeout below zero blocks.
	ReadTimeout Duration
	IdleTimeout Duration

	BridgePort int
	AutoStart  bool
	LogLevel   string
}

const DefaultConfigFile = "btserial.json"

// DefaultConfig returns the settings used when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Backend:            "bluetooth",
		Baud:               DefaultBaud,
		Channels:           []int{1, 5},
		ConnectTimeout:     Duration(DefaultConnectTimeout),
		SlowConnectTimeout: Duration(DefaultSlowConnectTimeout),
		ReadTimeout:        Duration(-1),
		BridgePort:         8866,
		LogLevel:           "warning",
	}
}

// SaveConfig writes cfg to path as indented JSON.
func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("comm: encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("comm: write config: %w", err)
	}
	return nil
}

// LoadConfig reads path over the defaults. A missing or unreadable file is
// not fatal: the defaults are returned and the problem is logged.
func LoadConfig(dctx *dc.Context, path string) *Config {
	cfg := DefaultConfig()
	log := dctx.Log("config").WithField("path", path)
	data, err := os.ReadFile(path)
	if err != nil {
		log.Debugf("no config file, using defaults: %v", err)
		return cfg
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		log.Warnf("error parsing config file: %v", err)
		return DefaultConfig()
	}
	if cfg.Backend == "" {
		cfg.Backend = "bluetooth"
	}
	if cfg.Baud <= 0 {
		cfg.Baud = DefaultBaud
	}
	if cfg.BridgePort == 0 {
		cfg.BridgePort = 8866
	}
	return cfg
}

// Options converts the Bluetooth settings to connection Options. Channels
// outside 1..30 are dropped.
func (c *Config) Options() *Options {
	o := &Options{
		ConnectTimeout:     time.Duration(c.ConnectTimeout),
		SlowConnectTimeout: time.Duration(c.SlowConnectTimeout),
		IdleTimeout:        time.Duration(c.IdleTimeout),
	}
	for _, ch := range c.Channels {
		if ch >= 1 && ch <= 30 {
			o.Channels = append(o.Channels, uint8(ch))
		}
	}
	return o
}

// DeviceName returns the name to pass to the configured backend.
func (c *Config) DeviceName() string {
	if c.Backend == "serial" {
		return fmt.Sprintf("%s@%d", c.SerialPort, c.Baud)
	}
	return c.BluetoothMAC
}

// Open opens the configured device and applies the configured read
// timeout.
func (c *Config) Open(ctx context.Context, dctx *dc.Context) (*dc.Serial, error) {
	var (
		s   *dc.Serial
		err error
	)
	if c.Backend == "" || c.Backend == "bluetooth" {
		s, err = Open(ctx, dctx, c.BluetoothMAC, c.Options())
	} else {
		s, err = dc.Open(ctx, dctx, c.Backend, c.DeviceName())
	}
	if err != nil {
		return nil, err
	}
	if err := s.SetTimeout(time.Duration(c.ReadTimeout)); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
