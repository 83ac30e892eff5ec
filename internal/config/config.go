package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/voltshift/internal/auth"
	"github.com/danmuck/voltshift/internal/mailbox"
	"github.com/danmuck/voltshift/internal/msr"
)

var ErrInvalid = errors.New("config: invalid")

// Config is the daemon configuration.
type Config struct {
	SocketPath        string
	SocketMode        os.FileMode
	CPU               int
	DevicePath        string
	Simulate          bool
	MailboxRetries    int
	MailboxRetryPause time.Duration
	ReportInterval    time.Duration
	MetricsAddr       string

	AllowedUIDs  []uint32
	AllowedGIDs  []uint32
	WritableMSRs []uint32
}

type fileConfig struct {
	SocketPath        string   `toml:"socket_path"`
	SocketMode        string   `toml:"socket_mode"`
	CPU               int      `toml:"cpu"`
	DevicePath        string   `toml:"device_path"`
	Simulate          bool     `toml:"simulate"`
	MailboxRetries    int      `toml:"mailbox_retries"`
	MailboxRetryPause string   `toml:"mailbox_retry_pause"`
	ReportInterval    string   `toml:"report_interval"`
	MetricsAddr       string   `toml:"metrics_addr"`
	AllowedUIDs       []uint32 `toml:"allowed_uids"`
	AllowedGIDs       []uint32 `toml:"allowed_gids"`
	WritableMSRs      []uint32 `toml:"writable_msrs"`
}

func DefaultConfig() Config {
	return Config{
		SocketPath:        "/run/voltshift.sock",
		SocketMode:        0o660,
		CPU:               0,
		DevicePath:        msr.DefaultPathTemplate,
		MailboxRetries:    mailbox.DefaultRetries,
		MailboxRetryPause: mailbox.DefaultPause,
		ReportInterval:    time.Second,
	}
}

// Load reads path and applies every defined key on top of DefaultConfig.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q", ErrInvalid, undecoded[0].String())
	}

	if meta.IsDefined("socket_path") {
		cfg.SocketPath = strings.TrimSpace(raw.SocketPath)
	}
	if meta.IsDefined("socket_mode") {
		mode, err := strconv.ParseUint(strings.TrimSpace(raw.SocketMode), 8, 32)
		if err != nil {
			return Config{}, fmt.Errorf("parse socket_mode: %w", err)
		}
		cfg.SocketMode = os.FileMode(mode)
	}
	if meta.IsDefined("cpu") {
		cfg.CPU = raw.CPU
	}
	if meta.IsDefined("device_path") {
		cfg.DevicePath = strings.TrimSpace(raw.DevicePath)
	}
	if meta.IsDefined("simulate") {
		cfg.Simulate = raw.Simulate
	}
	if meta.IsDefined("mailbox_retries") {
		cfg.MailboxRetries = raw.MailboxRetries
	}
	if meta.IsDefined("mailbox_retry_pause") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.MailboxRetryPause))
		if err != nil {
			return Config{}, fmt.Errorf("parse mailbox_retry_pause: %w", err)
		}
		cfg.MailboxRetryPause = d
	}
	if meta.IsDefined("report_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ReportInterval))
		if err != nil {
			return Config{}, fmt.Errorf("parse report_interval: %w", err)
		}
		cfg.ReportInterval = d
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("allowed_uids") {
		cfg.AllowedUIDs = raw.AllowedUIDs
	}
	if meta.IsDefined("allowed_gids") {
		cfg.AllowedGIDs = raw.AllowedGIDs
	}
	if meta.IsDefined("writable_msrs") {
		cfg.WritableMSRs = raw.WritableMSRs
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("%w: socket_path is required", ErrInvalid)
	}
	if !filepath.IsAbs(c.SocketPath) {
		return fmt.Errorf("%w: socket_path must be absolute, got %q", ErrInvalid, c.SocketPath)
	}
	if c.SocketMode == 0 || c.SocketMode&^os.ModePerm != 0 {
		return fmt.Errorf("%w: socket_mode %#o", ErrInvalid, uint32(c.SocketMode))
	}
	if c.CPU < 0 {
		return fmt.Errorf("%w: cpu must be >= 0", ErrInvalid)
	}
	if !c.Simulate && !strings.Contains(c.DevicePath, "%d") {
		return fmt.Errorf("%w: device_path needs a %%d cpu placeholder", ErrInvalid)
	}
	if c.MailboxRetries < 1 || c.MailboxRetries > 1000 {
		return fmt.Errorf("%w: mailbox_retries must be in [1, 1000], got %d", ErrInvalid, c.MailboxRetries)
	}
	if c.MailboxRetryPause < 0 || c.MailboxRetryPause > time.Second {
		return fmt.Errorf("%w: mailbox_retry_pause out of range: %s", ErrInvalid, c.MailboxRetryPause)
	}
	if c.ReportInterval < 0 {
		return fmt.Errorf("%w: report_interval must not be negative", ErrInvalid)
	}
	return nil
}

// Device returns the register device path for the configured cpu.
func (c Config) Device() string {
	return fmt.Sprintf(c.DevicePath, c.CPU)
}

// Policy returns the access policy described by the allow lists.
func (c Config) Policy() auth.Policy {
	return auth.Policy{
		AllowedUIDs:  append([]uint32(nil), c.AllowedUIDs...),
		AllowedGIDs:  append([]uint32(nil), c.AllowedGIDs...),
		WritableMSRs: append([]uint32(nil), c.WritableMSRs...),
	}
}
