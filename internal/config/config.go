package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mezeipetister/towl/internal/logfile"
	"github.com/mezeipetister/towl/pkg/log"
)

// Config is the server configuration loaded from file/env.
type Config struct {
	// Org and Title are written into the header of every new log file.
	Org         string           `json:"org" yaml:"org"`
	Title       string           `json:"title" yaml:"title"`
	Partition   PartitionConfig  `json:"partition" yaml:"partition"`
	Retention   RetentionConfig  `json:"retention" yaml:"retention"`
	Subscribers SubscriberConfig `json:"subscribers" yaml:"subscribers"`
	Log         log.Config       `json:"log" yaml:"log"`
}

// PartitionConfig is the initial rollover policy. Exactly one of
// MaxEntriesPerFile and Rotation is set. A policy changed at runtime through
// Config overrides it until the catalog is wiped.
type PartitionConfig struct {
	MaxEntriesPerFile uint64 `json:"maxEntriesPerFile,omitempty" yaml:"maxEntriesPerFile,omitempty"`
	Rotation          string `json:"rotation,omitempty" yaml:"rotation,omitempty"`
	// RotateCheckMs is how often an idle active file is checked against its
	// rotation period.
	RotateCheckMs int `json:"rotateCheckMs" yaml:"rotateCheckMs"`
}

// RetentionConfig controls what happens to retired files.
type RetentionConfig struct {
	// Mode is "delete" or "archive".
	Mode string `json:"mode" yaml:"mode"`
	// ArchiveURL is an afs URL (local path, file://, mem://, ...) receiving
	// archived files when Mode is "archive".
	ArchiveURL string `json:"archiveURL,omitempty" yaml:"archiveURL,omitempty"`
	// KeepFiles enables the retention cleaner when > 0.
	KeepFiles       int `json:"keepFiles,omitempty" yaml:"keepFiles,omitempty"`
	CheckIntervalMs int `json:"checkIntervalMs" yaml:"checkIntervalMs"`
}

// SubscriberConfig tunes the per-subscriber writer of live reads.
type SubscriberConfig struct {
	// FlushMs coalesces sends for up to this window before flushing (0 = flush each send).
	FlushMs int `json:"flushMs" yaml:"flushMs"`
	// Buffer is the queue length between reader and transport writer.
	Buffer int `json:"buffer" yaml:"buffer"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Partition: PartitionConfig{Rotation: "daily", RotateCheckMs: 1000},
		Retention: RetentionConfig{Mode: "delete", CheckIntervalMs: 60_000},
		Subscribers: SubscriberConfig{
			FlushMs: 0,
			Buffer:  1024,
		},
		Log: log.Config{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a JSON or YAML file (by extension) on top of
// the defaults. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if err := decodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeFile unmarshals path into v, choosing YAML for .yaml/.yml and JSON
// otherwise.
func decodeFile(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, v); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, v); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return nil
}

// Validate checks the configuration for contradictions.
func (c Config) Validate() error {
	p := c.Partition
	if p.MaxEntriesPerFile > 0 && p.Rotation != "" {
		return fmt.Errorf("%w: partition: set maxEntriesPerFile or rotation, not both", logfile.ErrConfig)
	}
	if p.MaxEntriesPerFile == 0 && p.Rotation == "" {
		return fmt.Errorf("%w: partition: maxEntriesPerFile or rotation is required", logfile.ErrConfig)
	}
	switch p.Rotation {
	case "", "daily", "weekly":
	default:
		return fmt.Errorf("%w: partition: unknown rotation %q", logfile.ErrConfig, p.Rotation)
	}
	switch c.Retention.Mode {
	case "", "delete":
	case "archive":
		if c.Retention.ArchiveURL == "" {
			return fmt.Errorf("%w: retention: archive mode needs archiveURL", logfile.ErrConfig)
		}
	default:
		return fmt.Errorf("%w: retention: unknown mode %q", logfile.ErrConfig, c.Retention.Mode)
	}
	if c.Retention.KeepFiles < 0 {
		return fmt.Errorf("%w: retention: keepFiles must not be negative", logfile.ErrConfig)
	}
	if c.Subscribers.Buffer < 0 || c.Subscribers.FlushMs < 0 {
		return fmt.Errorf("%w: subscribers: negative tunable", logfile.ErrConfig)
	}
	return nil
}

// SenderConfig configures the `towl send` daemon (daemon.json).
type SenderConfig struct {
	RemoteAddr string `json:"remote_addr" yaml:"remote_addr"`
	RemotePort string `json:"remote_port" yaml:"remote_port"`
	SenderName string `json:"sender_name" yaml:"sender_name"`
}

// DefaultSenderConfigPath is where the sender daemon looks for its config.
const DefaultSenderConfigPath = "/etc/towl/daemon.json"

// LoadSender reads a SenderConfig from path (JSON or YAML).
func LoadSender(path string) (SenderConfig, error) {
	var sc SenderConfig
	if err := decodeFile(path, &sc); err != nil {
		return SenderConfig{}, err
	}
	return sc, nil
}

// Target returns host:port for dialing, or "" when RemoteAddr is unset.
func (s SenderConfig) Target() string {
	if s.RemoteAddr == "" {
		return ""
	}
	addr := strings.TrimPrefix(strings.TrimPrefix(s.RemoteAddr, "http://"), "https://")
	if s.RemotePort == "" {
		return addr
	}
	return addr + ":" + s.RemotePort
}
