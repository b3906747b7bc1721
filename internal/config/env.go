package config

import (
	"os"
	"strconv"
)

// FromEnv overlays TOWL_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("TOWL_ORG"); v != "" {
		cfg.Org = v
	}
	if v := os.Getenv("TOWL_TITLE"); v != "" {
		cfg.Title = v
	}
	if v := os.Getenv("TOWL_MAX_ENTRIES_PER_FILE"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil && n > 0 {
			cfg.Partition.MaxEntriesPerFile = n
			cfg.Partition.Rotation = ""
		}
	}
	if v := os.Getenv("TOWL_ROTATION"); v != "" {
		cfg.Partition.Rotation = v
		cfg.Partition.MaxEntriesPerFile = 0
	}
	if v := os.Getenv("TOWL_RETENTION_MODE"); v != "" {
		cfg.Retention.Mode = v
	}
	if v := os.Getenv("TOWL_ARCHIVE_URL"); v != "" {
		cfg.Retention.ArchiveURL = v
	}
	if v := os.Getenv("TOWL_KEEP_FILES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retention.KeepFiles = n
		}
	}
	if v := os.Getenv("TOWL_SUB_FLUSH_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			cfg.Subscribers.FlushMs = ms
		}
	}
	if v := os.Getenv("TOWL_SUB_BUF"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			if n > 65536 {
				n = 65536
			}
			cfg.Subscribers.Buffer = n
		}
	}
	if v := os.Getenv("TOWL_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TOWL_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}
