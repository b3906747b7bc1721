package runtime

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	cfgpkg "github.com/mezeipetister/towl/internal/config"
	"github.com/mezeipetister/towl/internal/logfile"
	"github.com/mezeipetister/towl/internal/partition"
	pebblestore "github.com/mezeipetister/towl/internal/storage/pebble"
	"github.com/mezeipetister/towl/internal/syncer"
	"github.com/mezeipetister/towl/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	DataDir string
	// Fsync applies to the metadata catalog. Log files are always synced.
	Fsync  pebblestore.FsyncMode
	Config cfgpkg.Config
	Logger log.Logger
	// Archiver overrides the afs archiver built from Config.Retention.ArchiveURL.
	Archiver partition.Archiver
	// Now overrides the clock. Tests only.
	Now func() time.Time
}

// Runtime wires the catalog, the partition manager, the sync coordinator and
// the background rotation and retention loops for one data directory.
type Runtime struct {
	db      *pebblestore.DB
	config  cfgpkg.Config
	logger  log.Logger
	manager *partition.Manager
	syncer  *syncer.Coordinator
	rotator *partition.Rotator
	cleaner *partition.RetentionCleaner
}

// PolicyFromConfig converts the partition section of the configuration.
func PolicyFromConfig(pc cfgpkg.PartitionConfig) partition.Policy {
	return partition.Policy{MaxEntries: pc.MaxEntriesPerFile, Rotation: partition.Rotation(pc.Rotation)}
}

// Open validates the configuration, opens storage and starts background loops.
func Open(opts Options) (*Runtime, error) {
	if opts.DataDir == "" {
		return nil, fmt.Errorf("%w: data directory is required", logfile.ErrConfig)
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Fsync == pebblestore.FsyncModeUnspecified {
		opts.Fsync = pebblestore.FsyncModeAlways
	}
	cfg := opts.Config

	mode := partition.RetentionMode(cfg.Retention.Mode)
	archiver := opts.Archiver
	if mode == partition.RetentionArchive && archiver == nil {
		archiver = partition.NewAFSArchiver(cfg.Retention.ArchiveURL)
	}

	db, err := pebblestore.Open(pebblestore.Options{
		DataDir: filepath.Join(opts.DataDir, "catalog"),
		Fsync:   opts.Fsync,
		Logger:  opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	m, err := partition.Open(partition.Options{
		Dir:      opts.DataDir,
		Org:      cfg.Org,
		Title:    cfg.Title,
		Policy:   PolicyFromConfig(cfg.Partition),
		Mode:     mode,
		Archiver: archiver,
		Catalog:  db,
		Logger:   opts.Logger,
		Now:      opts.Now,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	rt := &Runtime{
		db:      db,
		config:  cfg,
		logger:  opts.Logger.WithComponent("runtime"),
		manager: m,
		syncer:  syncer.New(m, opts.Logger),
		rotator: partition.NewRotator(m, time.Duration(cfg.Partition.RotateCheckMs)*time.Millisecond),
	}
	rt.rotator.Start()
	if cfg.Retention.KeepFiles > 0 {
		rt.cleaner = partition.NewRetentionCleaner(m, cfg.Retention.KeepFiles, time.Duration(cfg.Retention.CheckIntervalMs)*time.Millisecond)
		rt.cleaner.Start()
	}
	rt.logger.Info("runtime opened",
		log.Str("dir", opts.DataDir),
		log.Str("policy", m.Policy().String()),
		log.Str("retention", string(mode)),
		log.Int("files", len(m.ListIDs())))
	return rt, nil
}

// Close stops background loops, seals the active file and closes storage.
func (r *Runtime) Close() error {
	if r.manager == nil {
		return nil
	}
	r.rotator.Stop()
	if r.cleaner != nil {
		r.cleaner.Stop()
	}
	err := r.manager.Close()
	if cerr := r.db.Close(); cerr != nil && err == nil {
		err = cerr
	}
	r.manager = nil
	return err
}

// CheckHealth verifies the catalog is readable and the manager is open.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.manager == nil || r.db == nil {
		return errors.New("runtime not open")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := r.db.Has(partition.KeyNextID()); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	return nil
}

// Manager returns the partition manager.
func (r *Runtime) Manager() *partition.Manager { return r.manager }

// Syncer returns the sync coordinator.
func (r *Runtime) Syncer() *syncer.Coordinator { return r.syncer }

// RetentionCleaner returns the periodic cleaner, or nil when KeepFiles is 0.
func (r *Runtime) RetentionCleaner() *partition.RetentionCleaner { return r.cleaner }

// DB exposes the catalog for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

// Logger returns the root logger.
func (r *Runtime) Logger() log.Logger { return r.logger }
