package partition

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mezeipetister/towl/internal/logfile"
	pebblestore "github.com/mezeipetister/towl/internal/storage/pebble"
	"github.com/mezeipetister/towl/pkg/log"
)

// Options configures a Manager.
type Options struct {
	// Dir holds the .towl files, the catalog and the directory lock.
	Dir string
	// Org and Title are stamped into the header of every new file.
	Org   string
	Title string
	// Policy is used until one is persisted through Configure.
	Policy Policy
	// Mode chooses between deleting and archiving retired files.
	Mode RetentionMode
	// Archiver is required when Mode is RetentionArchive.
	Archiver Archiver
	// Catalog overrides the Pebble database holding engine metadata. When
	// nil the manager opens (and owns) one under Dir/catalog.
	Catalog *pebblestore.DB
	Logger  log.Logger
	// Now overrides the clock. Tests only.
	Now func() time.Time
}

// Position locates an appended entry.
type Position struct {
	FileID  uint64 `json:"file_id"`
	Ordinal uint64 `json:"ordinal"`
}

// Stats is a point in time summary of the manager.
type Stats struct {
	ActiveID    uint64 `json:"active_id,omitempty"`
	ActiveCount uint64 `json:"active_count"`
	Files       int    `json:"files"`
	NextID      uint64 `json:"next_id"`
	Boundary    uint64 `json:"boundary"`
	Policy      Policy `json:"policy"`
	Quarantined int    `json:"quarantined"`
	Archived    int    `json:"archived"`
}

type file struct {
	store    *logfile.Store
	refs     int
	retiring bool
	retired  bool
}

// Manager owns the set of log files in one data directory. Exactly one file
// is active (accepting appends) at a time.
type Manager struct {
	dir      string
	org      string
	title    string
	mode     RetentionMode
	archiver Archiver
	logger   log.Logger
	now      func() time.Time

	lock       *dirLock
	db         *pebblestore.DB
	ownCatalog bool
	cat        catalog

	policy atomic.Pointer[Policy]

	// appendMu serializes everything that writes to or replaces the active
	// file. It is taken before mu and held across the fsyncs of an append,
	// so mu only guards the file table.
	appendMu sync.Mutex

	mu          sync.Mutex
	files       map[uint64]*file
	active      *file
	nextID      uint64
	boundary    uint64
	archived    map[uint64]ArchiveRecord
	quarantined []string
	closed      bool
}

// Open locks dir, loads the catalog and adopts the log files found there.
func Open(opts Options) (*Manager, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("%w: data directory is required", logfile.ErrConfig)
	}
	if opts.Mode == "" {
		opts.Mode = RetentionDelete
	}
	if opts.Mode != RetentionDelete && opts.Mode != RetentionArchive {
		return nil, fmt.Errorf("%w: unknown retention mode %q", logfile.ErrConfig, opts.Mode)
	}
	if opts.Mode == RetentionArchive && opts.Archiver == nil {
		return nil, fmt.Errorf("%w: archive retention needs an archiver", logfile.ErrConfig)
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", logfile.ErrIO, opts.Dir, err)
	}
	lock, err := lockDir(opts.Dir)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		dir:      opts.Dir,
		org:      opts.Org,
		title:    opts.Title,
		mode:     opts.Mode,
		archiver: opts.Archiver,
		logger:   opts.Logger.WithComponent("partition"),
		now:      opts.Now,
		lock:     lock,
		db:       opts.Catalog,
		files:    make(map[uint64]*file),
		archived: make(map[uint64]ArchiveRecord),
	}
	if m.db == nil {
		m.db, err = pebblestore.Open(pebblestore.Options{
			DataDir: filepath.Join(opts.Dir, "catalog"),
			Fsync:   pebblestore.FsyncModeAlways,
			Logger:  opts.Logger,
		})
		if err != nil {
			_ = lock.unlock()
			return nil, fmt.Errorf("open catalog: %w", err)
		}
		m.ownCatalog = true
	}
	m.cat = catalog{db: m.db}

	if err := m.load(opts.Policy); err != nil {
		m.shutdown()
		return nil, err
	}
	// Files that were closed below a recorded boundary while we were down.
	if res := m.sweep(context.Background()); len(res.Outcomes) > 0 {
		m.logOutcomes(res)
	}
	return m, nil
}

func (m *Manager) load(initial Policy) error {
	p, ok, err := m.cat.policy()
	if err != nil {
		return err
	}
	if !ok {
		p = initial
		if p == (Policy{}) {
			p = DefaultPolicy()
		}
	}
	if err := p.Validate(); err != nil {
		return err
	}
	m.policy.Store(&p)

	if m.nextID, err = m.cat.nextID(); err != nil {
		return err
	}
	if m.boundary, err = m.cat.boundary(); err != nil {
		return err
	}
	recs, err := m.cat.archives()
	if err != nil {
		return err
	}
	for _, r := range recs {
		m.archived[r.ID] = r
	}

	stores, err := m.scan()
	if err != nil {
		return err
	}
	var newestOpen *logfile.Store
	for _, s := range stores {
		if s.Closed() {
			continue
		}
		if newestOpen != nil {
			if err := newestOpen.Close(); err != nil {
				return err
			}
			m.logger.Info("sealed stale open file", log.Uint64("file", newestOpen.ID()))
		}
		newestOpen = s
	}
	for _, s := range stores {
		f := &file{store: s}
		m.files[s.ID()] = f
		if s == newestOpen {
			m.active = f
		}
		if s.ID() >= m.nextID {
			m.nextID = s.ID() + 1
		}
	}
	if err := m.cat.setNextID(m.nextID); err != nil {
		return err
	}
	if m.active != nil {
		m.logger.Info("resumed active file", log.Uint64("file", m.active.store.ID()), log.Uint64("entries", m.active.store.EntryCount()))
	}
	return nil
}

// scan opens every log file in the directory, sorted by header id. Damaged
// files and duplicate ids are quarantined.
func (m *Manager) scan() ([]*logfile.Store, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", logfile.ErrIO, m.dir, err)
	}
	byID := make(map[uint64]*logfile.Store)
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), logfile.Ext) {
			continue
		}
		path := filepath.Join(m.dir, de.Name())
		if !logfile.IsLogFile(path) {
			m.quarantine(path, errors.New("missing magic"))
			continue
		}
		s, err := logfile.Open(path, logfile.WithClock(m.now))
		if err != nil {
			m.quarantine(path, err)
			continue
		}
		if s.Rebuilt() {
			m.logger.Warn("rebuilt damaged index", log.Str("path", path), log.Uint64("entries", s.EntryCount()), log.Int64("torn_bytes", s.TornBytes()))
		}
		if prev, dup := byID[s.ID()]; dup {
			m.quarantine(path, fmt.Errorf("duplicate file id %d (also in %s)", s.ID(), prev.Path()))
			_ = s.Release()
			continue
		}
		byID[s.ID()] = s
	}
	out := make([]*logfile.Store, 0, len(byID))
	for _, s := range byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

func (m *Manager) quarantine(path string, err error) {
	m.quarantined = append(m.quarantined, path)
	m.logger.Warn("quarantined log file", log.Str("path", path), log.Err(err))
}

func (m *Manager) pathFor(id uint64) string {
	return filepath.Join(m.dir, strconv.FormatUint(id, 10)+logfile.Ext)
}

// Policy returns the rollover policy in force.
func (m *Manager) Policy() Policy { return *m.policy.Load() }

// Configure validates and persists p, then swaps it in. It only affects
// future rollover decisions.
func (m *Manager) Configure(p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := m.cat.setPolicy(p); err != nil {
		return fmt.Errorf("%w: persist policy: %v", logfile.ErrIO, err)
	}
	prev := m.policy.Swap(&p)
	m.logger.Info("policy changed", log.Str("from", prev.String()), log.Str("to", p.String()))
	return nil
}

// ShouldRoll reports whether s must be sealed under the current policy.
func (m *Manager) ShouldRoll(s *logfile.Store) bool {
	return m.Policy().ShouldRoll(s.EntryCount(), s.Index().Opened, m.now())
}

// ActiveFile returns the file that receives appends, creating one when
// there is none or the current one has outlived its rotation period.
func (m *Manager) ActiveFile() (*logfile.Store, error) {
	m.appendMu.Lock()
	defer m.appendMu.Unlock()
	m.mu.Lock()
	f, sealed, err := m.activeLocked()
	m.mu.Unlock()
	if sealed {
		m.afterSeal()
	}
	if err != nil {
		return nil, err
	}
	return f.store, nil
}

// activeLocked returns the active file. sealed reports whether a stale
// active file was sealed on the way.
func (m *Manager) activeLocked() (f *file, sealed bool, err error) {
	if m.closed {
		return nil, false, fmt.Errorf("partition manager: %w", logfile.ErrClosed)
	}
	if m.active != nil {
		p := m.Policy()
		if p.Rotation == RotationNone || !p.periodCrossed(m.active.store.Index().Opened, m.now()) {
			return m.active, false, nil
		}
		if err := m.sealActiveLocked("rotation"); err != nil {
			return nil, false, err
		}
		sealed = true
	}
	f, err = m.createLocked()
	return f, sealed, err
}

// createLocked reserves the next id in the catalog before the file exists,
// so ids stay unique even if creation fails halfway.
func (m *Manager) createLocked() (*file, error) {
	id := m.nextID
	if err := m.cat.setNextID(id + 1); err != nil {
		return nil, fmt.Errorf("%w: reserve file id: %v", logfile.ErrIO, err)
	}
	m.nextID = id + 1
	s, err := logfile.Create(m.pathFor(id), logfile.HeaderFields{Org: m.org, Title: m.title, ID: id}, logfile.WithClock(m.now))
	if err != nil {
		return nil, fmt.Errorf("create file %d: %w", id, err)
	}
	f := &file{store: s}
	m.files[id] = f
	m.active = f
	m.logger.Info("opened log file", log.Uint64("file", id))
	return f, nil
}

func (m *Manager) sealActiveLocked(reason string) error {
	f := m.active
	if f == nil {
		return nil
	}
	if err := f.store.Close(); err != nil {
		return fmt.Errorf("seal file %d: %w", f.store.ID(), err)
	}
	m.active = nil
	m.logger.Info("sealed log file", log.Uint64("file", f.store.ID()), log.Uint64("entries", f.store.EntryCount()), log.Str("reason", reason))
	return nil
}

// afterSeal applies a retention boundary that was waiting on the file that
// was just sealed.
func (m *Manager) afterSeal() {
	m.mu.Lock()
	pending := false
	for id, f := range m.files {
		if id < m.boundary && f.store.Closed() && !f.retiring {
			pending = true
			break
		}
	}
	m.mu.Unlock()
	if pending {
		m.logOutcomes(m.sweep(context.Background()))
	}
}

// Append writes e to the active file. Rollover is evaluated after the write:
// when the policy says so the file is sealed and the next append creates its
// successor.
func (m *Manager) Append(ctx context.Context, e logfile.Entry) (Position, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, err
	}
	m.appendMu.Lock()
	defer m.appendMu.Unlock()

	m.mu.Lock()
	f, sealed, err := m.activeLocked()
	m.mu.Unlock()
	if err != nil {
		if sealed {
			m.afterSeal()
		}
		return Position{}, err
	}
	ord, err := f.store.Append(e)
	if err != nil {
		if sealed {
			m.afterSeal()
		}
		return Position{}, err
	}
	pos := Position{FileID: f.store.ID(), Ordinal: ord}
	if m.ShouldRoll(f.store) {
		m.mu.Lock()
		if err := m.sealActiveLocked("policy"); err != nil {
			m.logger.Error("seal after append failed", log.Uint64("file", pos.FileID), log.Err(err))
		} else {
			sealed = true
		}
		m.mu.Unlock()
	}
	if sealed {
		m.afterSeal()
	}
	return pos, nil
}

// Rotate seals the active file if its rotation period is over. It returns
// true when a file was sealed.
func (m *Manager) Rotate() (bool, error) {
	m.appendMu.Lock()
	defer m.appendMu.Unlock()
	m.mu.Lock()
	if m.closed || m.active == nil {
		m.mu.Unlock()
		return false, nil
	}
	p := m.Policy()
	if p.Rotation == RotationNone || !p.periodCrossed(m.active.store.Index().Opened, m.now()) {
		m.mu.Unlock()
		return false, nil
	}
	err := m.sealActiveLocked("rotation")
	m.mu.Unlock()
	if err != nil {
		return false, err
	}
	m.afterSeal()
	return true, nil
}

// ListIDs returns the retained file ids in ascending order.
func (m *Manager) ListIDs() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uint64, 0, len(m.files))
	for id := range m.files {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Quarantined returns the paths of files excluded because they are damaged.
func (m *Manager) Quarantined() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.quarantined...)
}

// Archived returns the archive records, ordered by file id.
func (m *Manager) Archived() []ArchiveRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ArchiveRecord, 0, len(m.archived))
	for _, r := range m.archived {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats summarises the manager state.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Stats{
		Files:       len(m.files),
		NextID:      m.nextID,
		Boundary:    m.boundary,
		Policy:      m.Policy(),
		Quarantined: len(m.quarantined),
		Archived:    len(m.archived),
	}
	if m.active != nil {
		st.ActiveID = m.active.store.ID()
		st.ActiveCount = m.active.store.EntryCount()
	}
	return st
}

// Handle is a reference-counted read view of one file. The file stays
// readable until every handle is released, even if retention removes it
// from the set in the meantime.
type Handle struct {
	m    *Manager
	f    *file
	once sync.Once
}

// Store returns the underlying file.
func (h *Handle) Store() *logfile.Store { return h.f.store }

// ID returns the file id.
func (h *Handle) ID() uint64 { return h.f.store.ID() }

// Retired reports whether retention has removed the file from the set.
func (h *Handle) Retired() bool {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	return h.f.retired
}

// Release drops the reference. Safe to call more than once.
func (h *Handle) Release() {
	h.once.Do(func() { h.m.unref(h.f) })
}

// Acquire returns a handle on file id. Unknown ids yield ErrFileNotFound,
// ids removed by retention yield ErrFileRetired.
func (m *Manager) Acquire(id uint64) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("partition manager: %w", logfile.ErrClosed)
	}
	if f, ok := m.files[id]; ok {
		f.refs++
		return &Handle{m: m, f: f}, nil
	}
	if _, ok := m.archived[id]; ok || (id < m.boundary && id < m.nextID) {
		return nil, fmt.Errorf("file %d: %w", id, logfile.ErrFileRetired)
	}
	return nil, fmt.Errorf("file %d: %w", id, logfile.ErrFileNotFound)
}

func (m *Manager) unref(f *file) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f.refs--
	if f.refs > 0 {
		return
	}
	switch {
	case f.retired:
		if err := m.removeLocked(f); err != nil {
			m.logger.Error("remove retired file", log.Uint64("file", f.store.ID()), log.Err(err))
		}
	case m.closed:
		if err := f.store.Release(); err != nil {
			m.logger.Warn("release file", log.Uint64("file", f.store.ID()), log.Err(err))
		}
	}
}

// removeLocked unlinks a file with no readers left and releases its store.
// When the unlink fails the store stays usable and the error is returned.
func (m *Manager) removeLocked(f *file) error {
	id, path := f.store.ID(), f.store.Path()
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) && runtime.GOOS == "windows" {
		// Open files cannot be unlinked there.
		if rerr := f.store.Release(); rerr != nil {
			m.logger.Warn("release retired file", log.Uint64("file", id), log.Err(rerr))
		}
		if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			if s, oerr := logfile.Open(path, logfile.WithClock(m.now)); oerr == nil {
				f.store = s
			}
		}
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove file %d: %v", logfile.ErrIO, id, err)
	}
	if rerr := f.store.Release(); rerr != nil {
		m.logger.Warn("release retired file", log.Uint64("file", id), log.Err(rerr))
	}
	m.logger.Debug("removed retired file", log.Uint64("file", id))
	return nil
}

// Close seals the active file, applies any pending retention and releases
// every file without readers. Files still held are released by their last
// Handle.Release, so followers can drain what was written before the seal.
func (m *Manager) Close() error {
	m.appendMu.Lock()
	defer m.appendMu.Unlock()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	err := m.sealActiveLocked("shutdown")
	m.mu.Unlock()
	m.afterSeal()

	m.mu.Lock()
	m.closed = true
	for _, f := range m.files {
		if f.refs > 0 {
			continue
		}
		if rerr := f.store.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}
	m.mu.Unlock()
	m.shutdown()
	return err
}

func (m *Manager) shutdown() {
	if m.ownCatalog && m.db != nil {
		if err := m.db.Close(); err != nil {
			m.logger.Warn("close catalog", log.Err(err))
		}
		m.db = nil
	}
	if err := m.lock.unlock(); err != nil {
		m.logger.Warn("unlock data directory", log.Err(err))
	}
}
