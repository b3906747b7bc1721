package logfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Store owns one physical log file.
//
// Appends are serialized by mu. Readers observe count atomically and only
// read ordinals below it, so they never touch bytes that are still being
// written. The ordinal to offset table is built on demand under offMu.
type Store struct {
	path string

	mu        sync.Mutex
	header    Header
	idx       Index
	end       int64 // first byte after the last counted entry, valid once recovered
	recovered bool
	rebuilt   bool
	torn      int64

	count  atomic.Uint64
	sealed atomic.Bool

	fdMu sync.RWMutex
	f    *os.File

	offMu   sync.Mutex
	offsets []int64
	scanEnd int64

	notify *notifier
	now    func() time.Time
}

type options struct {
	now func() time.Time
}

// Option customises Create and Open.
type Option func(*options)

// WithClock replaces time.Now for the opened and closed timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func applyOptions(opts []Option) func() time.Time {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return o.now
}

// Create writes a new file at path with the given header fields and an
// empty index. It fails if path already exists.
func Create(path string, hf HeaderFields, opts ...Option) (*Store, error) {
	now := applyOptions(opts)
	h := Header{Magic: Magic, Version: Version, Org: hf.Org, Title: hf.Title, ID: hf.ID}
	headerRegion, err := EncodeHeader(h)
	if err != nil {
		return nil, err
	}
	idx := Index{Opened: now().UTC()}
	indexRegion, err := EncodeIndex(idx)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrIO, path, err)
	}
	buf := append(headerRegion, indexRegion...)
	if _, err := f.WriteAt(buf, HeaderStart); err != nil {
		f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("%w: write header %s: %v", ErrIO, path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("%w: sync %s: %v", ErrIO, path, err)
	}
	syncDir(filepath.Dir(path))
	s := newStore(path, f, h, idx, now)
	s.recovered = true
	s.end = DataStart
	return s, nil
}

// Open validates the header and index of an existing file. The offset table
// is not built until the first ReadAt. A damaged index under a valid header
// is what an interrupted index write leaves behind; it is rebuilt from the
// data region (see Rebuilt).
func Open(path string, opts ...Option) (*Store, error) {
	now := applyOptions(opts)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, path, err)
	}
	regions := make([]byte, DataStart)
	n, err := f.ReadAt(regions, HeaderStart)
	if err != nil && !errors.Is(err, io.EOF) {
		f.Close()
		return nil, fmt.Errorf("%w: read %s: %v", ErrIO, path, err)
	}
	if n < IndexStart {
		f.Close()
		return nil, fmt.Errorf("%s: %w: file too short (%d bytes)", path, ErrCorruptHeader, n)
	}
	h, err := DecodeHeader(regions[HeaderStart:IndexStart])
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if n < DataStart {
		f.Close()
		return nil, fmt.Errorf("%s: %w: file too short (%d bytes)", path, ErrCorruptIndex, n)
	}
	idx, err := DecodeIndex(regions[IndexStart:DataStart])
	if err != nil {
		s := newStore(path, f, h, Index{}, now)
		if rerr := s.rebuildIndex(); rerr != nil {
			f.Close()
			return nil, fmt.Errorf("%s: %w (rebuild: %v)", path, err, rerr)
		}
		return s, nil
	}
	return newStore(path, f, h, idx, now), nil
}

func newStore(path string, f *os.File, h Header, idx Index, now func() time.Time) *Store {
	s := &Store{path: path, f: f, header: h, idx: idx, scanEnd: DataStart, notify: newNotifier(), now: now}
	s.count.Store(idx.Count)
	if idx.IsClosed() {
		s.sealed.Store(true)
		s.notify.seal()
	}
	return s
}

// Path returns the file's location on disk.
func (s *Store) Path() string { return s.path }

// Header returns the header. It never changes after creation.
func (s *Store) Header() Header { return s.header }

// ID is shorthand for Header().ID.
func (s *Store) ID() uint64 { return s.header.ID }

// Index returns a snapshot of the index.
func (s *Store) Index() Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idx
}

// EntryCount returns the number of complete entries.
func (s *Store) EntryCount() uint64 { return s.count.Load() }

// Closed reports whether the file is sealed.
func (s *Store) Closed() bool { return s.sealed.Load() }

// TornBytes reports how many trailing bytes were truncated during recovery.
func (s *Store) TornBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.torn
}

// Rebuilt reports whether Open had to reconstruct the index from the data
// region.
func (s *Store) Rebuilt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebuilt
}

// Subscribe returns a wake handle fired on every append.
func (s *Store) Subscribe() *Subscription { return s.notify.subscribe() }

// Subscribers returns the number of attached subscriptions.
func (s *Store) Subscribers() int { return s.notify.len() }

// Append writes e at the end of the data region and returns its ordinal.
// The entry is durable before the index advertises it.
func (s *Store) Append(e Entry) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx.IsClosed() {
		return 0, fmt.Errorf("append to file %d: %w", s.header.ID, ErrClosed)
	}
	s.fdMu.RLock()
	defer s.fdMu.RUnlock()
	if s.f == nil {
		return 0, fmt.Errorf("append to file %d: %w: released", s.header.ID, ErrClosed)
	}
	if !s.recovered {
		if err := s.recoverTail(); err != nil {
			return 0, err
		}
	}

	buf, err := EncodeEntry(e)
	if err != nil {
		return 0, fmt.Errorf("append to file %d: %w", s.header.ID, err)
	}
	start := s.end
	if _, err := s.f.WriteAt(buf, start); err != nil {
		return 0, fmt.Errorf("%w: append to file %d: %v", ErrIO, s.header.ID, err)
	}
	if err := datasync(s.f); err != nil {
		return 0, fmt.Errorf("%w: sync file %d: %v", ErrIO, s.header.ID, err)
	}

	next := s.idx
	next.Count++
	if next.FirstReceived.IsZero() {
		next.FirstReceived = e.Received.UTC()
	}
	if e.Received.After(next.LastReceived) {
		next.LastReceived = e.Received.UTC()
	}
	if err := s.writeIndex(next); err != nil {
		return 0, err
	}
	s.idx = next
	s.end = start + int64(len(buf))

	s.offMu.Lock()
	if s.scanEnd == start && uint64(len(s.offsets)) == next.Count-1 {
		s.offsets = append(s.offsets, start)
		s.scanEnd = s.end
	}
	s.offMu.Unlock()

	s.count.Store(next.Count)
	s.notify.broadcast()
	return next.Count - 1, nil
}

// writeIndex persists idx into the index region. Callers hold mu and fdMu.
func (s *Store) writeIndex(idx Index) error {
	region, err := EncodeIndex(idx)
	if err != nil {
		return fmt.Errorf("file %d: %w", s.header.ID, err)
	}
	if _, err := s.f.WriteAt(region, IndexStart); err != nil {
		return fmt.Errorf("%w: write index of file %d: %v", ErrIO, s.header.ID, err)
	}
	if err := datasync(s.f); err != nil {
		return fmt.Errorf("%w: sync index of file %d: %v", ErrIO, s.header.ID, err)
	}
	return nil
}

// recoverTail locates the end of the last counted entry and cuts off any
// bytes after it left by an interrupted append.
func (s *Store) recoverTail() error {
	count := s.idx.Count
	end := int64(DataStart)
	if count > 0 {
		s.offMu.Lock()
		err := s.extendLocked(count - 1)
		if err == nil {
			end = s.scanEnd
		}
		s.offMu.Unlock()
		if err != nil {
			return err
		}
	}
	fi, err := s.f.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat file %d: %v", ErrIO, s.header.ID, err)
	}
	if fi.Size() > end {
		if err := s.f.Truncate(end); err != nil {
			return fmt.Errorf("%w: truncate file %d: %v", ErrIO, s.header.ID, err)
		}
		if err := datasync(s.f); err != nil {
			return fmt.Errorf("%w: sync file %d: %v", ErrIO, s.header.ID, err)
		}
		s.torn = fi.Size() - end
	}
	s.end = end
	s.recovered = true
	return nil
}

// rebuildIndex counts the intact entries of the data region, cuts off what
// follows the last one and writes a fresh index. The file comes back open:
// whether it had been sealed is not recoverable.
func (s *Store) rebuildIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fdMu.RLock()
	defer s.fdMu.RUnlock()

	var idx Index
	s.offMu.Lock()
	for {
		e, n, err := s.readFrame(s.scanEnd)
		if errors.Is(err, ErrIO) {
			s.offMu.Unlock()
			return err
		}
		if err != nil {
			break
		}
		s.offsets = append(s.offsets, s.scanEnd)
		s.scanEnd += int64(n)
		idx.Count++
		if idx.FirstReceived.IsZero() {
			idx.FirstReceived = e.Received.UTC()
		}
		if e.Received.After(idx.LastReceived) {
			idx.LastReceived = e.Received.UTC()
		}
	}
	end := s.scanEnd
	s.offMu.Unlock()

	idx.Opened = idx.FirstReceived
	if idx.Opened.IsZero() {
		idx.Opened = s.now().UTC()
	}
	fi, err := s.f.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat file %d: %v", ErrIO, s.header.ID, err)
	}
	if fi.Size() > end {
		if err := s.f.Truncate(end); err != nil {
			return fmt.Errorf("%w: truncate file %d: %v", ErrIO, s.header.ID, err)
		}
		s.torn = fi.Size() - end
	}
	if err := s.writeIndex(idx); err != nil {
		return err
	}
	s.idx = idx
	s.end = end
	s.recovered = true
	s.rebuilt = true
	s.count.Store(idx.Count)
	return nil
}

// ReadAt returns the entry at the 0-based ordinal.
func (s *Store) ReadAt(ordinal uint64) (Entry, error) {
	if ordinal >= s.count.Load() {
		return Entry{}, fmt.Errorf("file %d ordinal %d: %w", s.ID(), ordinal, ErrOutOfRange)
	}
	s.fdMu.RLock()
	defer s.fdMu.RUnlock()
	if s.f == nil {
		return Entry{}, fmt.Errorf("read file %d: %w: released", s.ID(), ErrClosed)
	}
	s.offMu.Lock()
	err := s.extendLocked(ordinal)
	var off int64
	if err == nil {
		off = s.offsets[ordinal]
	}
	s.offMu.Unlock()
	if err != nil {
		return Entry{}, err
	}
	e, _, err := s.readFrame(off)
	if err != nil {
		return Entry{}, fmt.Errorf("file %d ordinal %d: %w", s.ID(), ordinal, err)
	}
	return e, nil
}

// extendLocked scans forward from the last known offset until the table
// covers ordinal. Callers hold offMu and fdMu.
func (s *Store) extendLocked(ordinal uint64) error {
	for uint64(len(s.offsets)) <= ordinal {
		_, n, err := s.readFrame(s.scanEnd)
		if err != nil {
			return fmt.Errorf("file %d: scanning entry %d at offset %d: %w", s.header.ID, len(s.offsets), s.scanEnd, err)
		}
		s.offsets = append(s.offsets, s.scanEnd)
		s.scanEnd += int64(n)
	}
	return nil
}

// readFrame reads and decodes the entry frame starting at off.
func (s *Store) readFrame(off int64) (Entry, int, error) {
	var head [binary.MaxVarintLen64]byte
	hn, err := s.f.ReadAt(head[:], off)
	if err != nil && !errors.Is(err, io.EOF) {
		return Entry{}, 0, fmt.Errorf("%w: %v", ErrIO, err)
	}
	size, vn := binary.Uvarint(head[:hn])
	if vn <= 0 || size == 0 || size > MaxEntrySize {
		return Entry{}, 0, fmt.Errorf("%w: bad entry frame", ErrCorruptIndex)
	}
	buf := make([]byte, vn+int(size)+4)
	if _, err := s.f.ReadAt(buf, off); err != nil {
		if errors.Is(err, io.EOF) {
			return Entry{}, 0, fmt.Errorf("%w: entry frame truncated", ErrCorruptIndex)
		}
		return Entry{}, 0, fmt.Errorf("%w: %v", ErrIO, err)
	}
	e, n, ok := DecodeEntry(buf)
	if !ok {
		return Entry{}, 0, fmt.Errorf("%w: entry checksum mismatch", ErrCorruptIndex)
	}
	return e, n, nil
}

// Close seals the file: closed is set to max(now, last_received), the index
// is flushed and subscribers are released. Calling Close again is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx.IsClosed() {
		return nil
	}
	s.fdMu.RLock()
	defer s.fdMu.RUnlock()
	if s.f == nil {
		return fmt.Errorf("seal file %d: %w: released", s.header.ID, ErrClosed)
	}
	next := s.idx
	next.Closed = s.now().UTC()
	if next.LastReceived.After(next.Closed) {
		next.Closed = next.LastReceived
	}
	if err := s.writeIndex(next); err != nil {
		return err
	}
	s.idx = next
	s.sealed.Store(true)
	s.notify.seal()
	return nil
}

// Release closes the file descriptor and drops the offset table. The store
// must not be used afterwards.
func (s *Store) Release() error {
	s.fdMu.Lock()
	defer s.fdMu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	s.offMu.Lock()
	s.offsets = nil
	s.scanEnd = DataStart
	s.offMu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrIO, s.path, err)
	}
	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
