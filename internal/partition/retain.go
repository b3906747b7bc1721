package partition

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/mezeipetister/towl/internal/logfile"
	"github.com/mezeipetister/towl/pkg/log"
)

// OutcomeKind classifies what retention did to one file.
type OutcomeKind string

const (
	OutcomeRemoved  OutcomeKind = "removed"
	OutcomeArchived OutcomeKind = "archived"
	// OutcomeDeferred: the file is still active or still has readers. It is
	// removed once sealed or once the last reader is gone.
	OutcomeDeferred OutcomeKind = "deferred"
	OutcomeFailed   OutcomeKind = "failed"
)

// Outcome is the retention result for a single file.
type Outcome struct {
	ID   uint64      `json:"id"`
	Kind OutcomeKind `json:"kind"`
	URL  string      `json:"url,omitempty"`
	Err  error       `json:"-"`
}

// RetainResult lists per-file outcomes in id order.
type RetainResult struct {
	Boundary uint64    `json:"boundary"`
	Outcomes []Outcome `json:"outcomes"`
}

// Err joins the errors of failed outcomes, or returns nil.
func (r RetainResult) Err() error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Kind == OutcomeFailed && o.Err != nil {
			errs = append(errs, fmt.Errorf("file %d: %w", o.ID, o.Err))
		}
	}
	return errors.Join(errs...)
}

// Count returns how many outcomes are of kind k.
func (r RetainResult) Count(k OutcomeKind) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Kind == k {
			n++
		}
	}
	return n
}

// Retain raises the retention boundary to boundary (it never moves down) and
// retires every sealed file whose id is below it. The active file is never
// removed; its outcome is deferred and the boundary applies when it is
// sealed. Per-file failures are reported in the result, not returned.
func (m *Manager) Retain(ctx context.Context, boundary uint64) (RetainResult, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return RetainResult{}, fmt.Errorf("partition manager: %w", logfile.ErrClosed)
	}
	if boundary > m.boundary {
		if err := m.cat.setBoundary(boundary); err != nil {
			m.mu.Unlock()
			return RetainResult{}, fmt.Errorf("%w: persist boundary: %v", logfile.ErrIO, err)
		}
		m.boundary = boundary
	}
	m.mu.Unlock()

	res := m.sweep(ctx)
	m.logOutcomes(res)
	return res, nil
}

// sweep retires every sealed file below the current boundary. Archive
// copies run without holding mu; each candidate is pinned with a reference
// meanwhile so readers releasing their handles cannot remove it early.
func (m *Manager) sweep(ctx context.Context) RetainResult {
	m.mu.Lock()
	res := RetainResult{Boundary: m.boundary}
	var todo []*file
	for id, f := range m.files {
		if id >= m.boundary || f.retiring {
			continue
		}
		if !f.store.Closed() {
			res.Outcomes = append(res.Outcomes, Outcome{ID: id, Kind: OutcomeDeferred})
			continue
		}
		f.retiring = true
		f.refs++
		todo = append(todo, f)
	}
	m.mu.Unlock()

	sort.Slice(todo, func(i, j int) bool { return todo[i].store.ID() < todo[j].store.ID() })
	for _, f := range todo {
		res.Outcomes = append(res.Outcomes, m.retire(ctx, f))
	}
	sort.Slice(res.Outcomes, func(i, j int) bool { return res.Outcomes[i].ID < res.Outcomes[j].ID })
	return res
}

func (m *Manager) retire(ctx context.Context, f *file) Outcome {
	id := f.store.ID()
	out := Outcome{ID: id, Kind: OutcomeRemoved}
	if m.mode == RetentionArchive {
		url, err := m.archiveOne(ctx, f)
		if err != nil {
			m.mu.Lock()
			f.retiring = false
			f.refs--
			m.mu.Unlock()
			return Outcome{ID: id, Kind: OutcomeFailed, Err: err}
		}
		out = Outcome{ID: id, Kind: OutcomeArchived, URL: url}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	f.refs--
	if f.refs > 0 {
		// Readers keep the file open; the last Release unlinks it. An
		// archived file keeps its archived outcome since the copy is done.
		delete(m.files, id)
		f.retired = true
		m.logger.Debug("retired file has readers, removal deferred", log.Uint64("file", id), log.Int("readers", f.refs))
		if out.Kind == OutcomeRemoved {
			out.Kind = OutcomeDeferred
		}
		return out
	}
	if err := m.removeLocked(f); err != nil {
		f.retiring = false
		return Outcome{ID: id, Kind: OutcomeFailed, URL: out.URL, Err: err}
	}
	delete(m.files, id)
	f.retired = true
	return out
}

func (m *Manager) archiveOne(ctx context.Context, f *file) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	url, err := m.archiver.Archive(ctx, f.store.Path(), f.store.Header(), f.store.Index())
	if err != nil {
		return "", err
	}
	rec := ArchiveRecord{ID: f.store.ID(), URL: url, ArchivedAt: m.now().UTC()}
	if err := m.cat.putArchive(ctx, rec); err != nil {
		return "", fmt.Errorf("record archive of file %d: %w", rec.ID, err)
	}
	m.mu.Lock()
	m.archived[rec.ID] = rec
	m.mu.Unlock()
	return url, nil
}

func (m *Manager) logOutcomes(res RetainResult) {
	for _, o := range res.Outcomes {
		switch o.Kind {
		case OutcomeFailed:
			m.logger.Error("retention failed", log.Uint64("file", o.ID), log.Err(o.Err))
		case OutcomeDeferred:
			m.logger.Info("retention deferred", log.Uint64("file", o.ID), log.Uint64("boundary", res.Boundary))
		default:
			m.logger.Info("file retired", log.Uint64("file", o.ID), log.Str("outcome", string(o.Kind)), log.Str("url", o.URL))
		}
	}
}
