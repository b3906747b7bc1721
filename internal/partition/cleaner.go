package partition

import (
	"context"
	"sync"
	"time"

	"github.com/mezeipetister/towl/pkg/log"
)

// Rotator periodically seals the active file once its rotation period is
// over, so an idle file does not stay open past midnight.
type Rotator struct {
	m        *Manager
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewRotator returns a rotator checking m every interval.
func NewRotator(m *Manager, interval time.Duration) *Rotator {
	if interval <= 0 {
		interval = time.Second
	}
	return &Rotator{m: m, interval: interval, stopCh: make(chan struct{})}
}

func (r *Rotator) Start() {
	r.wg.Add(1)
	go r.run()
}

func (r *Rotator) run() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := r.m.Rotate(); err != nil {
				r.m.logger.Error("rotation failed", log.Err(err))
			}
		case <-r.stopCh:
			return
		}
	}
}

func (r *Rotator) Stop() {
	r.once.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// RetentionCleaner keeps the newest KeepFiles files and retires the rest by
// raising the retention boundary on every tick.
type RetentionCleaner struct {
	m         *Manager
	keepFiles int
	interval  time.Duration
	stopCh    chan struct{}
	wg        sync.WaitGroup
	once      sync.Once
}

// NewRetentionCleaner returns a cleaner for m. keepFiles counts the active
// file too.
func NewRetentionCleaner(m *Manager, keepFiles int, interval time.Duration) *RetentionCleaner {
	if interval <= 0 {
		interval = time.Minute
	}
	return &RetentionCleaner{m: m, keepFiles: keepFiles, interval: interval, stopCh: make(chan struct{})}
}

func (rc *RetentionCleaner) Start() {
	rc.wg.Add(1)
	go rc.run()
}

func (rc *RetentionCleaner) run() {
	defer rc.wg.Done()
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rc.Clean(context.Background())
		case <-rc.stopCh:
			return
		}
	}
}

// Clean runs one retention pass and returns its result. Nothing is done
// while the manager holds KeepFiles files or fewer.
func (rc *RetentionCleaner) Clean(ctx context.Context) RetainResult {
	if rc.keepFiles <= 0 {
		return RetainResult{}
	}
	ids := rc.m.ListIDs()
	if len(ids) <= rc.keepFiles {
		return RetainResult{}
	}
	boundary := ids[len(ids)-rc.keepFiles]
	res, err := rc.m.Retain(ctx, boundary)
	if err != nil {
		rc.m.logger.Error("retention pass failed", log.Uint64("boundary", boundary), log.Err(err))
	}
	return res
}

func (rc *RetentionCleaner) Stop() {
	rc.once.Do(func() { close(rc.stopCh) })
	rc.wg.Wait()
}
