// Package syncer serves "every entry of file F from ordinal P on", either as
// a bounded read or as a live tail that follows appends until the file is
// sealed.
package syncer

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mezeipetister/towl/internal/logfile"
	"github.com/mezeipetister/towl/internal/partition"
	"github.com/mezeipetister/towl/pkg/log"
)

// ParseCounter parses a client supplied after_counter: a base-10 unsigned
// integer with no sign, spaces or separators.
func ParseCounter(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty", logfile.ErrInvalidCounter)
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", logfile.ErrInvalidCounter, s)
	}
	return n, nil
}

// Coordinator opens cursors over the files of a partition manager.
type Coordinator struct {
	m      *partition.Manager
	logger log.Logger
}

// New returns a coordinator reading from m.
func New(m *partition.Manager, logger log.Logger) *Coordinator {
	if logger == nil {
		logger = log.Nop()
	}
	return &Coordinator{m: m, logger: logger.WithComponent("syncer")}
}

// Stream returns a cursor over file fileID starting at ordinal after, which
// is the number of entries the caller already holds. Without follow the
// cursor ends at the current entry count; with follow it waits for appends
// and ends once the file is sealed and fully read.
func (c *Coordinator) Stream(ctx context.Context, fileID, after uint64, follow bool) (*Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := c.m.Acquire(fileID)
	if err != nil {
		return nil, err
	}
	cur := &Cursor{h: h, next: after, follow: follow, logger: c.logger}
	if follow {
		// Subscribe before the first count check so no append is missed.
		cur.sub = h.Store().Subscribe()
	}
	return cur, nil
}

// Cursor iterates entries of one file in ordinal order.
//
//	cur, err := coord.Stream(ctx, id, after, true)
//	defer cur.Close()
//	for cur.Next(ctx) {
//		handle(cur.Ordinal(), cur.Entry())
//	}
//	err = cur.Err()
type Cursor struct {
	h      *partition.Handle
	sub    *logfile.Subscription
	follow bool
	logger log.Logger

	next  uint64
	entry logfile.Entry
	ord   uint64
	err   error
	done  bool
}

// Next advances to the following entry. It returns false at the end of the
// stream, on error or when ctx is cancelled; check Err afterwards.
func (c *Cursor) Next(ctx context.Context) bool {
	if c.done {
		return false
	}
	s := c.h.Store()
	for {
		if err := ctx.Err(); err != nil {
			return c.finish(err)
		}
		if c.next < s.EntryCount() {
			e, err := s.ReadAt(c.next)
			if err != nil {
				c.logger.Warn("read failed, ending stream", log.Uint64("file", c.h.ID()), log.Uint64("ordinal", c.next), log.Err(err))
				return c.finish(err)
			}
			c.entry, c.ord = e, c.next
			c.next++
			return true
		}
		if !c.follow {
			return c.finish(nil)
		}
		if s.Closed() {
			// The final append happens before the seal, so one more count
			// check decides whether anything is left.
			if c.next >= s.EntryCount() {
				return c.finish(nil)
			}
			continue
		}
		select {
		case <-ctx.Done():
			return c.finish(ctx.Err())
		case <-c.sub.C():
		case <-c.sub.Done():
		}
	}
}

func (c *Cursor) finish(err error) bool {
	c.err = err
	c.done = true
	c.release()
	return false
}

func (c *Cursor) release() {
	if c.sub != nil {
		c.sub.Unsubscribe()
		c.sub = nil
	}
	c.h.Release()
}

// Entry returns the current entry.
func (c *Cursor) Entry() logfile.Entry { return c.entry }

// Ordinal returns the current entry's ordinal.
func (c *Cursor) Ordinal() uint64 { return c.ord }

// FileID returns the file being read.
func (c *Cursor) FileID() uint64 { return c.h.ID() }

// Err returns the error that ended the stream, if any. A cancelled context
// is reported as its error.
func (c *Cursor) Err() error { return c.err }

// Close releases the cursor. Safe to call at any time and more than once.
func (c *Cursor) Close() {
	if !c.done {
		c.done = true
		c.release()
	}
}
