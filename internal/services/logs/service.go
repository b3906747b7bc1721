package logsvc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mezeipetister/towl/internal/logfile"
	"github.com/mezeipetister/towl/internal/partition"
	"github.com/mezeipetister/towl/internal/runtime"
	"github.com/mezeipetister/towl/internal/syncer"
	logpkg "github.com/mezeipetister/towl/pkg/log"
)

// Service exposes the collector operations to the transports.
//
// Subscriber tunables come from the runtime configuration:
//   - Subscribers.FlushMs: optional flush window. When >0 the writer
//     coalesces sends for up to the window before flushing.
//   - Subscribers.Buffer: queue length between the file reader and the
//     transport writer of each subscriber.
type Service struct {
	rt     *runtime.Runtime
	logger logpkg.Logger
	now    func() time.Time

	subsMu     sync.Mutex
	activeSubs map[uint64]int

	flushWindow time.Duration
	subBufLen   int
}

// New returns a Service using the runtime logger.
func New(rt *runtime.Runtime) *Service {
	return NewWithLogger(rt, rt.Logger())
}

// NewWithLogger returns a Service using the provided logger.
func NewWithLogger(rt *runtime.Runtime, logger logpkg.Logger) *Service {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	sc := rt.Config().Subscribers
	buf := sc.Buffer
	if buf <= 0 {
		buf = 1024
	}
	return &Service{
		rt:          rt,
		logger:      logger.With(logpkg.Component("logs")),
		now:         time.Now,
		activeSubs:  map[uint64]int{},
		flushWindow: time.Duration(sc.FlushMs) * time.Millisecond,
		subBufLen:   buf,
	}
}

// Add stores one entry in the active file.
func (s *Service) Add(ctx context.Context, req AddRequest) (partition.Position, error) {
	e := logfile.Entry{
		Sender:    req.Sender,
		Received:  s.now().UTC(),
		LogFormat: req.LogFormat,
		LogEntry:  req.LogEntry,
	}
	pos, err := s.rt.Manager().Append(ctx, e)
	if err != nil {
		s.logger.Error("add failed", logpkg.Str("sender", req.Sender), logpkg.Err(err))
		return partition.Position{}, err
	}
	return pos, nil
}

// List returns the ids of the retained files in ascending order.
func (s *Service) List(ctx context.Context) ([]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.rt.Manager().ListIDs(), nil
}

// Validate reports the error Get would fail with before streaming anything:
// a malformed counter or an unknown or retired file.
func (s *Service) Validate(ctx context.Context, req GetRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := syncer.ParseCounter(req.AfterCounter); err != nil {
		return err
	}
	h, err := s.rt.Manager().Acquire(req.FileID)
	if err != nil {
		return err
	}
	h.Release()
	return nil
}

// Get streams the entries of one file to sink, following appends when
// req.Follow is set. It returns when the entries are exhausted, the file is
// sealed and drained (follow), the sink fails or ctx is cancelled.
func (s *Service) Get(ctx context.Context, req GetRequest, sink Sink) error {
	after, err := syncer.ParseCounter(req.AfterCounter)
	if err != nil {
		return err
	}
	cur, err := s.rt.Syncer().Stream(ctx, req.FileID, after, req.Follow)
	if err != nil {
		return err
	}
	defer cur.Close()
	if req.Follow {
		s.incSub(req.FileID)
		defer s.decSub(req.FileID)
	}

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Per-subscriber async writer
	var sendErr error
	outCh := make(chan Item, s.subBufLen)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		pending := 0
		var ticker *time.Timer
		if s.flushWindow > 0 {
			ticker = time.NewTimer(s.flushWindow)
			defer ticker.Stop()
		}
		flush := func() error {
			if pending == 0 {
				return nil
			}
			pending = 0
			return sink.Flush()
		}
		tick := func() <-chan time.Time {
			if ticker != nil {
				return ticker.C
			}
			return nil
		}
		for {
			select {
			case it, ok := <-outCh:
				if !ok {
					if err := flush(); err != nil && sendErr == nil {
						sendErr = err
					}
					return
				}
				if err := sink.Send(it); err != nil {
					sendErr = err
					return
				}
				pending++
				if s.flushWindow == 0 || pending >= 64 {
					if err := flush(); err != nil {
						sendErr = err
						return
					}
					if ticker != nil {
						if !ticker.Stop() {
							select {
							case <-ticker.C:
							default:
							}
						}
						ticker.Reset(s.flushWindow)
					}
				}
			case <-sink.Context().Done():
				return
			case <-tick():
				if err := flush(); err != nil {
					sendErr = err
					return
				}
				ticker.Reset(s.flushWindow)
			}
		}
	}()

	sent := 0
	for cur.Next(readCtx) {
		it := Item{FileID: req.FileID, Counter: cur.Ordinal(), Entry: cur.Entry()}
		select {
		case outCh <- it:
			sent++
		case <-readCtx.Done():
		}
	}
	close(outCh)
	wg.Wait()

	if sendErr != nil {
		s.logger.Warn("subscriber send failed", logpkg.Uint64("file", req.FileID), logpkg.Err(sendErr))
		return sendErr
	}
	if err := cur.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if sc := sink.Context().Err(); sc != nil {
			return sc
		}
		return err
	}
	s.logger.Debug("get finished", logpkg.Uint64("file", req.FileID), logpkg.Uint64("after", after), logpkg.Int("sent", sent), logpkg.Bool("follow", req.Follow))
	return nil
}

// Config applies a new rollover policy given as a JSON object holding
// either max_entries_per_file or rotation. On error the current policy is
// kept.
func (s *Service) Config(ctx context.Context, payload []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p, err := parsePolicy(payload)
	if err != nil {
		return "", err
	}
	if err := s.rt.Manager().Configure(p); err != nil {
		return "", err
	}
	s.logger.Info("policy updated", logpkg.Str("policy", p.String()))
	return "policy set: " + p.String(), nil
}

func parsePolicy(payload []byte) (partition.Policy, error) {
	var st structpb.Struct
	if err := protojson.Unmarshal(payload, &st); err != nil {
		return partition.Policy{}, fmt.Errorf("%w: payload is not a JSON object: %v", logfile.ErrConfig, err)
	}
	var p partition.Policy
	keys := make([]string, 0, len(st.Fields))
	for k := range st.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := st.Fields[k]
		switch k {
		case "max_entries_per_file":
			n, ok := v.GetKind().(*structpb.Value_NumberValue)
			if !ok || n.NumberValue < 1 || n.NumberValue != math.Trunc(n.NumberValue) || n.NumberValue > 1<<53 {
				return partition.Policy{}, fmt.Errorf("%w: max_entries_per_file must be a positive integer", logfile.ErrConfig)
			}
			p.MaxEntries = uint64(n.NumberValue)
		case "rotation":
			r, ok := v.GetKind().(*structpb.Value_StringValue)
			if !ok {
				return partition.Policy{}, fmt.Errorf("%w: rotation must be a string", logfile.ErrConfig)
			}
			p.Rotation = partition.Rotation(strings.ToLower(r.StringValue))
		default:
			return partition.Policy{}, fmt.Errorf("%w: unknown key %q", logfile.ErrConfig, k)
		}
	}
	if err := p.Validate(); err != nil {
		return partition.Policy{}, err
	}
	return p, nil
}

// Retain retires every file with an id below boundary.
func (s *Service) Retain(ctx context.Context, boundary uint64) (partition.RetainResult, error) {
	res, err := s.rt.Manager().Retain(ctx, boundary)
	if err != nil {
		return res, err
	}
	if ferr := res.Err(); ferr != nil {
		s.logger.Warn("retention partially failed", logpkg.Uint64("boundary", boundary), logpkg.Int("failed", res.Count(partition.OutcomeFailed)))
	}
	return res, nil
}

// Status reports manager statistics and live subscriber counts.
func (s *Service) Status(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}
	st := Status{Stats: s.rt.Manager().Stats()}
	s.subsMu.Lock()
	if len(s.activeSubs) > 0 {
		st.Subscribers = make(map[uint64]int, len(s.activeSubs))
		for id, n := range s.activeSubs {
			st.Subscribers[id] = n
		}
	}
	s.subsMu.Unlock()
	return st, nil
}

// Health reports whether the runtime is usable.
func (s *Service) Health(ctx context.Context) error {
	return s.rt.CheckHealth(ctx)
}

// ActiveSubscribersCount returns the number of live Get streams on a file.
func (s *Service) ActiveSubscribersCount(fileID uint64) int {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	return s.activeSubs[fileID]
}

func (s *Service) incSub(id uint64) {
	s.subsMu.Lock()
	s.activeSubs[id]++
	s.subsMu.Unlock()
}

func (s *Service) decSub(id uint64) {
	s.subsMu.Lock()
	if n := s.activeSubs[id]; n <= 1 {
		delete(s.activeSubs, id)
	} else {
		s.activeSubs[id] = n - 1
	}
	s.subsMu.Unlock()
}

// IsNormalEnd reports whether err only says the subscriber went away.
func IsNormalEnd(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}
