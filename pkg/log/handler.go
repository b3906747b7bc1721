package log

import (
	"context"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
)

// handler is the slog.Handler behind every BaseLogger. Base attributes come
// from the logger's fields; groups prefix the keys of later attributes.
type handler struct {
	base   *BaseLogger
	attrs  []slog.Attr
	prefix string
	redact map[string]struct{}
	sample *sampler
}

func newHandler(base *BaseLogger) *handler {
	h := &handler{base: base}
	h.attrs = attrsOf(base.fields)
	return h
}

// bind returns a copy serving another logger, keeping redaction and sampling.
func (h *handler) bind(base *BaseLogger) *handler {
	nh := *h
	nh.base = base
	nh.attrs = attrsOf(base.fields)
	return &nh
}

func (h *handler) Enabled(_ context.Context, l slog.Level) bool {
	return levelOf(l) >= h.base.level
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	fields := make(Fields, len(h.attrs)+r.NumAttrs()+1)
	for k, v := range fieldsFromContext(ctx) {
		fields[k] = v
	}
	for _, a := range h.attrs {
		h.put(fields, a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.put(fields, h.prefix+a.Key, a.Value)
		return true
	})
	if h.sample != nil && !h.sample.allow(r.Level, r.Message) {
		return nil
	}

	entry := &Entry{
		Level:     levelOf(r.Level),
		Message:   r.Message,
		Fields:    fields,
		Timestamp: r.Time,
		Caller:    callerOf(r.PC),
	}
	b, err := h.base.formatter.Format(entry)
	if err != nil {
		return err
	}
	for _, out := range h.base.outputs {
		_ = out.Write(entry, b)
	}
	return nil
}

func (h *handler) put(fields Fields, key string, v slog.Value) {
	if _, ok := h.redact[key]; ok {
		fields[key] = "[REDACTED]"
		return
	}
	fields[key] = v.Any()
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		nh.attrs = append(nh.attrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	return &nh
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	nh.prefix = h.prefix + name + "."
	return &nh
}

func (h *handler) withRedactions(keys []string) *handler {
	if len(keys) == 0 {
		return h
	}
	nh := *h
	nh.redact = make(map[string]struct{}, len(keys))
	for _, k := range keys {
		nh.redact[k] = struct{}{}
	}
	return &nh
}

func (h *handler) withSampler(initial, thereafter int) *handler {
	if thereafter <= 0 {
		return h
	}
	nh := *h
	nh.sample = newSampler(initial, thereafter)
	return &nh
}

func attrsOf(fields Fields) []slog.Attr {
	if len(fields) == 0 {
		return nil
	}
	out := make([]slog.Attr, 0, len(fields))
	for k, v := range fields {
		out = append(out, slog.Any(k, v))
	}
	return out
}

func callerOf(pc uintptr) string {
	if pc == 0 {
		return ""
	}
	f, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	if f.File == "" {
		return ""
	}
	return f.File + ":" + strconv.Itoa(f.Line)
}

// sampler passes the first initial messages of each level+message pair and
// then one in every thereafter.
type sampler struct {
	mu         sync.Mutex
	initial    uint64
	thereafter uint64
	counts     map[string]uint64
}

func newSampler(initial, thereafter int) *sampler {
	if initial < 0 {
		initial = 0
	}
	return &sampler{initial: uint64(initial), thereafter: uint64(thereafter), counts: make(map[string]uint64)}
}

func (s *sampler) allow(level slog.Level, msg string) bool {
	key := level.String() + "|" + msg
	s.mu.Lock()
	n := s.counts[key]
	s.counts[key] = n + 1
	s.mu.Unlock()
	return n < s.initial || (n-s.initial)%s.thereafter == 0
}
