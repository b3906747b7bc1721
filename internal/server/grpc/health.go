package grpcserver

import (
	"context"
	"time"
)

// WatchHealth re-evaluates runtime health every interval until ctx is done,
// so health watchers see the server go NOT_SERVING when the catalog breaks.
func (s *Server) WatchHealth(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.refreshHealth(ctx)
		}
	}
}
