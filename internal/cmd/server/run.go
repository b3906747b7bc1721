package serverrun

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/gops/agent"

	cfgpkg "github.com/mezeipetister/towl/internal/config"
	"github.com/mezeipetister/towl/internal/runtime"
	grpcserver "github.com/mezeipetister/towl/internal/server/grpc"
	httpserver "github.com/mezeipetister/towl/internal/server/http"
	logsvc "github.com/mezeipetister/towl/internal/services/logs"
	pebblestore "github.com/mezeipetister/towl/internal/storage/pebble"
	logpkg "github.com/mezeipetister/towl/pkg/log"
)

type Options struct {
	DataDir  string
	GRPCAddr string
	// HTTPAddr is optional; the HTTP API is off when empty.
	HTTPAddr string
	Fsync    pebblestore.FsyncMode
	Config   cfgpkg.Config
	// Gops starts the gops diagnostics agent.
	Gops bool
	// Ready, when set, receives the runtime once both servers are started.
	Ready func(*runtime.Runtime)
}

// processLogger builds the process-wide logger from the log section of the
// configuration, falling back to text at info level.
func processLogger(c logpkg.Config) logpkg.Logger {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
	l, err := logpkg.ApplyConfig(&c)
	if err == nil {
		return l
	}
	lvl := logpkg.InfoLevel
	if parsed, e := logpkg.ParseLevel(c.Level); e == nil {
		lvl = parsed
	}
	return logpkg.NewLogger(logpkg.WithLevel(lvl), logpkg.WithFormatter(&logpkg.TextFormatter{}), logpkg.WithOutput(logpkg.NewConsoleOutput()))
}

// Run starts the gRPC and HTTP servers and blocks until ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.DataDir == "" {
		opts.DataDir = cfgpkg.DefaultDataDir()
	}

	procLogger := processLogger(opts.Config.Log)
	// Pebble and grpc write through the standard library logger.
	logpkg.RedirectStdLog(procLogger)

	if opts.Gops {
		if err := agent.Listen(agent.Options{ShutdownCleanup: false}); err != nil {
			procLogger.Warn("gops agent not started", logpkg.Err(err))
		} else {
			defer agent.Close()
		}
	}

	rt, err := runtime.Open(runtime.Options{DataDir: opts.DataDir, Fsync: opts.Fsync, Config: opts.Config, Logger: procLogger})
	if err != nil {
		return err
	}
	defer rt.Close()

	procLogger.Info("Starting towl server",
		logpkg.Str("data_dir", opts.DataDir),
		logpkg.Str("grpc", opts.GRPCAddr),
		logpkg.Str("http", opts.HTTPAddr),
		logpkg.Str("policy", rt.Manager().Policy().String()),
		logpkg.Int("sub_flush_ms", opts.Config.Subscribers.FlushMs),
		logpkg.Int("sub_buf", opts.Config.Subscribers.Buffer),
	)

	svc := logsvc.NewWithLogger(rt, procLogger)
	gsrv := grpcserver.New(rt, svc)
	var hsrv *httpserver.Server
	if opts.HTTPAddr != "" {
		hsrv = httpserver.New(rt, svc, procLogger)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gsrv.ListenAndServe(sctx, opts.GRPCAddr); err != nil && sctx.Err() == nil {
			procLogger.Error("grpc server failed", logpkg.Err(err))
			errCh <- err
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		gsrv.WatchHealth(sctx, 5*time.Second)
	}()
	if hsrv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := hsrv.ListenAndServe(sctx, opts.HTTPAddr); err != nil && sctx.Err() == nil {
				procLogger.Error("http server failed", logpkg.Err(err))
				errCh <- err
			}
		}()
	}
	if opts.Ready != nil {
		opts.Ready(rt)
	}

	var runErr error
	select {
	case <-sctx.Done():
	case runErr = <-errCh:
		stop()
	}
	// Stop transports before the runtime seals the active file.
	gsrv.Close()
	if hsrv != nil {
		hsrv.Close()
	}
	wg.Wait()
	procLogger.Info("towl server stopped")
	return runErr
}
