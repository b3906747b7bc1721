// Package runtime wires storage, config, and the log engine into a single
// towl instance. It exposes Open/Close, a health check, and accessors for the
// partition manager and sync coordinator used by the services.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(runtime.Options{DataDir: "./data", Config: cfg})
//	defer rt.Close()
//	_ = rt.CheckHealth(context.Background())
//	pos, _ := rt.Manager().Append(ctx, logfile.Entry{Sender: "web-1", LogEntry: "hello"})
package runtime
