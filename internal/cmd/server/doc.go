// Package serverrun exposes the Run entrypoint used by `towl server start`:
// it opens the runtime and serves it over gRPC and HTTP until shutdown.
//
// Example:
//
//	opts := serverrun.Options{DataDir: "./data", GRPCAddr: ":50011", HTTPAddr: ":3037", Config: config.Default()}
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, opts)
package serverrun
