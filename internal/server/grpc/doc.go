// Package grpcserver hosts the towl.v1.Towl gRPC service and the standard
// gRPC health service, delegating to the logs service layer. Messages use
// the JSON codec registered by package towlv1.
//
// Example:
//
//	rt, _ := runtime.Open(runtime.Options{DataDir: "./data", Config: config.Default()})
//	s := grpcserver.New(rt, logsvc.New(rt))
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":7373")
package grpcserver
