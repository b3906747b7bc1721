// Package config provides loading and environment overlay for the towl
// server configuration and the sender daemon configuration.
//
// Example:
//
//	cfg, err := config.Load("/etc/towl/server.yaml")
//	if err != nil {
//	    return err
//	}
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
//	rt, _ := runtime.Open(runtime.Options{DataDir: config.DefaultDataDir(), Config: cfg})
//	defer rt.Close()
package config
