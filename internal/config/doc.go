// Package config provides loading and environment overlay for inboxq
// configuration. It exposes a Default() baseline, Load() for JSON or YAML
// files, and FromEnv() to overlay INBOXQ_* environment variables.
//
// Example:
//
//	cfg := config.Default()
//	if fileCfg, err := config.Load("/etc/inboxq.yaml"); err == nil {
//	    cfg = fileCfg
//	}
//	if err := config.FromEnv(&cfg); err != nil { /* handle */ }
//	rt, _ := runtime.Open(runtime.Options{Config: cfg})
//	defer rt.Close()
package config
