// Package runtime wires storage and config into a single-node inboxq
// instance. It exposes Open/Close, a basic health check, and helpers to open
// the job store and runner used by higher-level callers.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(runtime.Options{Config: cfg})
//	defer rt.Close()
//	_ = rt.CheckHealth(context.Background())
//	store, _ := rt.OpenQueue(cfg.Queue.Name)
//	_, _ = store.Append(context.Background(), jobstore.AppendParams{ /* ... */ })
package runtime
