package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	cfgpkg "github.com/veilmsg/inboxq/internal/config"
	"github.com/veilmsg/inboxq/internal/jobstore"
	"github.com/veilmsg/inboxq/internal/runner"
	pebblestore "github.com/veilmsg/inboxq/internal/storage/pebble"
	logpkg "github.com/veilmsg/inboxq/pkg/log"
)

// Options for building the Runtime. An empty DataDir falls back to the
// config's storage section, then to the OS default.
type Options struct {
	DataDir string
	Config  cfgpkg.Config
	Logger  logpkg.Logger
}

// Runtime owns the storage handle for a single-node instance.
type Runtime struct {
	db     *pebblestore.DB
	config cfgpkg.Config
	logger logpkg.Logger
}

// ParseFsyncMode maps the config string to a storage mode.
func ParseFsyncMode(s string) (pebblestore.FsyncMode, error) {
	switch s {
	case "", "always":
		return pebblestore.FsyncModeAlways, nil
	case "interval":
		return pebblestore.FsyncModeInterval, nil
	case "never":
		return pebblestore.FsyncModeNever, nil
	}
	return pebblestore.FsyncModeUnspecified, fmt.Errorf("runtime: invalid fsync mode %q; use always|interval|never", s)
}

// Open initializes the underlying storage and returns a Runtime.
func Open(opts Options) (*Runtime, error) {
	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = opts.Config.Storage.DataDir
	}
	if dataDir == "" {
		dataDir = cfgpkg.DefaultDataDir()
	}
	mode, err := ParseFsyncMode(opts.Config.Storage.Fsync)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       dataDir,
		Fsync:         mode,
		FsyncInterval: time.Duration(opts.Config.Storage.FsyncIntervalMs) * time.Millisecond,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	return &Runtime{db: db, config: opts.Config, logger: logger}, nil
}

// Close closes underlying resources.
func (r *Runtime) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth performs a simple storage health check.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("runtime: db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	return it.Close()
}

// OpenQueue opens the named job store.
func (r *Runtime) OpenQueue(name string) (*jobstore.Store, error) {
	return jobstore.Open(r.db, name, r.logger)
}

// NewRunner builds a drain runner over the given store using the runtime's
// configured batch, worker, and retry settings.
func (r *Runtime) NewRunner(store *jobstore.Store, dec runner.Decryptor, app runner.Applier) *runner.Runner {
	q := r.config.Queue
	rt := r.config.Retry
	return runner.New(store, dec, app, runner.Options{
		BatchSize:        q.BatchSize,
		MaxDomainWorkers: q.MaxDomainWorkers,
		IdleWait:         time.Duration(q.IdleWaitMs) * time.Millisecond,
		Retry: runner.RetryPolicy{
			MaxAttempts: rt.MaxAttempts,
			BackoffMin:  time.Duration(rt.BackoffMinMs) * time.Millisecond,
			BackoffMax:  time.Duration(rt.BackoffMaxMs) * time.Millisecond,
		},
		Logger: r.logger,
	})
}

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
