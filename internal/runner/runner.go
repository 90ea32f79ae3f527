package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/veilmsg/inboxq/internal/jobstore"
	logpkg "github.com/veilmsg/inboxq/pkg/log"
)

// State is the runner's drain-loop state.
type State int32

// Runner states
const (
	StateIdle State = iota
	StateDraining
)

// Options configures a Runner. Zero values fall back to defaults.
type Options struct {
	// BatchSize is the maximum jobs fetched per drain cycle.
	BatchSize int
	// MaxDomainWorkers bounds concurrent per-domain workers. The bound
	// doubles while the store backlog exceeds four batches, using the
	// pending count as a backpressure signal.
	MaxDomainWorkers int
	// IdleWait caps how long the loop waits for an append signal before
	// re-checking the store.
	IdleWait time.Duration
	// Retry bounds transient-failure retries per job per cycle.
	Retry RetryPolicy
	// Logger for drain diagnostics.
	Logger logpkg.Logger
	// Recorder observes permanent discards. Defaults to logging.
	Recorder FailureRecorder
}

// Runner is the drain coordinator: it pulls ordered batches from the store,
// partitions them by processing domain, and dispatches bounded concurrent
// domain workers.
type Runner struct {
	store    *jobstore.Store
	dec      Decryptor
	app      Applier
	opts     Options
	logger   logpkg.Logger
	recorder FailureRecorder

	state    atomic.Int32
	started  atomic.Bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// New creates a Runner over the given store and collaborators.
func New(store *jobstore.Store, dec Decryptor, app Applier, opts Options) *Runner {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.MaxDomainWorkers <= 0 {
		opts.MaxDomainWorkers = 8
	}
	if opts.IdleWait <= 0 {
		opts.IdleWait = 5 * time.Second
	}
	opts.Retry = opts.Retry.normalized()
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	logger = logger.WithComponent("runner")
	recorder := opts.Recorder
	if recorder == nil {
		recorder = logRecorder{l: logger}
	}
	return &Runner{
		store:    store,
		dec:      dec,
		app:      app,
		opts:     opts,
		logger:   logger,
		recorder: recorder,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// State returns the current drain-loop state.
func (r *Runner) State() State {
	return State(r.state.Load())
}

// Start launches the drain loop. It returns immediately; use Stop to shut
// down.
func (r *Runner) Start() {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	go r.loop()
}

// Stop requests shutdown and waits for the loop to finish its current batch.
// In-flight per-job processing completes or leaves the job pending; nothing
// is half-processed and abandoned.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	if r.started.Load() {
		<-r.doneCh
	}
}

func (r *Runner) loop() {
	defer close(r.doneCh)
	ctx := context.Background()
	for {
		select {
		case <-r.stopCh:
			return
		default:
		}
		n, err := r.DrainOnce(ctx)
		if err != nil {
			r.logger.Error("drain cycle failed", logpkg.Err(err))
			if !r.pause(ctx, r.opts.IdleWait) {
				return
			}
			continue
		}
		if n == 0 {
			// Block until the store signals an append, bounded so Stop is
			// honored promptly.
			r.store.WaitForAppend(r.opts.IdleWait)
		}
	}
}

// DrainOnce runs a single drain cycle and returns the number of jobs that
// reached a terminal outcome. Storage failures fetching the batch surface to
// the caller; per-job failures are handled inside and never abort sibling
// jobs or domains.
func (r *Runner) DrainOnce(ctx context.Context) (int, error) {
	r.state.Store(int32(StateDraining))
	defer r.state.Store(int32(StateIdle))

	batch, err := r.store.NextBatch(ctx, r.opts.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("runner: fetch batch: %w", err)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	domains := partitionByDomain(batch)

	limit := r.opts.MaxDomainWorkers
	if backlog := r.store.Count(); backlog > int64(r.opts.BatchSize)*4 {
		limit *= 2
		r.logger.Debug("widening domain concurrency under backlog",
			logpkg.Int64("backlog", backlog), logpkg.Int("limit", limit))
	}

	var processed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(limit)
	for key, jobs := range domains {
		key, jobs := key, jobs
		g.Go(func() error {
			processed.Add(r.processDomain(ctx, key, jobs))
			return nil
		})
	}
	_ = g.Wait()

	r.logger.Debug("drain cycle complete",
		logpkg.Int("batch", len(batch)),
		logpkg.Int("domains", len(domains)),
		logpkg.Int64("terminal", processed.Load()),
	)
	return int(processed.Load()), nil
}

type outcome int

const (
	outcomeDone outcome = iota // success or permanent discard
	outcomeStalled             // job left pending; domain stops for this cycle
)

// processDomain applies the domain's sub-sequence strictly in order. A
// stalled job ends the domain's cycle so its successors never overtake it.
func (r *Runner) processDomain(ctx context.Context, key string, jobs []*jobstore.Job) int64 {
	var terminal int64
	for _, job := range jobs {
		if r.processJob(ctx, job) == outcomeStalled {
			r.logger.Debug("domain stalled, deferring remainder",
				logpkg.Str("domain", key),
				logpkg.Uint64("job", job.ID),
				logpkg.Int("deferred", len(jobs)-int(terminal)),
			)
			return terminal
		}
		terminal++
	}
	return terminal
}

func (r *Runner) processJob(ctx context.Context, job *jobstore.Job) outcome {
	env, err := job.Envelope()
	if err != nil {
		// Malformed envelopes can never parse; discard.
		r.discard(ctx, job, err)
		return outcomeDone
	}

	plaintext := job.PlaintextData
	if plaintext == nil {
		pt, res, ok := r.decryptWithRetry(ctx, job)
		if !ok {
			return res
		}
		plaintext = pt
	}

	for attempt := 1; ; attempt++ {
		aerr := r.app.Apply(ctx, job.GroupID, plaintext)
		if aerr == nil {
			break
		}
		if IsPermanent(aerr) {
			r.discard(ctx, job, aerr)
			return outcomeDone
		}
		if attempt >= r.opts.Retry.MaxAttempts {
			r.discard(ctx, job, fmt.Errorf("apply retry budget exhausted after %d attempts: %w", attempt, aerr))
			return outcomeDone
		}
		if !r.pause(ctx, r.opts.Retry.backoff(attempt)) {
			return outcomeStalled
		}
	}

	if err := r.store.Remove(ctx, job.ID); err != nil {
		// The job stays pending and will be redelivered; the applier's
		// idempotency absorbs the duplicate.
		r.logger.Warn("remove after apply failed", logpkg.Uint64("id", job.ID), logpkg.Err(err))
		return outcomeDone
	}
	r.logger.Debug("job applied",
		logpkg.Uint64("id", job.ID),
		logpkg.Str("server_guid", env.ServerGUID),
		logpkg.Hex("group", job.GroupID),
	)
	return outcomeDone
}

// decryptWithRetry returns the plaintext when decryption succeeds (ok=true).
// Otherwise ok is false and the outcome says what happened: permanent
// failures discard the job, exhausted or interrupted transient retries leave
// it pending and stall the domain.
func (r *Runner) decryptWithRetry(ctx context.Context, job *jobstore.Job) ([]byte, outcome, bool) {
	for attempt := 1; ; attempt++ {
		plaintext, err := r.dec.Decrypt(ctx, job.EnvelopeData, job.WasReceivedByUD)
		if err == nil {
			return plaintext, outcomeDone, true
		}
		if IsPermanent(err) {
			r.discard(ctx, job, err)
			return nil, outcomeDone, false
		}
		if attempt >= r.opts.Retry.MaxAttempts {
			r.logger.Warn("transient decrypt failure persists, leaving job pending",
				logpkg.Uint64("id", job.ID),
				logpkg.Int("attempts", attempt),
				logpkg.Err(err),
			)
			return nil, outcomeStalled, false
		}
		if !r.pause(ctx, r.opts.Retry.backoff(attempt)) {
			return nil, outcomeStalled, false
		}
	}
}

// discard removes the job after recording the failure. Discard never
// propagates an error.
func (r *Runner) discard(ctx context.Context, job *jobstore.Job, cause error) {
	r.recorder.RecordDiscard(job, cause)
	if err := r.store.Remove(ctx, job.ID); err != nil {
		r.logger.Error("failed to remove discarded job", logpkg.Uint64("id", job.ID), logpkg.Err(err))
	}
}

// pause sleeps for d, returning false when interrupted by Stop or context
// cancellation.
func (r *Runner) pause(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-r.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}
