package runner

import (
	"context"
	"errors"

	"github.com/veilmsg/inboxq/internal/jobstore"
	logpkg "github.com/veilmsg/inboxq/pkg/log"
)

// Decryptor is the decryption collaborator. wasReceivedByUD selects the
// sealed-sender path. Errors are transient unless marked Permanent.
type Decryptor interface {
	Decrypt(ctx context.Context, envelopeData []byte, wasReceivedByUD bool) ([]byte, error)
}

// Applier merges a decrypted message into conversation state. Its effect must
// be idempotent: the queue guarantees at-least-once delivery, not
// applied-exactly-once.
type Applier interface {
	Apply(ctx context.Context, groupID, plaintext []byte) error
}

// FailureRecorder observes every permanent discard, making a dropped message
// distinguishable in diagnostics from a still-retrying one.
type FailureRecorder interface {
	RecordDiscard(job *jobstore.Job, cause error)
}

type logRecorder struct {
	l logpkg.Logger
}

func (r logRecorder) RecordDiscard(job *jobstore.Job, cause error) {
	r.l.Error("discarding job permanently",
		logpkg.Uint64("id", job.ID),
		logpkg.Hex("group", job.GroupID),
		logpkg.Uint64("server_ts", job.ServerDeliveryTimestamp),
		logpkg.Err(cause),
	)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error as unrecoverable: the job carrying it is discarded
// instead of retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or anything it wraps) was marked Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
