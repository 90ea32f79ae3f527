package jobstore

import (
	"sync"
	"time"

	"github.com/veilmsg/inboxq/internal/envelope"
)

// Job is one persisted queue entry. Fields are immutable once the job is
// appended; treat loaded jobs as read-only values.
type Job struct {
	// ID is store-assigned, monotonically increasing, and never reused. It
	// is the stable tie-break key when server delivery timestamps collide.
	ID uint64

	// CreatedAt is the local persistence time. Diagnostic only; ordering
	// uses ServerDeliveryTimestamp.
	CreatedAt time.Time

	// EnvelopeData is the serialized protocol envelope. Always present.
	EnvelopeData []byte

	// PlaintextData carries the decrypted payload when decryption happened
	// before enqueue. Nil means absent, in which case the processing step
	// must decrypt from EnvelopeData. Optional for historical reasons:
	// records written by older versions never carry it.
	PlaintextData []byte

	// GroupID is the opaque group identifier. When non-empty it defines the
	// job's processing domain; jobs sharing it are applied strictly in order.
	GroupID []byte

	// WasReceivedByUD flags sealed-sender delivery, selecting the
	// decryption path.
	WasReceivedByUD bool

	// ServerDeliveryTimestamp is the server-assigned receipt time in ms,
	// the canonical cross-device ordering key.
	ServerDeliveryTimestamp uint64

	envOnce sync.Once
	env     *envelope.Envelope
	envErr  error
}

// Envelope parses EnvelopeData lazily and caches the result, so repeated
// access never re-parses. A parse failure is likewise cached; it is permanent
// for this job.
func (j *Job) Envelope() (*envelope.Envelope, error) {
	j.envOnce.Do(func() {
		j.env, j.envErr = envelope.Parse(j.EnvelopeData)
	})
	return j.env, j.envErr
}
