package jobstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/veilmsg/inboxq/internal/storage/pebble"
	logpkg "github.com/veilmsg/inboxq/pkg/log"
)

// ErrEmptyEnvelope rejects appends without envelope data. Jobs are never
// persisted without it.
var ErrEmptyEnvelope = errors.New("jobstore: envelope data is required")

// ErrGroupTooLarge rejects appends whose group id exceeds the record layout's
// 2-byte length field.
var ErrGroupTooLarge = errors.New("jobstore: group id exceeds 65535 bytes")

// Store is the durable job queue for one named queue.
type Store struct {
	db     *pebblestore.DB
	queue  string
	logger logpkg.Logger

	mu       sync.Mutex
	lastID   uint64
	pending  int64
	notifyCh chan struct{}
}

// AppendParams carries the caller-supplied fields of a new job. It mirrors
// the persisted schema and is the sole enqueue entry point.
type AppendParams struct {
	EnvelopeData            []byte // required
	PlaintextData           []byte // nil when decryption is deferred
	GroupID                 []byte // nil for ungrouped messages
	WasReceivedByUD         bool
	ServerDeliveryTimestamp uint64
}

// Open initializes a Store for the named queue and restores lastID and the
// pending count from metadata if present.
func Open(db *pebblestore.DB, queue string, logger logpkg.Logger) (*Store, error) {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	s := &Store{
		db:       db,
		queue:    queue,
		logger:   logger.WithComponent("jobstore"),
		notifyCh: make(chan struct{}),
	}
	meta, err := db.Get(MetaKey(queue))
	switch {
	case err == nil && len(meta) >= 16:
		s.lastID = binary.BigEndian.Uint64(meta[:8])
		s.pending = int64(binary.BigEndian.Uint64(meta[8:16]))
	case err != nil && !pebblestore.IsNotFound(err):
		return nil, fmt.Errorf("jobstore: read meta: %w", err)
	}
	return s, nil
}

func encodeMeta(lastID uint64, pending int64) []byte {
	var meta [16]byte
	binary.BigEndian.PutUint64(meta[:8], lastID)
	binary.BigEndian.PutUint64(meta[8:16], uint64(pending))
	return meta[:]
}

// Append persists a new job atomically and returns its assigned id. On
// failure nothing is persisted. Safe for concurrent producers.
func (s *Store) Append(ctx context.Context, p AppendParams) (uint64, error) {
	if len(p.EnvelopeData) == 0 {
		return 0, ErrEmptyEnvelope
	}
	if len(p.GroupID) > maxGroupIDLen {
		return 0, ErrGroupTooLarge
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job := &Job{
		ID:                      s.lastID + 1,
		CreatedAt:               time.Now().UTC(),
		EnvelopeData:            p.EnvelopeData,
		PlaintextData:           p.PlaintextData,
		GroupID:                 p.GroupID,
		WasReceivedByUD:         p.WasReceivedByUD,
		ServerDeliveryTimestamp: p.ServerDeliveryTimestamp,
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(JobKey(s.queue, job.ID), encodeRecord(job), nil); err != nil {
		return 0, err
	}
	if err := b.Set(OrderKey(s.queue, job.ServerDeliveryTimestamp, job.ID), nil, nil); err != nil {
		return 0, err
	}
	if err := b.Set(MetaKey(s.queue), encodeMeta(job.ID, s.pending+1), nil); err != nil {
		return 0, err
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return 0, err
	}

	s.lastID = job.ID
	s.pending++

	// Wake any drain loop blocked in WaitForAppend.
	close(s.notifyCh)
	s.notifyCh = make(chan struct{})

	return job.ID, nil
}

// NextBatch returns up to limit pending jobs in (serverDeliveryTimestamp, id)
// ascending order. The result is a snapshot: appends after the call are not
// reflected in it. Index entries with no backing record are cleared; records
// that no longer decode are fully discarded, pending count included.
func (s *Store) NextBatch(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 1
	}
	prefix := OrderPrefix(s.queue)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: keyUpperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	jobs := make([]*Job, 0, limit)
	var dangling [][]byte
	var corrupt []corruptRow
	for ok := iter.First(); ok && len(jobs) < limit; ok = iter.Next() {
		id, valid := orderKeyID(iter.Key(), len(prefix))
		if !valid {
			dangling = append(dangling, append([]byte(nil), iter.Key()...))
			continue
		}
		row, err := s.db.Get(JobKey(s.queue, id))
		if err != nil {
			dangling = append(dangling, append([]byte(nil), iter.Key()...))
			continue
		}
		job, err := decodeRecord(id, row)
		if err != nil {
			s.logger.Error("discarding undecodable job record", logpkg.Uint64("id", id), logpkg.Err(err))
			corrupt = append(corrupt, corruptRow{id: id, orderKey: append([]byte(nil), iter.Key()...)})
			continue
		}
		jobs = append(jobs, job)
	}

	if len(dangling) > 0 || len(corrupt) > 0 {
		if err := s.dropBroken(ctx, dangling, corrupt); err != nil {
			s.logger.Warn("failed to clear broken queue entries", logpkg.Err(err))
		}
	}
	return jobs, nil
}

// corruptRow is an order-index entry whose record exists but does not decode.
type corruptRow struct {
	id       uint64
	orderKey []byte
}

// dropBroken discards broken queue state found during a scan. Dangling index
// entries (no backing row) are deleted as-is; corrupt rows are fully
// discarded: row, index entry, and pending count. The whole cleanup is one
// durable batch.
func (s *Store) dropBroken(ctx context.Context, dangling [][]byte, corrupt []corruptRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.NewBatch()
	defer b.Close()
	for _, key := range dangling {
		if err := b.Delete(key, nil); err != nil {
			return err
		}
	}
	for _, row := range corrupt {
		if err := b.Delete(row.orderKey, nil); err != nil {
			return err
		}
		if err := b.Delete(JobKey(s.queue, row.id), nil); err != nil {
			return err
		}
	}
	pending := s.pending - int64(len(corrupt))
	if pending < 0 {
		pending = 0
	}
	if err := b.Set(MetaKey(s.queue), encodeMeta(s.lastID, pending), nil); err != nil {
		return err
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return err
	}
	s.pending = pending
	return nil
}

// Remove durably deletes the job. Idempotent: removing an unknown or
// already-removed id is a no-op.
func (s *Store) Remove(ctx context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := s.db.Get(JobKey(s.queue, id))
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return nil
		}
		return err
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete(JobKey(s.queue, id), nil); err != nil {
		return err
	}
	if job, decErr := decodeRecord(id, row); decErr == nil {
		if err := b.Delete(OrderKey(s.queue, job.ServerDeliveryTimestamp, id), nil); err != nil {
			return err
		}
	} else {
		// Undecodable row: find its index entries the slow way.
		if err := s.deleteOrderEntries(b, id); err != nil {
			return err
		}
	}
	pending := s.pending - 1
	if pending < 0 {
		pending = 0
	}
	if err := b.Set(MetaKey(s.queue), encodeMeta(s.lastID, pending), nil); err != nil {
		return err
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return err
	}
	s.pending = pending
	return nil
}

func (s *Store) deleteOrderEntries(b *pebble.Batch, id uint64) error {
	prefix := OrderPrefix(s.queue)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: keyUpperBound(prefix)})
	if err != nil {
		return err
	}
	defer iter.Close()
	for ok := iter.First(); ok; ok = iter.Next() {
		if got, valid := orderKeyID(iter.Key(), len(prefix)); valid && got == id {
			if err := b.Delete(append([]byte(nil), iter.Key()...), nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// Count returns the number of pending jobs.
func (s *Store) Count() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// WaitForAppend blocks until a new append occurs or timeout elapses. It
// returns true when woken by an append, false on timeout. A non-positive
// timeout waits indefinitely.
func (s *Store) WaitForAppend(timeout time.Duration) bool {
	s.mu.Lock()
	ch := s.notifyCh
	s.mu.Unlock()

	if timeout <= 0 {
		<-ch
		return true
	}
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}
