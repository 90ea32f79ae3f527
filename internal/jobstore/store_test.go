package jobstore

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/veilmsg/inboxq/internal/envelope"
	pebblestore "github.com/veilmsg/inboxq/internal/storage/pebble"
)

func openTestDB(t *testing.T, dir string) *pebblestore.DB {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(openTestDB(t, t.TempDir()), "incoming", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func testEnvelope(ts uint64) []byte {
	data, err := envelope.Marshal(&envelope.Envelope{
		Type:            envelope.TypeCiphertext,
		SourceServiceID: "src",
		SourceDevice:    1,
		Timestamp:       ts,
		ServerTimestamp: ts,
		ServerGUID:      "guid",
		Content:         []byte("content"),
	})
	if err != nil {
		panic(err)
	}
	return data
}

func TestAppendRejectsEmptyEnvelope(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Append(context.Background(), AppendParams{ServerDeliveryTimestamp: 1}); err != ErrEmptyEnvelope {
		t.Fatalf("want ErrEmptyEnvelope, got %v", err)
	}
	if s.Count() != 0 {
		t.Fatalf("count after rejected append: %d", s.Count())
	}
}

func TestAppendRejectsOversizedGroup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Append(ctx, AppendParams{
		EnvelopeData:            testEnvelope(1),
		GroupID:                 make([]byte, 1<<16),
		ServerDeliveryTimestamp: 1,
	}); err != ErrGroupTooLarge {
		t.Fatalf("want ErrGroupTooLarge, got %v", err)
	}
	if s.Count() != 0 {
		t.Fatalf("count after rejected append: %d", s.Count())
	}

	// a group id at the limit round-trips intact
	group := bytes.Repeat([]byte{0xAB}, 1<<16-1)
	id, err := s.Append(ctx, AppendParams{
		EnvelopeData:            testEnvelope(2),
		GroupID:                 group,
		ServerDeliveryTimestamp: 2,
	})
	if err != nil {
		t.Fatalf("append at limit: %v", err)
	}
	jobs, err := s.NextBatch(ctx, 1)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("next batch: %v (%d jobs)", err, len(jobs))
	}
	if jobs[0].ID != id || !bytes.Equal(jobs[0].GroupID, group) {
		t.Fatalf("group mangled at limit: %d bytes back", len(jobs[0].GroupID))
	}
}

func TestAppendRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	env := testEnvelope(100)
	group := []byte{0xde, 0xad, 0xbe, 0xef}
	id, err := s.Append(ctx, AppendParams{
		EnvelopeData:            env,
		PlaintextData:           []byte("legacy-plain"),
		GroupID:                 group,
		WasReceivedByUD:         true,
		ServerDeliveryTimestamp: 100,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if id == 0 {
		t.Fatalf("want id > 0")
	}

	jobs, err := s.NextBatch(ctx, 10)
	if err != nil {
		t.Fatalf("next batch: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("want 1 job, got %d", len(jobs))
	}
	j := jobs[0]
	if j.ID != id {
		t.Fatalf("id: got %d want %d", j.ID, id)
	}
	if !bytes.Equal(j.EnvelopeData, env) {
		t.Fatalf("envelope data mismatch")
	}
	if !bytes.Equal(j.PlaintextData, []byte("legacy-plain")) {
		t.Fatalf("plaintext mismatch: %q", j.PlaintextData)
	}
	if !bytes.Equal(j.GroupID, group) {
		t.Fatalf("group mismatch: %x", j.GroupID)
	}
	if !j.WasReceivedByUD {
		t.Fatalf("ud flag lost")
	}
	if j.ServerDeliveryTimestamp != 100 {
		t.Fatalf("server ts: %d", j.ServerDeliveryTimestamp)
	}
	if j.CreatedAt.IsZero() {
		t.Fatalf("createdAt not assigned")
	}
}

func TestNilPlaintextStaysNil(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.Append(ctx, AppendParams{EnvelopeData: testEnvelope(1), ServerDeliveryTimestamp: 1}); err != nil {
		t.Fatalf("append: %v", err)
	}
	jobs, err := s.NextBatch(ctx, 1)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("next batch: %v", err)
	}
	if jobs[0].PlaintextData != nil {
		t.Fatalf("want nil plaintext, got %v", jobs[0].PlaintextData)
	}
	if jobs[0].GroupID != nil {
		t.Fatalf("want nil group, got %v", jobs[0].GroupID)
	}
}

func TestOrderingByServerTimestamp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// A appended first with the later timestamp
	idA, _ := s.Append(ctx, AppendParams{EnvelopeData: testEnvelope(100), GroupID: []byte("G"), ServerDeliveryTimestamp: 100})
	idB, _ := s.Append(ctx, AppendParams{EnvelopeData: testEnvelope(50), GroupID: []byte("G"), ServerDeliveryTimestamp: 50})

	jobs, err := s.NextBatch(ctx, 10)
	if err != nil {
		t.Fatalf("next batch: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("want 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != idB || jobs[1].ID != idA {
		t.Fatalf("order: got [%d %d] want [%d %d]", jobs[0].ID, jobs[1].ID, idB, idA)
	}
}

func TestOrderingTieBreakByID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, _ := s.Append(ctx, AppendParams{EnvelopeData: testEnvelope(7), ServerDeliveryTimestamp: 7})
	second, _ := s.Append(ctx, AppendParams{EnvelopeData: testEnvelope(7), ServerDeliveryTimestamp: 7})
	if second <= first {
		t.Fatalf("ids must increase: %d then %d", first, second)
	}

	jobs, err := s.NextBatch(ctx, 10)
	if err != nil || len(jobs) != 2 {
		t.Fatalf("next batch: %v (%d jobs)", err, len(jobs))
	}
	if jobs[0].ID != first || jobs[1].ID != second {
		t.Fatalf("tie-break order: got [%d %d]", jobs[0].ID, jobs[1].ID)
	}
}

func TestNextBatchLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := s.Append(ctx, AppendParams{EnvelopeData: testEnvelope(uint64(i)), ServerDeliveryTimestamp: uint64(i)}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	jobs, err := s.NextBatch(ctx, 3)
	if err != nil {
		t.Fatalf("next batch: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("want 3 jobs, got %d", len(jobs))
	}
}

func TestRemoveIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, _ := s.Append(ctx, AppendParams{EnvelopeData: testEnvelope(1), ServerDeliveryTimestamp: 1})
	if s.Count() != 1 {
		t.Fatalf("count: %d", s.Count())
	}
	if err := s.Remove(ctx, id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.Remove(ctx, id); err != nil {
		t.Fatalf("second remove: %v", err)
	}
	if err := s.Remove(ctx, 9999); err != nil {
		t.Fatalf("remove unknown id: %v", err)
	}
	if s.Count() != 0 {
		t.Fatalf("count after removes: %d", s.Count())
	}
	jobs, _ := s.NextBatch(ctx, 10)
	if len(jobs) != 0 {
		t.Fatalf("jobs still pending: %d", len(jobs))
	}
}

func TestConcurrentProducersNoLoss(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	const producers = 8
	const perProducer = 25
	var wg sync.WaitGroup
	errs := make(chan error, producers)
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_, err := s.Append(ctx, AppendParams{
					EnvelopeData:            testEnvelope(uint64(i)),
					GroupID:                 []byte(fmt.Sprintf("g%d", p)),
					ServerDeliveryTimestamp: uint64(i),
				})
				if err != nil {
					errs <- err
					return
				}
			}
		}(p)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("append: %v", err)
	}

	if got := s.Count(); got != producers*perProducer {
		t.Fatalf("count: got %d want %d", got, producers*perProducer)
	}
	jobs, err := s.NextBatch(ctx, producers*perProducer+1)
	if err != nil {
		t.Fatalf("next batch: %v", err)
	}
	seen := map[uint64]bool{}
	for _, j := range jobs {
		if seen[j.ID] {
			t.Fatalf("duplicate id %d", j.ID)
		}
		seen[j.ID] = true
	}
	if len(jobs) != producers*perProducer {
		t.Fatalf("drained %d jobs, want %d", len(jobs), producers*perProducer)
	}
}

func TestCrashRecovery(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	s, err := Open(db, "incoming", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	env := testEnvelope(42)
	id, err := s.Append(ctx, AppendParams{
		EnvelopeData:            env,
		GroupID:                 []byte("G"),
		WasReceivedByUD:         true,
		ServerDeliveryTimestamp: 42,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// simulated restart
	db2, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("reopen pebble: %v", err)
	}
	defer db2.Close()
	s2, err := Open(db2, "incoming", nil)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	if s2.Count() != 1 {
		t.Fatalf("count after restart: %d", s2.Count())
	}
	jobs, err := s2.NextBatch(ctx, 10)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("next batch after restart: %v (%d jobs)", err, len(jobs))
	}
	j := jobs[0]
	if j.ID != id || !bytes.Equal(j.EnvelopeData, env) || !j.WasReceivedByUD || j.ServerDeliveryTimestamp != 42 {
		t.Fatalf("job fields changed across restart: %+v", j)
	}

	// ids keep increasing after restart
	id2, err := s2.Append(ctx, AppendParams{EnvelopeData: env, ServerDeliveryTimestamp: 43})
	if err != nil {
		t.Fatalf("append after restart: %v", err)
	}
	if id2 <= id {
		t.Fatalf("id reused after restart: %d then %d", id, id2)
	}
}

func TestWaitForAppendWakes(t *testing.T) {
	s := openTestStore(t)
	done := make(chan bool, 1)
	go func() { done <- s.WaitForAppend(5 * time.Second) }()

	time.Sleep(20 * time.Millisecond)
	if _, err := s.Append(context.Background(), AppendParams{EnvelopeData: testEnvelope(1), ServerDeliveryTimestamp: 1}); err != nil {
		t.Fatalf("append: %v", err)
	}
	select {
	case woke := <-done:
		if !woke {
			t.Fatalf("timed out instead of waking")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("WaitForAppend did not return")
	}
}

func TestWaitForAppendTimeout(t *testing.T) {
	s := openTestStore(t)
	if s.WaitForAppend(10 * time.Millisecond) {
		t.Fatalf("expected timeout")
	}
}

func TestLazyEnvelopeCached(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.Append(ctx, AppendParams{EnvelopeData: testEnvelope(9), ServerDeliveryTimestamp: 9}); err != nil {
		t.Fatalf("append: %v", err)
	}
	jobs, _ := s.NextBatch(ctx, 1)
	e1, err := jobs[0].Envelope()
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	e2, err := jobs[0].Envelope()
	if err != nil {
		t.Fatalf("envelope again: %v", err)
	}
	if e1 != e2 {
		t.Fatalf("parse result not cached")
	}
}

func TestNextBatchDropsCorruptRecords(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, dir)
	s, err := Open(db, "incoming", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	ctx := context.Background()
	id, _ := s.Append(ctx, AppendParams{EnvelopeData: testEnvelope(1), ServerDeliveryTimestamp: 1})
	good, _ := s.Append(ctx, AppendParams{EnvelopeData: testEnvelope(2), ServerDeliveryTimestamp: 2})

	// corrupt the first row behind the store's back
	if err := db.Set(JobKey("incoming", id), []byte("garbage")); err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	jobs, err := s.NextBatch(ctx, 10)
	if err != nil {
		t.Fatalf("next batch: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != good {
		t.Fatalf("want only job %d, got %d jobs", good, len(jobs))
	}

	// the corrupt job is fully discarded: row, index entry, and count
	if s.Count() != 1 {
		t.Fatalf("count after discard: %d", s.Count())
	}
	if _, err := db.Get(JobKey("incoming", id)); !pebblestore.IsNotFound(err) {
		t.Fatalf("corrupt row still present: %v", err)
	}
	jobs, _ = s.NextBatch(ctx, 10)
	if len(jobs) != 1 {
		t.Fatalf("broken entry persisted")
	}
}

func TestOrderingWithMaxTimestamp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// a timestamp with a leading 0xFF byte must still be scanned
	last, _ := s.Append(ctx, AppendParams{EnvelopeData: testEnvelope(1), ServerDeliveryTimestamp: ^uint64(0)})
	first, _ := s.Append(ctx, AppendParams{EnvelopeData: testEnvelope(2), ServerDeliveryTimestamp: 2})

	jobs, err := s.NextBatch(ctx, 10)
	if err != nil {
		t.Fatalf("next batch: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("want 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != first || jobs[1].ID != last {
		t.Fatalf("order: got [%d %d] want [%d %d]", jobs[0].ID, jobs[1].ID, first, last)
	}
}
