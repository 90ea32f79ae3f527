package jobstore

import (
	"bytes"
	"testing"
	"time"
)

func TestRecordRoundTrip(t *testing.T) {
	in := &Job{
		ID:                      7,
		CreatedAt:               time.UnixMilli(1693000000000).UTC(),
		EnvelopeData:            []byte("envelope"),
		PlaintextData:           []byte{},
		GroupID:                 []byte("group"),
		WasReceivedByUD:         true,
		ServerDeliveryTimestamp: 12345,
	}
	out, err := decodeRecord(7, encodeRecord(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ID != 7 || !out.CreatedAt.Equal(in.CreatedAt) || out.ServerDeliveryTimestamp != 12345 {
		t.Fatalf("fields: %+v", out)
	}
	if !bytes.Equal(out.EnvelopeData, in.EnvelopeData) || !bytes.Equal(out.GroupID, in.GroupID) {
		t.Fatalf("bytes: %+v", out)
	}
	if out.PlaintextData == nil || len(out.PlaintextData) != 0 {
		t.Fatalf("empty (non-nil) plaintext must survive: %v", out.PlaintextData)
	}
	if !out.WasReceivedByUD {
		t.Fatalf("ud flag")
	}
}

func TestRecordRejectsBadCRC(t *testing.T) {
	b := encodeRecord(&Job{EnvelopeData: []byte("e"), CreatedAt: time.Now()})
	b[3] ^= 0x01
	if _, err := decodeRecord(1, b); err == nil {
		t.Fatalf("accepted corrupt record")
	}
}

func TestRecordRejectsUnknownVersion(t *testing.T) {
	b := encodeRecord(&Job{EnvelopeData: []byte("e"), CreatedAt: time.Now()})
	b[0] = 99
	if _, err := decodeRecord(1, b); err == nil {
		t.Fatalf("accepted unknown version")
	}
}

func TestRecordRejectsTruncation(t *testing.T) {
	b := encodeRecord(&Job{EnvelopeData: []byte("envelope-data"), CreatedAt: time.Now()})
	for n := 0; n < len(b); n += 5 {
		if _, err := decodeRecord(1, b[:n]); err == nil {
			t.Fatalf("accepted %d-byte prefix", n)
		}
	}
}
