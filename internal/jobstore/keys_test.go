package jobstore

import (
	"bytes"
	"testing"
)

func TestOrderKeysSortByTimestampThenID(t *testing.T) {
	a := OrderKey("q", 50, 9)
	b := OrderKey("q", 100, 1)
	c := OrderKey("q", 100, 2)
	if bytes.Compare(a, b) >= 0 {
		t.Fatalf("ts 50 must sort before ts 100")
	}
	if bytes.Compare(b, c) >= 0 {
		t.Fatalf("same ts: id 1 must sort before id 2")
	}
}

func TestKeyUpperBoundCoversMaxTimestamp(t *testing.T) {
	prefix := OrderPrefix("q")
	maxKey := OrderKey("q", ^uint64(0), ^uint64(0))
	ub := keyUpperBound(prefix)
	if bytes.Compare(maxKey, ub) >= 0 {
		t.Fatalf("max order key %x not below upper bound %x", maxKey, ub)
	}
	if bytes.Compare(ub, prefix) <= 0 {
		t.Fatalf("upper bound %x not above prefix", ub)
	}
	if keyUpperBound([]byte{0xFF, 0xFF}) != nil {
		t.Fatalf("all-0xFF prefix must have no upper bound")
	}
	if got := keyUpperBound([]byte{0x01, 0xFF}); !bytes.Equal(got, []byte{0x02}) {
		t.Fatalf("carry: got %x", got)
	}
}

func TestOrderKeyIDRoundTrip(t *testing.T) {
	prefix := OrderPrefix("q")
	key := OrderKey("q", 77, 12)
	id, ok := orderKeyID(key, len(prefix))
	if !ok || id != 12 {
		t.Fatalf("got id %d ok=%v", id, ok)
	}
	if _, ok := orderKeyID(key[:len(key)-1], len(prefix)); ok {
		t.Fatalf("short key accepted")
	}
}
