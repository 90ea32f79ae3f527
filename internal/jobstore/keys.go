package jobstore

import "encoding/binary"

// Key layout for a queue named q:
//
//	jq/{q}/meta
//	jq/{q}/job/{id BE8}
//	jq/{q}/order_idx/{serverDeliveryTs BE8}{id BE8}
//
// Big-endian fixed-width integers keep lexicographic key order equal to
// numeric order, so the order index scans in (serverDeliveryTimestamp, id)
// ascending without any sort step.

func queuePrefix(queue string) string {
	return "jq/" + queue + "/"
}

// MetaKey returns the queue metadata key.
func MetaKey(queue string) []byte {
	return []byte(queuePrefix(queue) + "meta")
}

// JobKey returns the record key for a job id.
func JobKey(queue string, id uint64) []byte {
	prefix := queuePrefix(queue) + "job/"
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], id)
	return key
}

// OrderKey returns the processing-order index key for a job.
func OrderKey(queue string, serverDeliveryTs, id uint64) []byte {
	prefix := queuePrefix(queue) + "order_idx/"
	key := make([]byte, len(prefix)+16)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], serverDeliveryTs)
	binary.BigEndian.PutUint64(key[len(prefix)+8:], id)
	return key
}

// OrderPrefix returns the scan prefix for the processing-order index.
func OrderPrefix(queue string) []byte {
	return []byte(queuePrefix(queue) + "order_idx/")
}

// orderKeyID extracts the job id from an order index key. Returns false for
// keys that are too short to carry the timestamp and id suffix.
func orderKeyID(key []byte, prefixLen int) (uint64, bool) {
	if len(key) != prefixLen+16 {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[prefixLen+8:]), true
}

// keyUpperBound returns the exclusive upper bound for a prefix scan: the
// prefix with its last non-0xFF byte incremented. Covers suffixes starting
// with 0xFF, which a prefix+0xFF sentinel would cut off. Returns nil (no
// bound) for a prefix of all 0xFF bytes.
func keyUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
