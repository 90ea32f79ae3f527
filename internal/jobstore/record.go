package jobstore

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"
)

// Job record (version 1), all integers big-endian:
//
//	version(1) | flags(1) | createdAtMs(8) | serverDeliveryTs(8)
//	| groupLen(2) group | plainLen(4) plain | envLen(4) env
//	| crc32c(4) over all preceding bytes
//
// The hasPlaintext flag, not a zero length, distinguishes "no plaintext" from
// "empty plaintext": the field is nullable by design for records from the era
// when decryption sometimes ran before enqueue.
const recordVersion = 1

// maxGroupIDLen is the largest group id the record layout can hold; the
// group length field is 2 bytes.
const maxGroupIDLen = 1<<16 - 1

const (
	flagReceivedByUD = 1 << 0
	flagHasPlaintext = 1 << 1
	flagHasGroup     = 1 << 2
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func encodeRecord(j *Job) []byte {
	var flags byte
	if j.WasReceivedByUD {
		flags |= flagReceivedByUD
	}
	if j.PlaintextData != nil {
		flags |= flagHasPlaintext
	}
	if len(j.GroupID) > 0 {
		flags |= flagHasGroup
	}

	out := make([]byte, 0, 1+1+8+8+2+len(j.GroupID)+4+len(j.PlaintextData)+4+len(j.EnvelopeData)+4)
	out = append(out, recordVersion, flags)
	out = binary.BigEndian.AppendUint64(out, uint64(j.CreatedAt.UnixMilli()))
	out = binary.BigEndian.AppendUint64(out, j.ServerDeliveryTimestamp)
	out = binary.BigEndian.AppendUint16(out, uint16(len(j.GroupID)))
	out = append(out, j.GroupID...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(j.PlaintextData)))
	out = append(out, j.PlaintextData...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(j.EnvelopeData)))
	out = append(out, j.EnvelopeData...)
	out = binary.BigEndian.AppendUint32(out, crc32.Checksum(out, castagnoli))
	return out
}

// decodeRecord rebuilds a Job from its stored row. The id comes from the key,
// not the record.
func decodeRecord(id uint64, b []byte) (*Job, error) {
	const fixed = 1 + 1 + 8 + 8
	if len(b) < fixed+2+4+4+4 {
		return nil, fmt.Errorf("jobstore: record for job %d truncated (%d bytes)", id, len(b))
	}
	body, trailer := b[:len(b)-4], b[len(b)-4:]
	if want, got := binary.BigEndian.Uint32(trailer), crc32.Checksum(body, castagnoli); want != got {
		return nil, fmt.Errorf("jobstore: record for job %d failed checksum", id)
	}
	if v := body[0]; v != recordVersion {
		return nil, fmt.Errorf("jobstore: record for job %d has unsupported version %d", id, v)
	}
	flags := body[1]

	j := &Job{
		ID:                      id,
		CreatedAt:               time.UnixMilli(int64(binary.BigEndian.Uint64(body[2:10]))).UTC(),
		ServerDeliveryTimestamp: binary.BigEndian.Uint64(body[10:18]),
		WasReceivedByUD:         flags&flagReceivedByUD != 0,
	}

	rest := body[fixed:]
	glen := int(binary.BigEndian.Uint16(rest[:2]))
	rest = rest[2:]
	if len(rest) < glen+4 {
		return nil, fmt.Errorf("jobstore: record for job %d truncated in group id", id)
	}
	if flags&flagHasGroup != 0 {
		j.GroupID = append([]byte(nil), rest[:glen]...)
	}
	rest = rest[glen:]

	plen := int(binary.BigEndian.Uint32(rest[:4]))
	rest = rest[4:]
	if len(rest) < plen+4 {
		return nil, fmt.Errorf("jobstore: record for job %d truncated in plaintext", id)
	}
	if flags&flagHasPlaintext != 0 {
		// non-nil even when empty: presence is what the flag records
		j.PlaintextData = append(make([]byte, 0, plen), rest[:plen]...)
	}
	rest = rest[plen:]

	elen := int(binary.BigEndian.Uint32(rest[:4]))
	rest = rest[4:]
	if len(rest) != elen || elen == 0 {
		return nil, fmt.Errorf("jobstore: record for job %d has bad envelope length %d", id, elen)
	}
	j.EnvelopeData = append([]byte(nil), rest...)
	return j, nil
}
