package envelope

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Type identifies the envelope's payload kind, which selects the decryption
// path downstream.
type Type uint8

// Envelope types
const (
	TypeUnknown Type = iota
	TypeCiphertext
	TypePrekeyBundle
	TypeReceipt
	TypeUnidentifiedSender
	TypePlaintext
)

// Envelope is the structured protocol container carrying an encrypted or
// partially-encrypted message plus routing metadata.
type Envelope struct {
	Type                 Type
	SourceServiceID      string // empty for sealed-sender delivery
	SourceDevice         uint32
	DestinationServiceID string
	Timestamp            uint64 // sender-assigned, ms
	ServerTimestamp      uint64 // server receipt time, ms
	ServerGUID           string
	Content              []byte
}

// ParseError reports malformed envelope bytes. It is permanent: the same
// input can never parse successfully.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("envelope: parse: %s", e.Reason)
}

func parseErrf(format string, args ...any) error {
	return &ParseError{Reason: fmt.Sprintf(format, args...)}
}

// Wire format (version 1), all integers big-endian:
//
//	version(1) | type(1) | sourceDevice(4) | timestamp(8) | serverTimestamp(8)
//	| srcLen(2) src | dstLen(2) dst | guidLen(2) guid | contentLen(4) content
//	| crc32c(4) over all preceding bytes
const wireVersion = 1

// Field size limits imposed by the wire format's length prefixes.
const (
	maxFieldLen   = 1<<16 - 1
	maxContentLen = 1<<32 - 1
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Marshal encodes the envelope into its versioned wire form. Service ids and
// the server GUID are limited to 64 KiB, content to 4 GiB; oversized fields
// are rejected rather than silently truncated.
func Marshal(e *Envelope) ([]byte, error) {
	src := []byte(e.SourceServiceID)
	dst := []byte(e.DestinationServiceID)
	guid := []byte(e.ServerGUID)
	switch {
	case len(src) > maxFieldLen:
		return nil, fmt.Errorf("envelope: marshal: source id too long (%d bytes)", len(src))
	case len(dst) > maxFieldLen:
		return nil, fmt.Errorf("envelope: marshal: destination id too long (%d bytes)", len(dst))
	case len(guid) > maxFieldLen:
		return nil, fmt.Errorf("envelope: marshal: server guid too long (%d bytes)", len(guid))
	case uint64(len(e.Content)) > maxContentLen:
		return nil, fmt.Errorf("envelope: marshal: content too long (%d bytes)", len(e.Content))
	}

	out := make([]byte, 0, 1+1+4+8+8+2+len(src)+2+len(dst)+2+len(guid)+4+len(e.Content)+4)
	out = append(out, wireVersion, byte(e.Type))
	out = binary.BigEndian.AppendUint32(out, e.SourceDevice)
	out = binary.BigEndian.AppendUint64(out, e.Timestamp)
	out = binary.BigEndian.AppendUint64(out, e.ServerTimestamp)
	out = binary.BigEndian.AppendUint16(out, uint16(len(src)))
	out = append(out, src...)
	out = binary.BigEndian.AppendUint16(out, uint16(len(dst)))
	out = append(out, dst...)
	out = binary.BigEndian.AppendUint16(out, uint16(len(guid)))
	out = append(out, guid...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(e.Content)))
	out = append(out, e.Content...)
	out = binary.BigEndian.AppendUint32(out, crc32.Checksum(out, castagnoli))
	return out, nil
}

// Parse decodes envelope bytes, verifying version and checksum. Fails with
// *ParseError on any malformed input.
func Parse(data []byte) (*Envelope, error) {
	const fixed = 1 + 1 + 4 + 8 + 8
	if len(data) < fixed+2+2+2+4+4 {
		return nil, parseErrf("truncated: %d bytes", len(data))
	}
	body, trailer := data[:len(data)-4], data[len(data)-4:]
	if want, got := binary.BigEndian.Uint32(trailer), crc32.Checksum(body, castagnoli); want != got {
		return nil, parseErrf("checksum mismatch")
	}
	if v := body[0]; v != wireVersion {
		return nil, parseErrf("unsupported version %d", v)
	}

	e := &Envelope{Type: Type(body[1])}
	e.SourceDevice = binary.BigEndian.Uint32(body[2:6])
	e.Timestamp = binary.BigEndian.Uint64(body[6:14])
	e.ServerTimestamp = binary.BigEndian.Uint64(body[14:22])

	rest := body[fixed:]
	var err error
	var src, dst, guid []byte
	if src, rest, err = takeField16(rest, "source"); err != nil {
		return nil, err
	}
	if dst, rest, err = takeField16(rest, "destination"); err != nil {
		return nil, err
	}
	if guid, rest, err = takeField16(rest, "server guid"); err != nil {
		return nil, err
	}
	if len(rest) < 4 {
		return nil, parseErrf("truncated content length")
	}
	clen := binary.BigEndian.Uint32(rest[:4])
	rest = rest[4:]
	if uint32(len(rest)) != clen {
		return nil, parseErrf("content length %d, have %d", clen, len(rest))
	}
	e.SourceServiceID = string(src)
	e.DestinationServiceID = string(dst)
	e.ServerGUID = string(guid)
	if clen > 0 {
		e.Content = append([]byte(nil), rest...)
	}
	return e, nil
}

func takeField16(b []byte, name string) (field, rest []byte, err error) {
	if len(b) < 2 {
		return nil, nil, parseErrf("truncated %s length", name)
	}
	n := int(binary.BigEndian.Uint16(b[:2]))
	b = b[2:]
	if len(b) < n {
		return nil, nil, parseErrf("truncated %s field", name)
	}
	return b[:n], b[n:], nil
}
