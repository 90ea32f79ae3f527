package log

import (
	"encoding/hex"
	"log/slog"
	"time"
)

// Field is a single structured key/value attached to a log entry.
type Field struct {
	key   string
	value any
}

// F creates a Field from an arbitrary value.
func F(key string, value any) Field { return Field{key: key, value: value} }

// Str creates a string Field.
func Str(key, value string) Field { return Field{key: key, value: value} }

// Int creates an int Field.
func Int(key string, value int) Field { return Field{key: key, value: value} }

// Int64 creates an int64 Field.
func Int64(key string, value int64) Field { return Field{key: key, value: value} }

// Uint64 creates a uint64 Field.
func Uint64(key string, value uint64) Field { return Field{key: key, value: value} }

// Bool creates a bool Field.
func Bool(key string, value bool) Field { return Field{key: key, value: value} }

// Dur creates a duration Field.
func Dur(key string, value time.Duration) Field { return Field{key: key, value: value} }

// Hex creates a Field rendering bytes as lowercase hex. Opaque identifiers
// (group ids) log through this.
func Hex(key string, value []byte) Field {
	return Field{key: key, value: hex.EncodeToString(value)}
}

// Err creates an error Field under the conventional "error" key.
func Err(err error) Field { return Field{key: "error", value: err} }

// Component tags an entry with the emitting component.
func Component(name string) Field { return Str("component", name) }

func attrs(fields []Field) []any {
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		out = append(out, slog.Any(f.key, f.value))
	}
	return out
}
