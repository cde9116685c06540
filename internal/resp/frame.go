// Package resp implements a streaming RESP2/RESP3 decoder and encoder.
//
// The decoder never partially mutates its input buffer: callers hand it a
// byte slice, get back the number of bytes consumed, and advance their own
// buffer by that amount. This keeps the codec usable both for live
// connections (where the buffer grows as reads arrive) and for offline
// replay of an AOF file.
package resp

// Type tags a Frame with its RESP wire type.
type Type byte

const (
	SimpleString Type = '+'
	Error        Type = '-'
	Integer      Type = ':'
	BulkString   Type = '$'
	Array        Type = '*'
	// Map is the RESP3 map type, used only for the HELLO 3 response.
	Map Type = '%'
)

// Frame is a decoded or to-be-encoded RESP value. Only the fields relevant
// to Type are meaningful; the zero Frame is not a valid frame.
type Frame struct {
	Type  Type
	Str   string  // SimpleString, Error
	Int   int64   // Integer
	Bulk  []byte  // BulkString payload; nil together with Null means $-1
	Array []Frame // Array/Map elements; Map stores key,value,key,value,...
	Null  bool    // BulkString or Array is the nil variant
}

// OK builds the canonical "+OK" simple string.
func OK() Frame { return Frame{Type: SimpleString, Str: "OK"} }

// Simple builds a simple string frame.
func Simple(s string) Frame { return Frame{Type: SimpleString, Str: s} }

// Err builds an error frame. msg should already carry the Redis-style
// prefix, e.g. "ERR wrong number of arguments".
func Err(msg string) Frame { return Frame{Type: Error, Str: msg} }

// Int builds an integer frame.
func Int(n int64) Frame { return Frame{Type: Integer, Int: n} }

// Bulk builds a bulk string frame from bytes. A nil, non-empty-slice
// distinction is preserved: pass NilBulk() for $-1.
func Bulk(b []byte) Frame { return Frame{Type: BulkString, Bulk: b} }

// BulkFromString is a convenience wrapper around Bulk.
func BulkFromString(s string) Frame { return Frame{Type: BulkString, Bulk: []byte(s)} }

// NilBulk builds the RESP "$-1\r\n" nil bulk string.
func NilBulk() Frame { return Frame{Type: BulkString, Null: true} }

// Arr builds an array frame from already-built frames.
func Arr(items ...Frame) Frame { return Frame{Type: Array, Array: items} }

// NilArray builds the RESP "*-1\r\n" nil array.
func NilArray() Frame { return Frame{Type: Array, Null: true} }

// IsNil reports whether f is a nil bulk string or nil array.
func (f Frame) IsNil() bool {
	return (f.Type == BulkString || f.Type == Array) && f.Null
}
