package resp

import (
	"io"
	"strconv"
)

// Encode writes f to w in RESP2 wire format, except that a top-level Map
// frame is written in the RESP3 "%<count>\r\n" shape. This is the
// deliberate "selective RESP3" scope from spec §4.1: only HELLO 3's own
// response ever constructs a Map frame.
func Encode(w io.Writer, f Frame) error {
	buf := AppendFrame(nil, f)
	_, err := w.Write(buf)
	return err
}

// AppendFrame appends the wire encoding of f to dst and returns the result,
// following the growable-buffer append pattern idiomatic for hot encode
// paths (avoids an allocation per frame on a busy connection).
func AppendFrame(dst []byte, f Frame) []byte {
	switch f.Type {
	case SimpleString:
		dst = append(dst, '+')
		dst = append(dst, f.Str...)
		return append(dst, '\r', '\n')
	case Error:
		dst = append(dst, '-')
		dst = append(dst, f.Str...)
		return append(dst, '\r', '\n')
	case Integer:
		dst = append(dst, ':')
		dst = strconv.AppendInt(dst, f.Int, 10)
		return append(dst, '\r', '\n')
	case BulkString:
		if f.Null {
			return append(dst, '$', '-', '1', '\r', '\n')
		}
		dst = append(dst, '$')
		dst = strconv.AppendInt(dst, int64(len(f.Bulk)), 10)
		dst = append(dst, '\r', '\n')
		dst = append(dst, f.Bulk...)
		return append(dst, '\r', '\n')
	case Array:
		if f.Null {
			return append(dst, '*', '-', '1', '\r', '\n')
		}
		dst = append(dst, '*')
		dst = strconv.AppendInt(dst, int64(len(f.Array)), 10)
		dst = append(dst, '\r', '\n')
		for _, elem := range f.Array {
			dst = AppendFrame(dst, elem)
		}
		return dst
	case Map:
		dst = append(dst, '%')
		dst = strconv.AppendInt(dst, int64(len(f.Array)/2), 10)
		dst = append(dst, '\r', '\n')
		for _, elem := range f.Array {
			dst = AppendFrame(dst, elem)
		}
		return dst
	default:
		// Unreachable for frames constructed via this package's
		// constructors; encode as a generic error rather than panic
		// on malformed caller input.
		dst = append(dst, '-', 'E', 'R', 'R', ' ')
		dst = append(dst, "internal: unknown frame type"...)
		return append(dst, '\r', '\n')
	}
}
