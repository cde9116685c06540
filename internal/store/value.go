package store

// Kind tags the variant held by a Value (spec §3: "a tagged variant").
type Kind byte

const (
	KindString Kind = iota
	KindJSON
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindJSON:
		return "json"
	default:
		return "none"
	}
}

// Value is the tagged payload of a keyspace Entry.
//
// For KindJSON, Str always holds the canonical serialized form of JSON so
// that snapshot writing, AOF rewrite, and GET-style responses never need
// to re-marshal the parsed tree; JSON holds the parsed document for
// JSON.* path operations.
type Value struct {
	Kind Kind
	Str  []byte      // KindString payload, or KindJSON's serialized form
	JSON interface{} // KindJSON: the parsed document rooted at "$"
}

// StringValue builds a KindString value, copying b so the caller's buffer
// can be reused.
func StringValue(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{Kind: KindString, Str: cp}
}

// JSONValue builds a KindJSON value from an already-parsed document tree
// plus its canonical serialized form.
func JSONValue(doc interface{}, serialized []byte) Value {
	cp := make([]byte, len(serialized))
	copy(cp, serialized)
	return Value{Kind: KindJSON, JSON: doc, Str: cp}
}
