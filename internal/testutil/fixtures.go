package testutil

import (
	"testing"

	"howett.net/plist"
)

// BinaryPlist encodes v as a binary property list with howett.net/plist.
func BinaryPlist(t testing.TB, v interface{}) []byte {
	t.Helper()
	data, err := plist.Marshal(v, plist.BinaryFormat)
	if err != nil {
		t.Fatalf("encode binary plist: %v", err)
	}
	return data
}

// KeyedArchive wraps objects in an NSKeyedArchiver envelope whose $top
// root points at objects[root].
func KeyedArchive(t testing.TB, objects []interface{}, root uint64) []byte {
	t.Helper()
	return BinaryPlist(t, map[string]interface{}{
		"$archiver": "NSKeyedArchiver",
		"$version":  int64(100000),
		"$top":      map[string]interface{}{"root": plist.UID(root)},
		"$objects":  objects,
	})
}

// AttributedStringObjects returns the $objects table of an archived
// NSMutableAttributedString holding text, shaped the way Messages writes
// it: the attributed string points at a mutable string object through
// NSString, and carries an attribute dictionary keyed by an __kIM name.
func AttributedStringObjects(text string) []interface{} {
	return []interface{}{
		"$null",
		map[string]interface{}{ // 1: NSMutableAttributedString
			"$class":       plist.UID(7),
			"NSString":     plist.UID(2),
			"NSAttributes": plist.UID(4),
		},
		map[string]interface{}{ // 2: NSMutableString
			"$class":    plist.UID(3),
			"NS.string": text,
		},
		map[string]interface{}{
			"$classname": "NSMutableString",
			"$classes":   []interface{}{"NSMutableString", "NSString", "NSObject"},
		},
		map[string]interface{}{ // 4: NSDictionary of attributes
			"$class":     plist.UID(6),
			"NS.keys":    []interface{}{plist.UID(5)},
			"NS.objects": []interface{}{plist.UID(8)},
		},
		"__kIMMessagePartAttributeName",
		map[string]interface{}{
			"$classname": "NSDictionary",
			"$classes":   []interface{}{"NSDictionary", "NSObject"},
		},
		map[string]interface{}{
			"$classname": "NSMutableAttributedString",
			"$classes":   []interface{}{"NSMutableAttributedString", "NSAttributedString", "NSObject"},
		},
		int64(0),
	}
}

// AttributedStringArchive returns a keyed archive of an attributed string
// holding text.
func AttributedStringArchive(t testing.TB, text string) []byte {
	t.Helper()
	return KeyedArchive(t, AttributedStringObjects(text), 1)
}

// AppendTypedstreamLength appends n in typedstream length encoding.
func AppendTypedstreamLength(b []byte, n int) []byte {
	switch {
	case n < 0x80:
		return append(b, byte(n))
	case n <= 0xffff:
		return append(b, 0x81, byte(n), byte(n>>8))
	default:
		return append(b, 0x82, byte(n), byte(n>>8), byte(n>>16), byte(n>>24))
	}
}

// TypedstreamBody returns a typedstream attributedBody holding text, laid
// out like the archives older Messages databases store: an
// NSAttributedString whose NSString payload is followed by an attribute
// run keyed by __kIMMessagePartAttributeName.
func TypedstreamBody(text string) []byte {
	b := []byte{0x04, 0x0b}
	b = append(b, "streamtyped"...)
	b = append(b, 0x81, 0xe8, 0x03, 0x84, 0x01, '@', 0x84, 0x84, 0x84, 0x12)
	b = append(b, "NSAttributedString"...)
	b = append(b, 0x00, 0x84, 0x84, 0x08)
	b = append(b, "NSObject"...)
	b = append(b, 0x00, 0x85, 0x92, 0x84, 0x84, 0x84, 0x08)
	b = append(b, "NSString"...)
	b = append(b, 0x01, 0x94, 0x84, 0x01, '+')
	b = AppendTypedstreamLength(b, len(text))
	b = append(b, text...)
	b = append(b, 0x86, 0x84, 0x02, 'i', 'I', 0x01, 0x01, 0x92, 0x84, 0x84, 0x84, 0x0c)
	b = append(b, "NSDictionary"...)
	b = append(b, 0x00, 0x94, 0x84, 0x01, 'i', 0x01, 0x92, 0x84, 0x96, 0x96, 0x1d)
	b = append(b, "__kIMMessagePartAttributeName"...)
	b = append(b, 0x86, 0x92, 0x84, 0x84, 0x84, 0x08)
	b = append(b, "NSNumber"...)
	b = append(b, 0x00, 0x84, 0x84, 0x07)
	b = append(b, "NSValue"...)
	b = append(b, 0x00, 0x94, 0x84, 0x01, '*', 0x84, 0x99, 0x99, 0x00, 0x86, 0x86, 0x86)
	return b
}

// MinimalTypedstream returns the smallest buffer the typedstream scanner
// accepts: the bare marker, one NSString token, the regular preamble, a
// length and the payload.
func MinimalTypedstream(text string) []byte {
	b := []byte("streamtyped")
	b = append(b, "NSString"...)
	b = append(b, 0x94)
	b = AppendTypedstreamLength(b, len(text))
	return append(b, text...)
}

// GarbageUTF16 reinterprets the bytes of s as big-endian UTF-16, the way a
// decoder that picks the wrong string encoding does. ASCII input turns
// into CJK-looking text.
func GarbageUTF16(s string) string {
	b := []byte(s)
	if len(b)%2 == 1 {
		b = append(b, 0)
	}
	runes := make([]rune, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		runes = append(runes, rune(b[i])<<8|rune(b[i+1]))
	}
	return string(runes)
}
