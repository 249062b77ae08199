// Package attrbody recovers message text from the attributedBody payload
// Messages stores for rich messages.
//
// A payload is either a binary property list wrapping an NSKeyedArchiver
// object graph or a legacy typedstream archive. Detect classifies a
// payload, ExtractBinaryPlist and ExtractTypedstream pull a candidate
// string out of it, Clean normalizes and vets that candidate, and Resolver
// ties them together with the plain-text column and the fallback
// placeholders.
//
// Everything in this package is a pure function of its input. Malformed
// payloads are routine and yield "no candidate", never an error or a
// panic.
package attrbody

import (
	"fmt"

	"github.com/wesm/imsgtext/internal/bplist"
	"github.com/wesm/imsgtext/internal/typedstream"
)

// Format is the serialization format of an attributedBody payload.
type Format int

const (
	FormatUnknown Format = iota
	FormatBinaryPlist
	FormatTypedstream
)

var formatNames = map[Format]string{
	FormatUnknown:     "unknown",
	FormatBinaryPlist: "binary_plist",
	FormatTypedstream: "typedstream",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// MarshalText implements encoding.TextMarshaler.
func (f Format) MarshalText() ([]byte, error) {
	if _, ok := formatNames[f]; !ok {
		return nil, fmt.Errorf("attrbody: invalid format %d", int(f))
	}
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Format) UnmarshalText(text []byte) error {
	for k, name := range formatNames {
		if name == string(text) {
			*f = k
			return nil
		}
	}
	return fmt.Errorf("attrbody: unknown format %q", text)
}

// Detect classifies buf by its leading bytes. It never allocates and
// accepts any input, including nil.
func Detect(buf []byte) Format {
	switch {
	case bplist.HasMagic(buf):
		return FormatBinaryPlist
	case typedstream.HasMarker(buf):
		return FormatTypedstream
	default:
		return FormatUnknown
	}
}
