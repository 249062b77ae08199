// Package typedstream scans legacy NeXTSTEP "typedstream" archives, the
// format older Messages databases use for attributedBody, for archived
// string payloads.
//
// This is a byte scanner, not an archive decoder. It looks for the
// NSString / NSMutableString class tokens and reads the length-prefixed
// payload that follows each one:
//
//	NSString 01 94 84 01 2b <len> <bytes...>
//	         |  |  '--+---'
//	         |  |     type encoding "+" (optional)
//	         |  preamble: 0x94 regular, 0x95 mutable
//	         class version (optional)
//
// The length is a single byte below 0x80, or 0x81 followed by a
// little-endian uint16, or 0x82 followed by a little-endian uint32.
package typedstream

import (
	"bytes"
	"encoding/binary"
	"unicode/utf8"

	"github.com/wesm/imsgtext/internal/textutil"
)

// Marker is the signature string of a typedstream archive.
const Marker = "streamtyped"

// MaxCandidates bounds how many class-token occurrences Scan examines in
// one buffer.
const MaxCandidates = 256

const (
	classVersion = 0x01
	tagRegular   = 0x94
	tagMutable   = 0x95
	tagInt16     = 0x81
	tagInt32     = 0x82
	tagFirstTag  = 0x80 // bytes at or above this are tags, not lengths
)

var (
	tokenString        = []byte("NSString")
	tokenMutableString = []byte("NSMutableString")
	typeEncoding       = []byte{0x84, 0x01, '+'}
)

// HasMarker reports whether data begins with the typedstream signature,
// either bare or behind the two-byte header (version 0x04, length 0x0b)
// that real archives carry.
func HasMarker(data []byte) bool {
	if bytes.HasPrefix(data, []byte(Marker)) {
		return true
	}
	return len(data) >= 2+len(Marker) &&
		data[1] == byte(len(Marker)) &&
		bytes.HasPrefix(data[2:], []byte(Marker))
}

// Candidate is a string payload found after a string class token.
type Candidate struct {
	Offset  int    // byte offset of the class token
	Class   string // "NSString" or "NSMutableString"
	Mutable bool   // preamble was 0x95
	Text    string // payload decoded as UTF-8, invalid bytes replaced
	// Repaired is set when the payload was not valid UTF-8 and bytes
	// were replaced with U+FFFD.
	Repaired bool
}

// Scan returns every string payload it can read, in buffer order. It does
// not check the marker; callers that need it use HasMarker.
func Scan(data []byte) []Candidate {
	var out []Candidate
	pos := 0
	for examined := 0; examined < MaxCandidates; examined++ {
		idx, token := nextToken(data, pos)
		if idx < 0 {
			break
		}
		start := idx + len(token)
		c, next, ok := readString(data, start)
		if !ok {
			pos = start
			continue
		}
		c.Offset = idx
		c.Class = string(token)
		out = append(out, c)
		pos = next
	}
	return out
}

// nextToken finds the earliest class token at or after pos.
func nextToken(data []byte, pos int) (int, []byte) {
	if pos >= len(data) {
		return -1, nil
	}
	rest := data[pos:]
	best, token := -1, []byte(nil)
	for _, tok := range [][]byte{tokenString, tokenMutableString} {
		if i := bytes.Index(rest, tok); i >= 0 && (best < 0 || i < best) {
			best, token = i, tok
		}
	}
	if best < 0 {
		return -1, nil
	}
	return pos + best, token
}

// readString reads preamble, length and payload starting right after a
// class token. It returns the offset just past the payload.
func readString(data []byte, p int) (Candidate, int, bool) {
	var c Candidate
	if p < len(data) && data[p] == classVersion {
		p++
	}
	if p >= len(data) {
		return c, 0, false
	}
	switch data[p] {
	case tagRegular:
	case tagMutable:
		c.Mutable = true
	default:
		return c, 0, false
	}
	p++
	if bytes.HasPrefix(data[p:], typeEncoding) {
		p += len(typeEncoding)
	}

	n, p, ok := readLength(data, p)
	if !ok || n == 0 || n > uint64(len(data)-p) {
		return c, 0, false
	}
	end := p + int(n)
	payload := data[p:end]
	c.Repaired = !utf8.Valid(payload)
	c.Text = textutil.SanitizeUTF8(string(payload))
	return c, end, true
}

// readLength decodes a typedstream length at p and returns the offset of
// the first payload byte.
func readLength(data []byte, p int) (uint64, int, bool) {
	if p >= len(data) {
		return 0, 0, false
	}
	b := data[p]
	p++
	switch {
	case b < tagFirstTag:
		return uint64(b), p, true
	case b == tagInt16:
		if len(data)-p < 2 {
			return 0, 0, false
		}
		return uint64(binary.LittleEndian.Uint16(data[p:])), p + 2, true
	case b == tagInt32:
		if len(data)-p < 4 {
			return 0, 0, false
		}
		return uint64(binary.LittleEndian.Uint32(data[p:])), p + 4, true
	}
	return 0, 0, false
}
