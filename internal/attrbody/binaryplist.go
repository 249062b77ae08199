package attrbody

import (
	"errors"
	"sort"
	"unicode/utf8"

	"github.com/wesm/imsgtext/internal/bplist"
	"github.com/wesm/imsgtext/internal/textutil"
)

// MaxGraphDepth bounds how deep the archived object graph is walked.
// A graph nested deeper than this yields no candidate at all.
const MaxGraphDepth = 10

// maxUIDHops bounds chains of UIDs that point at other UIDs.
const maxUIDHops = 4

const (
	keyNSString    = "NS.string"
	keyNSStringObj = "NSString"
	keyClass       = "$class"
)

var errTooDeep = errors.New("object graph too deep")

// ExtractBinaryPlist returns the message text archived in a binary
// property list, or false when buf is not a readable plist or holds no
// string under an NS.string or NSString key that survives the metadata
// filter.
func ExtractBinaryPlist(buf []byte) (string, bool) {
	e, ok := extractBinaryPlist(buf)
	return e.text, ok
}

// extracted is the string an extractor chose. misread is set when its
// bytes show it was decoded with the wrong encoding.
type extracted struct {
	text    string
	misread bool
}

func extractBinaryPlist(buf []byte) (extracted, bool) {
	doc, err := bplist.Open(buf)
	if err != nil {
		return extracted{}, false
	}
	w := &graphWalker{doc: doc, visited: make(map[uint64]struct{})}
	start, ok := w.root()
	if !ok {
		return extracted{}, false
	}
	if err := w.walk(start, 0); err != nil {
		return extracted{}, false
	}
	return w.best()
}

// candidate is a string found under a text key during the walk.
type candidate struct {
	depth   int
	rank    int // 0 for NS.string, 1 for NSString
	seq     int
	text    string
	misread bool
}

type graphWalker struct {
	doc *bplist.Document

	// objects is the $objects table of a keyed archive. It is nil when the
	// plist is not an NSKeyedArchiver envelope, and UIDs are then dead.
	objects []uint64

	visited    map[uint64]struct{}
	candidates []candidate
}

// root returns the object the walk starts from: the archived root object
// when the plist is a keyed archive, the plist's top object otherwise.
func (w *graphWalker) root() (uint64, bool) {
	top := w.doc.TopRef()
	node, err := w.doc.Object(top)
	if err != nil {
		return 0, false
	}
	dict, ok := node.(bplist.Dict)
	if !ok {
		return top, true
	}
	objects, topDict, ok := w.envelope(dict)
	if !ok {
		return top, true
	}
	w.objects = objects

	uid, ok := w.rootUID(topDict)
	if !ok || uid >= uint64(len(objects)) {
		return 0, false
	}
	return objects[uid], true
}

// envelope reports whether dict is an NSKeyedArchiver envelope and returns
// its $objects refs and $top dictionary.
func (w *graphWalker) envelope(dict bplist.Dict) ([]uint64, bplist.Dict, bool) {
	if _, ok := w.doc.Value(dict, "$archiver"); !ok {
		return nil, bplist.Dict{}, false
	}
	objRef, ok := w.doc.Value(dict, "$objects")
	if !ok {
		return nil, bplist.Dict{}, false
	}
	topRef, ok := w.doc.Value(dict, "$top")
	if !ok {
		return nil, bplist.Dict{}, false
	}
	objNode, err := w.doc.Object(objRef)
	if err != nil {
		return nil, bplist.Dict{}, false
	}
	objects, ok := objNode.(bplist.Array)
	if !ok {
		return nil, bplist.Dict{}, false
	}
	topNode, err := w.doc.Object(topRef)
	if err != nil {
		return nil, bplist.Dict{}, false
	}
	topDict, ok := topNode.(bplist.Dict)
	if !ok {
		return nil, bplist.Dict{}, false
	}
	return objects.Refs, topDict, true
}

// rootUID returns the UID stored under "root" in $top, or, for archives
// written under another key, the UID under the lexically first key.
func (w *graphWalker) rootUID(top bplist.Dict) (uint64, bool) {
	if ref, ok := w.doc.Value(top, "root"); ok {
		if node, err := w.doc.Object(ref); err == nil {
			if uid, ok := node.(bplist.UID); ok {
				return uint64(uid), true
			}
		}
		return 0, false
	}

	type entry struct {
		key string
		uid uint64
	}
	var entries []entry
	for i, kref := range top.Keys {
		key, ok := w.keyName(kref)
		if !ok {
			continue
		}
		node, err := w.doc.Object(top.Values[i])
		if err != nil {
			continue
		}
		if uid, ok := node.(bplist.UID); ok {
			entries = append(entries, entry{key, uint64(uid)})
		}
	}
	if len(entries) == 0 {
		return 0, false
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })
	return entries[0].uid, true
}

func (w *graphWalker) keyName(ref uint64) (string, bool) {
	node, err := w.doc.Object(ref)
	if err != nil {
		return "", false
	}
	s, ok := node.(bplist.String)
	return string(s), ok
}

// deref follows UIDs through $objects until it reaches a non-UID object.
func (w *graphWalker) deref(ref uint64) (uint64, bplist.Node, bool) {
	for range maxUIDHops {
		node, err := w.doc.Object(ref)
		if err != nil {
			return 0, nil, false
		}
		uid, ok := node.(bplist.UID)
		if !ok {
			return ref, node, true
		}
		if uint64(uid) >= uint64(len(w.objects)) {
			return 0, nil, false
		}
		ref = w.objects[uid]
	}
	return 0, nil, false
}

// walk visits the sub-graph at ref. Damaged branches are skipped; only
// exceeding MaxGraphDepth aborts the walk.
func (w *graphWalker) walk(ref uint64, depth int) error {
	if depth > MaxGraphDepth {
		return errTooDeep
	}
	ref, node, ok := w.deref(ref)
	if !ok {
		return nil
	}
	if _, seen := w.visited[ref]; seen {
		return nil
	}
	w.visited[ref] = struct{}{}

	switch n := node.(type) {
	case bplist.Dict:
		return w.walkDict(n, depth)
	case bplist.Array:
		for _, child := range n.Refs {
			if err := w.walk(child, depth+1); err != nil {
				return err
			}
		}
	case bplist.String, bplist.Integer, bplist.UID, bplist.Scalar:
	}
	return nil
}

func (w *graphWalker) walkDict(d bplist.Dict, depth int) error {
	for i, kref := range d.Keys {
		key, ok := w.keyName(kref)
		if !ok || key == keyClass {
			continue
		}
		if key == keyNSString || key == keyNSStringObj {
			w.collect(key, d.Values[i], depth)
		}
		if err := w.walk(d.Values[i], depth+1); err != nil {
			return err
		}
	}
	return nil
}

// collect records the value at ref as a candidate when it is a string.
func (w *graphWalker) collect(key string, ref uint64, depth int) {
	_, node, ok := w.deref(ref)
	if !ok {
		return
	}
	s, ok := node.(bplist.String)
	if !ok {
		return
	}
	rank := 0
	if key == keyNSStringObj {
		rank = 1
	}
	raw := string(s)
	w.candidates = append(w.candidates, candidate{
		depth:   depth,
		rank:    rank,
		seq:     len(w.candidates),
		text:    textutil.SanitizeUTF8(raw),
		misread: !utf8.ValidString(raw) || misreadUTF16(raw),
	})
}

// best returns the highest-ranked candidate that is not metadata.
func (w *graphWalker) best() (extracted, bool) {
	sort.Slice(w.candidates, func(i, j int) bool {
		a, b := w.candidates[i], w.candidates[j]
		if a.depth != b.depth {
			return a.depth < b.depth
		}
		if a.rank != b.rank {
			return a.rank < b.rank
		}
		return a.seq < b.seq
	})
	for _, c := range w.candidates {
		if acceptable(c.text) {
			return extracted{text: c.text, misread: c.misread}, true
		}
	}
	return extracted{}, false
}
