package bplist

// Node is a decoded plist object. The set of implementations is closed:
// Dict, Array, String, Integer, UID and Scalar. Consumers switch over all
// of them.
type Node interface {
	node()
}

// Dict holds the object references of a dictionary's keys and values.
// Keys[i] pairs with Values[i].
type Dict struct {
	Keys   []uint64
	Values []uint64
}

// Array holds the object references of an array or set.
type Array struct {
	Refs []uint64
}

// String is an ASCII or UTF-16 string object, converted to a Go string.
// ASCII objects are passed through byte for byte, so a damaged file can
// yield invalid UTF-8.
type String string

// Integer is a signed integer object.
type Integer int64

// UID is an NSKeyedArchiver object reference. It indexes the archive's
// $objects array, not the plist object table.
type UID uint64

// ScalarKind identifies an object whose value the reader skips over.
type ScalarKind uint8

const (
	KindNull ScalarKind = iota
	KindBool
	KindReal
	KindDate
	KindData
)

func (k ScalarKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindReal:
		return "real"
	case KindDate:
		return "date"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

// Scalar is a validated object that carries no string content.
type Scalar struct {
	Kind ScalarKind
}

func (Dict) node()    {}
func (Array) node()   {}
func (String) node()  {}
func (Integer) node() {}
func (UID) node()     {}
func (Scalar) node()  {}
