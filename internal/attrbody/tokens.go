package attrbody

import "strings"

// attributePrefix starts the private attribute names Messages stores in
// attribute runs, such as __kIMMessagePartAttributeName.
const attributePrefix = "__kIM"

// metadataTokens are class names and archive keys that show up as strings
// inside archived payloads but are never message content.
var metadataTokens = map[string]struct{}{
	// Foundation classes.
	"NSString":                  {},
	"NSMutableString":           {},
	"NSDictionary":              {},
	"NSMutableDictionary":       {},
	"NSAttributedString":        {},
	"NSMutableAttributedString": {},
	"NSObject":                  {},
	"NSArray":                   {},
	"NSMutableArray":            {},
	"NSNumber":                  {},
	"NSValue":                   {},
	"NSData":                    {},
	"NSMutableData":             {},
	"NSKeyedArchiver":           {},
	"NSColor":                   {},
	"NSFont":                    {},
	"NSParagraphStyle":          {},
	"NSURL":                     {},
	"NSLink":                    {},

	// Keyed-archive keys.
	"$null":        {},
	"$archiver":    {},
	"$objects":     {},
	"$top":         {},
	"$version":     {},
	"$class":       {},
	"$classname":   {},
	"$classes":     {},
	"root":         {},
	"NS.string":    {},
	"NS.keys":      {},
	"NS.objects":   {},
	"NSAttributes": {},

	// Typedstream signature.
	"streamtyped": {},
}

// IsMetadataToken reports whether s is serialization metadata rather than
// content: a known archiver class or key name, or a private Messages
// attribute name.
func IsMetadataToken(s string) bool {
	if _, ok := metadataTokens[s]; ok {
		return true
	}
	return strings.HasPrefix(s, attributePrefix)
}

// acceptable reports whether an extracted string can be a candidate.
func acceptable(s string) bool {
	return strings.TrimSpace(s) != "" && !IsMetadataToken(s)
}
