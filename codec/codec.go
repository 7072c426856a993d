// Package codec centralizes encoding of persisted metadata and the block
// compression applied to stored signature records.
//
// Changing the default codec or compression only affects newly written
// records. Every stored record names its compression so older data stays
// readable.
package codec

import "strings"

// Codec encodes and decodes metadata documents.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// Default is the codec used for cache entries and the schema document.
var Default Codec = GoJSON{}

// ByName returns a built-in codec by its stable name, as accepted on the
// command line.
func ByName(name string) (Codec, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "json":
		return JSON{}, true
	case "go-json", "":
		return GoJSON{}, true
	default:
		return nil, false
	}
}
