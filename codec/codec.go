// Package codec holds the encodings of index keys and values.
//
// Every index section stores the names of its key and value codecs. A typed
// index id carries codecs of its own, and a section is only handed out when
// both names match, so a codec name may never change meaning once chunks
// written with it exist.
package codec

// Codec serializes the values behind a Structured record codec. It must be
// safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName resolves the codec recorded in a section header, for tools that
// decode values without knowing their Go type.
func ByName(name string) (Codec, bool) {
	for _, c := range []Codec{JSON{}, GoJSON{}} {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}
