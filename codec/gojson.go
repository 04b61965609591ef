package codec

import gojson "github.com/goccy/go-json"

// GoJSON writes the same bytes as JSON through github.com/goccy/go-json.
// Structured records use it unless told otherwise; sections record it as
// "go-json".
type GoJSON struct{}

func (GoJSON) Marshal(v any) ([]byte, error) { return gojson.Marshal(v) }

func (GoJSON) Unmarshal(data []byte, v any) error { return gojson.Unmarshal(data, v) }

func (GoJSON) Name() string { return "go-json" }
