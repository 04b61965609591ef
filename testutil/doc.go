// Package testutil provides helpers for building chunk containers in tests.
//
// This package is intended for use in tests and benchmarks only.
//
//	c := testutil.Chunk{
//	    ID:    3,
//	    Files: []string{"a.go", "b.go"},
//	    Symbols: map[string][]uint32{"Foo": {1}, "Bar": {1, 2}},
//	}
//	h := c.Handle(t)
//	defer h.DecRef()
//
// File i of Files gets internal hash id i+1; its content hash is HashOf(name).
package testutil
