// Package chunk provides read access to attached chunks.
//
// A Handle owns one opened chunk container. Index sections are opened lazily
// and at most once per (chunk, kind); a section that fails to open stays
// absent for the lifetime of the handle and the failure is reported to the
// handle's Observer.
//
// Handles are reference counted. The owner's reference is taken by New;
// borrowers use TryIncRef/DecRef. The container is closed when the last
// reference is dropped, so readers are never invalidated mid-read.
//
//	symbols := chunk.NewIndexID("symbols", codec.String{}, codec.Uint32List{})
//	if idx, ok := chunk.OpenIndex(h, symbols); ok {
//	    ids, found, err := idx.Get("Foo")
//	}
package chunk
