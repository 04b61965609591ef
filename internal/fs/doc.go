// Package fs abstracts the file system operations the local chunk cache
// writes through, so tests can inject write, sync and rename failures.
//
// Production code uses [Default] ([LocalFS]). Tests wrap it in a [FaultyFS]:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule(".tmp-", fs.Fault{FailAfterBytes: 1024})
//	store := blobstore.NewLocalStore(dir, blobstore.WithFileSystem(ffs))
//
// Operations take no context.Context: they are short syscalls that cannot
// be interrupted.
package fs
