// Package fs abstracts the file operations of the local genome cache so that
// tests can inject write, sync, rename and close failures.
//
// Production code uses fs.Default:
//
//	f, err := fs.Default.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
//
// Tests wrap it in a FaultyFS:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule(".tmp-", fs.Fault{FailOnSync: true})
package fs
