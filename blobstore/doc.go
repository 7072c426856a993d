// Package blobstore stores raw genome downloads, one blob per accession.
//
// A blob becomes visible only once it is complete: Put publishes atomically,
// so the presence of a blob means a previous download finished and the
// accession need not be fetched again. Implementations must be safe for
// concurrent use, including concurrent Puts of the same name.
//
// # Implementations
//
//   - LocalStore: a directory on the local file system, mmap reads
//   - MemoryStore: in-memory, for tests
//   - minio.Store: MinIO and other S3-compatible servers
//   - s3.Store: Amazon S3
package blobstore
