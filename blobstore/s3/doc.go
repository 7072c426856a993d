// Package s3 implements blobstore.BlobStore on Amazon S3.
//
//	store, err := s3.New(ctx, "my-bucket", "genomes/")
//
// Uploads go through the S3 transfer manager, which switches to multipart
// uploads for large assemblies, and carry a CRC32-C checksum that S3
// verifies before the object becomes visible.
package s3
