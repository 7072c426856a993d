// Package minio implements blobstore.BlobStore on MinIO and other
// S3-compatible servers, so a shared genome cache can serve several hosts.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	cache := minioblob.NewStore(client, "genomes", "refseq/")
//
// PutObject is atomic on the server: a reader sees either the previous
// object or the complete new one.
package minio
