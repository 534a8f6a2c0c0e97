// Package s3 provides a blobstore.Store backed by Amazon S3 via the AWS
// SDK v2. Puts stream through the transfer manager; missing objects map to
// blobstore.ErrNotFound.
package s3
