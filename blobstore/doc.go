// Package blobstore abstracts the object storage trained artifacts are
// published to.
//
// Artifacts are small, immutable, whole-file blobs (partitioner trees,
// projection bases, manifests), so the interface is deliberately coarse:
// Put, Get, List, Delete. LocalStore and MemoryStore live here; S3 and
// MinIO backends live in subpackages so their SDKs stay optional for
// consumers that only need local storage.
package blobstore
