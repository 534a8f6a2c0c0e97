// Package persistence provides binary serialization for trained artifacts.
//
// Artifacts (partitioner trees, projection bases, raw datasets) share one
// container format: a fixed header carrying magic, version and compression
// flag, followed by artifact-specific sections of raw little-endian slices.
// Files are written through a temp-file-and-rename sequence so a crash
// never leaves a partially written artifact in place.
package persistence
