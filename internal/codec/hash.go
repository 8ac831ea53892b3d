// Package codec provides thin, safe wrappers around the hash and
// compression libraries the rest of termweb depends on: content hashing,
// raw DEFLATE (for pixel frames), and zstd (for the WebSocket compression
// envelope and transfer chunks).
package codec

import "github.com/cespare/xxhash/v2"

// Hash returns the content hash used for file-transfer FileEntry records.
// Stable across chunking strategy: hashing a file's bytes in one mmapped
// pass or in many small reads yields the same value (spec.md §8 property 10).
func Hash(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// NewHasher returns a streaming hasher for incremental content hashing of
// a single file, useful when the caller wants to hash while reading chunks
// instead of hashing the whole mmapped region at once.
func NewHasher() *xxhash.Digest {
	return xxhash.New()
}
