// Package util contains internal helpers (hashing, sharding, padding) shared
// by the store, admission, and WAL packages.
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

import "github.com/cespare/xxhash/v2"

// KeyHash hashes an opaque key using xxhash, a fast non-cryptographic hash
// with good avalanche behavior. It is the single routing hash used to map
// keys to shards and to seed the admission filter's count-min sketch.
func KeyHash(key []byte) uint64 {
	return xxhash.Sum64(key)
}
