// Package cache defines the generation-scoped storage that backs precaching and
// fetch interception. A Storage holds named generations; each generation is a
// Cache mapping canonical resource URLs to recorded responses. Backends exist
// for the local filesystem (temp file + rename writes), an embedded leveldb
// database and a shared valkey server. Entries are never mutated in place; a
// generation disappears as a whole when the reconciler deletes it.
package cache
