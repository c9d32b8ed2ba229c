// Package cache defines the disk-backed store that maps hub requests onto
// StoragePath/<hub>/<path> files. Writes go through a temp file + rename, reads
// surface size/modtime so the proxy can decide freshness, and Stat/List expose
// presence without opening bodies: the cache-local probe endpoint and the
// listing pages are answered from these two calls alone.
package cache
