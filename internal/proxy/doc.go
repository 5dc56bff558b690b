// Package proxy answers intercepted requests. GET requests are looked up in
// the generations of the families this process owns; anything else, and
// every miss, goes to the origin untouched. The intercept path never writes
// to the cache.
package proxy
