// Package precache populates cache generations ahead of any request.
//
// A batch resolves every resource identifier against the base location,
// optionally appends a shared cache-bust stamp, issues all fetches
// concurrently and stores each successful response under its canonical,
// non-busted URL. Failures stay local to the resource; only the essential
// entry point reports them to the caller.
package precache
