// Package server hosts the Fiber HTTP service and its middleware chain.
// It assigns request IDs, keeps /-/ diagnostics paths out of interception and
// hands every other request to the injected ProxyHandler. The shared outbound
// http.Client used for precache batches and cache misses is built here as well.
package server
