// Package worker drives the install and activate lifecycle: essential batches
// must all land before the worker is installed, preload batches run in the
// background, and activation prunes obsolete generations before the worker
// starts controlling clients.
package worker
