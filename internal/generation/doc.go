// Package generation models versioned cache scopes (family + version) and the
// reconciler that prunes obsolete generations of the families this process owns.
// Generation names are rendered as "<family>-v<version>" for storage, but every
// comparison happens on the structured pair so families containing "-v" stay
// unambiguous.
package generation
