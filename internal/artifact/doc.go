// Package artifact keeps one large model file on local disk and fetches it over
// authenticated HTTP, resuming from whatever prefix is already present.
//
// The Store answers questions about the file (absent, partial, complete) and
// checks its integrity. The Downloader moves bytes from the origin into the
// Store and classifies failures so callers can decide between retrying,
// asking the user for a new token, or giving up.
package artifact
