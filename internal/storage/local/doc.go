// Package local implements the file-backed stores: an NDJSON record file,
// a newline-delimited checkpoint file, and a filesystem blob store used for
// exports.
package local
