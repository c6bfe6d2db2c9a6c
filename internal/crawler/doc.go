// Package crawler implements the catalog crawling engine: URL normalization,
// the retrying fetch client, the layer extractor, the catalog walker, and the
// checkpoint-gated runner that persists records root by root.
package crawler
