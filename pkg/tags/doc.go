// Package tags synthesizes the stable, low-cardinality tag vocabulary
// (kind:, mime:, size_bucket:, ...) from a detection verdict. Synthesis is
// pure and order-stable: equal verdicts always yield the same tag list.
package tags
