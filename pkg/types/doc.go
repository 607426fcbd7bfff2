// Package types defines the shared data model: catalogue rows, detection
// verdicts and signals, the tags artifact and the edge/path/token records.
// All timestamps are unix milliseconds.
package types
