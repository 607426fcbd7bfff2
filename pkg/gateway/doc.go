// Package gateway is the HTTP client for the co-located content gateway.
// It supports HEAD probes, range reads and caller-capped body reads, with
// jittered exponential backoff on transport errors and 5xx responses.
package gateway
