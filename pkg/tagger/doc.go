/*
Package tagger provides the optional enrichment backends used by the
content analyzer.

WorkerTagger supervises an external subprocess speaking a JSON-lines
protocol on stdin/stdout: one request object per line with a numeric id,
one response per line carrying the same id. Calls are bounded by a
per-call timeout; a timeout or broken pipe kills the worker, rejects all
pending calls and opens a 30 second restart backoff during which calls go
to the fallback.

FallbackTagger is the zero-dependency in-process default: frequency-based
keyword extraction for text, nothing for images.
*/
package tagger
