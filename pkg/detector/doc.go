/*
Package detector classifies CIDs by content with strictly bounded I/O.

Detection never reads more than MaxTotalBytes of an object, no matter its
size. Several independent detectors each propose a (mime, kind, confidence)
candidate; the highest confidence wins, and disagreement between candidates
is recorded on the verdict.

# Pipeline

	┌────────────────── DETECTION PIPELINE ──────────────────┐
	│                                                          │
	│  1. HEAD probe                                           │
	│     video/* or audio/* content type → short-circuit      │
	│     (kind unknown, source head, media excluded)          │
	│                                                          │
	│  2. Sampling                                             │
	│     head window, then tail and mid when the object is    │
	│     large enough; cumulative reads capped at             │
	│     MaxTotalBytes. A gateway that ignores Range gets     │
	│     one capped full read instead.                        │
	│                                                          │
	│  3. Magic bytes (head window)                            │
	│     confidence >= 0.95 and not a bare zip → done         │
	│                                                          │
	│  4. Container sniff (all windows)                        │
	│     PDF, zip family (docx/xlsx/pptx/epub/apk), HTML      │
	│     markers, CAR heuristic; >= 0.85 → done               │
	│                                                          │
	│  5. External classifier (optional, remote)               │
	│                                                          │
	│  6. Textual heuristic                                    │
	│     printable-fraction test plus a PDF object-stream     │
	│     rescue for files with a damaged header               │
	│                                                          │
	│  →  arbitration: max confidence, disagreement flag       │
	└──────────────────────────────────────────────────────────┘

With no candidate at all the verdict falls back to
application/octet-stream, kind unknown, confidence 0.1.

Every verdict carries the full per-detector signal set and the detector
version. Bumping Version invalidates all stored verdicts: the type crawler
re-detects every present row whose stored version differs.
*/
package detector
