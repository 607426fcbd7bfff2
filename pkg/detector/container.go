package detector

import (
	"bytes"

	"github.com/cuemby/pindex/pkg/types"
)

// containerMatch is a container-sniff result: the candidate plus which
// container format and subtype were recognized.
type containerMatch struct {
	candidate
	format  string
	subtype string
}

var zipMagic = []byte("PK\x03\x04")

// zipSignatures maps textual markers inside a ZIP sample to the specific
// document family. Checked in order; first hit wins.
var zipSignatures = []struct {
	marker  []byte
	subtype string
	mime    string
	ext     string
	kind    types.Kind
}{
	{[]byte("word/document.xml"), "docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", "docx", types.KindDoc},
	{[]byte("xl/workbook.xml"), "xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "xlsx", types.KindDoc},
	{[]byte("ppt/presentation.xml"), "pptx", "application/vnd.openxmlformats-officedocument.presentationml.presentation", "pptx", types.KindDoc},
	{[]byte("mimetypeapplication/epub+zip"), "epub", "application/epub+zip", "epub", types.KindDoc},
	{[]byte("AndroidManifest.xml"), "apk", "application/vnd.android.package-archive", "apk", types.KindPackage},
}

var htmlMarkers = [][]byte{
	[]byte("<html"),
	[]byte("<!doctype html"),
	[]byte("<head"),
	[]byte("<body"),
}

// sniffContainer inspects the combined sample for container formats, in
// order: PDF, ZIP family, HTML, CAR.
func sniffContainer(sample *types.Sample) *containerMatch {
	head := sample.Head
	combined := sample.Combined()
	if len(combined) == 0 {
		return nil
	}

	// PDF: the %PDF- token sits at (or very near) the start.
	if idx := bytes.Index(head, []byte("%PDF-")); idx >= 0 && idx < 1024 {
		return &containerMatch{
			format: "pdf",
			candidate: candidate{
				mime:       "application/pdf",
				ext:        "pdf",
				kind:       types.KindDoc,
				confidence: 0.97,
				source:     types.SourceContainer,
			},
		}
	}

	// ZIP family: magic plus textual signatures picking the subtype.
	if bytes.HasPrefix(head, zipMagic) {
		for _, sig := range zipSignatures {
			if bytes.Contains(combined, sig.marker) {
				return &containerMatch{
					format:  "zip",
					subtype: sig.subtype,
					candidate: candidate{
						mime:       sig.mime,
						ext:        sig.ext,
						kind:       sig.kind,
						confidence: 0.97,
						source:     types.SourceContainer,
					},
				}
			}
		}
		return &containerMatch{
			format: "zip",
			candidate: candidate{
				mime:       genericZipMime,
				ext:        "zip",
				kind:       types.KindArchive,
				confidence: 0.85,
				source:     types.SourceContainer,
			},
		}
	}

	// HTML: tag markers in the first 4 KiB, case-insensitive.
	probe := bytes.ToLower(head)
	if len(probe) > 4096 {
		probe = probe[:4096]
	}
	for _, marker := range htmlMarkers {
		if bytes.Contains(probe, marker) {
			return &containerMatch{
				format: "html",
				candidate: candidate{
					mime:       "text/html",
					ext:        "html",
					kind:       types.KindHTML,
					confidence: 0.9,
					source:     types.SourceContainer,
				},
			}
		}
	}

	// CAR heuristic: a CBOR map header carrying "roots" and "version" keys
	// within the first bytes of the stream.
	if looksLikeCAR(head) {
		return &containerMatch{
			format: "car",
			candidate: candidate{
				mime:       "application/vnd.ipld.car",
				ext:        "car",
				kind:       types.KindIPLD,
				confidence: 0.85,
				source:     types.SourceContainer,
			},
		}
	}

	return nil
}

func looksLikeCAR(head []byte) bool {
	if len(head) < 16 {
		return false
	}
	window := head
	if len(window) > 64 {
		window = window[:64]
	}
	return bytes.Contains(window, []byte("roots")) && bytes.Contains(window, []byte("version"))
}
