package detector

import (
	"bytes"

	"github.com/cuemby/pindex/pkg/types"
)

var pdfObjectTokens = [][]byte{
	[]byte("obj"),
	[]byte("endobj"),
	[]byte("xref"),
	[]byte("trailer"),
	[]byte("stream"),
	[]byte("endstream"),
}

var pdfDictTokens = [][]byte{
	[]byte("FlateDecode"),
	[]byte("XObject"),
	[]byte("ColorSpace"),
	[]byte("BitsPerComponent"),
	[]byte("MediaBox"),
	[]byte("CropBox"),
	[]byte("Resources"),
	[]byte("Font"),
}

// detectHeuristic is the fallback: text-likeness over the first 4 KiB plus a
// PDF-object-stream rescue for PDFs whose header never made it into the
// sample but whose internal dictionaries did.
func detectHeuristic(sample *types.Sample) (*candidate, *types.HeuristicSignal) {
	combined := sample.Combined()
	if len(combined) == 0 {
		return nil, nil
	}

	// PDF rescue first: object-stream tokens outrank text-likeness because
	// PDF internals often look printable.
	objScore := 0
	for _, tok := range pdfObjectTokens {
		if bytes.Contains(combined, tok) {
			objScore++
		}
	}
	dictScore := 0
	for _, tok := range pdfDictTokens {
		if bytes.Contains(combined, tok) {
			dictScore++
		}
	}
	hasStreamPair := bytes.Contains(combined, []byte("stream")) && bytes.Contains(combined, []byte("endstream"))

	if objScore >= 4 || (dictScore >= 3 && hasStreamPair) {
		sig := &types.HeuristicSignal{TextLike: false, PDFScore: objScore + dictScore}
		return &candidate{
			mime:       "application/pdf",
			ext:        "pdf",
			kind:       types.KindDoc,
			confidence: 0.75,
			source:     types.SourceHeuristic,
		}, sig
	}

	probe := combined
	if len(probe) > 4096 {
		probe = probe[:4096]
	}

	if bytes.IndexByte(probe, 0x00) >= 0 {
		return nil, &types.HeuristicSignal{TextLike: false}
	}

	printable := 0
	for _, b := range probe {
		if b == '\n' || b == '\r' || b == '\t' || (b >= 0x20 && b < 0x7f) || b >= 0x80 {
			printable++
		}
	}
	frac := float64(printable) / float64(len(probe))
	sig := &types.HeuristicSignal{TextLike: frac >= 0.8, PrintableFrac: frac}

	if !sig.TextLike {
		return nil, sig
	}

	return &candidate{
		mime:       "text/plain",
		ext:        "txt",
		kind:       types.KindText,
		confidence: 0.6,
		source:     types.SourceHeuristic,
	}, sig
}
