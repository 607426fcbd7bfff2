package detector

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/cuemby/pindex/pkg/types"
)

const (
	genericZipMime    = "application/zip"
	octetStreamMime   = "application/octet-stream"
	magicZipConf      = 0.9
	magicOctetConf    = 0.6
	magicSpecificConf = 0.98
)

// detectMagic classifies the head sample by magic bytes. The confidence map
// reflects how discriminating the match is: a specific signature is near
// certain, the generic ZIP signature covers a whole family of formats, and
// octet-stream means the library gave up.
func detectMagic(head []byte) *candidate {
	if len(head) == 0 {
		return nil
	}

	mt := mimetype.Detect(head)
	mime := mt.String()
	// Strip parameters like "; charset=utf-8".
	if idx := strings.IndexByte(mime, ';'); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}

	conf := magicSpecificConf
	switch mime {
	case genericZipMime:
		conf = magicZipConf
	case octetStreamMime:
		conf = magicOctetConf
	}

	ext := strings.TrimPrefix(mt.Extension(), ".")
	kind := KindForMime(mime)
	if kind == types.KindUnknown && mime == genericZipMime {
		kind = types.KindArchive
	}

	return &candidate{
		mime:       mime,
		ext:        ext,
		kind:       kind,
		confidence: conf,
		source:     types.SourceMagic,
	}
}
