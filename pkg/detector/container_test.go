package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/pindex/pkg/types"
)

func TestSniffContainerDocx(t *testing.T) {
	body := append([]byte("PK\x03\x04"), []byte("....[Content_Types].xml....word/document.xml....")...)
	m := sniffContainer(&types.Sample{Head: body})

	require.NotNil(t, m)
	assert.Equal(t, "zip", m.format)
	assert.Equal(t, "docx", m.subtype)
	assert.Equal(t, types.KindDoc, m.kind)
	assert.Equal(t, "docx", m.ext)
	assert.InDelta(t, 0.97, m.confidence, 0.001)
}

func TestSniffContainerEpubMarkerInTail(t *testing.T) {
	// The subtype marker may sit outside the head window.
	m := sniffContainer(&types.Sample{
		Head: []byte("PK\x03\x04...."),
		Tail: []byte("....mimetypeapplication/epub+zip...."),
	})

	require.NotNil(t, m)
	assert.Equal(t, "epub", m.subtype)
	assert.Equal(t, "application/epub+zip", m.mime)
}

func TestSniffContainerPlainZip(t *testing.T) {
	m := sniffContainer(&types.Sample{Head: []byte("PK\x03\x04 no known marker here")})

	require.NotNil(t, m)
	assert.Equal(t, "zip", m.format)
	assert.Empty(t, m.subtype)
	assert.Equal(t, types.KindArchive, m.kind)
	assert.InDelta(t, 0.85, m.confidence, 0.001)
}

func TestSniffContainerPDFOffsetHeader(t *testing.T) {
	body := append(make([]byte, 100), []byte("%PDF-1.7 rest of file")...)
	m := sniffContainer(&types.Sample{Head: body})

	require.NotNil(t, m)
	assert.Equal(t, "pdf", m.format)
	assert.Equal(t, "application/pdf", m.mime)
}

func TestSniffContainerHTMLCaseInsensitive(t *testing.T) {
	m := sniffContainer(&types.Sample{Head: []byte("\n\n<!DOCTYPE HTML><HTML><BODY>x</BODY>")})

	require.NotNil(t, m)
	assert.Equal(t, "html", m.format)
	assert.Equal(t, types.KindHTML, m.kind)
}

func TestSniffContainerCAR(t *testing.T) {
	head := append([]byte{0x38}, []byte("eroots...gversion.")...)
	head = append(head, make([]byte, 32)...)
	m := sniffContainer(&types.Sample{Head: head})

	require.NotNil(t, m)
	assert.Equal(t, "car", m.format)
	assert.Equal(t, types.KindIPLD, m.kind)
}

func TestSniffContainerNoMatch(t *testing.T) {
	assert.Nil(t, sniffContainer(&types.Sample{Head: []byte("nothing structured here at all")}))
	assert.Nil(t, sniffContainer(&types.Sample{}))
}
