package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		name, mime string
		want       Format
		ok         bool
	}{
		{"notes.TXT", "", FormatPlainText, true},
		{"report.pdf", "", FormatPDF, true},
		{"book.azw3", "", FormatKindle, true},
		{"book.mobi", "", FormatKindle, true},
		{"scan.JPEG", "", FormatImage, true},
		{"legacy.doc", "", FormatLegacyOffice, true},
		{"upload", "application/pdf", FormatPDF, true},
		{"upload", "image/heic", FormatImage, true},
		{"upload", "text/plain; charset=utf-8", FormatPlainText, true},
		{"archive.xyz", "application/octet-stream", "", false},
		{"", "", "", false},
	}
	for _, c := range cases {
		f, ok := DetectFormat(c.name, c.mime)
		assert.Equal(t, c.ok, ok, c.name)
		assert.Equal(t, c.want, f, c.name)
	}
}

func TestRegistryUnsupported(t *testing.T) {
	r := NewRegistry()
	_, err := r.Extract(context.Background(), []byte("x"), "file.xyz", "")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	// 已知格式但未注册提取器
	_, err = r.Extract(context.Background(), []byte("x"), "file.pdf", "")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()
	r.Register(FormatPDF, ExtractorFunc(func(_ context.Context, data []byte, filename string) (string, error) {
		return "pdf:" + filename, nil
	}))
	text, err := r.Extract(context.Background(), nil, "a.pdf", "")
	require.NoError(t, err)
	assert.Equal(t, "pdf:a.pdf", text)
}

func TestPlainText(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("héllo\xffworld")...)
	text, err := PlainText{}.Extract(context.Background(), data, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hélloworld", text)
}

func TestPDFMalformed(t *testing.T) {
	_, err := PDF{}.Extract(context.Background(), []byte("definitely not a pdf"), "x.pdf")
	assert.ErrorIs(t, err, ErrMalformedDocument)
}

func buildDocx(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<w:document><w:body>` + body + `</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestWordDocx(t *testing.T) {
	data := buildDocx(t, `<w:p><w:r><w:t>Hello docx</w:t></w:r></w:p>`)
	text, err := Word{}.Extract(context.Background(), data, "report.docx")
	require.NoError(t, err)
	assert.Contains(t, text, "Hello docx")

	// 没有后缀时按内容识别
	text, err = Word{}.Extract(context.Background(), data, "upload")
	require.NoError(t, err)
	assert.Contains(t, text, "Hello docx")
}

func TestWordRTF(t *testing.T) {
	text, err := Word{}.Extract(context.Background(), []byte(`{\rtf1\ansi Hello rtf}`), "note.rtf")
	require.NoError(t, err)
	assert.Contains(t, text, "Hello rtf")
}

func TestWordMalformed(t *testing.T) {
	cases := []struct {
		filename string
		data     []byte
	}{
		{"a.docx", []byte("PK\x03\x04garbage")},
		{"a.docx", []byte("garbage")},
		{"a.odt", []byte("garbage")},
		{"a.odt", buildDocx(t, `<w:p><w:r><w:t>wrong container</w:t></w:r></w:p>`)},
		{"a.rtf", []byte("garbage")},
		{"a.rtf", []byte("PK\x03\x04garbage")},
		{"upload", []byte("plain text pretending to be a document")},
	}
	for _, c := range cases {
		text, err := Word{}.Extract(context.Background(), c.data, c.filename)
		assert.ErrorIs(t, err, ErrMalformedDocument, "%s %q", c.filename, c.data)
		assert.Empty(t, text)
	}
}

func TestSpreadsheet(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "name"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "qty"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "apples"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", 3))
	_, err := f.NewSheet("Empty")
	require.NoError(t, err)
	_, err = f.NewSheet("Notes")
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue("Notes", "A1", "second sheet"))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	text, err := Spreadsheet{}.Extract(context.Background(), buf.Bytes(), "book.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "--- Sheet: Sheet1 ---\nname\tqty\napples\t3\n--- Sheet: Notes ---\nsecond sheet\n", text)
}

func TestSpreadsheetMalformed(t *testing.T) {
	_, err := Spreadsheet{}.Extract(context.Background(), []byte("garbage"), "book.xlsx")
	assert.ErrorIs(t, err, ErrMalformedDocument)
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func slideXML(paragraphs ...string) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	sb.WriteString(`<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"><p:cSld><p:spTree><p:sp><p:txBody>`)
	for _, para := range paragraphs {
		sb.WriteString(`<a:p>`)
		for _, run := range strings.Split(para, "|") {
			sb.WriteString(`<a:r><a:t>` + run + `</a:t></a:r>`)
		}
		sb.WriteString(`</a:p>`)
	}
	sb.WriteString(`</p:txBody></p:sp></p:spTree></p:cSld></p:sld>`)
	return sb.String()
}

func TestPresentationSlideOrder(t *testing.T) {
	data := buildZip(t, map[string]string{
		"[Content_Types].xml":    `<Types/>`,
		"ppt/slides/slide10.xml": slideXML("Closing"),
		"ppt/slides/slide2.xml":  slideXML("Agenda", "Item |one"),
		"ppt/slides/slide1.xml":  slideXML("Title"),
		"ppt/slides/slide3.xml":  slideXML(),
	})
	text, err := Presentation{}.Extract(context.Background(), data, "deck.pptx")
	require.NoError(t, err)
	assert.Equal(t, "--- Slide 1 ---\nTitle\n--- Slide 2 ---\nAgenda\nItem one\n--- Slide 10 ---\nClosing\n", text)
}

func TestPresentationMalformed(t *testing.T) {
	_, err := Presentation{}.Extract(context.Background(), []byte("nope"), "deck.pptx")
	assert.ErrorIs(t, err, ErrMalformedDocument)

	noSlides := buildZip(t, map[string]string{"ppt/presentation.xml": "<x/>"})
	_, err = Presentation{}.Extract(context.Background(), noSlides, "deck.pptx")
	assert.ErrorIs(t, err, ErrMalformedDocument)
}

func TestEPUB(t *testing.T) {
	data := buildZip(t, map[string]string{
		"mimetype": "application/epub+zip",
		"META-INF/container.xml": `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles><rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/></rootfiles>
</container>`,
		"OEBPS/content.opf": `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <manifest>
    <item id="c2" href="text/ch%202.xhtml" media-type="application/xhtml+xml"/>
    <item id="c1" href="text/ch1.xhtml" media-type="application/xhtml+xml"/>
  </manifest>
  <spine><itemref idref="c1"/><itemref idref="c2"/></spine>
</package>`,
		"OEBPS/text/ch1.xhtml": `<html><head><title>ignored</title><style>p{}</style></head>
<body><h1>Chapter   One</h1><p>It was a <b>dark</b> night.</p><script>var x;</script></body></html>`,
		"OEBPS/text/ch 2.xhtml": `<html><body><p>Second &amp; last.</p></body></html>`,
	})
	text, err := EPUB{}.Extract(context.Background(), data, "book.epub")
	require.NoError(t, err)
	assert.Equal(t, "Chapter One\nIt was a dark night.\nSecond & last.\n", text)
}

func TestEPUBMissingContainer(t *testing.T) {
	data := buildZip(t, map[string]string{"mimetype": "application/epub+zip"})
	_, err := EPUB{}.Extract(context.Background(), data, "book.epub")
	assert.ErrorIs(t, err, ErrMalformedDocument)
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body), 0o755))
	return p
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary files must be removed")
}

func TestCalibreConvertsAndCleansUp(t *testing.T) {
	bin := writeScript(t, t.TempDir(), "ebook-convert", `cp "$1" "$2"`+"\n")
	tmp := t.TempDir()

	c := Calibre{BinaryPath: bin, TempDir: tmp}
	text, err := c.Extract(context.Background(), []byte("converted book text"), "book.azw3")
	require.NoError(t, err)
	assert.Equal(t, "converted book text", text)
	assertEmptyDir(t, tmp)
}

func TestCalibreFailureCleansUp(t *testing.T) {
	tmp := t.TempDir()
	failing := writeScript(t, t.TempDir(), "ebook-convert", "echo boom >&2\nexit 3\n")

	for _, bin := range []string{failing, filepath.Join(t.TempDir(), "missing-ebook-convert")} {
		_, err := Calibre{BinaryPath: bin, TempDir: tmp}.Extract(context.Background(), []byte("x"), "book.mobi")
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrMalformedDocument), "process failures are dependency errors")
		assertEmptyDir(t, tmp)
	}
}

func TestOCRPicksBestLanguage(t *testing.T) {
	// 参数顺序: input stdout -l <lang>
	bin := writeScript(t, t.TempDir(), "tesseract", `if [ "$4" = "spa" ]; then echo "hola mundo"; else echo "h~ /"; fi`+"\n")
	tmp := t.TempDir()

	o := OCR{BinaryPath: bin, Languages: []string{"eng", "spa"}, TempDir: tmp}
	text, err := o.Extract(context.Background(), []byte("png-bytes"), "scan.png")
	require.NoError(t, err)
	assert.Equal(t, "hola mundo\n", text)
	assertEmptyDir(t, tmp)
}

func TestOCREmptyOutputIsNotAnError(t *testing.T) {
	bin := writeScript(t, t.TempDir(), "tesseract", "exit 0\n")
	text, err := OCR{BinaryPath: bin, Languages: []string{"eng"}, TempDir: t.TempDir()}.Extract(context.Background(), []byte("x"), "blank.png")
	require.NoError(t, err)
	assert.Equal(t, "", text)
}

func TestOCRMissingBinary(t *testing.T) {
	_, err := OCR{BinaryPath: filepath.Join(t.TempDir(), "nope"), Languages: []string{"eng", "spa"}}.Extract(context.Background(), []byte("x"), "a.png")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrMalformedDocument))
}

func TestBestResult(t *testing.T) {
	assert.Equal(t, "", bestResult([]string{"", "  ", "~~"}))
	assert.Equal(t, "abc", bestResult([]string{"ab", "abc", "xyz"}))
}
