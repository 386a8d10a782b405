package extract

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "github.com/larroy/fusearch/internal/errors"
)

// buildPDF returns a one-page PDF showing text in Helvetica.
func buildPDF(text string) []byte {
	stream := fmt.Sprintf("BT /F1 18 Tf 20 100 Td (%s) Tj ET", text)
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 400 144] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}

	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return b.Bytes()
}

func requirePDFToText(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath(DefaultPDFCommand); err != nil {
		t.Skip("pdftotext not installed")
	}
}

func TestPDF_Extract_ReadsTextLayer(t *testing.T) {
	requirePDFToText(t)

	// Given: a PDF with a text layer
	path := writeFile(t, "paper.pdf", buildPDF("Hello quokka"))

	// When: extracting
	text, err := NewPDF(0).Extract(context.Background(), path)

	// Then: the page text is returned
	require.NoError(t, err)
	assert.Contains(t, text, "Hello quokka")
	assert.NotContains(t, text, "\f")
}

func TestPDF_Extract_TruncatesToMaxSize(t *testing.T) {
	requirePDFToText(t)

	path := writeFile(t, "paper.pdf", buildPDF("Hello quokka"))

	text, err := NewPDF(5).Extract(context.Background(), path)

	require.NoError(t, err)
	assert.Equal(t, "Hello", text)
}

func TestPDF_Extract_InvalidFile_Fails(t *testing.T) {
	requirePDFToText(t)

	path := writeFile(t, "broken.pdf", []byte("not a pdf at all"))

	_, err := NewPDF(0).Extract(context.Background(), path)

	require.Error(t, err)
	assert.Equal(t, ferrors.ErrCodeExtractionFailed, ferrors.GetCode(err))
}

func TestPDF_Extract_MissingCommand_Fails(t *testing.T) {
	// Given: an extractor pointing at a command that does not exist
	path := writeFile(t, "paper.pdf", buildPDF("Hello"))
	p := &PDF{Command: "fusearch-no-such-pdftotext"}

	// When: extracting
	_, err := p.Extract(context.Background(), path)

	// Then: it fails as an extraction failure with an install hint
	require.Error(t, err)
	assert.Equal(t, ferrors.ErrCodeExtractionFailed, ferrors.GetCode(err))
	var fe *ferrors.FusearchError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Suggestion, "poppler")
}

func TestCappedBuffer_Write_DiscardsPastLimit(t *testing.T) {
	b := &cappedBuffer{limit: 4}

	n, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = b.Write([]byte("defgh"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	assert.Equal(t, "abcd", string(b.Bytes()))
}

func TestByExtension_Extract_DispatchesOnExtension(t *testing.T) {
	// Given: a dispatcher with a .pdf extractor and a fallback
	tag := func(name string) Extractor {
		return Func(func(_ context.Context, path string) (string, error) {
			return name + ":" + path, nil
		})
	}
	b := NewByExtension(tag("plain"), map[string]Extractor{"PDF": tag("pdf")})

	tests := []struct {
		path string
		want string
	}{
		{"/docs/a.pdf", "pdf"},
		{"/docs/B.PDF", "pdf"},
		{"/docs/notes.txt", "plain"},
		{"/docs/README", "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			// When: extracting
			text, err := b.Extract(context.Background(), tt.path)

			// Then: the extractor registered for the extension runs
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(text, tt.want+":"), text)
		})
	}
}

func TestNewDefault_PDFIsNotRejectedAsBinary(t *testing.T) {
	requirePDFToText(t)

	// Given: a PDF with binary bytes that PlainText would reject
	data := append(buildPDF("Hello quokka"), 0)
	path := writeFile(t, "paper.pdf", data)
	_, plainErr := NewPlainText(0).Extract(context.Background(), path)
	require.Error(t, plainErr)

	// When: extracting with the default dispatcher
	text, err := NewDefault(0).Extract(context.Background(), path)

	// Then: the text layer is read
	require.NoError(t, err)
	assert.Contains(t, text, "quokka")
}
