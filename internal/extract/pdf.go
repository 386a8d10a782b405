package extract

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	ferrors "github.com/larroy/fusearch/internal/errors"
)

// DefaultPDFCommand is the poppler tool used to read PDF text.
const DefaultPDFCommand = "pdftotext"

// PDF extracts the text layer of PDF files by running pdftotext.
type PDF struct {
	// Command is the pdftotext executable (default DefaultPDFCommand).
	Command string

	// MaxSize truncates the extracted text to this many bytes
	// (0 = DefaultMaxSize).
	MaxSize int64
}

// NewPDF returns a PDF extractor keeping at most maxSize bytes of text.
func NewPDF(maxSize int64) *PDF {
	return &PDF{MaxSize: maxSize}
}

// Extract implements Extractor. The process is killed when ctx is done.
func (p *PDF) Extract(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", ferrors.ExtractionFailed(path, err)
	}

	command := p.Command
	if command == "" {
		command = DefaultPDFCommand
	}
	bin, err := exec.LookPath(command)
	if err != nil {
		return "", ferrors.ExtractionFailed(path, err).
			WithSuggestion("Install poppler-utils to index PDF files")
	}

	limit := p.MaxSize
	if limit <= 0 {
		limit = DefaultMaxSize
	}
	stdout := &cappedBuffer{limit: limit}
	var stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, bin, "-q", "-enc", "UTF-8", path, "-")
	cmd.Stdout = stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		} else if msg := strings.TrimSpace(stderr.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return "", ferrors.ExtractionFailed(path, err)
	}

	text, err := Decode(stdout.Bytes())
	if err != nil {
		return "", ferrors.ExtractionFailed(path, err)
	}
	// Pages are separated by form feeds.
	return strings.ReplaceAll(text, "\f", "\n"), nil
}

// cappedBuffer keeps the first limit bytes written and discards the rest,
// so a large document does not fail the child on a closed pipe.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int64
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - int64(b.buf.Len()); room > 0 {
		if int64(len(p)) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) Bytes() []byte {
	return b.buf.Bytes()
}

// ByExtension dispatches to an extractor chosen by file extension, and to
// a fallback for every other file.
type ByExtension struct {
	byExt    map[string]Extractor
	fallback Extractor
}

// NewByExtension creates a dispatcher. Keys of byExt are matched case
// insensitively, with or without a leading dot.
func NewByExtension(fallback Extractor, byExt map[string]Extractor) *ByExtension {
	b := &ByExtension{byExt: make(map[string]Extractor, len(byExt)), fallback: fallback}
	for ext, e := range byExt {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		b.byExt[ext] = e
	}
	return b
}

// NewDefault returns the extractor used for indexing: pdftotext for .pdf
// files and PlainText for the rest, both capped at maxSize bytes.
func NewDefault(maxSize int64) *ByExtension {
	return NewByExtension(NewPlainText(maxSize), map[string]Extractor{
		".pdf": NewPDF(maxSize),
	})
}

// Extract implements Extractor.
func (b *ByExtension) Extract(ctx context.Context, path string) (string, error) {
	if e, ok := b.byExt[strings.ToLower(filepath.Ext(path))]; ok {
		return e.Extract(ctx, path)
	}
	return b.fallback.Extract(ctx, path)
}
