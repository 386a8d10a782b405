// Package extract turns files into plain text for indexing.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	ferrors "github.com/larroy/fusearch/internal/errors"
)

// DefaultMaxSize caps how many bytes of a file are read (10MB).
const DefaultMaxSize = 10 * 1024 * 1024

// binarySniffLen is how many leading bytes are checked for NUL.
const binarySniffLen = 8000

// Extractor returns the text content of the file at path.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// Func adapts a function to the Extractor interface.
type Func func(ctx context.Context, path string) (string, error)

// Extract calls f.
func (f Func) Extract(ctx context.Context, path string) (string, error) {
	return f(ctx, path)
}

// PlainText reads files as text. Input that is not valid UTF-8 is decoded
// as Windows-1252. Files with NUL bytes near the start are rejected as
// binary.
type PlainText struct {
	// MaxSize truncates reads to this many bytes (0 = DefaultMaxSize).
	MaxSize int64
}

// NewPlainText returns a PlainText extractor reading at most maxSize bytes.
func NewPlainText(maxSize int64) *PlainText {
	return &PlainText{MaxSize: maxSize}
}

// Extract implements Extractor.
func (p *PlainText) Extract(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", ferrors.ExtractionFailed(path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", ferrors.ExtractionFailed(path, err)
	}
	defer func() { _ = f.Close() }()

	limit := p.MaxSize
	if limit <= 0 {
		limit = DefaultMaxSize
	}
	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return "", ferrors.ExtractionFailed(path, err)
	}

	if IsBinary(data) {
		return "", ferrors.ExtractionFailed(path, fmt.Errorf("binary content"))
	}
	return Decode(data)
}

// IsBinary reports whether data looks like binary content.
func IsBinary(data []byte) bool {
	if len(data) > binarySniffLen {
		data = data[:binarySniffLen]
	}
	return bytes.IndexByte(data, 0) >= 0
}

// Decode converts data to a string, falling back to Windows-1252 when the
// input is not valid UTF-8. A truncated trailing rune is dropped.
func Decode(data []byte) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}
	if trimmed := trimPartialRune(data); utf8.Valid(trimmed) {
		return string(trimmed), nil
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decode windows-1252: %w", err)
	}
	return string(decoded), nil
}

// trimPartialRune drops an incomplete UTF-8 sequence at the end of data,
// as left by a size-capped read.
func trimPartialRune(data []byte) []byte {
	for i := 1; i < utf8.UTFMax && i <= len(data); i++ {
		if utf8.RuneStart(data[len(data)-i]) {
			if !utf8.FullRune(data[len(data)-i:]) {
				return data[:len(data)-i]
			}
			break
		}
	}
	return data
}

// WithTimeout bounds every Extract call of next by d. A call that runs past
// d returns an ExtractionTimeout error; the underlying call is abandoned and
// its result discarded.
func WithTimeout(next Extractor, d time.Duration) Extractor {
	if d <= 0 {
		return next
	}
	return Func(func(ctx context.Context, path string) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		type result struct {
			text string
			err  error
		}
		done := make(chan result, 1)
		go func() {
			text, err := next.Extract(ctx, path)
			done <- result{text, err}
		}()

		select {
		case r := <-done:
			return r.text, r.err
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", ferrors.ExtractionTimeout(path, ctx.Err())
			}
			return "", ferrors.ExtractionFailed(path, ctx.Err())
		}
	})
}

// FilenameOf returns the base name of path without its extension.
func FilenameOf(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	if ext == base {
		return base
	}
	return strings.TrimSuffix(base, ext)
}

// Content is the indexed text of a document: its filename on the first
// line, so filenames are searchable, followed by the extracted text.
func Content(filename, text string) string {
	return filename + "\n" + text
}
