// Package scanner lists the files under an index root that are eligible
// for indexing.
package scanner

import (
	"path/filepath"
	"strings"
	"time"
)

// DefaultMaxFileSize is the default maximum file size (10MB).
const DefaultMaxFileSize = 10 * 1024 * 1024

// NoSizeLimit disables the size check of ScanOptions.MaxFileSize.
const NoSizeLimit = -1

// FileInfo describes a discovered file.
type FileInfo struct {
	Path    string    // Absolute path; the document url
	RelPath string    // Path relative to the scan root
	Size    int64     // File size in bytes
	ModTime time.Time // Last modification time
	Ext     string    // Lowercased extension, or the sniffed one
	Sniffed bool      // Admitted by content sniffing rather than extension
}

// Mtime returns the modification time in unix seconds.
func (f *FileInfo) Mtime() int64 {
	return f.ModTime.Unix()
}

// ScanOptions configures the scanner behavior.
type ScanOptions struct {
	// RootDir is the directory to scan.
	RootDir string

	// IncludeExtensions admits files by extension, e.g. ".txt". Matching is
	// case-insensitive and a missing leading dot is added. Empty admits
	// every file.
	IncludeExtensions []string

	// ExcludePatterns specifies extra directory or file patterns to skip.
	ExcludePatterns []string

	// SkipNames lists base names never emitted, such as the index database
	// and its sidecar files.
	SkipNames []string

	// MaxFileSize skips larger files (0 = DefaultMaxFileSize,
	// NoSizeLimit = admit any size).
	MaxFileSize int64

	// RespectGitignore skips what .gitignore files under RootDir ignore.
	RespectGitignore bool

	// FollowSymlinks emits symlinked files (default: false).
	FollowSymlinks bool

	// Buffer is the result channel capacity (0 = 64).
	Buffer int
}

// ScanResult is returned from the scanner channel.
type ScanResult struct {
	File  *FileInfo
	Error error
}

// NormalizeExtension lowercases ext and ensures a leading dot.
func NormalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" || strings.HasPrefix(ext, ".") {
		return ext
	}
	return "." + ext
}

// Extension returns the lowercased extension of path, including the dot.
func Extension(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

// sniffedExtensions maps media types reported by content sniffing to the
// extension they are admitted as.
var sniffedExtensions = map[string]string{
	"text/plain":             ".txt",
	"text/html":              ".html",
	"text/xml":               ".xml",
	"application/pdf":        ".pdf",
	"application/json":       ".json",
	"application/zip":        ".zip",
	"application/x-gzip":     ".gz",
	"application/postscript": ".ps",
	"image/png":              ".png",
	"image/jpeg":             ".jpg",
	"image/gif":              ".gif",
}
