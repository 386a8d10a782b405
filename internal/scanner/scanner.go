package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/larroy/fusearch/internal/gitignore"
)

// sniffLen is how many leading bytes content sniffing looks at.
const sniffLen = 512

// Directory names never descended into.
var defaultExcludeDirs = []string{
	".git",
	".hg",
	".svn",
	"node_modules",
	"__pycache__",
	".venv",
	".ssh",
	".gnupg",
	".aws",
	".Trash",
}

// File patterns that are never indexed, matched case-insensitively against
// the base name.
var sensitiveFilePatterns = []string{
	".env",
	".env.*",
	"*.pem",
	"*.key",
	"*.p12",
	"*.pfx",
	"*credentials*",
	"*secrets*",
	".netrc",
	".npmrc",
	".pypirc",
	"id_rsa",
	"id_dsa",
	"id_ecdsa",
	"id_ed25519",
}

// Lister streams candidate files for indexing.
type Lister interface {
	Scan(ctx context.Context, opts *ScanOptions) (<-chan ScanResult, error)
}

// Scanner discovers indexable files under a root directory.
type Scanner struct{}

// New creates a Scanner.
func New() *Scanner {
	return &Scanner{}
}

var _ Lister = (*Scanner)(nil)

// Scan walks opts.RootDir and streams admissible files. The channel is
// closed when the walk completes or ctx is canceled. Unreadable entries
// are skipped; only a failure to walk the root itself is sent as a result
// error.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions) (<-chan ScanResult, error) {
	if opts == nil {
		opts = &ScanOptions{}
	}

	rootDir := opts.RootDir
	if rootDir == "" {
		rootDir = "."
	}
	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to stat root directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", absRoot)
	}

	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	scoped := *opts
	scoped.RootDir = absRoot
	filter := NewFilter(&scoped)
	results := make(chan ScanResult, buffer)

	go func() {
		defer close(results)
		s.walk(ctx, absRoot, filter, results)
	}()

	return results, nil
}

func (s *Scanner) walk(ctx context.Context, absRoot string, filter *Filter, results chan<- ScanResult) {
	err := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == absRoot {
				return err
			}
			slog.Debug("scan_entry_skipped", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}

		relPath, err := filepath.Rel(absRoot, path)
		if err != nil {
			return nil
		}
		if relPath == "." {
			filter.LoadIgnoreFile(relPath)
			return nil
		}

		if d.IsDir() {
			if filter.ExcludeDir(relPath) {
				return filepath.SkipDir
			}
			filter.LoadIgnoreFile(relPath)
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 && !filter.followSymlinks {
			return nil
		}
		if !d.Type().IsRegular() && d.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		if filter.ExcludeFile(relPath) {
			return nil
		}

		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		if filter.maxSize > 0 && info.Size() > filter.maxSize {
			return nil
		}

		ext, sniffed, ok := filter.Admit(path)
		if !ok {
			return nil
		}

		file := &FileInfo{
			Path:    path,
			RelPath: relPath,
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Ext:     ext,
			Sniffed: sniffed,
		}
		select {
		case results <- ScanResult{File: file}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		select {
		case results <- ScanResult{Error: err}:
		case <-ctx.Done():
		}
	}
}

// Filter decides which directories and files a scan emits. It is shared
// with the file watcher so both agree on what is indexable.
type Filter struct {
	include        map[string]struct{}
	exclude        []string
	skip           map[string]struct{}
	maxSize        int64
	followSymlinks bool

	root   string
	ignore *gitignore.Matcher // nil unless RespectGitignore
}

// NewFilter builds a Filter from opts.
func NewFilter(opts *ScanOptions) *Filter {
	if opts == nil {
		opts = &ScanOptions{}
	}
	f := &Filter{
		include:        make(map[string]struct{}, len(opts.IncludeExtensions)),
		skip:           make(map[string]struct{}, len(opts.SkipNames)),
		maxSize:        opts.MaxFileSize,
		followSymlinks: opts.FollowSymlinks,
	}
	switch {
	case f.maxSize == 0:
		f.maxSize = DefaultMaxFileSize
	case f.maxSize < 0:
		f.maxSize = 0
	}
	for _, ext := range opts.IncludeExtensions {
		if ext = NormalizeExtension(ext); ext != "" {
			f.include[ext] = struct{}{}
		}
	}
	for _, name := range opts.SkipNames {
		f.skip[name] = struct{}{}
	}
	for _, p := range opts.ExcludePatterns {
		f.exclude = append(f.exclude, filepath.ToSlash(strings.TrimSpace(p)))
	}
	if opts.RespectGitignore && opts.RootDir != "" {
		if abs, err := filepath.Abs(opts.RootDir); err == nil {
			f.root = abs
			f.ignore = gitignore.New()
		}
	}
	return f
}

// LoadIgnoreFile reads the .gitignore in the directory at relDir, if any.
// Directories must be loaded parent first, as a walk visits them.
func (f *Filter) LoadIgnoreFile(relDir string) {
	if f.ignore == nil {
		return
	}
	base := filepath.ToSlash(relDir)
	if base == "." {
		base = ""
	}
	path := filepath.Join(f.root, relDir, gitignore.FileName)
	if err := f.ignore.AddFile(path, base); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Debug("gitignore_unreadable", slog.String("path", path), slog.String("error", err.Error()))
	}
}

// ExcludeDir reports whether the directory at relPath is skipped.
func (f *Filter) ExcludeDir(relPath string) bool {
	relPath = filepath.ToSlash(relPath)
	base := pathBase(relPath)
	for _, name := range defaultExcludeDirs {
		if base == name {
			return true
		}
	}
	for _, pattern := range f.exclude {
		if matchDirPattern(relPath, pattern) {
			return true
		}
	}
	return f.ignore != nil && f.ignore.Match(relPath, true)
}

// ExcludeFile reports whether the file at relPath is skipped by name,
// before any content is read. Files inside excluded directories are
// excluded too.
func (f *Filter) ExcludeFile(relPath string) bool {
	relPath = filepath.ToSlash(relPath)
	base := pathBase(relPath)
	if _, ok := f.skip[base]; ok {
		return true
	}
	if dir := pathDir(relPath); dir != "" {
		parts := strings.Split(dir, "/")
		for i := range parts {
			if f.ExcludeDir(strings.Join(parts[:i+1], "/")) {
				return true
			}
		}
	}
	lower := strings.ToLower(base)
	for _, pattern := range sensitiveFilePatterns {
		if ok, _ := filepath.Match(pattern, lower); ok {
			return true
		}
	}
	for _, pattern := range f.exclude {
		if matchFilePattern(base, relPath, pattern) {
			return true
		}
	}
	return f.ignore != nil && f.ignore.Match(relPath, false)
}

// Admit reports whether the file at absPath is indexable by extension. An
// extension-less file is admitted when its sniffed content type maps to an
// included extension. The returned ext is the one it was admitted as.
func (f *Filter) Admit(absPath string) (ext string, sniffed bool, ok bool) {
	ext = Extension(absPath)
	if len(f.include) == 0 {
		return ext, false, true
	}
	if _, ok := f.include[ext]; ok {
		return ext, false, true
	}
	if ext != "" {
		return ext, false, false
	}

	for _, candidate := range sniffExtensions(absPath) {
		if _, ok := f.include[candidate]; ok {
			return candidate, true, true
		}
	}
	return "", false, false
}

// sniffExtensions returns the extensions matching the detected content
// type of the file at path.
func sniffExtensions(path string) []string {
	fh, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer func() { _ = fh.Close() }()

	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(fh, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil
	}
	if n == 0 {
		return nil
	}

	mediaType, _, err := mime.ParseMediaType(http.DetectContentType(buf[:n]))
	if err != nil {
		return nil
	}

	var exts []string
	if ext, ok := sniffedExtensions[mediaType]; ok {
		exts = append(exts, ext)
	}
	if more, err := mime.ExtensionsByType(mediaType); err == nil {
		exts = append(exts, more...)
	}
	return exts
}

// matchDirPattern matches "name", "dir/sub" (prefix), "dir/**" and
// "**/name/**" patterns against a slash-separated relative path.
func matchDirPattern(relPath, pattern string) bool {
	if strings.HasPrefix(pattern, "**/") {
		name := strings.TrimSuffix(strings.TrimPrefix(pattern, "**/"), "/**")
		for _, part := range strings.Split(relPath, "/") {
			if part == name {
				return true
			}
		}
		return false
	}
	prefix := strings.TrimSuffix(pattern, "/**")
	if !strings.Contains(prefix, "/") && !strings.ContainsAny(prefix, "*?[") {
		if pathBase(relPath) == prefix {
			return true
		}
	}
	return relPath == prefix || strings.HasPrefix(relPath, prefix+"/")
}

// matchFilePattern matches a glob against the base name, or a
// slash-containing glob against the relative path.
func matchFilePattern(base, relPath, pattern string) bool {
	if strings.HasSuffix(pattern, "/**") {
		return false
	}
	pattern = strings.TrimPrefix(pattern, "**/")
	if strings.Contains(pattern, "/") {
		ok, _ := filepath.Match(pattern, relPath)
		return ok
	}
	ok, _ := filepath.Match(pattern, base)
	return ok
}

func pathBase(slashPath string) string {
	if i := strings.LastIndexByte(slashPath, '/'); i >= 0 {
		return slashPath[i+1:]
	}
	return slashPath
}

func pathDir(slashPath string) string {
	if i := strings.LastIndexByte(slashPath, '/'); i >= 0 {
		return slashPath[:i]
	}
	return ""
}

// StatMtime returns the modification time of path in unix seconds.
func StatMtime(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.ModTime().Unix(), nil
}
