// Package indexer classifies repository tree entries and estimates how many
// model tokens their content would occupy.
package indexer

import (
	"fmt"
	"path"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/arturoeanton/codelens-ingest/internal/domain"
	"github.com/arturoeanton/codelens-ingest/internal/port"
)

// Binary and non-useful content.
var skipExts = map[string]bool{
	// Images
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true, ".ico": true, ".svg": true, ".webp": true, ".tiff": true,
	// Video/Audio
	".mp4": true, ".avi": true, ".mov": true, ".mp3": true, ".wav": true, ".flac": true, ".ogg": true, ".webm": true,
	// Fonts
	".ttf": true, ".otf": true, ".woff": true, ".woff2": true, ".eot": true,
	// Archives
	".zip": true, ".tar": true, ".gz": true, ".bz2": true, ".7z": true, ".rar": true, ".jar": true, ".war": true,
	// Compiled/Binary
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".o": true, ".a": true, ".class": true, ".pyc": true, ".wasm": true,
	".lock": true,
	// Data files
	".sqlite": true, ".db": true, ".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true, ".ppt": true,
	".map": true,
}

// Generated lock files, matched by base name.
var skipFiles = map[string]bool{
	"package-lock.json": true, "yarn.lock": true, "pnpm-lock.yaml": true,
	"go.sum": true, "Cargo.lock": true, "Gemfile.lock": true,
	"composer.lock": true, "poetry.lock": true, "Pipfile.lock": true,
}

// Directories whose contents are never indexed, matched on any path segment.
var skipDirs = map[string]bool{
	"node_modules": true, "vendor": true, "__pycache__": true,
	"dist": true, "build": true, "target": true,
}

var languages = map[string]string{
	".go":    "Go",
	".ts":    "TypeScript",
	".tsx":   "TypeScript",
	".js":    "JavaScript",
	".jsx":   "JavaScript",
	".mjs":   "JavaScript",
	".py":    "Python",
	".rb":    "Ruby",
	".java":  "Java",
	".kt":    "Kotlin",
	".rs":    "Rust",
	".c":     "C",
	".h":     "C",
	".cpp":   "C++",
	".cc":    "C++",
	".hpp":   "C++",
	".cs":    "C#",
	".php":   "PHP",
	".swift": "Swift",
	".scala": "Scala",
	".sh":    "Shell",
	".sql":   "SQL",
	".html":  "HTML",
	".css":   "CSS",
	".scss":  "SCSS",
	".vue":   "Vue",
	".md":    "Markdown",
	".json":  "JSON",
	".yaml":  "YAML",
	".yml":   "YAML",
	".toml":  "TOML",
	".proto": "Protocol Buffers",
}

// Indexer implements port.FileIndexer.
type Indexer struct {
	tokenLimit    int
	maxFileBytes  int64
	bytesPerToken int
}

var _ port.FileIndexer = (*Indexer)(nil)

// New returns an indexer. Non-positive arguments fall back to 600000 tokens,
// 1 MiB per file and 4 bytes per token.
func New(tokenLimit int, maxFileBytes int64, bytesPerToken int) *Indexer {
	if tokenLimit <= 0 {
		tokenLimit = 600000
	}
	if maxFileBytes <= 0 {
		maxFileBytes = 1 << 20
	}
	if bytesPerToken <= 0 {
		bytesPerToken = 4
	}
	return &Indexer{tokenLimit: tokenLimit, maxFileBytes: maxFileBytes, bytesPerToken: bytesPerToken}
}

// Index keeps the blob entries worth sending to analysis. Tree and submodule
// entries are neither counted nor excluded.
func (ix *Indexer) Index(entries []domain.TreeEntry) domain.IndexResult {
	res := domain.IndexResult{Files: []domain.IndexedFile{}}
	var totalBytes int64

	for _, e := range entries {
		if e.Type != "blob" {
			continue
		}
		res.Stats.TotalFiles++

		switch {
		case excludedByPath(e.Path):
			res.Stats.ExcludedByPath++
			continue
		case skipExts[strings.ToLower(path.Ext(e.Path))]:
			res.Stats.ExcludedByExtension++
			continue
		case e.Size > ix.maxFileBytes:
			res.Stats.ExcludedBySize++
			continue
		}

		totalBytes += e.Size
		res.Files = append(res.Files, domain.IndexedFile{
			FilePath:        e.Path,
			Language:        DetectLanguage(e.Path),
			SizeBytes:       e.Size,
			EstimatedTokens: ix.estimate(e.Size),
		})
	}

	res.Stats.IncludedFiles = len(res.Files)
	estimated := ix.estimate(totalBytes)
	res.TokenCount = domain.TokenCount{
		TotalBytes:      totalBytes,
		EstimatedTokens: estimated,
		ExceedsLimit:    estimated > ix.tokenLimit,
		Limit:           ix.tokenLimit,
	}
	return res
}

// OversizedMessage formats the user-facing error for a repository over the limit.
func (ix *Indexer) OversizedMessage(tc domain.TokenCount) string {
	return fmt.Sprintf(
		"Repository too large to analyze: estimated %s tokens exceeds the limit of %s tokens (%s of source). "+
			"Exclude generated or vendored files and try again.",
		humanize.Comma(int64(tc.EstimatedTokens)), humanize.Comma(int64(tc.Limit)), humanize.IBytes(uint64(tc.TotalBytes)),
	)
}

// estimate rounds up so any non-empty file counts for at least one token.
func (ix *Indexer) estimate(n int64) int {
	per := int64(ix.bytesPerToken)
	return int((n + per - 1) / per)
}

func excludedByPath(p string) bool {
	if skipFiles[path.Base(p)] {
		return true
	}
	segments := strings.Split(p, "/")
	for _, dir := range segments[:len(segments)-1] {
		if skipDirs[dir] || strings.HasPrefix(dir, ".") {
			return true
		}
	}
	return false
}

// DetectLanguage maps a file path to a language name, or nil when unknown.
func DetectLanguage(p string) *string {
	base := path.Base(p)
	switch base {
	case "Dockerfile":
		lang := "Dockerfile"
		return &lang
	case "Makefile":
		lang := "Makefile"
		return &lang
	}
	if lang, ok := languages[strings.ToLower(path.Ext(base))]; ok {
		return &lang
	}
	return nil
}
