package ops

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// FilterOptions selects the part of the source tree that gets synchronized.
//
// IncludeTopDirs and ExcludeTopDirs only apply to the directories directly below the
// source root. SkipDirs are directory names skipped at any level and SkipDirItems are
// marker files or directories that cause the directory holding them to be skipped.
// Extensions are matched case-insensitively and ExcludePatterns are doublestar globs
// matched against the relative path of files and directories.
type FilterOptions struct {
	IncludeTopDirs    []string
	ExcludeTopDirs    []string
	SkipDirs          []string
	SkipDirItems      []string
	IncludeExtensions []string
	ExcludeExtensions []string
	ExcludePatterns   []string
}

// Filter is the compiled form of FilterOptions. A nil Filter includes everything.
type Filter struct {
	includeTopDirs    map[string]bool
	excludeTopDirs    map[string]bool
	skipDirs          map[string]bool
	skipDirItems      []string
	includeExtensions []string
	excludeExtensions []string
	excludePatterns   []string
}

func NewFilter(opts FilterOptions) (*Filter, error) {
	for _, pattern := range opts.ExcludePatterns {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid exclude pattern: %q", pattern)
		}
	}

	return &Filter{
		includeTopDirs:    toSet(opts.IncludeTopDirs),
		excludeTopDirs:    toSet(opts.ExcludeTopDirs),
		skipDirs:          toSet(opts.SkipDirs),
		skipDirItems:      opts.SkipDirItems,
		includeExtensions: normalizeExtensions(opts.IncludeExtensions),
		excludeExtensions: normalizeExtensions(opts.ExcludeExtensions),
		excludePatterns:   opts.ExcludePatterns,
	}, nil
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}

// lower case and make sure they start with a '.'
func normalizeExtensions(extensions []string) []string {
	var ext []string
	for _, extension := range extensions {
		if len(extension) == 0 {
			continue
		}
		if !strings.HasPrefix(extension, ".") {
			extension = "." + extension
		}
		ext = append(ext, strings.ToLower(extension))
	}
	return ext
}

// SkipDir reports whether the directory at rel (relative to the source root, '/'
// separated) should not be scanned. level is 0 for directories directly below the root.
func (f *Filter) SkipDir(dir, rel string, level int) bool {
	if f == nil {
		return false
	}

	name := filepath.Base(dir)

	// top level include/exclude lists
	if level == 0 {
		if len(f.includeTopDirs) > 0 && !f.includeTopDirs[name] {
			return true
		}
		if f.excludeTopDirs[name] {
			return true
		}
	}

	if f.skipDirs[name] {
		return true
	}

	if f.excluded(rel) {
		return true
	}

	// any of the marker items present skips the whole directory
	for _, item := range f.skipDirItems {
		if _, err := os.Lstat(filepath.Join(dir, item)); err == nil {
			return true
		}
	}

	return false
}

// IncludeFile reports whether the file at rel should be scanned.
func (f *Filter) IncludeFile(rel string) bool {
	if f == nil {
		return true
	}

	lower := strings.ToLower(rel)

	// include: a match is required; exclude: a match drops the file
	if len(f.includeExtensions) > 0 && !hasExtension(lower, f.includeExtensions) {
		return false
	}
	if len(f.excludeExtensions) > 0 && hasExtension(lower, f.excludeExtensions) {
		return false
	}

	return !f.excluded(rel)
}

func hasExtension(path string, extensions []string) bool {
	for _, ext := range extensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

func (f *Filter) excluded(rel string) bool {
	for _, pattern := range f.excludePatterns {
		// patterns are validated in NewFilter
		if match, _ := doublestar.Match(pattern, rel); match {
			return true
		}
	}
	return false
}
