// Package fingerprint computes deterministic digests of a workspace's
// indexable file set, used to detect drift between bootstrap runs.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// defaultSkipDirs are directories that never count toward the indexable
// file set. They hold generated code, dependencies, or VCS metadata.
var defaultSkipDirs = map[string]bool{
	".git":         true,
	".svn":         true,
	".hg":          true,
	".indexd":      true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"venv":         true,
	"__pycache__":  true,
	".idea":        true,
	".vscode":      true,
	".cache":       true,
	"dist":         true,
	"build":        true,
	".next":        true,
	"target":       true,
}

// Fingerprint summarizes the indexable file set at a point in time.
// Computed fresh at the start of every run; never mutated.
type Fingerprint struct {
	// FileListHash is a sha256 over the sorted relative paths.
	FileListHash string `json:"file_list_hash"`

	// FileCount is the number of files that entered the hash.
	FileCount int `json:"file_count"`

	// LatestMtime is the maximum modification time observed, in Unix
	// nanoseconds. Zero when no file could be statted.
	LatestMtime int64 `json:"latest_mtime"`

	// VCSHead is the resolved commit identifier, empty when the
	// workspace is not under version control or resolution failed.
	VCSHead string `json:"vcs_head,omitempty"`
}

// IsZero reports whether the fingerprint was never computed.
func (f Fingerprint) IsZero() bool {
	return f.FileListHash == "" && f.FileCount == 0 && f.LatestMtime == 0 && f.VCSHead == ""
}

// Options controls which files enter the fingerprint.
type Options struct {
	// IncludeGlobs restricts the file set when non-empty. Patterns match
	// against the basename or the slash-relative path.
	IncludeGlobs []string

	// ExcludeGlobs removes files from the set. Takes precedence over
	// includes.
	ExcludeGlobs []string
}

// Compute enumerates the workspace and returns its fingerprint.
//
// Individual stat failures are tolerated: a file that disappears mid-walk
// changes the hash anyway because it drops out of the sorted list. VCS
// head resolution is best-effort and leaves VCSHead empty on failure.
func Compute(root string, opts Options) (Fingerprint, error) {
	cleanRoot := filepath.Clean(root)

	info, err := os.Stat(cleanRoot)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("stat workspace: %w", err)
	}
	if !info.IsDir() {
		return Fingerprint{}, fmt.Errorf("workspace must be a directory: %s", cleanRoot)
	}

	if err := validatePatterns(opts.IncludeGlobs); err != nil {
		return Fingerprint{}, fmt.Errorf("invalid include pattern: %w", err)
	}
	if err := validatePatterns(opts.ExcludeGlobs); err != nil {
		return Fingerprint{}, fmt.Errorf("invalid exclude pattern: %w", err)
	}

	var (
		paths       []string
		latestMtime time.Time
	)

	err = filepath.WalkDir(cleanRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Best-effort: a vanished subtree just drops out of the set.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != cleanRoot && defaultSkipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(cleanRoot, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if !matchesFilters(rel, opts) {
			return nil
		}

		paths = append(paths, rel)

		if fi, statErr := d.Info(); statErr == nil {
			if mt := fi.ModTime(); mt.After(latestMtime) {
				latestMtime = mt
			}
		}
		return nil
	})
	if err != nil {
		return Fingerprint{}, fmt.Errorf("walking workspace: %w", err)
	}

	// Sorted enumeration makes the hash independent of walk order and
	// path-separator style.
	sort.Strings(paths)

	h := sha256.New()
	for _, p := range paths {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}

	fp := Fingerprint{
		FileListHash: hex.EncodeToString(h.Sum(nil)),
		FileCount:    len(paths),
	}
	if !latestMtime.IsZero() {
		fp.LatestMtime = latestMtime.UnixNano()
	}
	fp.VCSHead = resolveVCSHead(cleanRoot)

	return fp, nil
}

// Match reports whether two fingerprints describe the same workspace
// state. Hash, count, and mtime must match; VCS heads must match whenever
// at least one side has one.
func Match(a, b Fingerprint) bool {
	if a.FileListHash != b.FileListHash {
		return false
	}
	if a.FileCount != b.FileCount {
		return false
	}
	if a.LatestMtime != b.LatestMtime {
		return false
	}
	if a.VCSHead != "" || b.VCSHead != "" {
		return a.VCSHead == b.VCSHead
	}
	return true
}

// validatePatterns rejects malformed glob patterns up front.
func validatePatterns(patterns []string) error {
	for _, pattern := range patterns {
		if _, err := filepath.Match(pattern, "test"); err != nil {
			return fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// matchesFilters applies exclude and include globs to a slash-relative
// path. Exclude takes precedence.
func matchesFilters(rel string, opts Options) bool {
	basename := rel
	if i := strings.LastIndexByte(rel, '/'); i >= 0 {
		basename = rel[i+1:]
	}

	for _, pattern := range opts.ExcludeGlobs {
		if matched, _ := filepath.Match(pattern, basename); matched {
			return false
		}
		if matched, _ := filepath.Match(pattern, rel); matched {
			return false
		}
		if strings.Contains(pattern, "**") {
			prefix := strings.TrimSuffix(pattern, "/**")
			if strings.HasPrefix(rel, prefix+"/") {
				return false
			}
		}
	}

	if len(opts.IncludeGlobs) == 0 {
		return true
	}
	for _, pattern := range opts.IncludeGlobs {
		if matched, _ := filepath.Match(pattern, basename); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, rel); matched {
			return true
		}
	}
	return false
}

// ListFiles returns the sorted slash-relative paths that would enter the
// fingerprint. The discovery phase reuses this so the fingerprinted set
// and the indexed set are always the same.
func ListFiles(root string, opts Options) ([]string, error) {
	cleanRoot := filepath.Clean(root)

	var paths []string
	err := filepath.WalkDir(cleanRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != cleanRoot && defaultSkipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(cleanRoot, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if matchesFilters(rel, opts) {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking workspace: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}
