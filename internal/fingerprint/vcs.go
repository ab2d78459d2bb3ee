package fingerprint

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// maxRefDepth bounds symbolic-ref chains. Git itself allows nesting but a
// handful of levels covers every real repository.
const maxRefDepth = 5

// resolveVCSHead resolves the current Git commit for the workspace.
// Best-effort: any failure returns "" rather than propagating.
func resolveVCSHead(root string) string {
	gitDir := findGitDir(root)
	if gitDir == "" {
		return ""
	}
	return resolveRef(gitDir, "HEAD", 0)
}

// findGitDir walks upward from root looking for the Git metadata
// directory. A .git regular file (linked worktree) carries a "gitdir:"
// indirection to the real location.
func findGitDir(root string) string {
	dir, err := filepath.Abs(root)
	if err != nil {
		return ""
	}

	for {
		candidate := filepath.Join(dir, ".git")
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return candidate
			}
			// Worktree indirection file.
			content, err := os.ReadFile(candidate)
			if err != nil {
				return ""
			}
			line := strings.TrimSpace(string(content))
			if target, ok := strings.CutPrefix(line, "gitdir:"); ok {
				target = strings.TrimSpace(target)
				if !filepath.IsAbs(target) {
					target = filepath.Join(dir, target)
				}
				return filepath.Clean(target)
			}
			return ""
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// resolveRef follows a ref name to a concrete commit id, chasing symbolic
// refs through loose ref files and falling back to packed-refs.
func resolveRef(gitDir, ref string, depth int) string {
	if depth > maxRefDepth {
		return ""
	}

	content, err := os.ReadFile(filepath.Join(gitDir, filepath.FromSlash(ref)))
	if err != nil {
		// Loose ref missing: the ref may live in packed-refs. Linked
		// worktrees keep shared refs in the commondir.
		if head := lookupPackedRef(gitDir, ref); head != "" {
			return head
		}
		if common := commonDir(gitDir); common != "" && common != gitDir {
			return resolveRef(common, ref, depth+1)
		}
		return ""
	}

	line := strings.TrimSpace(string(content))
	if line == "" {
		return ""
	}

	if target, ok := strings.CutPrefix(line, "ref:"); ok {
		return resolveRef(gitDir, strings.TrimSpace(target), depth+1)
	}

	// Detached HEAD or a fully resolved loose ref.
	if isHexID(line) {
		return line
	}
	return ""
}

// lookupPackedRef scans packed-refs for the given ref name.
func lookupPackedRef(gitDir, ref string) string {
	f, err := os.Open(filepath.Join(gitDir, "packed-refs"))
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || line[0] == '#' || line[0] == '^' {
			continue
		}
		id, name, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		if name == ref && isHexID(id) {
			return id
		}
	}
	return ""
}

// commonDir resolves the shared metadata directory for linked worktrees.
func commonDir(gitDir string) string {
	content, err := os.ReadFile(filepath.Join(gitDir, "commondir"))
	if err != nil {
		return ""
	}
	target := strings.TrimSpace(string(content))
	if target == "" {
		return ""
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(gitDir, target)
	}
	return filepath.Clean(target)
}

// isHexID reports whether s looks like a Git object id (SHA-1 or SHA-256).
func isHexID(s string) bool {
	if len(s) != 40 && len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
