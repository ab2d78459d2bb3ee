package providers

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/fyrsmithlabs/indexd/internal/storage"
)

// langPatterns holds per-language regexes for declarations and imports.
type langPatterns struct {
	function *regexp.Regexp
	imports  *regexp.Regexp
}

// patternsByExt covers the languages the heuristic extractor understands.
// The capture group is the declared name or the imported module.
var patternsByExt = map[string]langPatterns{
	".go": {
		function: regexp.MustCompile(`^func\s+(?:\([^)]+\)\s+)?([A-Za-z_]\w*)\s*\(`),
		imports:  regexp.MustCompile(`^\s*(?:import\s+)?(?:\w+\s+)?"([^"]+)"`),
	},
	".py": {
		function: regexp.MustCompile(`^\s*(?:async\s+)?def\s+([A-Za-z_]\w*)\s*\(`),
		imports:  regexp.MustCompile(`^\s*(?:from\s+([\w.]+)\s+import|import\s+([\w.]+))`),
	},
	".js": {
		function: regexp.MustCompile(`^\s*(?:export\s+)?(?:async\s+)?function\s+([A-Za-z_$][\w$]*)\s*\(`),
		imports:  regexp.MustCompile(`(?:require\(|from\s+)['"]([^'"]+)['"]`),
	},
	".ts": {
		function: regexp.MustCompile(`^\s*(?:export\s+)?(?:async\s+)?function\s+([A-Za-z_$][\w$]*)\s*\(`),
		imports:  regexp.MustCompile(`(?:require\(|from\s+)['"]([^'"]+)['"]`),
	},
}

// HeuristicExtractor extracts entities and import edges by line-oriented
// pattern matching. It never calls out of process, so it is the offline
// fallback and the default.
type HeuristicExtractor struct{}

// NewHeuristicExtractor creates the pattern-based extractor.
func NewHeuristicExtractor() *HeuristicExtractor {
	return &HeuristicExtractor{}
}

func (e *HeuristicExtractor) Name() string { return "heuristic" }

// Extract scans one file. Unknown extensions yield just the file entity.
func (e *HeuristicExtractor) Extract(ctx context.Context, path string, content []byte) (Extraction, error) {
	if err := ctx.Err(); err != nil {
		return Extraction{}, err
	}

	now := time.Now().UTC()
	fileID := "file:" + path
	result := Extraction{
		// A rough cost proxy; real LLM extractors report actual usage.
		Tokens: len(content) / 4,
		Entities: []storage.Entity{{
			ID:        fileID,
			Kind:      "file",
			Name:      filepath.Base(path),
			Path:      path,
			UpdatedAt: now,
		}},
	}

	patterns, ok := patternsByExt[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return result, nil
	}

	inGoImportBlock := false
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()

		if m := patterns.function.FindStringSubmatch(text); m != nil {
			name := m[1]
			result.Entities = append(result.Entities, storage.Entity{
				ID:        fmt.Sprintf("fn:%s:%s", path, name),
				Kind:      "function",
				Name:      name,
				Path:      path,
				StartLine: line,
				UpdatedAt: now,
			})
			result.Edges = append(result.Edges, storage.Edge{
				FromID:     fileID,
				FromType:   "file",
				ToID:       fmt.Sprintf("fn:%s:%s", path, name),
				ToType:     "function",
				EdgeType:   "declares",
				SourceFile: path,
				SourceLine: line,
				Confidence: 1.0,
				ComputedAt: now,
			})
			continue
		}

		module := matchImport(patterns, text, &inGoImportBlock, filepath.Ext(path) == ".go")
		if module == "" {
			continue
		}
		result.Edges = append(result.Edges, storage.Edge{
			FromID:     fileID,
			FromType:   "file",
			ToID:       "mod:" + module,
			ToType:     "module",
			EdgeType:   "imports",
			SourceFile: path,
			SourceLine: line,
			Confidence: 0.9,
			ComputedAt: now,
		})
	}
	if err := scanner.Err(); err != nil {
		return Extraction{}, fmt.Errorf("scanning %s: %w", path, err)
	}
	return result, nil
}

// matchImport extracts an imported module name from a line, tracking Go
// import blocks so grouped imports are picked up without treating every
// quoted string in the file as an import.
func matchImport(patterns langPatterns, text string, inBlock *bool, isGo bool) string {
	if isGo {
		trimmed := strings.TrimSpace(text)
		switch {
		case strings.HasPrefix(trimmed, "import ("):
			*inBlock = true
			return ""
		case *inBlock && trimmed == ")":
			*inBlock = false
			return ""
		case !*inBlock && !strings.HasPrefix(trimmed, "import"):
			return ""
		}
	}

	m := patterns.imports.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	for _, group := range m[1:] {
		if group != "" {
			return group
		}
	}
	return ""
}

var _ Extractor = (*HeuristicExtractor)(nil)
