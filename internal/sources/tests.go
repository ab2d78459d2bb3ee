package sources

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/indexd/internal/fingerprint"
	"github.com/fyrsmithlabs/indexd/internal/ingest"
)

// testMappingSourceVersion tags the payload shape emitted by this source.
const testMappingSourceVersion = "test-scan/1"

// TestMappingSource infers test-to-source relationships from file naming
// conventions. A mapping is emitted only when the inferred source file
// actually exists in the listing.
type TestMappingSource struct{}

// NewTestMappingSource creates the naming-convention source.
func NewTestMappingSource() *TestMappingSource {
	return &TestMappingSource{}
}

func (s *TestMappingSource) Name() string { return "test-mappings" }

// Collect lists workspace files and pairs test files with the sources
// their names point at.
func (s *TestMappingSource) Collect(ctx context.Context, root string) ([]ingest.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	files, err := fingerprint.ListFiles(root, fingerprint.Options{})
	if err != nil {
		return nil, fmt.Errorf("listing workspace files: %w", err)
	}
	present := make(map[string]bool, len(files))
	for _, f := range files {
		present[f] = true
	}

	var mappings []any
	for _, f := range files {
		source, confidence := inferSource(f)
		if source == "" || !present[source] {
			continue
		}
		mappings = append(mappings, map[string]any{
			"test_path":   f,
			"source_path": source,
			"confidence":  confidence,
		})
	}
	if len(mappings) == 0 {
		return nil, nil
	}

	return []ingest.Item{{
		ID:            "tests:scan",
		SourceType:    ingest.SourceTypeTest,
		SourceVersion: testMappingSourceVersion,
		IngestedAt:    timeNow().UTC(),
		Payload:       map[string]any{"mappings": mappings},
	}}, nil
}

// inferSource maps a test file path to its conventional source path.
// Returns "" for files that are not tests.
func inferSource(path string) (string, float64) {
	dir, base := filepath.Split(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	switch ext {
	case ".go":
		if name, ok := strings.CutSuffix(stem, "_test"); ok {
			return dir + name + ".go", 0.9
		}
	case ".py":
		if name, ok := strings.CutPrefix(stem, "test_"); ok {
			return dir + name + ".py", 0.8
		}
		if name, ok := strings.CutSuffix(stem, "_test"); ok {
			return dir + name + ".py", 0.8
		}
	case ".js", ".ts", ".jsx", ".tsx":
		for _, suffix := range []string{".test", ".spec"} {
			if name, ok := strings.CutSuffix(stem, suffix); ok {
				return dir + name + ext, 0.8
			}
		}
	}
	return "", 0
}

var _ Source = (*TestMappingSource)(nil)
