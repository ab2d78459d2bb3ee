package sources

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/indexd/internal/ingest"
)

// ownershipSourceVersion tags the payload shape emitted by this source.
const ownershipSourceVersion = "codeowners/1"

// codeownersLocations are checked in order; the first hit wins, matching
// how forges resolve the file.
var codeownersLocations = []string{
	filepath.Join(".github", "CODEOWNERS"),
	"CODEOWNERS",
	filepath.Join("docs", "CODEOWNERS"),
}

// OwnershipSource derives ownership scores from a CODEOWNERS file. A
// path owned by n owners gets score 1/n per owner, so scores on a path
// sum to one.
type OwnershipSource struct{}

// NewOwnershipSource creates the CODEOWNERS source.
func NewOwnershipSource() *OwnershipSource {
	return &OwnershipSource{}
}

func (s *OwnershipSource) Name() string { return "codeowners" }

// Collect parses the workspace CODEOWNERS file into one ownership item.
// No file means no items.
func (s *OwnershipSource) Collect(ctx context.Context, root string) ([]ingest.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var path string
	for _, loc := range codeownersLocations {
		candidate := filepath.Join(root, loc)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			path = candidate
			break
		}
	}
	if path == "" {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening CODEOWNERS: %w", err)
	}
	defer f.Close()

	var scores []any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		pattern, owners := fields[0], fields[1:]
		share := 1.0 / float64(len(owners))
		for _, owner := range owners {
			scores = append(scores, map[string]any{
				"path":  pattern,
				"owner": strings.TrimPrefix(owner, "@"),
				"score": share,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading CODEOWNERS: %w", err)
	}
	if len(scores) == 0 {
		return nil, nil
	}

	return []ingest.Item{{
		ID:            "ownership:codeowners",
		SourceType:    ingest.SourceTypeOwnership,
		SourceVersion: ownershipSourceVersion,
		IngestedAt:    timeNow().UTC(),
		Payload:       map[string]any{"scores": scores},
	}}, nil
}

var _ Source = (*OwnershipSource)(nil)
