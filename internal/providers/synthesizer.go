package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/indexd/internal/storage"
)

// HeuristicSynthesizer produces template summaries from entity facts.
// It is the offline stand-in for an LLM synthesizer.
type HeuristicSynthesizer struct{}

func (s *HeuristicSynthesizer) Available() bool { return true }

// Summarize describes the entity from its kind, name, and location.
func (s *HeuristicSynthesizer) Summarize(_ context.Context, entity storage.Entity) (string, error) {
	if entity.Name == "" {
		return "", fmt.Errorf("entity %s has no name", entity.ID)
	}
	var b strings.Builder
	switch entity.Kind {
	case "function":
		fmt.Fprintf(&b, "Function %s defined in %s", entity.Name, entity.Path)
		if entity.StartLine > 0 {
			fmt.Fprintf(&b, " at line %d", entity.StartLine)
		}
	case "file":
		fmt.Fprintf(&b, "Source file %s", entity.Path)
	case "module":
		fmt.Fprintf(&b, "Module %s", entity.Name)
	default:
		fmt.Fprintf(&b, "%s %s in %s", capitalize(entity.Kind), entity.Name, entity.Path)
	}
	b.WriteString(".")
	return b.String(), nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

var _ Synthesizer = (*HeuristicSynthesizer)(nil)
