package ingest

import "strings"

// Commit categories assigned during materialization.
const (
	CategoryBugfix      = "bugfix"
	CategoryRefactor    = "refactor"
	CategoryTest        = "test"
	CategoryDocs        = "docs"
	CategoryChore       = "chore"
	CategoryPerformance = "performance"
	CategorySecurity    = "security"
	CategoryFeature     = "feature"
)

// categoryRules are checked in order; the first category with a matching
// keyword wins. Anything unmatched is a feature.
var categoryRules = []struct {
	category string
	keywords []string
}{
	{CategoryBugfix, []string{"fix", "bug", "hotfix", "crash", "regression"}},
	{CategoryRefactor, []string{"refactor", "restructure", "rework", "cleanup", "clean up", "simplify"}},
	{CategoryTest, []string{"test", "coverage", "spec"}},
	{CategoryDocs, []string{"doc", "readme", "changelog", "comment"}},
	{CategoryChore, []string{"chore", "bump", "upgrade", "deps", "dependency", "ci", "lint", "format"}},
	{CategoryPerformance, []string{"perf", "optimiz", "speed", "faster", "latency"}},
	{CategorySecurity, []string{"security", "vulnerab", "cve", "exploit", "sanitiz", "injection"}},
}

// ClassifyCommitMessage assigns a category to a commit message by keyword
// match in fixed priority order.
func ClassifyCommitMessage(message string) string {
	lower := strings.ToLower(message)
	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.category
			}
		}
	}
	return CategoryFeature
}
