package prhost

import "regexp"

// Category classifies a merged diff for PR labeling purposes. Unlike
// the originating tool's auto-merge gate, the orchestrator's merge
// coordinator never skips its own checks based on category — labels
// here are purely informational for whoever reviews the hosting
// provider's PR list afterward.
type Category string

const (
	CategorySecurity     Category = "security"
	CategoryArchitecture Category = "architecture"
	CategoryMigrations   Category = "migrations"
	CategoryRoutine      Category = "routine"
)

var (
	securityPatterns = []string{
		`(?i)auth`, `(?i)password`, `(?i)credential`, `(?i)secret`,
		`(?i)token`, `(?i)encrypt`, `(?i)decrypt`, `(?i)permission`,
		`(?i)bcrypt`, `(?i)jwt`, `(?i)oauth`, `(?i)session`,
	}
	architecturePatterns = []string{
		`go\.mod`, `go\.sum`, `package\.json`,
		`(?i)interface\s+\w+`, `(?i)public\s+(func|type)`,
	}
	migrationPatterns = []string{
		`migrations/`, `(?i)CREATE\s+TABLE`, `(?i)ALTER\s+TABLE`, `(?i)DROP\s+TABLE`, `(?i)\.sql$`,
	}
)

// Categorize classifies a diff so it can be labeled on the hosting
// provider. Labeling is advisory only; the merge worker does not call
// this.
func Categorize(diff string) Category {
	if matchesAny(diff, securityPatterns) {
		return CategorySecurity
	}
	if matchesAny(diff, migrationPatterns) {
		return CategoryMigrations
	}
	if matchesAny(diff, architecturePatterns) {
		return CategoryArchitecture
	}
	return CategoryRoutine
}

func matchesAny(text string, patterns []string) bool {
	for _, p := range patterns {
		if regexp.MustCompile(p).MatchString(text) {
			return true
		}
	}
	return false
}

// Labels returns the labels to apply for a category.
func Labels(c Category) []string {
	switch c {
	case CategorySecurity:
		return []string{"security"}
	case CategoryArchitecture:
		return []string{"architecture"}
	case CategoryMigrations:
		return []string{"database"}
	default:
		return []string{"routine"}
	}
}

