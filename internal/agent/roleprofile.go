package agent

import "github.com/anthropics/task-orchestrator/internal/domain"

// roleProfile names the log/notification phrasing for a task kind and
// any extra quality checks that checksFor appends to the base checks,
// whether those come from operator config or auto-detection. Separate
// from internal/projectkind's stack detection:
// this is about which checks matter for the kind of work, that is about
// which tool runs them.
type roleProfile struct {
	label       string
	extraChecks []domain.QualityCheck
}

var roleProfiles = map[domain.TaskKind]roleProfile{
	domain.KindSetup:       {label: "setup"},
	domain.KindDevelopment: {label: "development"},
	domain.KindTesting:     {label: "testing"},
	domain.KindSecurity: {label: "security review", extraChecks: []domain.QualityCheck{
		{Name: "secret-scan", Command: "gitleaks detect --no-banner", Required: true},
	}},
	domain.KindDocumentation: {label: "documentation"},
	domain.KindReview:        {label: "review"},
}

// describeKind returns the phrasing used in logs and completion reasons
// for a task's kind, falling back to the raw kind string for any kind
// not in the table (new kinds degrade gracefully, never panic).
func describeKind(k domain.TaskKind) string {
	if p, ok := roleProfiles[k]; ok {
		return p.label
	}
	return string(k)
}

// checksFor appends a kind's extra checks (e.g. a secret scan for
// security tasks) after the operator-configured or auto-detected base
// checks, deduplicating exact repeats by command.
func checksFor(k domain.TaskKind, base []domain.QualityCheck) []domain.QualityCheck {
	p, ok := roleProfiles[k]
	if !ok || len(p.extraChecks) == 0 {
		return base
	}
	out := append([]domain.QualityCheck{}, base...)
	for _, c := range p.extraChecks {
		if !containsCheck(out, c.Command) {
			out = append(out, c)
		}
	}
	return out
}

func containsCheck(list []domain.QualityCheck, command string) bool {
	for _, v := range list {
		if v.Command == command {
			return true
		}
	}
	return false
}
