package enrich

import "strings"

// Kind groups workflow statuses by who owns the work while a task sits in them.
type Kind int

const (
	KindDefault Kind = iota
	KindReview
	KindDeploy
)

func (k Kind) String() string {
	switch k {
	case KindReview:
		return "review"
	case KindDeploy:
		return "deploy"
	default:
		return "default"
	}
}

// StatusRule maps statuses containing one of Contains to the custom fields
// holding the responsible people and their tracked time.
type StatusRule struct {
	Kind             Kind
	Contains         []string
	ResponsibleField string
	TimeField        string
}

var (
	DefaultReviewStatuses = []string{"code review", "testing"}
	DefaultDeployStatuses = []string{"ready to prod"}
)

var defaultRule = StatusRule{
	Kind:             KindDefault,
	ResponsibleField: "assignee",
	TimeField:        "time tracked",
}

// DefaultRules returns the review, deploy and fallback rules, in that order.
// Nil status slices select the defaults.
func DefaultRules(reviewStatuses, deployStatuses []string) []StatusRule {
	if reviewStatuses == nil {
		reviewStatuses = DefaultReviewStatuses
	}
	if deployStatuses == nil {
		deployStatuses = DefaultDeployStatuses
	}
	return []StatusRule{
		{
			Kind:             KindReview,
			Contains:         lowerAll(reviewStatuses),
			ResponsibleField: "code review & qa",
			TimeField:        "code reviewer & qa time tracked",
		},
		{
			Kind:             KindDeploy,
			Contains:         lowerAll(deployStatuses),
			ResponsibleField: "deployer",
			TimeField:        "deployer time tracked",
		},
		defaultRule,
	}
}

// MatchRule returns the first rule whose substrings occur in status. A rule
// with no substrings matches anything.
func MatchRule(rules []StatusRule, status string) StatusRule {
	status = strings.ToLower(status)
	for _, r := range rules {
		if len(r.Contains) == 0 {
			return r
		}
		for _, sub := range r.Contains {
			if sub != "" && strings.Contains(status, sub) {
				return r
			}
		}
	}
	return defaultRule
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
