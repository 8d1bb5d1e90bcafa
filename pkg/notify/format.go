package notify

import (
	"fmt"
	"strings"

	"github.com/harrisonrobin/clockwatch/pkg/model"
)

const unassigned = "Unassigned"

// spaceGroup is the issues of one space, in upstream order.
type spaceGroup struct {
	Space  string
	Issues []model.Issue
}

// personGroup is the issues owned by one person within a space.
type personGroup struct {
	Person string
	Issues []model.Issue
}

func issueLabels(kinds []model.IssueKind) string {
	labels := make([]string, 0, len(kinds))
	for _, k := range kinds {
		labels = append(labels, k.Label())
	}
	return strings.Join(labels, ", ")
}

func writeIssueLine(b *strings.Builder, issue model.Issue) {
	t := issue.Task
	fmt.Fprintf(b, "• *%s* (status: %s): %s", t.Name, t.Status, issueLabels(issue.Kinds))
	if t.URL != "" {
		fmt.Fprintf(b, " (%s)", t.URL)
	}
	b.WriteString("\n")
}

// FormatDigest renders the message for one person, one section per space.
func FormatDigest(groups []spaceGroup) string {
	var b strings.Builder
	b.WriteString("You have tasks missing time tracking or a status update today:\n")
	for _, g := range groups {
		fmt.Fprintf(&b, "\n*%s*\n", g.Space)
		for _, issue := range g.Issues {
			writeIssueLine(&b, issue)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatManagerDigest renders the summary of one space for a manager.
func FormatManagerDigest(space string, groups []personGroup) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Compliance summary for *%s*:\n", space)
	for _, g := range groups {
		fmt.Fprintf(&b, "\n*%s*\n", g.Person)
		for _, issue := range g.Issues {
			writeIssueLine(&b, issue)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatReviewerAlert renders the alert for a task that reached review with
// nobody assigned to review it.
func FormatReviewerAlert(t model.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s* (status: %s) in *%s* has no reviewer assigned. Please assign one.", t.Name, t.Status, t.SpaceName)
	if t.URL != "" {
		fmt.Fprintf(&b, "\n%s", t.URL)
	}
	return b.String()
}
