package model

import "time"

// Task is the normalized view of a tracker task for one audit run.
type Task struct {
	ID        string
	Name      string
	URL       string
	SpaceName string
	Status    string // lower-cased
	// TimeSpent is in minutes; 0 means nothing was logged.
	TimeSpent float64
	// Responsible holds the tracker names accountable for the current status.
	Responsible []string
	// Assignees are the task's native assignees, independent of status.
	Assignees               []string
	LastActivityAt          *time.Time
	NeedsReviewerAssignment bool
}

// Primary returns the first responsible name, or "" if there is none.
func (t Task) Primary() string {
	if len(t.Responsible) == 0 {
		return ""
	}
	return t.Responsible[0]
}

type IssueKind string

const (
	TimeNotTracked IssueKind = "time_not_tracked"
	StaleUpdate    IssueKind = "stale_update"
)

// Label is the wording used in notification messages.
func (k IssueKind) Label() string {
	switch k {
	case TimeNotTracked:
		return "time not tracked"
	case StaleUpdate:
		return "no recent comment"
	default:
		return string(k)
	}
}

// Issue is a non-compliant task and the checks it failed.
type Issue struct {
	Task  Task
	Kinds []IssueKind
}

func (i Issue) Has(kind IssueKind) bool {
	for _, k := range i.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}
