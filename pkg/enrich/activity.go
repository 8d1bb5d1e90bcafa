package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/harrisonrobin/clockwatch/pkg/clickup"
	"github.com/harrisonrobin/clockwatch/pkg/identity"
	"github.com/harrisonrobin/clockwatch/pkg/logger"
)

const (
	SourceComments    = "comments"
	SourceStatusField = "status_field"

	DefaultStatusUpdateField = "status update"
)

// CommentSource fetches the comments of a task.
type CommentSource interface {
	ListComments(ctx context.Context, taskID string) ([]clickup.Comment, error)
}

// ActivitySource finds the latest status-update signal for a task. A run uses
// exactly one ActivitySource for every task. An error means the signal could
// not be determined and the task must not be judged.
type ActivitySource interface {
	LastActivity(ctx context.Context, task clickup.Task, responsible []string) (*time.Time, error)
}

// CommentActivity uses the newest comment written by a responsible person.
type CommentActivity struct {
	Comments CommentSource
}

// LastActivity returns an error only when ctx ended; other fetch failures are
// logged and count as no comments.
func (a CommentActivity) LastActivity(ctx context.Context, task clickup.Task, responsible []string) (*time.Time, error) {
	if len(responsible) == 0 {
		return nil, nil
	}
	comments, err := a.Comments.ListComments(ctx, task.ID)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("comments of task %s: %w", task.ID, err)
		}
		logger.FromContext(ctx).Error("could not fetch comments", "task", task.ID, "error", err)
		return nil, nil
	}
	return LatestCommentBy(comments, responsible), nil
}

// LatestCommentBy returns the newest comment date among comments authored by
// one of names.
func LatestCommentBy(comments []clickup.Comment, names []string) *time.Time {
	var latest *time.Time
	for _, c := range comments {
		if c.User == nil {
			continue
		}
		at := c.Date.Ptr()
		if at == nil || !identity.MatchAny(c.User.DisplayName(), names) {
			continue
		}
		if latest == nil || at.After(*latest) {
			latest = at
		}
	}
	return latest
}

// StatusFieldActivity uses a dedicated custom field: when it holds a value,
// its last update time counts as the task's latest activity.
type StatusFieldActivity struct {
	FieldName string
}

func (a StatusFieldActivity) LastActivity(_ context.Context, task clickup.Task, _ []string) (*time.Time, error) {
	return a.lastUpdate(task), nil
}

func (a StatusFieldActivity) lastUpdate(task clickup.Task) *time.Time {
	name := a.FieldName
	if name == "" {
		name = DefaultStatusUpdateField
	}
	field, ok := task.Field(name)
	if !ok || len(field.Value) == 0 {
		return nil
	}
	value := gjson.ParseBytes(field.Value)
	if !value.Exists() || value.Type == gjson.Null || strings.TrimSpace(value.String()) == "" {
		return nil
	}
	if at := field.DateUpdated.Ptr(); at != nil {
		return at
	}
	return task.DateUpdated.Ptr()
}

// NewActivitySource selects the activity policy by name.
func NewActivitySource(policy string, comments CommentSource, statusField string) (ActivitySource, error) {
	switch policy {
	case "", SourceComments:
		if comments == nil {
			return nil, fmt.Errorf("comment activity requires a comment source")
		}
		return CommentActivity{Comments: comments}, nil
	case SourceStatusField:
		return StatusFieldActivity{FieldName: statusField}, nil
	default:
		return nil, fmt.Errorf("unknown activity source %q", policy)
	}
}
