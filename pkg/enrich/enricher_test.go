package enrich

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrisonrobin/clockwatch/pkg/clickup"
	"github.com/harrisonrobin/clockwatch/pkg/clickup/clickuptest"
	"github.com/harrisonrobin/clockwatch/pkg/walker"
)

func field(name string, value any) clickup.CustomField {
	raw, err := json.Marshal(value)
	if err != nil {
		panic(err)
	}
	return clickup.CustomField{ID: name, Name: name, Value: raw}
}

func people(names ...string) []map[string]any {
	out := make([]map[string]any, 0, len(names))
	for _, n := range names {
		out = append(out, map[string]any{"id": 1, "username": n})
	}
	return out
}

func rawTask(status string, fields ...clickup.CustomField) clickup.Task {
	t := clickup.Task{
		ID:           "t1",
		Name:         "Task",
		URL:          "https://app.clickup.com/t/t1",
		Assignees:    []clickup.User{{Username: "Jane Doe"}},
		CustomFields: fields,
	}
	if status != "" {
		t.Status = &clickup.Status{Status: status}
	}
	return t
}

func at(ms int64) *clickup.Millis { return &clickup.Millis{Time: time.UnixMilli(ms)} }

func TestMatchRule(t *testing.T) {
	rules := DefaultRules(nil, nil)

	t.Run("Should match by substring and first rule wins", func(t *testing.T) {
		assert.Equal(t, KindReview, MatchRule(rules, "code review (blocked)").Kind)
		assert.Equal(t, KindReview, MatchRule(rules, "Testing").Kind)
		assert.Equal(t, KindDeploy, MatchRule(rules, "ready to prod").Kind)
		assert.Equal(t, KindDefault, MatchRule(rules, "in progress").Kind)
	})

	t.Run("Should honor configured review statuses", func(t *testing.T) {
		custom := DefaultRules([]string{"code review"}, nil)
		assert.Equal(t, KindDefault, MatchRule(custom, "testing").Kind)
	})

	t.Run("Should map kinds to field names", func(t *testing.T) {
		r := MatchRule(rules, "testing")
		assert.Equal(t, "code review & qa", r.ResponsibleField)
		assert.Equal(t, "code reviewer & qa time tracked", r.TimeField)
		d := MatchRule(rules, "ready to prod")
		assert.Equal(t, "deployer", d.ResponsibleField)
		assert.Equal(t, "deployer time tracked", d.TimeField)
	})
}

func TestResolveResponsible(t *testing.T) {
	rules := DefaultRules(nil, nil)

	t.Run("Should use only the review field for review statuses", func(t *testing.T) {
		task := rawTask("code review", field("Code Review & QA", people("Bob")))
		assert.Equal(t, []string{"Bob"}, ResolveResponsible(task, MatchRule(rules, "code review")))

		bare := rawTask("code review")
		assert.Empty(t, ResolveResponsible(bare, MatchRule(rules, "code review")))

		empty := rawTask("code review", field("code review & qa", []any{}))
		assert.Empty(t, ResolveResponsible(empty, MatchRule(rules, "code review")))
	})

	t.Run("Should fall back to native assignees for other statuses", func(t *testing.T) {
		task := rawTask("in progress")
		assert.Equal(t, []string{"Jane Doe"}, ResolveResponsible(task, MatchRule(rules, "in progress")))

		withField := rawTask("in progress", field("assignee", people("Carol", "carol ")))
		assert.Equal(t, []string{"Carol"}, ResolveResponsible(withField, MatchRule(rules, "in progress")))
	})

	t.Run("Should read names from name or email when username is missing", func(t *testing.T) {
		task := rawTask("ready to prod", field("deployer", []map[string]any{{"name": "Dee Ployer"}, {"email": "ops@example.com"}}))
		assert.Equal(t, []string{"Dee Ployer", "ops@example.com"}, ResolveResponsible(task, MatchRule(rules, "ready to prod")))
	})

	t.Run("Should target each strategy independently", func(t *testing.T) {
		task := rawTask("in progress")
		_, ok := CustomFieldPeople(task, defaultRule)
		assert.False(t, ok)
		names, ok := NativeAssignees(task, defaultRule)
		assert.True(t, ok)
		assert.Equal(t, []string{"Jane Doe"}, names)
	})
}

func TestResolveTimeSpent(t *testing.T) {
	rules := DefaultRules(nil, nil)
	progress := MatchRule(rules, "in progress")

	assert.Equal(t, 0.0, ResolveTimeSpent(rawTask("in progress"), progress))
	assert.Equal(t, 45.0, ResolveTimeSpent(rawTask("in progress", field("Time Tracked", 45)), progress))
	assert.Equal(t, 30.5, ResolveTimeSpent(rawTask("in progress", field("time tracked", "30.5")), progress))
	assert.Equal(t, 0.0, ResolveTimeSpent(rawTask("in progress", field("time tracked", "soon")), progress))
	assert.Equal(t, 0.0, ResolveTimeSpent(rawTask("in progress", field("time tracked", -5)), progress))

	review := MatchRule(rules, "code review")
	task := rawTask("code review", field("time tracked", 10), field("code reviewer & qa time tracked", 20))
	assert.Equal(t, 20.0, ResolveTimeSpent(task, review))
}

func TestLatestCommentBy(t *testing.T) {
	comments := []clickup.Comment{
		{User: &clickup.User{Username: "janedoe"}, Date: at(1000)},
		{User: &clickup.User{Username: "Jane Doe"}, Date: at(3000)},
		{User: &clickup.User{Username: "Bob"}, Date: at(9000)},
		{User: nil, Date: at(9999)},
	}

	latest := LatestCommentBy(comments, []string{"JANE DOE"})
	require.NotNil(t, latest)
	assert.Equal(t, int64(3000), latest.UnixMilli())

	assert.Nil(t, LatestCommentBy(comments, []string{"Alice"}))
	assert.Nil(t, LatestCommentBy(comments, nil))
}

func TestStatusFieldActivity(t *testing.T) {
	src := StatusFieldActivity{}
	ctx := context.Background()

	withValue := rawTask("in progress", field("Status Update", "deployed to staging"))
	withValue.CustomFields[0].DateUpdated = at(5000)
	got, err := src.LastActivity(ctx, withValue, nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(5000), got.UnixMilli())

	fallback := rawTask("in progress", field("status update", "wip"))
	fallback.DateUpdated = at(7000)
	got, err = src.LastActivity(ctx, fallback, nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(7000), got.UnixMilli())

	got, _ = src.LastActivity(ctx, rawTask("in progress", field("status update", "")), nil)
	assert.Nil(t, got)
	got, _ = src.LastActivity(ctx, rawTask("in progress"), nil)
	assert.Nil(t, got)
}

func TestNewActivitySource(t *testing.T) {
	src := &clickuptest.Source{}

	a, err := NewActivitySource("", src, "")
	require.NoError(t, err)
	assert.IsType(t, CommentActivity{}, a)

	a, err = NewActivitySource(SourceStatusField, nil, "")
	require.NoError(t, err)
	assert.IsType(t, StatusFieldActivity{}, a)

	_, err = NewActivitySource(SourceComments, nil, "")
	assert.Error(t, err)
	_, err = NewActivitySource("slack", src, "")
	assert.Error(t, err)
}

func TestEnricher_Enrich(t *testing.T) {
	ctx := context.Background()

	t.Run("Should flag review tasks without a reviewer", func(t *testing.T) {
		src := &clickuptest.Source{}
		e := New(CommentActivity{Comments: src})
		task, ok := e.Enrich(ctx, walker.RawTask{Task: rawTask("Code Review"), SpaceName: "Alpha"})
		require.True(t, ok)

		assert.Equal(t, "code review", task.Status)
		assert.Empty(t, task.Responsible)
		assert.True(t, task.NeedsReviewerAssignment)
		assert.Equal(t, []string{"Jane Doe"}, task.Assignees)
		assert.Nil(t, task.LastActivityAt)
		assert.Empty(t, src.Calls(), "no comment fetch without responsible people")
	})

	t.Run("Should not flag deploy tasks without a deployer", func(t *testing.T) {
		e := New(StatusFieldActivity{})
		task, ok := e.Enrich(ctx, walker.RawTask{Task: rawTask("ready to prod"), SpaceName: "Alpha"})
		require.True(t, ok)
		assert.Empty(t, task.Responsible)
		assert.False(t, task.NeedsReviewerAssignment)
	})

	t.Run("Should resolve activity from comments of responsible people", func(t *testing.T) {
		src := &clickuptest.Source{Comments: map[string][]clickup.Comment{
			"t1": {{User: &clickup.User{Username: "janedoe"}, Date: at(4000)}},
		}}
		e := New(CommentActivity{Comments: src})
		task, ok := e.Enrich(ctx, walker.RawTask{Task: rawTask("In Progress", field("time tracked", 15)), SpaceName: "Alpha"})
		require.True(t, ok)

		assert.Equal(t, 15.0, task.TimeSpent)
		assert.Equal(t, []string{"Jane Doe"}, task.Responsible)
		require.NotNil(t, task.LastActivityAt)
		assert.Equal(t, int64(4000), task.LastActivityAt.UnixMilli())
	})

	t.Run("Should treat comment failures as no activity", func(t *testing.T) {
		src := &clickuptest.Source{Fail: map[string]bool{"comments:t1": true}}
		task, ok := New(CommentActivity{Comments: src}).Enrich(ctx, walker.RawTask{Task: rawTask("in progress")})
		require.True(t, ok)
		assert.Nil(t, task.LastActivityAt)
	})

	t.Run("Should skip a task whose comments could not be fetched before the deadline", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		src := &clickuptest.Source{Comments: map[string][]clickup.Comment{
			"t1": {{User: &clickup.User{Username: "Jane Doe"}, Date: at(4000)}},
		}}
		_, ok := New(CommentActivity{Comments: src}).Enrich(cctx, walker.RawTask{Task: rawTask("in progress")})
		assert.False(t, ok)
	})

	t.Run("Should report context failures from comment fetches", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		src := cancelingComments{cancel: cancel}
		_, err := CommentActivity{Comments: src}.LastActivity(cctx, rawTask("in progress"), []string{"Jane Doe"})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("Should use the owning space name", func(t *testing.T) {
		raw := rawTask("in progress")
		raw.Space = &clickup.TaskSpace{ID: "x", Name: "Other"}
		task, ok := New(nil).Enrich(ctx, walker.RawTask{Task: raw, SpaceName: "Alpha"})
		require.True(t, ok)
		assert.Equal(t, "Alpha", task.SpaceName)
	})

	t.Run("Should skip tasks without status", func(t *testing.T) {
		_, ok := New(nil).Enrich(ctx, walker.RawTask{Task: rawTask("")})
		assert.False(t, ok)
		_, ok = New(nil).Enrich(ctx, walker.RawTask{Task: rawTask("  ")})
		assert.False(t, ok)
	})
}

// cancelingComments ends the caller's context while the fetch is in flight.
type cancelingComments struct {
	cancel context.CancelFunc
}

func (c cancelingComments) ListComments(ctx context.Context, _ string) ([]clickup.Comment, error) {
	c.cancel()
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestEnricher_EnrichAll(t *testing.T) {
	mk := func(id, list, status string) walker.RawTask {
		raw := rawTask(status)
		raw.ID = id
		return walker.RawTask{Task: raw, SpaceName: "Alpha", ListID: list}
	}
	raws := []walker.RawTask{
		mk("a", "l1", "in progress"),
		mk("b", "l1", ""),
		mk("c", "l1", "testing"),
		mk("d", "l2", "done"),
	}
	src := &clickuptest.Source{}
	tasks := New(CommentActivity{Comments: src}, WithConcurrency(2)).EnrichAll(context.Background(), raws)

	require.Len(t, tasks, 3)
	assert.Equal(t, "a", tasks[0].ID)
	assert.Equal(t, "c", tasks[1].ID)
	assert.Equal(t, "d", tasks[2].ID)
	assert.ElementsMatch(t, []string{"comments:a", "comments:d"}, src.Calls())
}

func TestEnricher_EnrichAllCanceled(t *testing.T) {
	t.Run("Should drop every task once the context has ended", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		raw := rawTask("in progress")
		src := &clickuptest.Source{}
		tasks := New(CommentActivity{Comments: src}).EnrichAll(ctx, []walker.RawTask{{Task: raw, SpaceName: "Alpha", ListID: "l1"}})
		assert.Empty(t, tasks)
		assert.Empty(t, src.Calls())
	})
}
