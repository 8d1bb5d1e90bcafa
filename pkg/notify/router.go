// Package notify groups non-compliant tasks by recipient and delivers the
// resulting messages through a Sink.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/harrisonrobin/clockwatch/pkg/compliance"
	"github.com/harrisonrobin/clockwatch/pkg/identity"
	"github.com/harrisonrobin/clockwatch/pkg/logger"
	"github.com/harrisonrobin/clockwatch/pkg/model"
)

const DefaultConcurrency = 5

// ErrDeliveryFailed wraps every error returned by a Sink.
var ErrDeliveryFailed = errors.New("delivery failed")

// Sink delivers a text message to a notification identity.
type Sink interface {
	Send(ctx context.Context, identity, text string) error
}

type Kind string

const (
	KindReviewerAlert Kind = "reviewer_alert"
	KindDigest        Kind = "digest"
	KindManagerDigest Kind = "manager_digest"
)

type Message struct {
	Kind Kind
	To   string
	// Name is the tracker name the recipient was resolved from.
	Name string
	Text string
}

// Report counts what a dispatch did.
type Report struct {
	Planned int
	Sent    int
	Failed  int
}

type Router struct {
	ids         *identity.Map
	sink        Sink
	concurrency int
}

type Option func(*Router)

func WithConcurrency(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func NewRouter(ids *identity.Map, sink Sink, opts ...Option) *Router {
	r := &Router{ids: ids, sink: sink, concurrency: DefaultConcurrency}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReviewerAlerts builds one message per native assignee of every task that
// needs a reviewer.
func (r *Router) ReviewerAlerts(ctx context.Context, tasks []model.Task) []Message {
	log := logger.FromContext(ctx)
	var out []Message
	for _, t := range tasks {
		if len(t.Assignees) == 0 {
			log.Warn("task needs a reviewer but has no assignee to tell", "task", t.ID, "name", t.Name)
			continue
		}
		text := FormatReviewerAlert(t)
		for _, name := range t.Assignees {
			to, ok := r.ids.Resolve(name)
			if !ok {
				log.Warn("no notification identity for assignee", "assignee", name, "task", t.ID)
				continue
			}
			out = append(out, Message{Kind: KindReviewerAlert, To: to, Name: name, Text: text})
		}
	}
	return out
}

type recipient struct {
	name   string
	spaces []spaceGroup
}

// Digests builds one message per notification identity covering every issue
// of the tasks that person is responsible for.
func (r *Router) Digests(ctx context.Context, issues []model.Issue) []Message {
	log := logger.FromContext(ctx)
	var order []string
	byID := make(map[string]*recipient)

	for _, issue := range issues {
		targets := r.targets(issue.Task)
		if len(targets) == 0 {
			log.Warn("no notification identity for task", "task", issue.Task.ID, "name", issue.Task.Name, "responsible", issue.Task.Responsible)
			continue
		}
		for _, tg := range targets {
			rc, ok := byID[tg.id]
			if !ok {
				rc = &recipient{name: tg.name}
				byID[tg.id] = rc
				order = append(order, tg.id)
			}
			rc.spaces = appendToSpace(rc.spaces, issue)
		}
	}

	out := make([]Message, 0, len(order))
	for _, id := range order {
		rc := byID[id]
		out = append(out, Message{Kind: KindDigest, To: id, Name: rc.name, Text: FormatDigest(rc.spaces)})
	}
	return out
}

// ManagerDigests builds, for every space with managers, one message per
// manager grouping the space's issues by each task's primary responsible
// person.
func (r *Router) ManagerDigests(ctx context.Context, issues []model.Issue) []Message {
	log := logger.FromContext(ctx)
	var out []Message
	for _, sg := range appendAll(nil, issues) {
		managers := r.ids.Managers(sg.Space)
		if len(managers) == 0 {
			continue
		}
		text := FormatManagerDigest(sg.Space, groupByPrimary(sg.Issues))
		for _, m := range managers {
			to, ok := r.ids.Resolve(m)
			if !ok {
				log.Warn("no notification identity for manager", "manager", m, "space", sg.Space)
				continue
			}
			out = append(out, Message{Kind: KindManagerDigest, To: to, Name: m, Text: text})
		}
	}
	return out
}

// Plan builds every message of a run.
func (r *Router) Plan(ctx context.Context, result compliance.Result) []Message {
	msgs := r.ReviewerAlerts(ctx, result.ReviewerAlerts)
	msgs = append(msgs, r.Digests(ctx, result.Issues)...)
	return append(msgs, r.ManagerDigests(ctx, result.Issues)...)
}

// Send delivers messages concurrently. A failed send is logged and counted
// and never stops the others.
func (r *Router) Send(ctx context.Context, msgs []Message) Report {
	log := logger.FromContext(ctx)
	report := Report{Planned: len(msgs)}
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)
	for _, msg := range msgs {
		g.Go(func() error {
			err := r.deliver(ctx, msg)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				log.Error("notification failed", "kind", msg.Kind, "to", msg.To, "name", msg.Name, "error", err)
				return nil
			}
			report.Sent++
			log.Info("notification sent", "kind", msg.Kind, "to", msg.To, "name", msg.Name)
			return nil
		})
	}
	_ = g.Wait()
	return report
}

func (r *Router) deliver(ctx context.Context, msg Message) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: sink panicked: %v", ErrDeliveryFailed, p)
		}
	}()
	if err := r.sink.Send(ctx, msg.To, msg.Text); err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	return nil
}

// Dispatch plans and sends every message of a run.
func (r *Router) Dispatch(ctx context.Context, result compliance.Result) Report {
	return r.Send(ctx, r.Plan(ctx, result))
}

type target struct {
	id   string
	name string
}

// targets resolves the responsible people of a task, dropping duplicates
// that map to the same identity.
func (r *Router) targets(t model.Task) []target {
	var out []target
	seen := make(map[string]struct{}, len(t.Responsible))
	for _, name := range t.Responsible {
		id, ok := r.ids.Resolve(name)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, target{id: id, name: name})
	}
	return out
}

func appendToSpace(groups []spaceGroup, issue model.Issue) []spaceGroup {
	for i := range groups {
		if groups[i].Space == issue.Task.SpaceName {
			groups[i].Issues = append(groups[i].Issues, issue)
			return groups
		}
	}
	return append(groups, spaceGroup{Space: issue.Task.SpaceName, Issues: []model.Issue{issue}})
}

func appendAll(groups []spaceGroup, issues []model.Issue) []spaceGroup {
	for _, issue := range issues {
		groups = appendToSpace(groups, issue)
	}
	return groups
}

func groupByPrimary(issues []model.Issue) []personGroup {
	var groups []personGroup
	index := make(map[string]int)
	for _, issue := range issues {
		person := issue.Task.Primary()
		if person == "" {
			person = unassigned
		}
		key := identity.Normalize(person)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, personGroup{Person: person})
		}
		groups[i].Issues = append(groups[i].Issues, issue)
	}
	return groups
}
