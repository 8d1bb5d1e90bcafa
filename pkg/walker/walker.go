// Package walker traverses spaces, folders, lists and tasks of a workspace and
// flattens the tasks of active lists in tracked spaces.
package walker

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harrisonrobin/clockwatch/pkg/clickup"
	"github.com/harrisonrobin/clockwatch/pkg/logger"
)

const DefaultConcurrency = 5

// Source is the part of the task tracker the walker reads.
type Source interface {
	ListSpaces(ctx context.Context, teamID string) ([]clickup.Space, error)
	ListFolders(ctx context.Context, spaceID string) ([]clickup.Folder, error)
	ListLists(ctx context.Context, folderID string) ([]clickup.List, error)
	ListFolderlessLists(ctx context.Context, spaceID string) ([]clickup.List, error)
	ListTasks(ctx context.Context, listID string, includeClosed bool) ([]clickup.Task, error)
}

// RawTask is a tracker task tagged with the space that admitted it.
type RawTask struct {
	Task      clickup.Task
	SpaceName string
	ListID    string
}

// IsActive reports whether a list is still running: not fully complete and
// not past its due date.
func IsActive(l clickup.List, now time.Time) bool {
	if l.PercentComplete >= 100 {
		return false
	}
	due := l.DueDate.Ptr()
	return due == nil || !due.Before(now)
}

type Walker struct {
	src         Source
	tracked     map[string]struct{}
	concurrency int
	now         func() time.Time
}

type Option func(*Walker)

// WithConcurrency bounds how many branches are fetched at once.
func WithConcurrency(n int) Option {
	return func(w *Walker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(w *Walker) {
		if now != nil {
			w.now = now
		}
	}
}

// New creates a Walker. trackedSpaces is an allow-list matched exactly.
func New(src Source, trackedSpaces []string, opts ...Option) *Walker {
	w := &Walker{
		src:         src,
		tracked:     make(map[string]struct{}, len(trackedSpaces)),
		concurrency: DefaultConcurrency,
		now:         time.Now,
	}
	for _, s := range trackedSpaces {
		w.tracked[s] = struct{}{}
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// container is a source of lists: a folder, or a space's folderless lists.
type container struct {
	space    clickup.Space
	folderID string
}

type activeList struct {
	space clickup.Space
	list  clickup.List
}

// CollectActiveTasks returns the tasks of every active list in the tracked
// spaces of a workspace. Only a failure to list spaces is returned; failures
// further down are logged and the branch contributes nothing.
func (w *Walker) CollectActiveTasks(ctx context.Context, workspaceID string) ([]RawTask, error) {
	log := logger.FromContext(ctx)

	spaces, err := w.src.ListSpaces(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("listing spaces of workspace %s: %w", workspaceID, err)
	}
	log.Info("fetched spaces", "count", len(spaces))

	var tracked []clickup.Space
	for _, s := range spaces {
		if _, ok := w.tracked[s.Name]; ok {
			tracked = append(tracked, s)
		}
	}
	if len(tracked) == 0 {
		log.Warn("no tracked spaces found in workspace", "workspace", workspaceID)
		return nil, nil
	}

	containers := w.collectContainers(ctx, tracked)
	lists := w.collectActiveLists(ctx, containers)
	return w.collectTasks(ctx, lists), nil
}

func (w *Walker) collectContainers(ctx context.Context, spaces []clickup.Space) []container {
	log := logger.FromContext(ctx)
	perSpace := make([][]container, len(spaces))

	g := new(errgroup.Group)
	g.SetLimit(w.concurrency)
	for i, space := range spaces {
		g.Go(func() error {
			folders, err := w.src.ListFolders(ctx, space.ID)
			if err != nil {
				log.Error("could not fetch folders", "space", space.Name, "error", err)
			} else {
				log.Debug("fetched folders", "space", space.Name, "count", len(folders))
			}
			out := make([]container, 0, len(folders)+1)
			for _, f := range folders {
				out = append(out, container{space: space, folderID: f.ID})
			}
			// Folderless lists come last.
			perSpace[i] = append(out, container{space: space})
			return nil
		})
	}
	_ = g.Wait()

	var all []container
	for _, cs := range perSpace {
		all = append(all, cs...)
	}
	return all
}

func (w *Walker) collectActiveLists(ctx context.Context, containers []container) []activeList {
	log := logger.FromContext(ctx)
	now := w.now()
	perContainer := make([][]activeList, len(containers))

	g := new(errgroup.Group)
	g.SetLimit(w.concurrency)
	for i, c := range containers {
		g.Go(func() error {
			var (
				lists []clickup.List
				err   error
			)
			if c.folderID == "" {
				lists, err = w.src.ListFolderlessLists(ctx, c.space.ID)
			} else {
				lists, err = w.src.ListLists(ctx, c.folderID)
			}
			if err != nil {
				log.Error("could not fetch lists", "space", c.space.Name, "folder", c.folderID, "error", err)
				return nil
			}
			for _, l := range lists {
				if !IsActive(l, now) {
					log.Debug("skipping inactive list", "list", l.Name, "percent_complete", l.PercentComplete)
					continue
				}
				perContainer[i] = append(perContainer[i], activeList{space: c.space, list: l})
			}
			return nil
		})
	}
	_ = g.Wait()

	var all []activeList
	for _, ls := range perContainer {
		all = append(all, ls...)
	}
	return all
}

func (w *Walker) collectTasks(ctx context.Context, lists []activeList) []RawTask {
	log := logger.FromContext(ctx)
	perList := make([][]RawTask, len(lists))

	g := new(errgroup.Group)
	g.SetLimit(w.concurrency)
	for i, al := range lists {
		g.Go(func() error {
			tasks, err := w.src.ListTasks(ctx, al.list.ID, true)
			if err != nil {
				log.Error("could not fetch tasks", "space", al.space.Name, "list", al.list.Name, "error", err)
				return nil
			}
			log.Debug("fetched tasks", "list", al.list.Name, "count", len(tasks))
			out := make([]RawTask, 0, len(tasks))
			for _, t := range tasks {
				out = append(out, RawTask{Task: t, SpaceName: al.space.Name, ListID: al.list.ID})
			}
			perList[i] = out
			return nil
		})
	}
	_ = g.Wait()

	var all []RawTask
	for _, ts := range perList {
		all = append(all, ts...)
	}
	return all
}
