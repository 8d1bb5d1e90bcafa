// Package clickuptest provides an in-memory task source for tests.
package clickuptest

import (
	"context"
	"fmt"
	"sync"

	"github.com/harrisonrobin/clockwatch/pkg/clickup"
)

// Source serves a fixed hierarchy. Any key present in Fail makes the matching
// call return a source error; keys are "spaces", "folders:<spaceID>",
// "lists:<folderID>", "folderless:<spaceID>", "tasks:<listID>",
// "comments:<taskID>".
type Source struct {
	Spaces     []clickup.Space
	Folders    map[string][]clickup.Folder
	Lists      map[string][]clickup.List
	Folderless map[string][]clickup.List
	Tasks      map[string][]clickup.Task
	Comments   map[string][]clickup.Comment
	Fail       map[string]bool

	mu    sync.Mutex
	calls []string
}

func (s *Source) record(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, key)
	if s.Fail[key] {
		return &clickup.SourceError{Endpoint: key, StatusCode: 500, Err: fmt.Errorf("injected failure")}
	}
	return nil
}

// Calls returns the keys of every call made so far.
func (s *Source) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *Source) ListSpaces(_ context.Context, _ string) ([]clickup.Space, error) {
	if err := s.record("spaces"); err != nil {
		return nil, err
	}
	return s.Spaces, nil
}

func (s *Source) ListFolders(_ context.Context, spaceID string) ([]clickup.Folder, error) {
	if err := s.record("folders:" + spaceID); err != nil {
		return nil, err
	}
	return s.Folders[spaceID], nil
}

func (s *Source) ListLists(_ context.Context, folderID string) ([]clickup.List, error) {
	if err := s.record("lists:" + folderID); err != nil {
		return nil, err
	}
	return s.Lists[folderID], nil
}

func (s *Source) ListFolderlessLists(_ context.Context, spaceID string) ([]clickup.List, error) {
	if err := s.record("folderless:" + spaceID); err != nil {
		return nil, err
	}
	return s.Folderless[spaceID], nil
}

func (s *Source) ListTasks(_ context.Context, listID string, _ bool) ([]clickup.Task, error) {
	if err := s.record("tasks:" + listID); err != nil {
		return nil, err
	}
	return s.Tasks[listID], nil
}

func (s *Source) ListComments(_ context.Context, taskID string) ([]clickup.Comment, error) {
	if err := s.record("comments:" + taskID); err != nil {
		return nil, err
	}
	return s.Comments[taskID], nil
}
