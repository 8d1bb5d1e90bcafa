package clickup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrisonrobin/clockwatch/pkg/logger"
)

func TestMillis_UnmarshalJSON(t *testing.T) {
	t.Run("Should parse string and number timestamps", func(t *testing.T) {
		var s, n Millis
		require.NoError(t, json.Unmarshal([]byte(`"1700000000000"`), &s))
		require.NoError(t, json.Unmarshal([]byte(`1700000000000`), &n))
		assert.Equal(t, int64(1700000000000), s.UnixMilli())
		assert.True(t, s.Equal(n.Time))
	})

	t.Run("Should treat null and empty as unset", func(t *testing.T) {
		var list List
		require.NoError(t, json.Unmarshal([]byte(`{"id":"1","due_date":null}`), &list))
		assert.Nil(t, list.DueDate.Ptr())

		var m Millis
		require.NoError(t, json.Unmarshal([]byte(`""`), &m))
		assert.Nil(t, m.Ptr())
	})

	t.Run("Should reject garbage", func(t *testing.T) {
		var m Millis
		assert.Error(t, json.Unmarshal([]byte(`"tomorrow"`), &m))
	})
}

func TestTask_Field(t *testing.T) {
	task := Task{CustomFields: []CustomField{{Name: "Code Review & QA"}, {Name: "Time Tracked"}}}

	f, ok := task.Field("code review & qa")
	require.True(t, ok)
	assert.Equal(t, "Code Review & QA", f.Name)

	_, ok = task.Field("deployer")
	assert.False(t, ok)
}

func TestClient_Hierarchy(t *testing.T) {
	var auth string
	mux := http.NewServeMux()
	mux.HandleFunc("/team/42/space", func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Write([]byte(`{"spaces":[{"id":"s1","name":"Alpha"}]}`))
	})
	mux.HandleFunc("/space/s1/folder", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"folders":[{"id":"f1","name":"Sprints"}]}`))
	})
	mux.HandleFunc("/folder/f1/list", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"lists":[{"id":"l1","name":"Sprint 1","due_date":"1700000000000","percent_complete":40}]}`))
	})
	mux.HandleFunc("/task/t1/comment", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"comments":[{"id":"c1","comment_text":"done","user":{"id":7,"username":"Jane Doe"},"date":"1700000000000"}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, Token: "pk_test"})
	ctx := context.Background()

	spaces, err := c.ListSpaces(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, []Space{{ID: "s1", Name: "Alpha"}}, spaces)
	assert.Equal(t, "pk_test", auth)

	folders, err := c.ListFolders(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, folders, 1)

	lists, err := c.ListLists(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, lists, 1)
	assert.Equal(t, 40.0, lists[0].PercentComplete)
	require.NotNil(t, lists[0].DueDate.Ptr())

	comments, err := c.ListComments(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "Jane Doe", comments[0].User.DisplayName())
}

func TestClient_ListTasks(t *testing.T) {
	t.Run("Should page until last_page and request closed tasks", func(t *testing.T) {
		var pages []string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "true", r.URL.Query().Get("include_closed"))
			page := r.URL.Query().Get("page")
			pages = append(pages, page)
			if page == "0" {
				w.Write([]byte(`{"tasks":[{"id":"a","name":"A","status":{"status":"In Progress"}}],"last_page":false}`))
				return
			}
			w.Write([]byte(`{"tasks":[{"id":"b","name":"B"}],"last_page":true}`))
		}))
		defer srv.Close()

		tasks, err := NewClient(Options{BaseURL: srv.URL}).ListTasks(context.Background(), "l1", true)
		require.NoError(t, err)
		require.Len(t, tasks, 2)
		assert.Equal(t, []string{"0", "1"}, pages)
		assert.Equal(t, "In Progress", tasks[0].Status.Status)
		assert.Nil(t, tasks[1].Status)
	})

	t.Run("Should stop at the page limit and warn", func(t *testing.T) {
		var requests atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			requests.Add(1)
			w.Write([]byte(`{"tasks":[{"id":"x","name":"X"}],"last_page":false}`))
		}))
		defer srv.Close()

		var buf bytes.Buffer
		ctx := logger.ContextWithLogger(context.Background(), logger.NewLogger(&logger.Config{Level: logger.WarnLevel, Output: &buf}))
		tasks, err := NewClient(Options{BaseURL: srv.URL}).ListTasks(ctx, "l1", false)
		require.NoError(t, err)
		assert.Len(t, tasks, maxPages)
		assert.Equal(t, int32(maxPages), requests.Load())
		assert.Contains(t, buf.String(), "page limit reached")
	})
}

func TestClient_Errors(t *testing.T) {
	t.Run("Should surface API errors as source unavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"err":"Token invalid","ECODE":"OAUTH_025"}`))
		}))
		defer srv.Close()

		_, err := NewClient(Options{BaseURL: srv.URL}).ListSpaces(context.Background(), "42")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrSourceUnavailable))

		var srcErr *SourceError
		require.True(t, errors.As(err, &srcErr))
		assert.Equal(t, http.StatusUnauthorized, srcErr.StatusCode)
		assert.Equal(t, "OAUTH_025", srcErr.Code)
		assert.True(t, strings.Contains(err.Error(), "Token invalid"))
	})

	t.Run("Should surface transport errors as source unavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := NewClient(Options{BaseURL: url, Timeout: time.Second}).ListFolders(context.Background(), "s1")
		assert.ErrorIs(t, err, ErrSourceUnavailable)
	})
}

func TestClient_ConcurrencyCeiling(t *testing.T) {
	t.Run("Should never exceed the configured in-flight limit", func(t *testing.T) {
		var inFlight, peak int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			w.Write([]byte(`{"comments":[]}`))
		}))
		defer srv.Close()

		c := NewClient(Options{BaseURL: srv.URL, MaxConcurrency: 2})
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := c.ListComments(context.Background(), "t")
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	})
}
