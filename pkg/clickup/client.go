package clickup

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/harrisonrobin/clockwatch/pkg/logger"
)

const (
	DefaultBaseURL        = "https://api.clickup.com/api/v2"
	DefaultMaxConcurrency = 5
	// ClickUp returns at most this many tasks per page.
	pageSize = 100
	maxPages = 50
)

// ErrSourceUnavailable marks any ClickUp call that could not complete.
var ErrSourceUnavailable = errors.New("task source unavailable")

// SourceError describes a failed ClickUp call.
type SourceError struct {
	Endpoint   string
	StatusCode int
	Code       string
	Err        error
}

func (e *SourceError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Code != "":
		return fmt.Sprintf("clickup %s: status %d (%s): %v", e.Endpoint, e.StatusCode, e.Code, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("clickup %s: status %d: %v", e.Endpoint, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("clickup %s: %v", e.Endpoint, e.Err)
	}
}

func (e *SourceError) Unwrap() error { return e.Err }

func (e *SourceError) Is(target error) bool { return target == ErrSourceUnavailable }

// apiError is ClickUp's error body.
type apiError struct {
	Err   string `json:"err"`
	ECode string `json:"ECODE"`
}

type Options struct {
	BaseURL string
	Token   string
	// MaxConcurrency bounds simultaneous in-flight requests.
	MaxConcurrency int
	// MinInterval spaces out consecutive requests; zero disables it.
	MinInterval time.Duration
	Timeout     time.Duration
	Debug       bool
}

// Client talks to the ClickUp v2 REST API. All requests share one
// concurrency ceiling, however many goroutines use the client.
type Client struct {
	http    *resty.Client
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("Authorization", opts.Token).
		SetDebug(opts.Debug)

	c := &Client{
		http: httpClient,
		sem:  semaphore.NewWeighted(int64(opts.MaxConcurrency)),
	}
	if opts.MinInterval > 0 {
		c.limiter = rate.NewLimiter(rate.Every(opts.MinInterval), 1)
	}
	return c
}

func (c *Client) get(ctx context.Context, endpoint string, params map[string]string, out any) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return &SourceError{Endpoint: endpoint, Err: err}
	}
	defer c.sem.Release(1)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &SourceError{Endpoint: endpoint, Err: err}
		}
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		ForceContentType("application/json").
		SetResult(out).
		SetError(&apiError{}).
		Get(endpoint)
	if err != nil {
		return &SourceError{Endpoint: endpoint, Err: err}
	}
	if resp.IsError() {
		srcErr := &SourceError{Endpoint: endpoint, StatusCode: resp.StatusCode(), Err: errors.New(resp.Status())}
		if body, ok := resp.Error().(*apiError); ok && body != nil && body.Err != "" {
			srcErr.Err = errors.New(body.Err)
			srcErr.Code = body.ECode
		}
		return srcErr
	}

	logger.FromContext(ctx).Debug("clickup request completed", "endpoint", endpoint, "status", resp.StatusCode(), "elapsed", resp.Time())
	return nil
}

// ListSpaces returns every space of a workspace (team).
func (c *Client) ListSpaces(ctx context.Context, teamID string) ([]Space, error) {
	var out spacesResponse
	if err := c.get(ctx, "/team/"+teamID+"/space", nil, &out); err != nil {
		return nil, err
	}
	return out.Spaces, nil
}

func (c *Client) ListFolders(ctx context.Context, spaceID string) ([]Folder, error) {
	var out foldersResponse
	if err := c.get(ctx, "/space/"+spaceID+"/folder", nil, &out); err != nil {
		return nil, err
	}
	return out.Folders, nil
}

func (c *Client) ListLists(ctx context.Context, folderID string) ([]List, error) {
	var out listsResponse
	if err := c.get(ctx, "/folder/"+folderID+"/list", nil, &out); err != nil {
		return nil, err
	}
	return out.Lists, nil
}

// ListFolderlessLists returns lists that sit directly under a space.
func (c *Client) ListFolderlessLists(ctx context.Context, spaceID string) ([]List, error) {
	var out listsResponse
	if err := c.get(ctx, "/space/"+spaceID+"/list", nil, &out); err != nil {
		return nil, err
	}
	return out.Lists, nil
}

// ListTasks pages through all tasks of a list, up to maxPages pages.
func (c *Client) ListTasks(ctx context.Context, listID string, includeClosed bool) ([]Task, error) {
	var all []Task
	for page := 0; ; page++ {
		if page == maxPages {
			logger.FromContext(ctx).Warn("task page limit reached, remaining tasks ignored",
				"list", listID, "pages", maxPages, "tasks", len(all))
			break
		}
		var out tasksResponse
		params := map[string]string{
			"include_closed": strconv.FormatBool(includeClosed),
			"page":           strconv.Itoa(page),
		}
		if err := c.get(ctx, "/list/"+listID+"/task", params, &out); err != nil {
			return nil, err
		}
		all = append(all, out.Tasks...)

		if len(out.Tasks) == 0 {
			break
		}
		if out.LastPage != nil {
			if *out.LastPage {
				break
			}
		} else if len(out.Tasks) < pageSize {
			break
		}
	}
	return all, nil
}

func (c *Client) ListComments(ctx context.Context, taskID string) ([]Comment, error) {
	var out commentsResponse
	if err := c.get(ctx, "/task/"+taskID+"/comment", nil, &out); err != nil {
		return nil, err
	}
	return out.Comments, nil
}
