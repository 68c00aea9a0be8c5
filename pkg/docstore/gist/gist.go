// Package gist stores document sets as private GitHub gists, one gist per
// set and one gist file per document.
package gist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/go-github/v90/github"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/worldtracker/pkg/docstore"
)

// errBodyLimit bounds the API message quoted in errors.
const errBodyLimit = 200

var _ docstore.Store = (*Client)(nil)

// Option configures a [Client].
type Option func(*options)

type options struct {
	baseURL string
	http    *http.Client
}

// WithBaseURL overrides the API root, e.g. for GitHub Enterprise or tests.
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

// WithHTTPClient replaces the HTTP client used for all requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.http = hc }
}

// Client talks to the GitHub gist API.
type Client struct {
	gh *github.Client
}

// New creates a Client authenticating with token. Requests are bounded only
// by the caller's context.
func New(token string, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	gh := github.NewClient(o.http).WithAuthToken(token)
	if o.baseURL != "" {
		u, err := url.Parse(strings.TrimRight(o.baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("gist: base url %q: %w", o.baseURL, err)
		}
		gh.BaseURL = u
	}
	return &Client{gh: gh}, nil
}

// FetchAll implements [docstore.Store]. Files the API truncates are fetched
// from their raw URL concurrently.
func (c *Client) FetchAll(ctx context.Context, id string) (map[string][]byte, error) {
	g, resp, err := c.gh.Gists.Get(ctx, id)
	if err != nil {
		return nil, apiError("fetch", id, resp, err)
	}

	var (
		mu  sync.Mutex
		out = make(map[string][]byte, len(g.Files))
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(4)
	for fn, f := range g.Files {
		name := string(fn)
		if !truncated(f) {
			out[name] = []byte(f.GetContent())
			continue
		}
		rawURL := f.GetRawURL()
		eg.Go(func() error {
			body, err := c.raw(egCtx, rawURL)
			if err != nil {
				return fmt.Errorf("gist: raw %q: %w", name, err)
			}
			mu.Lock()
			out[name] = body
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// truncated reports whether the API returned only part of f. The gist
// endpoint cuts content of large files but keeps their full size.
func truncated(f github.GistFile) bool {
	if f.GetRawURL() == "" {
		return false
	}
	return f.Content == nil || f.GetSize() > len(f.GetContent())
}

// Patch implements [docstore.Store].
func (c *Client) Patch(ctx context.Context, id string, files map[string]docstore.File) error {
	_, resp, err := c.gh.Gists.Edit(ctx, id, &github.Gist{Files: gistFiles(files)})
	if err != nil {
		return apiError("update", id, resp, err)
	}
	return nil
}

// Create implements [docstore.Store]. New gists are always secret.
func (c *Client) Create(ctx context.Context, description string, files map[string]docstore.File) (string, error) {
	g, resp, err := c.gh.Gists.Create(ctx, &github.Gist{
		Description: github.Ptr(description),
		Public:      github.Ptr(false),
		Files:       gistFiles(files),
	})
	if err != nil {
		return "", apiError("create", "", resp, err)
	}
	return g.GetID(), nil
}

func gistFiles(files map[string]docstore.File) map[github.GistFilename]github.GistFile {
	out := make(map[github.GistFilename]github.GistFile, len(files))
	for name, f := range files {
		out[github.GistFilename(name)] = github.GistFile{Content: github.Ptr(f.Content)}
	}
	return out
}

func (c *Client) raw(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := c.gh.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	resp, err := c.gh.Do(ctx, req, &buf)
	if err != nil {
		return nil, apiError("raw fetch", "", resp, err)
	}
	return buf.Bytes(), nil
}

// apiError maps a 404 to [docstore.ErrNotFound] and renders other API
// failures as "Gist <verb> failed (<status>): <message>".
func apiError(verb, id string, resp *github.Response, err error) error {
	if resp == nil {
		return fmt.Errorf("gist: %s: %w", verb, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("gist: %s %q: %w", verb, id, docstore.ErrNotFound)
	}
	msg := err.Error()
	var er *github.ErrorResponse
	if errors.As(err, &er) {
		msg = er.Message
	}
	if len(msg) > errBodyLimit {
		msg = msg[:errBodyLimit]
	}
	return fmt.Errorf("Gist %s failed (%d): %s", verb, resp.StatusCode, strings.TrimSpace(msg))
}
