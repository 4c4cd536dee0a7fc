// Package resource models the files an app run reads and writes. A resource
// lives on the local filesystem, at an HTTP URL, or both once it has been
// downloaded.
package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/seantiz/anvil/internal/apperr"
)

// Resource is one input or output file of a run.
type Resource struct {
	PathLocal string
	PathURL   string
	Required  bool

	client *http.Client
	done   atomic.Bool
}

// Option configures a Resource.
type Option func(*Resource)

// WithClient sets the HTTP client used for remote transfers.
func WithClient(c *http.Client) Option {
	return func(r *Resource) {
		if c != nil {
			r.client = c
		}
	}
}

// Optional marks the resource as not required.
func Optional() Option {
	return func(r *Resource) { r.Required = false }
}

// New creates a resource from a locator: http(s) URLs become remote
// resources, anything else a local path.
func New(locator string, opts ...Option) (*Resource, error) {
	if locator == "" {
		return nil, errors.New("resource locator is empty")
	}
	r := &Resource{Required: true, client: http.DefaultClient}
	if IsURL(locator) {
		r.PathURL = locator
	} else {
		abs, err := filepath.Abs(locator)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", locator, err)
		}
		r.PathLocal = abs
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// IsURL reports whether s is an http(s) URL.
func IsURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Path returns the local path if known, else the URL.
func (r *Resource) Path() string {
	if r.PathLocal != "" {
		return r.PathLocal
	}
	return r.PathURL
}

func (r *Resource) String() string { return r.Path() }

// Done reports whether polling saw the resource exist.
func (r *Resource) Done() bool { return r.done.Load() }

// MarkDone records that the resource exists remotely.
func (r *Resource) MarkDone() { r.done.Store(true) }

// EnsureLocal makes the resource available on disk. Local resources return
// immediately; remote ones are downloaded to root/filename.
func (r *Resource) EnsureLocal(ctx context.Context, root, filename string) error {
	switch {
	case r.PathLocal != "":
		return nil
	case r.PathURL == "":
		return errors.New("resource has neither a local path nor a URL")
	case root == "" || filename == "":
		return errors.New("download needs a root directory and a filename")
	}

	dst := filepath.Join(root, filename)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", root, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.PathURL, nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", r.PathURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("download %s: unexpected status %d", r.PathURL, resp.StatusCode)
	}

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return fmt.Errorf("download %s: %w", r.PathURL, err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	r.PathLocal = dst
	return nil
}

// EnsureURL checks the resource is reachable over HTTP. Uploading local files
// is not done here; callers publish them first.
func (r *Resource) EnsureURL(context.Context) error {
	if r.PathURL != "" {
		return nil
	}
	return fmt.Errorf("%w: %s has no URL", apperr.ErrNotSupported, r.PathLocal)
}

type stats struct {
	Exists *bool `json:"exists"`
}

// Poll asks the remote end whether the resource exists yet by requesting
// {url}/stats, which must answer {"exists": bool}.
func (r *Resource) Poll(ctx context.Context) (bool, error) {
	if r.PathURL == "" {
		return false, errors.New("cannot poll a resource without a URL")
	}
	statsURL, err := url.JoinPath(r.PathURL, "stats")
	if err != nil {
		return false, fmt.Errorf("build stats URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statsURL, nil)
	if err != nil {
		return false, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("poll %s: %w", statsURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, apperr.Errorf(apperr.KindOutput, "", "poll", "%w: %s answered %d", apperr.ErrProtocol, statsURL, resp.StatusCode)
	}
	var s stats
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil || s.Exists == nil {
		return false, apperr.Errorf(apperr.KindOutput, "", "poll", "%w: %s did not answer {exists: bool}", apperr.ErrProtocol, statsURL)
	}
	return *s.Exists, nil
}

// Deliver writes the file at src to the resource: a multipart POST for URL
// destinations, a copy for local ones.
func (r *Resource) Deliver(ctx context.Context, src string) error {
	if r.PathURL != "" && r.PathLocal == "" {
		return r.upload(ctx, src)
	}
	if r.PathLocal == "" {
		return errors.New("resource has neither a local path nor a URL")
	}
	return CopyFile(src, r.PathLocal)
}

func (r *Resource) upload(ctx context.Context, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(src))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.PathURL, pr)
	if err != nil {
		pr.CloseWithError(err)
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload to %s: %w", r.PathURL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("upload to %s: unexpected status %d", r.PathURL, resp.StatusCode)
	}
	return nil
}

// CopyFile copies src to dst, creating dst's directory.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	return out.Close()
}
