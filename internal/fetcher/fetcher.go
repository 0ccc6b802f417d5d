// Package fetcher downloads and copies package files into a local directory
// with a bounded number of transfers in flight.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ralt/repoctl/internal/models"
	"github.com/ralt/repoctl/internal/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultConcurrency  = 10
	DefaultFetchTimeout = 10 * time.Minute
	DefaultBatchTimeout = time.Hour
)

// Fetcher copies local files and streams remote ones to disk.
type Fetcher struct {
	client       *http.Client
	userAgent    string
	batchTimeout time.Duration
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// WithBatchTimeout bounds a whole Fetch call.
func WithBatchTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		f.batchTimeout = d
	}
}

// NewFetcher creates a new Fetcher with the given options.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:       newHTTPClient(),
		userAgent:    "repoctl/1.0",
		batchTimeout: DefaultBatchTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// IsURL reports whether a locator names a remote resource
func IsURL(locator string) bool {
	return strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://")
}

// Fetch brings every locator into dest and returns the local paths in
// completion order. At most maxConcurrency transfers run at once and each
// one is bounded by timeout. The first failure cancels the remaining
// transfers; Fetch waits for all of them before returning it.
func (f *Fetcher) Fetch(ctx context.Context, locators []string, dest string, maxConcurrency int, timeout time.Duration) ([]string, error) {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	names := make(map[string]string, len(locators))
	for _, loc := range locators {
		name := baseName(loc)
		if prev, ok := names[name]; ok {
			return nil, models.NewError(models.ErrPrecondition, name,
				fmt.Errorf("%w: %s and %s", ErrDuplicateName, prev, loc))
		}
		names[name] = loc
	}

	if err := utils.EnsureDir(dest); err != nil {
		return nil, models.NewError(models.ErrFileOp, dest, err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.batchTimeout)
	defer cancel()

	sem := semaphore.NewWeighted(int64(maxConcurrency))
	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	results := make([]string, 0, len(locators))

	for _, loc := range locators {
		// Blocks while all slots are taken; fails once a transfer has
		// failed or the batch timed out
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}

		g.Go(func() error {
			defer sem.Release(1)

			local, err := f.fetchOne(gctx, loc, dest, timeout)
			if err != nil {
				return err
			}

			mu.Lock()
			results = append(results, local)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, models.NewError(models.ErrFetch, dest, fmt.Errorf("batch aborted: %w", err))
	}

	logrus.Infof("Fetched %d files into %s", len(results), dest)
	return results, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, loc, dest string, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	target := filepath.Join(dest, baseName(loc))

	var err error
	if IsURL(loc) {
		err = f.download(ctx, loc, target)
	} else if err = ctx.Err(); err == nil {
		err = utils.CopyFile(strings.TrimPrefix(loc, "file://"), target)
	}
	if err != nil {
		return "", models.NewError(models.ErrFetch, loc, err)
	}
	return target, nil
}

// download streams url into target through a temporary .part file
func (f *Fetcher) download(ctx context.Context, url, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &HTTPError{StatusCode: resp.StatusCode, URL: url, Body: strings.TrimSpace(string(body))}
	}

	part := target + ".part"
	out, err := os.Create(part)
	if err != nil {
		return err
	}

	n, err := io.Copy(out, resp.Body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(part)
		return fmt.Errorf("writing %s: %w", target, err)
	}

	if err := os.Rename(part, target); err != nil {
		os.Remove(part)
		return err
	}

	logrus.Debugf("Downloaded %s (%s)", url, humanize.Bytes(uint64(n)))
	return nil
}

func baseName(loc string) string {
	if IsURL(loc) {
		if i := strings.IndexAny(loc, "?#"); i >= 0 {
			loc = loc[:i]
		}
		return path.Base(loc)
	}
	return filepath.Base(loc)
}
