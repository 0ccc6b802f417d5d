package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/sync/errgroup"
)

const defaultMaxDepth = 16

// Crawler discovers package files below a URL by walking HTML directory
// listings breadth first.
type Crawler struct {
	client    *http.Client
	userAgent string
	workers   int
	maxDepth  int
}

// NewCrawler returns a crawler sharing the fetcher's HTTP client
func NewCrawler(f *Fetcher, workers int) *Crawler {
	if workers < 1 {
		workers = DefaultConcurrency
	}
	return &Crawler{
		client:    f.client,
		userAgent: f.userAgent,
		workers:   workers,
		maxDepth:  defaultMaxDepth,
	}
}

type listing struct {
	files []*url.URL
	dirs  []*url.URL
}

// Crawl returns the URLs of all files below baseURL whose name matches glob.
// Every directory of one level is listed concurrently before descending.
// Links leaving the base URL's subtree are ignored.
func (c *Crawler) Crawl(ctx context.Context, baseURL, glob string) ([]string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", baseURL, err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	visited := map[string]bool{base.String(): true}
	level := []*url.URL{base}
	var files []string

	for depth := 0; len(level) > 0; depth++ {
		if depth > c.maxDepth {
			logrus.Warnf("Stopping crawl of %s at depth %d", baseURL, c.maxDepth)
			break
		}

		listings := make([]listing, len(level))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.workers)
		for i, dir := range level {
			g.Go(func() error {
				l, err := c.list(gctx, dir, base)
				if err != nil {
					return err
				}
				listings[i] = l
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		var next []*url.URL
		for _, l := range listings {
			for _, f := range l.files {
				if ok, _ := path.Match(glob, path.Base(f.Path)); ok && !visited[f.String()] {
					visited[f.String()] = true
					files = append(files, f.String())
				}
			}
			for _, d := range l.dirs {
				if !visited[d.String()] {
					visited[d.String()] = true
					next = append(next, d)
				}
			}
		}
		level = next
	}

	sort.Strings(files)
	logrus.Infof("Found %d files matching %s below %s", len(files), glob, baseURL)
	return files, nil
}

func (c *Crawler) list(ctx context.Context, dir, base *url.URL) (listing, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dir.String(), nil)
	if err != nil {
		return listing{}, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return listing{}, fmt.Errorf("listing %s: %w", dir, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return listing{}, &HTTPError{StatusCode: resp.StatusCode, URL: dir.String(), Body: strings.TrimSpace(string(body))}
	}

	hrefs, err := extractLinks(resp.Body)
	if err != nil {
		return listing{}, fmt.Errorf("parsing listing %s: %w", dir, err)
	}

	var l listing
	for _, href := range hrefs {
		ref, err := url.Parse(href)
		if err != nil || ref.RawQuery != "" || (ref.Path == "" && ref.Fragment != "") {
			continue
		}
		u := dir.ResolveReference(ref)
		u.Fragment = ""
		if u.Host != base.Host || !strings.HasPrefix(u.Path, base.Path) || u.Path == dir.Path {
			continue
		}
		if strings.HasSuffix(u.Path, "/") {
			l.dirs = append(l.dirs, u)
		} else {
			l.files = append(l.files, u)
		}
	}
	return l, nil
}

func extractLinks(r io.Reader) ([]string, error) {
	var links []string
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return links, nil
			}
			return nil, z.Err()
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.DataAtom != atom.A {
				continue
			}
			for _, attr := range tok.Attr {
				if attr.Key == "href" && attr.Val != "" {
					links = append(links, attr.Val)
				}
			}
		}
	}
}
