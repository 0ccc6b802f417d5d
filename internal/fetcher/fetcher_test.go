package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ralt/repoctl/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchLocalAndRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "remote:%s", r.URL.Path)
	}))
	defer srv.Close()

	src := filepath.Join(t.TempDir(), "local_1.0_amd64.deb")
	require.NoError(t, os.WriteFile(src, []byte("local"), 0644))

	dest := t.TempDir()
	paths, err := NewFetcher().Fetch(context.Background(),
		[]string{src, srv.URL + "/pool/remote_2.0_amd64.deb"}, dest, 2, time.Minute)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(dest, "local_1.0_amd64.deb"),
		filepath.Join(dest, "remote_2.0_amd64.deb"),
	}, paths)

	data, err := os.ReadFile(filepath.Join(dest, "remote_2.0_amd64.deb"))
	require.NoError(t, err)
	assert.Equal(t, "remote:/pool/remote_2.0_amd64.deb", string(data))
}

func TestFetchBoundsConcurrency(t *testing.T) {
	const limit = 3
	var active, peak int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&active, 1)
		defer atomic.AddInt32(&active, -1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	var urls []string
	for i := 0; i < 15; i++ {
		urls = append(urls, fmt.Sprintf("%s/p%d.deb", srv.URL, i))
	}

	paths, err := NewFetcher().Fetch(context.Background(), urls, t.TempDir(), limit, time.Minute)
	require.NoError(t, err)
	assert.Len(t, paths, len(urls))
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(limit))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&peak), int32(1))
}

func TestFetchFailureCancelsAndAwaitsSiblings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad.deb" {
			http.Error(w, "gone", http.StatusNotFound)
			return
		}
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
			w.Write([]byte("late"))
		}
	}))
	defer srv.Close()

	dest := t.TempDir()
	start := time.Now()
	_, err := NewFetcher().Fetch(context.Background(),
		[]string{srv.URL + "/slow1.deb", srv.URL + "/slow2.deb", srv.URL + "/bad.deb"}, dest, 3, time.Minute)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, models.IsType(err, models.ErrFetch))
	assert.Less(t, time.Since(start), 4*time.Second)

	// No partial downloads are left behind
	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFetchPerFileTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := NewFetcher().Fetch(context.Background(), []string{srv.URL + "/a.deb"}, t.TempDir(), 1, 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestFetchRejectsDuplicateNames(t *testing.T) {
	_, err := NewFetcher().Fetch(context.Background(),
		[]string{"/a/pkg.deb", "https://example.invalid/b/pkg.deb"}, t.TempDir(), 2, time.Minute)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateName))
	assert.True(t, models.IsType(err, models.ErrPrecondition))
}
