package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNotifySendsEachKeyOnce(t *testing.T) {
	var hits []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, r.URL.Path)
		if r.URL.Path == "/trigger/bad" {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	report := New(nil, time.Second).Notify(context.Background(), srv.URL+"/trigger/", []string{"qt5", "bad", "qt6"})

	assert.Equal(t, []string{"qt5", "qt6"}, report.Sent)
	assert.Contains(t, report.Failed, "bad")
	assert.Equal(t, []string{"/trigger/qt5", "/trigger/bad", "/trigger/qt6"}, hits)
}

func TestNotifyStopsHammeringDeadHost(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	keys := []string{"a", "b", "c", "d", "e", "f"}
	report := New(nil, time.Second).Notify(context.Background(), srv.URL, keys)

	assert.Empty(t, report.Sent)
	assert.Len(t, report.Failed, len(keys))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestNotifyInvalidURL(t *testing.T) {
	report := New(nil, time.Second).Notify(context.Background(), "::not a url", []string{"k"})
	assert.Len(t, report.Failed, 1)
}

func TestGoRunsInBackground(t *testing.T) {
	release := make(chan struct{})
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	n := New(nil, time.Minute)
	n.Go(context.Background(), srv.URL, []string{"a", "b", "a"})
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	close(release)
	n.Wait()
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGoStopsOnCancel(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	n := New(nil, time.Minute)
	n.Go(ctx, srv.URL, []string{"a", "b"})
	cancel()

	done := make(chan struct{})
	go func() {
		n.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("notifications kept running after cancellation")
	}
}
