// Package notify triggers downstream testing after a publish. Every key is
// sent at most once and failures are only logged: notifications are not
// part of the publish's consistency guarantees and cannot be revoked.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"
	"github.com/sirupsen/logrus"
)

// Report summarizes one notification round
type Report struct {
	Sent   []string
	Failed map[string]error
}

// Notifier sends best-effort GET requests, one per key
type Notifier struct {
	client   *http.Client
	timeout  time.Duration
	mu       sync.Mutex
	breakers map[string]*circuit.Breaker
	inflight sync.WaitGroup
}

// New returns a notifier. Each request is bounded by timeout.
func New(client *http.Client, timeout time.Duration) *Notifier {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		client:   client,
		timeout:  timeout,
		breakers: make(map[string]*circuit.Breaker),
	}
}

// breaker returns the circuit breaker of a downstream host. It trips after
// three consecutive failures so a dead host doesn't stall the release with
// one timeout per key.
func (n *Notifier) breaker(host string) *circuit.Breaker {
	n.mu.Lock()
	defer n.mu.Unlock()

	if b, ok := n.breakers[host]; ok {
		return b
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Reset()

	b := circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(3),
	})
	n.breakers[host] = b
	return b
}

// Notify requests <baseURL>/<key> for every key
func (n *Notifier) Notify(ctx context.Context, baseURL string, keys []string) Report {
	report := Report{Failed: make(map[string]error)}

	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil || base.Host == "" {
		for _, k := range keys {
			report.Failed[k] = fmt.Errorf("invalid notification URL %q", baseURL)
		}
		logrus.Warnf("Skipping %d notifications: invalid URL %q", len(keys), baseURL)
		return report
	}

	b := n.breaker(base.Host)
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true
		target := base.String() + "/" + url.PathEscape(key)

		if !b.Ready() {
			report.Failed[key] = fmt.Errorf("circuit open for %s", base.Host)
			logrus.Warnf("Not notifying %s: too many failures on %s", key, base.Host)
			continue
		}

		err := b.Call(func() error {
			return n.get(ctx, target)
		}, 0)
		if err != nil {
			report.Failed[key] = err
			logrus.Warnf("Notification %s failed: %v", key, err)
			continue
		}

		report.Sent = append(report.Sent, key)
		logrus.Infof("Notified downstream: %s", key)
	}
	return report
}

// Go runs Notify in the background and returns at once. The round stops
// early when ctx is cancelled.
func (n *Notifier) Go(ctx context.Context, baseURL string, keys []string) {
	n.inflight.Add(1)
	go func() {
		defer n.inflight.Done()
		report := n.Notify(ctx, baseURL, keys)
		if len(report.Failed) > 0 {
			logrus.Warnf("%d of %d notifications failed", len(report.Failed), len(keys))
		}
	}()
}

// Wait blocks until every round started with Go has finished
func (n *Notifier) Wait() {
	n.inflight.Wait()
}

func (n *Notifier) get(ctx context.Context, target string) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("HTTP %d from %s", resp.StatusCode, target)
	}
	return nil
}
