package commands

import (
	"context"
	"fmt"

	"github.com/ralt/repoctl/internal/notify"
	"github.com/sirupsen/logrus"
)

// NotifyDownstream triggers downstream testing in the background. It never
// fails the batch and cannot be undone.
type NotifyDownstream struct {
	Notifier *notify.Notifier
	BaseURL  string
	Keys     []string
}

func (c *NotifyDownstream) Name() string {
	return fmt.Sprintf("notify %d downstream keys", len(c.Keys))
}

// Execute starts the notifications and returns without waiting for them
func (c *NotifyDownstream) Execute(ctx context.Context) error {
	logrus.Debugf("Notifying %d downstream keys at %s", len(c.Keys), c.BaseURL)
	c.Notifier.Go(ctx, c.BaseURL, c.Keys)
	return nil
}

func (c *NotifyDownstream) Undo(ctx context.Context) error {
	return nil
}
