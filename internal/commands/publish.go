package commands

import (
	"context"
	"fmt"

	"github.com/ralt/repoctl/internal/manager"
	"github.com/ralt/repoctl/internal/models"
	"github.com/ralt/repoctl/internal/signer"
	"github.com/sirupsen/logrus"
)

// PublishSnapshot makes a snapshot the live content of an endpoint and
// distribution. A mapping already live there is unpublished first and put
// back by Undo, signed as it was when the manager reports its key.
type PublishSnapshot struct {
	Manager       manager.Manager
	Snapshot      string
	Endpoint      models.Endpoint
	Distribution  string
	Architectures []string
	// Signing is nil to publish unsigned
	Signing *signer.Credentials

	replaced  *manager.Published
	published bool
}

func (c *PublishSnapshot) Name() string {
	return fmt.Sprintf("publish %s to %s/%s", c.Snapshot, c.Endpoint, c.Distribution)
}

func (c *PublishSnapshot) Execute(ctx context.Context) error {
	if c.Signing == nil {
		logrus.Warnf("No signing key for %s, publishing unsigned", c.Snapshot)
	}

	live, err := manager.FindPublished(ctx, c.Manager, c.Endpoint, c.Distribution)
	if err != nil {
		return err
	}
	if live != nil {
		logrus.Warnf("Replacing %s live at %s/%s", live.Snapshot, c.Endpoint, c.Distribution)
		if err := c.Manager.Unpublish(ctx, c.Endpoint, c.Distribution); err != nil {
			return err
		}
		c.replaced = live
	}

	err = c.Manager.Publish(ctx, manager.PublishRequest{
		Snapshot:      c.Snapshot,
		Endpoint:      c.Endpoint,
		Distribution:  c.Distribution,
		Architectures: c.Architectures,
		Signing:       c.Signing,
	})
	if err != nil {
		// Put the previous mapping back before reporting
		if restoreErr := c.restore(ctx); restoreErr != nil {
			return fmt.Errorf("%w (restoring %s also failed: %v)", err, c.replaced.Snapshot, restoreErr)
		}
		return err
	}

	c.published = true
	logrus.Infof("Published %s at %s/%s", c.Snapshot, c.Endpoint, c.Distribution)
	return nil
}

func (c *PublishSnapshot) Undo(ctx context.Context) error {
	if err := ignoreNotFound(c.Manager.Unpublish(ctx, c.Endpoint, c.Distribution)); err != nil {
		return err
	}
	c.published = false
	return c.restore(ctx)
}

func (c *PublishSnapshot) restore(ctx context.Context) error {
	if c.replaced == nil {
		return nil
	}
	prev := c.replaced
	signing := prev.Signing
	if !prev.SigningKnown {
		signing = c.Signing
		logrus.Warnf("Signing of %s unknown, restoring it with the key of %s", prev.Snapshot, c.Snapshot)
	}
	err := c.Manager.Publish(ctx, manager.PublishRequest{
		Snapshot:      prev.Snapshot,
		Endpoint:      prev.Endpoint,
		Distribution:  prev.Distribution,
		Architectures: prev.Architectures,
		Signing:       signing,
	})
	if err != nil {
		return err
	}
	logrus.Infof("Restored %s at %s/%s", prev.Snapshot, prev.Endpoint, prev.Distribution)
	c.replaced = nil
	return nil
}
