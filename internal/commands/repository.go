// Package commands holds the reversible steps of a publish: each one does a
// single thing against the repository manager and knows how to take it back.
package commands

import (
	"context"
	"fmt"

	"github.com/ralt/repoctl/internal/manager"
	"github.com/sirupsen/logrus"
)

// CreateRepository creates an empty repository; undo force-deletes it
type CreateRepository struct {
	Manager      manager.Manager
	Repository   string
	Distribution string
	Component    string
}

func (c *CreateRepository) Name() string {
	return fmt.Sprintf("create repository %s", c.Repository)
}

func (c *CreateRepository) Execute(ctx context.Context) error {
	if err := c.Manager.CreateRepo(ctx, c.Repository, c.Distribution, c.Component); err != nil {
		return err
	}
	logrus.Infof("Created repository %s (%s/%s)", c.Repository, c.Distribution, c.Component)
	return nil
}

func (c *CreateRepository) Undo(ctx context.Context) error {
	return ignoreNotFound(c.Manager.DeleteRepo(ctx, c.Repository))
}

// CreateSnapshot freezes a repository; undo deletes the snapshot
type CreateSnapshot struct {
	Manager    manager.Manager
	Snapshot   string
	Repository string
}

func (c *CreateSnapshot) Name() string {
	return fmt.Sprintf("create snapshot %s", c.Snapshot)
}

func (c *CreateSnapshot) Execute(ctx context.Context) error {
	if err := c.Manager.CreateSnapshot(ctx, c.Snapshot, c.Repository); err != nil {
		return err
	}
	logrus.Infof("Created snapshot %s of %s", c.Snapshot, c.Repository)
	return nil
}

func (c *CreateSnapshot) Undo(ctx context.Context) error {
	return ignoreNotFound(c.Manager.DeleteSnapshot(ctx, c.Snapshot))
}
