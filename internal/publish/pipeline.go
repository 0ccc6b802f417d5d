// Package publish turns release tasks into transactional batches and runs
// them one after the other.
package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/ralt/repoctl/internal/commands"
	"github.com/ralt/repoctl/internal/fetcher"
	"github.com/ralt/repoctl/internal/manager"
	"github.com/ralt/repoctl/internal/models"
	"github.com/ralt/repoctl/internal/notify"
	"github.com/ralt/repoctl/internal/signer"
	"github.com/ralt/repoctl/internal/txn"
	"github.com/sirupsen/logrus"
)

// Options configures a Pipeline
type Options struct {
	Manager  manager.Manager
	Fetcher  *fetcher.Fetcher
	Notifier *notify.Notifier

	// Workers bounds concurrent downloads and listings per task
	Workers      int
	FetchTimeout time.Duration
	// Passphrase unlocks signing keys
	Passphrase string
	// RollbackRun undoes every completed task after one fails
	RollbackRun bool
}

// Summary lists task outcomes by repository name
type Summary struct {
	Attempted []string
	Succeeded []string
	Failed    map[string]error
	// RolledBack is set when completed tasks were undone
	RolledBack bool
}

// Pipeline publishes release tasks
type Pipeline struct {
	opts       Options
	controller *txn.Controller
}

// NewPipeline creates a pipeline with its own undo stack
func NewPipeline(opts Options) *Pipeline {
	if opts.Fetcher == nil {
		opts.Fetcher = fetcher.NewFetcher()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.New(nil, 0)
	}
	if opts.Workers < 1 {
		opts.Workers = fetcher.DefaultConcurrency
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = fetcher.DefaultFetchTimeout
	}
	return &Pipeline{opts: opts, controller: txn.NewController()}
}

// Controller exposes the pipeline's undo stack
func (p *Pipeline) Controller() *txn.Controller {
	return p.controller
}

// Build assembles the batch of commands for one task
func (p *Pipeline) Build(task models.ReleaseTask) (*txn.BatchOperation, error) {
	creds, err := signer.Resolve(task.SigningKey, p.opts.Passphrase)
	if err != nil {
		return nil, err
	}

	cmds := []txn.Transaction{
		&commands.CreateRepository{
			Manager:      p.opts.Manager,
			Repository:   task.Repository,
			Distribution: task.Distribution,
			Component:    task.Component,
		},
		&commands.PopulateRepository{
			Manager:        p.opts.Manager,
			Fetcher:        p.opts.Fetcher,
			Repository:     task.Repository,
			ContentSources: task.ContentSources,
			PackageGlob:    task.PackageGlob,
			Architectures:  task.Architectures,
			Workers:        p.opts.Workers,
			Timeout:        p.opts.FetchTimeout,
		},
		&commands.CreateSnapshot{
			Manager:    p.opts.Manager,
			Snapshot:   task.SnapshotName(),
			Repository: task.Repository,
		},
		&commands.PublishSnapshot{
			Manager:       p.opts.Manager,
			Snapshot:      task.SnapshotName(),
			Endpoint:      task.Endpoint,
			Distribution:  task.Distribution,
			Architectures: task.Architectures,
			Signing:       creds,
		},
	}
	if task.NotifyBaseURL != "" && len(task.NotifyKeys) > 0 {
		cmds = append(cmds, &commands.NotifyDownstream{
			Notifier: p.opts.Notifier,
			BaseURL:  task.NotifyBaseURL,
			Keys:     task.NotifyKeys,
		})
	}

	return txn.NewBatch(task.Repository, cmds...), nil
}

// Run executes every task in order. A failed task is rolled back on its own
// and, with RollbackRun, the tasks completed before it are undone too and
// the remaining ones are not attempted.
func (p *Pipeline) Run(ctx context.Context, tasks []models.ReleaseTask) (*Summary, error) {
	seen := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if seen[t.Repository] {
			return nil, models.NewError(models.ErrPrecondition, t.Repository,
				fmt.Errorf("repository targeted by more than one task"))
		}
		seen[t.Repository] = true
	}

	// Notifications run alongside later tasks; the run ends with them
	defer p.opts.Notifier.Wait()

	log := logrus.WithField("run", p.controller.RunID())
	summary := &Summary{Failed: make(map[string]error)}

	for _, task := range tasks {
		summary.Attempted = append(summary.Attempted, task.Repository)
		tlog := log.WithField("task", task.Repository)

		batch, err := p.Build(task)
		if err == nil {
			tlog.Infof("Publishing %s to %s/%s", task.Repository, task.Endpoint, task.Distribution)
			err = p.controller.Execute(ctx, batch)
		}
		if err == nil {
			summary.Succeeded = append(summary.Succeeded, task.Repository)
			continue
		}

		tlog.Errorf("Task failed: %v", err)
		summary.Failed[task.Repository] = err

		if p.opts.RollbackRun {
			tlog.Warnf("Rolling back %d completed tasks", p.controller.Len())
			if undoErr := p.controller.UndoAll(ctx); undoErr != nil {
				return summary, models.NewError(models.ErrTransaction, task.Repository,
					fmt.Errorf("rolling back run: %w", undoErr))
			}
			summary.RolledBack = true
			return summary, nil
		}
	}

	return summary, nil
}

// Err reports the failed tasks as one error, or nil
func (s *Summary) Err() error {
	if len(s.Failed) == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d tasks failed", len(s.Failed), len(s.Attempted))
}
