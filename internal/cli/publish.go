package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/ralt/repoctl/internal/config"
	"github.com/ralt/repoctl/internal/fetcher"
	"github.com/ralt/repoctl/internal/manager"
	"github.com/ralt/repoctl/internal/models"
	"github.com/ralt/repoctl/internal/publish"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type publishOptions struct {
	configPath   string
	managerURL   string
	prefix       string
	passphrase   string
	workers      int
	fetchTimeout time.Duration
	rollbackRun  bool
	dryRun       bool
	localRoot    string
}

// NewPublishCmd creates the publish command
func NewPublishCmd() *cobra.Command {
	var opts publishOptions

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish repositories described by a task file",
		Long: `Runs every task of the task file: creates the repository, adds the
packages of its content sources, snapshots it and publishes the snapshot.
A failing task is rolled back; --rollback-run also rolls back the tasks
that completed before it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.configPath == "" {
				return &models.RepoCtlError{
					Type: models.ErrInvalidConfig,
					Err:  fmt.Errorf("--config is required"),
				}
			}
			return runPublish(cmd, &opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Task file")
	cmd.Flags().StringVar(&opts.managerURL, "manager-url", "", "Repository manager API URL (overrides the task file)")
	cmd.Flags().StringVar(&opts.prefix, "prefix", "", "Publish prefix for every task (overrides the task file)")
	cmd.Flags().StringVar(&opts.passphrase, "signing-passphrase", os.Getenv("REPOCTL_SIGNING_PASSPHRASE"), "Passphrase of the signing keys")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", fetcher.DefaultConcurrency, "Concurrent downloads per task")
	cmd.Flags().DurationVar(&opts.fetchTimeout, "fetch-timeout", fetcher.DefaultFetchTimeout, "Timeout of a single download")
	cmd.Flags().BoolVar(&opts.rollbackRun, "rollback-run", false, "Undo every completed task when one fails")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Run against an in-memory repository manager")
	cmd.Flags().StringVar(&opts.localRoot, "local-root", "", "Write filesystem endpoints as static APT repositories below this directory instead of using a repository manager")

	return cmd
}

func runPublish(cmd *cobra.Command, opts *publishOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.managerURL != "" {
		cfg.Manager.URL = opts.managerURL
	}

	tasks, err := cfg.ReleaseTasks(opts.prefix)
	if err != nil {
		return err
	}

	var mgr manager.Manager
	switch {
	case opts.dryRun:
		logrus.Warn("Dry run: publishing to an in-memory repository manager")
		mgr = manager.NewMemory()
	case opts.localRoot != "":
		local, err := manager.NewLocal(opts.localRoot)
		if err != nil {
			return err
		}
		defer local.Close()
		mgr = local
	default:
		mgr = newAptly(cfg.Manager)
	}

	pipeline := publish.NewPipeline(publish.Options{
		Manager:      mgr,
		Fetcher:      fetcher.NewFetcher(),
		Workers:      opts.workers,
		FetchTimeout: opts.fetchTimeout,
		Passphrase:   opts.passphrase,
		RollbackRun:  opts.rollbackRun,
	})

	logrus.Infof("Publishing %d tasks (run %s)", len(tasks), pipeline.Controller().RunID())
	summary, err := pipeline.Run(cmd.Context(), tasks)
	if summary != nil {
		logPublishSummary(summary)
	}
	if err != nil {
		return err
	}
	return summary.Err()
}

func newAptly(cfg config.ManagerConfig) *manager.Aptly {
	var opts []manager.AptlyOption
	if cfg.Username != "" {
		opts = append(opts, manager.WithBasicAuth(cfg.Username, cfg.Password))
	}
	return manager.NewAptly(cfg.URL, opts...)
}

func logPublishSummary(s *publish.Summary) {
	logrus.Infof("Attempted %d, succeeded %d, failed %d", len(s.Attempted), len(s.Succeeded), len(s.Failed))
	for _, repo := range s.Succeeded {
		logrus.WithField("repository", repo).Info("published")
	}
	for _, repo := range s.Attempted {
		if err, ok := s.Failed[repo]; ok {
			logrus.WithField("repository", repo).Errorf("failed: %v", err)
		}
	}
	if s.RolledBack {
		logrus.Warn("All completed tasks of this run were rolled back")
	}
}
