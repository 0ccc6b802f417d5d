package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/ralt/repoctl/internal/fetcher"
	"github.com/ralt/repoctl/internal/migration"
	"github.com/ralt/repoctl/internal/models"
	"github.com/ralt/repoctl/internal/repogen"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type migrateOptions struct {
	searchPath string
	toolsURL   string
	toolPath   string
	workers    int
	dryRun     bool
}

func (o *migrateOptions) validate() error {
	if o.searchPath == "" {
		return &models.RepoCtlError{
			Type: models.ErrInvalidConfig,
			Err:  fmt.Errorf("--search-path is required"),
		}
	}
	if !o.dryRun && o.toolsURL != "" && o.toolPath != "" {
		return &models.RepoCtlError{
			Type: models.ErrInvalidConfig,
			Err:  fmt.Errorf("--repogen-tools-url and --repogen are mutually exclusive"),
		}
	}
	return nil
}

// NewMigrateCmd creates the migrate command and its subcommands
func NewMigrateCmd() *cobra.Command {
	var opts migrateOptions

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate published repositories to combined metadata",
		Long: `Finds repositories (directories holding Updates.xml) below the search
path and moves them to combined metadata. Converted repositories are
swapped into place and the originals kept as timestamped backups, which
revert puts back.`,
	}

	cmd.PersistentFlags().StringVarP(&opts.searchPath, "search-path", "s", "", "Directory searched for repositories")
	cmd.PersistentFlags().StringVar(&opts.toolsURL, "repogen-tools-url", "", "URL of a repogen tools archive to install")
	cmd.PersistentFlags().StringVar(&opts.toolPath, "repogen", "", "repogen executable (default: repogen on $PATH)")
	cmd.PersistentFlags().IntVarP(&opts.workers, "workers", "w", migration.DefaultWorkers, "Concurrent swaps")
	cmd.PersistentFlags().BoolVar(&opts.dryRun, "dry-run", false, "Only log what would change")

	cmd.AddCommand(newMigrateScanCmd(&opts))
	cmd.AddCommand(newMigrateConvertCmd(&opts))
	cmd.AddCommand(newMigrateRevertCmd(&opts))

	return cmd
}

func newMigrateScanCmd(opts *migrateOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Report the migration state of every repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			report, err := migration.Scan(opts.searchPath)
			if err != nil {
				return err
			}
			logReport(report)
			return nil
		},
	}
}

func newMigrateConvertCmd(opts *migrateOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "convert",
		Short: "Convert unconverted repositories and swap them into place",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			ctx := cmd.Context()

			var tool repogen.Tool
			if !opts.dryRun {
				bin, cleanup, err := resolveTool(cmd, opts)
				if err != nil {
					return err
				}
				defer cleanup()
				tool = bin
			}

			session := migration.NewSession(time.Now())
			logrus.Infof("Migration session %s (pass it to revert)", session.Timestamp)

			out, err := migration.Migrate(ctx, opts.searchPath,
				migration.NewConverter(tool),
				migration.NewSwapper(session, opts.workers, opts.dryRun),
				opts.dryRun)
			if out != nil {
				logReport(out.Report)
				logPartial("convert", out.Converted)
				logPartial("swap", out.Swapped)
			}
			if err != nil {
				return err
			}
			if out.HasFailures() {
				return fmt.Errorf("migration of %s incomplete", opts.searchPath)
			}
			return nil
		},
	}
}

func newMigrateRevertCmd(opts *migrateOptions) *cobra.Command {
	var timestamp string

	cmd := &cobra.Command{
		Use:   "revert",
		Short: "Put back the backups made by a migration session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			if timestamp == "" {
				return &models.RepoCtlError{
					Type: models.ErrInvalidConfig,
					Err:  fmt.Errorf("--timestamp is required"),
				}
			}

			report, err := migration.Scan(opts.searchPath)
			if err != nil {
				return err
			}

			sw := migration.NewSwapper(nil, opts.workers, opts.dryRun)
			res, err := sw.Revert(cmd.Context(), report.Done, timestamp)
			if err != nil {
				return err
			}
			logPartial("revert", res)
			if res.HasFailures() {
				return fmt.Errorf("%d repositories could not be reverted", len(res.Failed))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&timestamp, "timestamp", "t", "", "Session timestamp of the migration to revert ("+migration.TimestampFormat+")")

	return cmd
}

// resolveTool installs repogen from --repogen-tools-url or uses --repogen
func resolveTool(cmd *cobra.Command, opts *migrateOptions) (*repogen.Binary, func(), error) {
	if opts.toolsURL == "" {
		path := opts.toolPath
		if path == "" {
			path = repogen.BinaryName
		}
		bin, err := repogen.NewBinary(path)
		return bin, func() {}, err
	}

	dir, err := os.MkdirTemp("", "repoctl-repogen-")
	if err != nil {
		return nil, nil, models.NewError(models.ErrFileOp, "repogen", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	bin, err := repogen.Install(cmd.Context(), fetcher.NewFetcher(), opts.toolsURL, dir)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return bin, cleanup, nil
}

func logReport(r *migration.Report) {
	logrus.Infof("Done: %d, pending: %d, unconverted: %d, broken: %d",
		len(r.Done), len(r.Pending), len(r.Unconverted), len(r.Broken))
	for _, group := range []struct {
		state migration.State
		paths []string
	}{
		{migration.StateDone, r.Done},
		{migration.StatePending, r.Pending},
		{migration.StateUnconverted, r.Unconverted},
		{migration.StateBroken, r.Broken},
	} {
		for _, p := range group.paths {
			logrus.WithField("state", group.state).Info(p)
		}
	}
}

func logPartial[T any](step string, r models.PartialResult[T]) {
	if len(r.OK) == 0 && len(r.Failed) == 0 {
		return
	}
	logrus.Infof("%s: %d succeeded, %d failed", step, len(r.OK), len(r.Failed))
	for _, repo := range r.FailedKeys() {
		logrus.WithField("repository", repo).Errorf("%s failed: %v", step, r.Failed[repo].Err)
	}
}
