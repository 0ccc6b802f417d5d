package migration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/ralt/repoctl/internal/models"
	"github.com/ralt/repoctl/internal/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers bounds concurrent filesystem work of a swap or revert
const DefaultWorkers = 4

// SwapOutcome describes one swapped repository
type SwapOutcome struct {
	Converted string
	Backup    string
	Message   string
}

// RevertOutcome describes one reverted repository
type RevertOutcome struct {
	Backup   string
	Reverted string
}

// ValidationError collects every problem found before a batch started
type ValidationError struct {
	Problems *multierror.Error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("batch rejected, nothing changed: %v", e.Problems)
}

func (e *ValidationError) Unwrap() error {
	return e.Problems.ErrorOrNil()
}

// Swapper exchanges live repositories with their converted siblings
type Swapper struct {
	session *Session
	workers int
	dryRun  bool
}

// NewSwapper returns a swapper naming its backups after session
func NewSwapper(session *Session, workers int, dryRun bool) *Swapper {
	if workers < 1 {
		workers = DefaultWorkers
	}
	return &Swapper{session: session, workers: workers, dryRun: dryRun}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Swap puts every converted repository in place of its original, keeping
// the original as a backup. The whole batch is validated first; entries
// then succeed or fail independently.
func (s *Swapper) Swap(ctx context.Context, conversions map[string]string) (models.PartialResult[SwapOutcome], error) {
	result := models.NewPartialResult[SwapOutcome]()

	cleaned := make(map[string]string, len(conversions))
	for orig, converted := range conversions {
		cleaned[filepath.Clean(orig)] = filepath.Clean(converted)
	}
	conversions = cleaned
	origs := sortedKeys(conversions)

	var problems *multierror.Error
	for _, orig := range origs {
		converted := conversions[orig]
		if !utils.IsDir(orig) {
			problems = multierror.Append(problems, fmt.Errorf("%s: original repository missing", orig))
		}
		if !utils.IsDir(converted) {
			problems = multierror.Append(problems, fmt.Errorf("%s: converted repository %s missing", orig, converted))
		}
		if backup := s.session.BackupPath(orig); utils.Exists(backup) {
			problems = multierror.Append(problems, fmt.Errorf("%s: backup %s already exists", orig, backup))
		}
	}
	if problems != nil {
		return result, models.NewError(models.ErrPrecondition, "swap", &ValidationError{Problems: problems})
	}

	var mu sync.Mutex
	s.each(ctx, origs, func(orig string) {
		outcome := SwapOutcome{Converted: conversions[orig], Backup: s.session.BackupPath(orig)}
		err := s.swapOne(ctx, orig, outcome)

		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			logrus.Errorf("Swap of %s failed: %v", orig, err)
			result.Fail(orig, outcome, models.NewError(models.ErrFileOp, orig, err))
			return
		}
		outcome.Message = fmt.Sprintf("swapped in %s, backup at %s", outcome.Converted, outcome.Backup)
		if s.dryRun {
			outcome.Message = "[dry-run] would have " + outcome.Message
		}
		logrus.Info(outcome.Message)
		result.Succeed(orig, outcome)
	})

	return result, nil
}

// each runs fn for every key on the worker pool
func (s *Swapper) each(ctx context.Context, keys []string, fn func(string)) {
	var g errgroup.Group
	g.SetLimit(s.workers)
	for _, k := range keys {
		g.Go(func() error {
			fn(k)
			return nil
		})
	}
	g.Wait()
}

func (s *Swapper) swapOne(ctx context.Context, orig string, o SwapOutcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.dryRun {
		return nil
	}

	// Payload comes from the original so only metadata changes
	if err := utils.RemoveSubdirs(o.Converted); err != nil {
		return fmt.Errorf("stripping %s: %w", o.Converted, err)
	}
	if err := utils.CopySubdirs(orig, o.Converted); err != nil {
		return fmt.Errorf("copying payload into %s: %w", o.Converted, err)
	}

	if err := os.Rename(orig, o.Backup); err != nil {
		return fmt.Errorf("backing up: %w", err)
	}
	if err := os.Rename(o.Converted, orig); err != nil {
		if restoreErr := os.Rename(o.Backup, orig); restoreErr != nil {
			return fmt.Errorf("moving %s into place: %w (original left at %s: %v)", o.Converted, err, o.Backup, restoreErr)
		}
		return fmt.Errorf("moving %s into place: %w", o.Converted, err)
	}
	return nil
}

// Revert puts back the backups a swap made in the session of timestamp.
// Repositories without such a backup are left alone; the others must
// currently carry combined metadata and are moved aside with the
// RevertedSuffix.
func (s *Swapper) Revert(ctx context.Context, repos []string, timestamp string) (models.PartialResult[RevertOutcome], error) {
	result := models.NewPartialResult[RevertOutcome]()

	session, err := ParseSession(timestamp)
	if err != nil {
		return result, models.NewError(models.ErrPrecondition, "revert", err)
	}

	var targets []string
	for _, repo := range cleanPaths(repos) {
		if utils.IsDir(session.BackupPath(repo)) {
			targets = append(targets, repo)
		} else {
			logrus.Debugf("No backup of %s from %s", repo, timestamp)
		}
	}
	sort.Strings(targets)

	var mu sync.Mutex
	s.each(ctx, targets, func(repo string) {
		outcome := RevertOutcome{Backup: session.BackupPath(repo), Reverted: repo + RevertedSuffix}
		err := s.revertOne(ctx, repo, outcome)

		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			logrus.Errorf("Revert of %s failed: %v", repo, err)
			result.Fail(repo, outcome, models.NewError(models.ErrFileOp, repo, err))
			return
		}
		logrus.Infof("Reverted %s from %s, migrated version kept at %s", repo, outcome.Backup, outcome.Reverted)
		result.Succeed(repo, outcome)
	})

	return result, nil
}

func (s *Swapper) revertOne(ctx context.Context, repo string, o RevertOutcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !HasCombinedMetadata(repo) {
		return fmt.Errorf("%s does not carry combined metadata", repo)
	}
	if utils.Exists(o.Reverted) {
		return fmt.Errorf("%s already exists", o.Reverted)
	}
	if s.dryRun {
		return nil
	}

	if err := os.Rename(repo, o.Reverted); err != nil {
		return fmt.Errorf("moving migrated repository aside: %w", err)
	}
	if err := os.Rename(o.Backup, repo); err != nil {
		if restoreErr := os.Rename(o.Reverted, repo); restoreErr != nil {
			return fmt.Errorf("restoring backup: %w (migrated repository left at %s: %v)", err, o.Reverted, restoreErr)
		}
		return fmt.Errorf("restoring backup: %w", err)
	}
	return nil
}
