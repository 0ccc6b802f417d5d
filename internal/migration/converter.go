package migration

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ralt/repoctl/internal/models"
	"github.com/ralt/repoctl/internal/repogen"
	"github.com/ralt/repoctl/internal/utils"
	"github.com/sirupsen/logrus"
)

// PendingConflictError lists repositories whose previous conversion still
// awaits a swap
type PendingConflictError struct {
	Repositories []string
}

func (e *PendingConflictError) Error() string {
	return fmt.Sprintf("%d repositories already have a pending conversion, resolve them first: %s",
		len(e.Repositories), strings.Join(e.Repositories, ", "))
}

// Converter runs the repository generator on unconverted repositories
type Converter struct {
	tool repogen.Tool
}

// NewConverter returns a converter using tool. tool may be nil for dry runs.
func NewConverter(tool repogen.Tool) *Converter {
	return &Converter{tool: tool}
}

// Convert writes the pending sibling of every repository. If any repository
// already has one, nothing is converted at all. A failing conversion is
// recorded under the expected sibling path and the others go on.
func (c *Converter) Convert(ctx context.Context, repos []string, dryRun bool) (models.PartialResult[string], error) {
	result := models.NewPartialResult[string]()

	var updatable, pending []string
	for _, repo := range cleanPaths(repos) {
		if utils.Exists(PendingPath(repo)) {
			pending = append(pending, repo)
		} else {
			updatable = append(updatable, repo)
		}
	}
	if len(pending) > 0 {
		sort.Strings(pending)
		return result, models.NewError(models.ErrPrecondition, "convert", &PendingConflictError{Repositories: pending})
	}

	if !dryRun && c.tool == nil {
		return result, models.NewError(models.ErrPrecondition, "convert", fmt.Errorf("no repogen tool configured"))
	}

	for _, repo := range updatable {
		out := PendingPath(repo)
		if dryRun {
			logrus.Infof("[dry-run] would convert %s into %s", repo, out)
			result.Succeed(repo, out)
			continue
		}

		if err := ctx.Err(); err != nil {
			result.Fail(repo, out, err)
			continue
		}

		logrus.Infof("Converting %s", repo)
		if err := c.tool.Generate(ctx, repo, out); err != nil {
			logrus.Errorf("Conversion of %s failed: %v", repo, err)
			result.Fail(repo, out, err)
			continue
		}
		result.Succeed(repo, out)
	}

	logrus.Infof("Converted %d repositories, %d failed", len(result.OK), len(result.Failed))
	return result, nil
}
