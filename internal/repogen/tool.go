// Package repogen drives the external repository generator that merges a
// repository's split metadata into one combined archive.
package repogen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/ralt/repoctl/internal/models"
	"github.com/sirupsen/logrus"
)

var (
	// ErrToolUsage means the tool rejected its command line
	ErrToolUsage = errors.New("repogen: missing argument")
	// ErrOutputExists means the conversion target is already there
	ErrOutputExists = errors.New("repogen: output already exists")
)

// failurePhrases map tool output to typed errors, checked in order
var failurePhrases = []struct {
	phrase string
	err    error
}{
	{"missing argument", ErrToolUsage},
	{"already exists", ErrOutputExists},
}

// Tool generates a repository with combined metadata
type Tool interface {
	Generate(ctx context.Context, repository, output string) error
}

// Result holds the captured output of one tool invocation
type Result struct {
	Stdout   string
	Stderr   string
	Combined string
	ExitCode int
}

// Binary runs a repogen executable
type Binary struct {
	path string
}

// NewBinary checks that path (or a name on $PATH) is executable
func NewBinary(path string) (*Binary, error) {
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, models.NewError(models.ErrPrecondition, path, fmt.Errorf("repogen tool not usable: %w", err))
	}
	return &Binary{path: resolved}, nil
}

// Path returns the resolved executable
func (b *Binary) Path() string {
	return b.path
}

// Generate writes the combined-metadata version of repository to output
func (b *Binary) Generate(ctx context.Context, repository, output string) error {
	res, err := b.run(ctx, "--repository", repository, "--unite-metadata", output)
	if err := classify(res, err); err != nil {
		return models.NewError(models.ErrExternalTool, repository, err)
	}
	logrus.Debugf("repogen converted %s into %s", repository, output)
	return nil
}

func (b *Binary) run(ctx context.Context, args ...string) (*Result, error) {
	cmd := exec.CommandContext(ctx, b.path, args...)

	var stdout, stderr, combined bytes.Buffer
	cmd.Stdout = io.MultiWriter(&stdout, &combined)
	cmd.Stderr = io.MultiWriter(&stderr, &combined)

	logrus.Debugf("Running %s %s", b.path, strings.Join(args, " "))
	err := cmd.Run()

	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Combined: combined.String(),
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, err
}

// classify turns a finished invocation into nil or a typed error. Known
// phrases win over the exit code since the tool does not always fail with
// a non-zero status.
func classify(res *Result, runErr error) error {
	if runErr != nil {
		return fmt.Errorf("running repogen: %w", runErr)
	}

	out := strings.ToLower(res.Combined)
	for _, fp := range failurePhrases {
		if strings.Contains(out, fp.phrase) {
			return fmt.Errorf("%w: %s", fp.err, lastLine(res.Combined))
		}
	}

	if res.ExitCode != 0 {
		return fmt.Errorf("repogen exited with status %d: %s", res.ExitCode, lastLine(res.Combined))
	}
	return nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
