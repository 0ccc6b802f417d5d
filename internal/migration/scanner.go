package migration

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ralt/repoctl/internal/utils"
	"github.com/sirupsen/logrus"
)

// State is the migration state of one repository directory
type State int

const (
	StateUnconverted State = iota
	StatePending
	StateDone
	StateBroken
)

func (s State) String() string {
	switch s {
	case StateUnconverted:
		return "unconverted"
	case StatePending:
		return "pending"
	case StateDone:
		return "done"
	case StateBroken:
		return "broken"
	default:
		return "unknown"
	}
}

// Report lists repository directories by state, each list sorted
type Report struct {
	Done        []string
	Pending     []string
	Unconverted []string
	Broken      []string
}

// ConversionCandidates returns the repositories a conversion run targets:
// the unconverted ones and the originals of pending conversions, which the
// converter refuses until they are resolved.
func (r *Report) ConversionCandidates() []string {
	out := append([]string(nil), r.Unconverted...)
	for _, p := range r.Pending {
		out = append(out, strings.TrimSuffix(p, PendingSuffix))
	}
	sort.Strings(out)
	return out
}

// Scan classifies every repository below root. Backups and reverted
// repositories are ignored, and a repository's subtree is not searched for
// further repositories. Scanning has no side effects.
func Scan(root string) (*Report, error) {
	report := &Report{}
	root = filepath.Clean(root)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if isBackupName(d.Name()) || strings.HasSuffix(d.Name(), RevertedSuffix) {
			return filepath.SkipDir
		}
		if !isRepository(path) {
			return nil
		}

		state, ok := classify(path)
		if ok {
			logrus.Debugf("%s: %s", path, state)
			switch state {
			case StateDone:
				report.Done = append(report.Done, path)
			case StatePending:
				report.Pending = append(report.Pending, path)
			case StateUnconverted:
				report.Unconverted = append(report.Unconverted, path)
			case StateBroken:
				report.Broken = append(report.Broken, path)
			}
		}
		return filepath.SkipDir
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	sort.Strings(report.Done)
	sort.Strings(report.Pending)
	sort.Strings(report.Unconverted)
	sort.Strings(report.Broken)
	return report, nil
}

// classify returns the state of a repository directory. A repository with a
// pending sibling is not classified on its own.
func classify(path string) (State, bool) {
	if strings.HasSuffix(path, PendingSuffix) {
		orig := strings.TrimSuffix(path, PendingSuffix)
		if HasCombinedMetadata(path) && utils.IsDir(orig) {
			return StatePending, true
		}
		return StateBroken, true
	}

	if utils.IsDir(PendingPath(path)) {
		return 0, false
	}
	if HasCombinedMetadata(path) {
		return StateDone, true
	}
	return StateUnconverted, true
}
