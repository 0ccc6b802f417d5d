package migration

import (
	"context"

	"github.com/ralt/repoctl/internal/models"
	"github.com/sirupsen/logrus"
)

// Outcome is the result of a full migration run
type Outcome struct {
	Report    *Report
	Converted models.PartialResult[string]
	Swapped   models.PartialResult[SwapOutcome]
}

// HasFailures reports whether any repository could not be migrated
func (o *Outcome) HasFailures() bool {
	return o.Converted.HasFailures() || o.Swapped.HasFailures() || len(o.Report.Broken) > 0
}

// Migrate scans root, converts what needs converting and swaps the
// successful conversions into place. A dry run stops after the conversion
// plan.
func Migrate(ctx context.Context, root string, conv *Converter, sw *Swapper, dryRun bool) (*Outcome, error) {
	report, err := Scan(root)
	if err != nil {
		return nil, models.NewError(models.ErrFileOp, root, err)
	}
	out := &Outcome{
		Report:  report,
		Swapped: models.NewPartialResult[SwapOutcome](),
	}
	for _, b := range report.Broken {
		logrus.Warnf("Broken conversion needs manual cleanup: %s", b)
	}

	out.Converted, err = conv.Convert(ctx, report.ConversionCandidates(), dryRun)
	if err != nil {
		return out, err
	}
	if dryRun || len(out.Converted.OK) == 0 {
		return out, nil
	}

	out.Swapped, err = sw.Swap(ctx, out.Converted.OK)
	return out, err
}
