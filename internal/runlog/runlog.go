// Package runlog persists finished batch runs: a zstd report in the runs
// directory, a summary row in the store, and metrics.
package runlog

import (
	"context"
	"errors"
	"fmt"

	"github.com/suykerbuyk/cardfill/internal/archive"
	"github.com/suykerbuyk/cardfill/internal/batch"
	"github.com/suykerbuyk/cardfill/internal/logger"
	"github.com/suykerbuyk/cardfill/internal/metrics"
	"github.com/suykerbuyk/cardfill/internal/store"
)

// Recorder writes run results to whichever sinks are configured. A zero
// Recorder does nothing.
type Recorder struct {
	Store      *store.Store
	ArchiveDir string
	Metrics    *metrics.Collector
	Logger     *logger.Logger
}

// Record persists res and returns the report path, if one was written.
// Every sink is attempted; failures are joined.
func (r Recorder) Record(ctx context.Context, res batch.Result) (string, error) {
	log := r.Logger
	if log == nil {
		log = logger.Nop()
	}
	if r.Metrics != nil {
		r.Metrics.Run(res)
	}

	var errs []error
	var report string
	if r.ArchiveDir != "" {
		p, err := archive.WriteReport(res, r.ArchiveDir)
		if err != nil {
			errs = append(errs, fmt.Errorf("archive run: %w", err))
		} else {
			report = p
		}
	}
	if r.Store != nil {
		if err := r.Store.RecordRun(ctx, res, report); err != nil {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		log.Warn("run not fully recorded", "run", res.RunID, "error", err)
	} else {
		log.Debug("run recorded", "run", res.RunID, "report", report)
	}
	return report, err
}
