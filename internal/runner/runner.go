// Package runner orchestrates a set of drivers into one run: the inventory
// prerequisite first, then the rest, optionally concurrently. Work inside a
// driver stays strictly sequential.
package runner

import (
	"context"
	"log"
	"sync"

	"sellersync/internal/driver"
)

type Runner struct {
	drivers  []driver.Driver
	parallel bool
	logger   *log.Logger
}

func New(drivers []driver.Driver, parallel bool, logger *log.Logger) *Runner {
	return &Runner{drivers: drivers, parallel: parallel, logger: logger}
}

// Run executes every driver and returns one summary per driver, in
// registration order. A failing driver never stops its siblings; the caller
// decides the process exit from the summaries.
func (r *Runner) Run(ctx context.Context) []driver.Summary {
	var (
		rest      []driver.Driver
		summaries []driver.Summary
	)

	// The inventory snapshot feeds the ASIN-chunked drivers, so it always
	// completes before anything else starts.
	for _, d := range r.drivers {
		if d.Name() == driver.PrerequisiteDriver {
			summaries = append(summaries, r.runOne(ctx, d))
			continue
		}
		rest = append(rest, d)
	}
	if ctx.Err() != nil {
		return summaries
	}

	if !r.parallel || len(rest) <= 1 {
		for _, d := range rest {
			if ctx.Err() != nil {
				break
			}
			summaries = append(summaries, r.runOne(ctx, d))
		}
		return summaries
	}

	results := make([]driver.Summary, len(rest))
	var wg sync.WaitGroup
	for i, d := range rest {
		wg.Add(1)
		go func(i int, d driver.Driver) {
			defer wg.Done()
			results[i] = r.runOne(ctx, d)
		}(i, d)
	}
	wg.Wait()
	return append(summaries, results...)
}

func (r *Runner) runOne(ctx context.Context, d driver.Driver) driver.Summary {
	if r.logger != nil {
		r.logger.Printf("runner: driver=%s starting", d.Name())
	}
	summary := d.Run(ctx)
	if r.logger != nil {
		r.logger.Printf("runner: driver=%s done succeeded=%d skipped=%d failed=%d aborted=%t err=%v",
			summary.Name, summary.Succeeded, summary.Skipped, summary.Failed, summary.Aborted, summary.Err)
	}
	return summary
}

// HardFailure reports whether any driver recorded a hard failure.
func HardFailure(summaries []driver.Summary) bool {
	for _, s := range summaries {
		if s.Hard() {
			return true
		}
	}
	return false
}
