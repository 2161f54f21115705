// Package driver turns report-type configuration into runnable ingestion
// jobs. One engine processes date windows for every asynchronous report type;
// the per-type differences live entirely in Config values.
package driver

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"sellersync/internal/daterange"
	"sellersync/internal/domain"
	"sellersync/internal/sink"
	"sellersync/internal/spapi"
)

// EmptyPolicy decides what an empty report body means for a unit of work.
// Some report types legitimately produce empty windows (no sales that day);
// others only produce empty output on upstream trouble.
type EmptyPolicy int

const (
	// EmptyWriteSentinel writes an empty output so re-runs skip the window.
	EmptyWriteSentinel EmptyPolicy = iota
	// EmptySkipWrite leaves no output; a later run will try the window again.
	EmptySkipWrite
)

// Transform reshapes decoded report text into the stored record format.
type Transform func(text string) (string, error)

// ASINSource supplies the identifier list for report types that are requested
// per chunk of ASINs.
type ASINSource func(ctx context.Context) ([]string, error)

// Recorder receives one entry per processed output key. Implementations are
// best effort; the engine never fails a unit over a recording error.
type Recorder interface {
	Record(ctx context.Context, driver, key, status, message string)
}

// Driver is one runnable ingestion job.
type Driver interface {
	Name() string
	Run(ctx context.Context) Summary
}

// Summary is the per-driver outcome reported at the end of a run.
type Summary struct {
	Name      string
	Succeeded int
	Skipped   int
	Failed    int
	// Aborted is set when the driver abandoned its remaining windows after
	// repeated terminal failures (interpreted as end of remote retention).
	Aborted bool
	Err     error
}

// Hard reports whether the driver recorded a hard failure. Abandoning old
// windows is expected during backfill and does not count.
func (s Summary) Hard() bool {
	return s.Failed > 0 || s.Err != nil
}

// Config parametrizes one report-type driver.
type Config struct {
	Name           string
	ReportType     string
	MarketplaceIDs []string
	Options        map[string]string

	// Windows enumerates the date windows to process, in processing order.
	Windows func(now time.Time) []daterange.Window

	KeyPrefix   string
	KeyFormat   daterange.KeyFormat
	Extension   string
	ContentType string

	// Transform reshapes the decoded payload; nil means pass-through.
	Transform Transform

	// ASINSource plus ChunkSize split large identifier lists across several
	// report requests to respect the remote request-size limit.
	ASINSource ASINSource
	ChunkSize  int

	Poll    spapi.PollConfig
	OnEmpty EmptyPolicy

	// CooldownAfter consecutive failures insert an escalating pause;
	// AbortAfter consecutive failures abandon the remaining windows.
	CooldownAfter int
	Cooldown      time.Duration
	AbortAfter    int

	// Pause is the inter-unit throttling buffer.
	Pause time.Duration
}

// ReportDriver runs the asynchronous report protocol across date windows.
type ReportDriver struct {
	cfg      Config
	reports  *spapi.ReportsService
	sink     sink.Sink
	recorder Recorder
	logger   *log.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewReportDriver(cfg Config, reports *spapi.ReportsService, out sink.Sink, recorder Recorder, logger *log.Logger) *ReportDriver {
	if cfg.Poll.MaxAttempts <= 0 {
		cfg.Poll = spapi.PollConfig{Interval: 20 * time.Second, MaxAttempts: 20}
	}
	if cfg.CooldownAfter <= 0 {
		cfg.CooldownAfter = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	if cfg.AbortAfter <= 0 {
		cfg.AbortAfter = 5
	}
	return &ReportDriver{
		cfg:      cfg,
		reports:  reports,
		sink:     out,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

func (d *ReportDriver) Name() string { return d.cfg.Name }

func (d *ReportDriver) Run(ctx context.Context) Summary {
	summary := Summary{Name: d.cfg.Name}

	var asins []string
	if d.cfg.ASINSource != nil {
		list, err := d.cfg.ASINSource(ctx)
		if err != nil {
			summary.Err = err
			return summary
		}
		if len(list) == 0 {
			d.logf("%s: identifier list is empty, nothing to request", d.cfg.Name)
			return summary
		}
		asins = list
	}

	consecutive := 0
	windows := d.cfg.Windows(d.now())
	for _, window := range windows {
		if ctx.Err() != nil {
			summary.Err = ctx.Err()
			return summary
		}

		key := d.cfg.KeyPrefix + window.Key(d.cfg.KeyFormat) + d.cfg.Extension
		exists, err := d.sink.Exists(ctx, key)
		if err != nil {
			d.logf("%s: existence check failed for %s: %v", d.cfg.Name, key, err)
		}
		if exists {
			summary.Skipped++
			continue
		}

		content, err := d.fetchWindow(ctx, window, asins)
		switch {
		case err == nil:
			d.storeUnit(ctx, &summary, key, content)
			consecutive = 0
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			summary.Err = err
			return summary
		default:
			summary.Failed++
			consecutive++
			d.record(ctx, key, "failed", err.Error())
			d.logf("%s: window %s failed: %v", d.cfg.Name, key, err)

			var reportFailed *spapi.ReportFailedError
			if errors.As(err, &reportFailed) && consecutive >= d.cfg.AbortAfter {
				// Several terminal failures in a row while walking backwards
				// means the remote retention window has ended.
				d.logf("%s: %d consecutive terminal failures, abandoning remaining windows", d.cfg.Name, consecutive)
				summary.Aborted = true
				return summary
			}
			if consecutive >= d.cfg.AbortAfter {
				summary.Aborted = true
				return summary
			}
			if consecutive >= d.cfg.CooldownAfter {
				pause := d.cfg.Cooldown * time.Duration(consecutive-d.cfg.CooldownAfter+1)
				d.logf("%s: %d consecutive failures, cooling down %s", d.cfg.Name, consecutive, pause)
				if err := d.sleep(ctx, pause); err != nil {
					summary.Err = err
					return summary
				}
			}
		}

		if d.cfg.Pause > 0 {
			if err := d.sleep(ctx, d.cfg.Pause); err != nil {
				summary.Err = err
				return summary
			}
		}
	}
	return summary
}

// fetchWindow acquires the report content for one window, chunking the
// identifier list when configured. Chunk results concatenate in input order.
func (d *ReportDriver) fetchWindow(ctx context.Context, window daterange.Window, asins []string) (string, error) {
	if len(asins) == 0 {
		payload, err := d.reports.FetchReport(ctx, d.request(window, nil), d.cfg.Poll)
		if err != nil {
			return "", err
		}
		return d.transform(payload)
	}

	var (
		parts   []string
		lastErr error
	)
	for _, chunk := range daterange.Chunk(asins, d.cfg.ChunkSize) {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		payload, err := d.reports.FetchReport(ctx, d.request(window, chunk), d.cfg.Poll)
		if err != nil {
			lastErr = err
			d.logf("%s: chunk of %d failed: %v", d.cfg.Name, len(chunk), err)
			continue
		}
		part, err := d.transform(payload)
		if err != nil {
			lastErr = err
			continue
		}
		if part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 && lastErr != nil {
		return "", lastErr
	}
	return strings.Join(parts, "\n"), nil
}

func (d *ReportDriver) request(window daterange.Window, chunk []string) domain.ReportRequest {
	options := make(map[string]string, len(d.cfg.Options)+1)
	for k, v := range d.cfg.Options {
		options[k] = v
	}
	if len(chunk) > 0 {
		options["asin"] = strings.Join(chunk, " ")
	}
	return domain.ReportRequest{
		ReportType:     d.cfg.ReportType,
		MarketplaceIDs: d.cfg.MarketplaceIDs,
		StartTime:      window.Start,
		EndTime:        window.End,
		Options:        options,
	}
}

func (d *ReportDriver) transform(payload domain.Payload) (string, error) {
	if payload.Empty() {
		return "", nil
	}
	if d.cfg.Transform == nil {
		return payload.Text, nil
	}
	return d.cfg.Transform(payload.Text)
}

// storeUnit writes one unit's output, honoring the empty-body policy. Sink
// failures are logged and counted but never abort the run.
func (d *ReportDriver) storeUnit(ctx context.Context, summary *Summary, key, content string) {
	if strings.TrimSpace(content) == "" {
		if d.cfg.OnEmpty == EmptySkipWrite {
			summary.Skipped++
			d.record(ctx, key, "empty", "no data for window")
			return
		}
		content = ""
	}
	if err := d.sink.Write(ctx, key, []byte(content), d.cfg.ContentType); err != nil {
		summary.Failed++
		d.record(ctx, key, "write_failed", err.Error())
		d.logf("%s: write failed for %s: %v", d.cfg.Name, key, err)
		return
	}
	summary.Succeeded++
	d.record(ctx, key, "written", "")
}

func (d *ReportDriver) record(ctx context.Context, key, status, message string) {
	if d.recorder != nil {
		d.recorder.Record(ctx, d.cfg.Name, key, status, message)
	}
}

func (d *ReportDriver) logf(format string, args ...any) {
	if d.logger != nil {
		d.logger.Printf(format, args...)
	}
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
