package driver

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"sellersync/internal/daterange"
	"sellersync/internal/sink"
)

// FetchRecords produces the records for one window from a synchronous API.
type FetchRecords func(ctx context.Context, window daterange.Window) ([]json.RawMessage, error)

// SnapshotConfig parametrizes one synchronous-API driver.
type SnapshotConfig struct {
	Name        string
	KeyPrefix   string
	KeyFormat   daterange.KeyFormat
	Extension   string
	ContentType string
	Windows     func(now time.Time) []daterange.Window
	Fetch       FetchRecords
	OnEmpty     EmptyPolicy
	Pause       time.Duration
}

// SnapshotDriver ingests from the paged synchronous APIs. No report protocol
// is involved; each window is one or more direct GETs rendered to NDJSON.
type SnapshotDriver struct {
	cfg      SnapshotConfig
	sink     sink.Sink
	recorder Recorder
	logger   *log.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewSnapshotDriver(cfg SnapshotConfig, out sink.Sink, recorder Recorder, logger *log.Logger) *SnapshotDriver {
	return &SnapshotDriver{
		cfg:      cfg,
		sink:     out,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

func (d *SnapshotDriver) Name() string { return d.cfg.Name }

func (d *SnapshotDriver) Run(ctx context.Context) Summary {
	summary := Summary{Name: d.cfg.Name}

	for _, window := range d.cfg.Windows(d.now()) {
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

		records, err := d.cfg.Fetch(ctx, window)
		if err != nil {
			if ctx.Err() != nil {
				summary.Err = ctx.Err()
				return summary
			}
			summary.Failed++
			d.record(ctx, key, "failed", err.Error())
			d.logf("%s: window %s failed: %v", d.cfg.Name, key, err)
			continue
		}

		content := JoinRecords(records)
		if content == "" && d.cfg.OnEmpty == EmptySkipWrite {
			summary.Skipped++
			d.record(ctx, key, "empty", "no data for window")
			continue
		}
		if err := d.sink.Write(ctx, key, []byte(content), d.cfg.ContentType); err != nil {
			summary.Failed++
			d.record(ctx, key, "write_failed", err.Error())
			d.logf("%s: write failed for %s: %v", d.cfg.Name, key, err)
			continue
		}
		summary.Succeeded++
		d.record(ctx, key, "written", "")

		if d.cfg.Pause > 0 {
			if err := d.sleep(ctx, d.cfg.Pause); err != nil {
				summary.Err = err
				return summary
			}
		}
	}
	return summary
}

func (d *SnapshotDriver) record(ctx context.Context, key, status, message string) {
	if d.recorder != nil {
		d.recorder.Record(ctx, d.cfg.Name, key, status, message)
	}
}

func (d *SnapshotDriver) logf(format string, args ...any) {
	if d.logger != nil {
		d.logger.Printf(format, args...)
	}
}
