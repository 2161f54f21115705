package driver

import (
	"context"
	"log"
	"strings"
	"time"

	"sellersync/internal/sink"
	"sellersync/internal/spapi"
)

// SettlementDriver ingests platform-scheduled settlement reports. They cannot
// be requested; the driver lists what the platform already generated and
// downloads anything not yet stored. Keys carry the report id because several
// settlements can close inside the same date range.
type SettlementDriver struct {
	name           string
	reportTypes    []string
	marketplaceIDs []string
	keyPrefix      string
	extension      string
	contentType    string

	reports  *spapi.ReportsService
	sink     sink.Sink
	recorder Recorder
	logger   *log.Logger
}

func NewSettlementDriver(name string, reportTypes, marketplaceIDs []string, keyPrefix, extension, contentType string, reports *spapi.ReportsService, out sink.Sink, recorder Recorder, logger *log.Logger) *SettlementDriver {
	return &SettlementDriver{
		name:           name,
		reportTypes:    reportTypes,
		marketplaceIDs: marketplaceIDs,
		keyPrefix:      keyPrefix,
		extension:      extension,
		contentType:    contentType,
		reports:        reports,
		sink:           out,
		recorder:       recorder,
		logger:         logger,
	}
}

func (d *SettlementDriver) Name() string { return d.name }

func (d *SettlementDriver) Run(ctx context.Context) Summary {
	summary := Summary{Name: d.name}

	descriptors, err := d.reports.ListReports(ctx, d.reportTypes, d.marketplaceIDs)
	if err != nil {
		summary.Err = err
		return summary
	}

	for _, descriptor := range descriptors {
		if ctx.Err() != nil {
			summary.Err = ctx.Err()
			return summary
		}
		if descriptor.ProcessingStatus != "DONE" || descriptor.ReportDocumentID == "" {
			continue
		}

		key := d.key(descriptor)
		exists, err := d.sink.Exists(ctx, key)
		if err != nil {
			d.logf("%s: existence check failed for %s: %v", d.name, key, err)
		}
		if exists {
			summary.Skipped++
			continue
		}

		payload, err := d.reports.FetchDocument(ctx, descriptor.ReportDocumentID)
		if err != nil {
			summary.Failed++
			d.record(ctx, key, "failed", err.Error())
			d.logf("%s: download of %s failed: %v", d.name, descriptor.ReportID, err)
			continue
		}
		if payload.Empty() {
			summary.Skipped++
			d.record(ctx, key, "empty", "settlement document was empty")
			continue
		}

		if err := d.sink.Write(ctx, key, []byte(payload.Text), d.contentType); err != nil {
			summary.Failed++
			d.record(ctx, key, "write_failed", err.Error())
			d.logf("%s: write failed for %s: %v", d.name, key, err)
			continue
		}
		summary.Succeeded++
		d.record(ctx, key, "written", "")
	}
	return summary
}

// key renders {prefix}{start}-{end}-{reportID}{ext}, dates trimmed to days.
func (d *SettlementDriver) key(descriptor spapi.ReportDescriptor) string {
	return d.keyPrefix + compactDay(descriptor.DataStartTime) + "-" + compactDay(descriptor.DataEndTime) + "-" + descriptor.ReportID + d.extension
}

func compactDay(stamp string) string {
	t, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		// Fall back to the raw date prefix so the key stays deterministic.
		if len(stamp) >= 10 {
			return strings.ReplaceAll(stamp[:10], "-", "")
		}
		return "unknown"
	}
	return t.UTC().Format("20060102")
}

func (d *SettlementDriver) record(ctx context.Context, key, status, message string) {
	if d.recorder != nil {
		d.recorder.Record(ctx, d.name, key, status, message)
	}
}

func (d *SettlementDriver) logf(format string, args ...any) {
	if d.logger != nil {
		d.logger.Printf(format, args...)
	}
}
