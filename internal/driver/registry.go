package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"sellersync/internal/config"
	"sellersync/internal/daterange"
	"sellersync/internal/sink"
	"sellersync/internal/spapi"
)

// PrerequisiteDriver runs before everything else: its snapshot is also the
// ASIN source for the chunked report types.
const PrerequisiteDriver = "fba_inventory"

// Services carries the shared collaborators every driver is built from.
type Services struct {
	Reports  *spapi.ReportsService
	Data     *spapi.DataService
	Sink     sink.Sink
	Recorder Recorder
	Logger   *log.Logger
}

// Names lists every registered driver name, in registration order.
func Names() []string {
	return []string{
		"fba_inventory",
		"catalog_items",
		"sales_and_traffic_day",
		"sales_and_traffic_child_asin",
		"brand_analytics_search_query_weekly",
		"brand_analytics_search_query_monthly",
		"brand_analytics_repeat_purchase_weekly",
		"brand_analytics_repeat_purchase_monthly",
		"ledger_detail",
		"ledger_summary",
		"all_orders_report",
		"settlement_report",
		"orders_api",
		"transactions",
	}
}

// Build constructs every registered driver. Backfill mode swaps the window
// generators from the incremental refresh range to the historical walk.
func Build(cfg config.Config, svc Services, backfill bool) []Driver {
	poll := spapi.PollConfig{
		Interval:    time.Duration(cfg.PollIntervalSeconds) * time.Second,
		MaxAttempts: cfg.PollMaxAttempts,
	}
	marketplace := cfg.MarketplaceIDs[0]
	cutoff := func(now time.Time) time.Time { return now.AddDate(-cfg.BackfillYears, 0, 0) }

	daily := func(now time.Time) []daterange.Window {
		if backfill {
			return daterange.BackfillDays(now, cutoff(now))
		}
		return daterange.RecentDays(now, cfg.StartDaysAgo, cfg.EndDaysAgo)
	}
	weekly := func(now time.Time) []daterange.Window {
		count := 4
		if backfill {
			count = cfg.BackfillYears * 52
		}
		return daterange.WeeksBack(now, count)
	}
	monthly := func(now time.Time) []daterange.Window {
		count := 2
		if backfill {
			count = cfg.BackfillYears * 12
		}
		return daterange.MonthsBack(now, count)
	}
	today := func(now time.Time) []daterange.Window {
		return daterange.Days(now, now)
	}

	asinSource := func(ctx context.Context) ([]string, error) {
		return svc.Data.ASINList(ctx, marketplace)
	}

	report := func(c Config) Driver {
		c.MarketplaceIDs = cfg.MarketplaceIDs
		c.Poll = poll
		c.Pause = 2 * time.Second
		return NewReportDriver(c, svc.Reports, svc.Sink, svc.Recorder, svc.Logger)
	}
	snapshot := func(c SnapshotConfig) Driver {
		return NewSnapshotDriver(c, svc.Sink, svc.Recorder, svc.Logger)
	}

	return []Driver{
		snapshot(SnapshotConfig{
			Name:        "fba_inventory",
			KeyPrefix:   "fba-inventory/",
			Extension:   ".jsonl",
			ContentType: "application/x-ndjson",
			Windows:     today,
			Fetch: func(ctx context.Context, _ daterange.Window) ([]json.RawMessage, error) {
				return svc.Data.InventorySummaries(ctx, marketplace)
			},
		}),
		snapshot(SnapshotConfig{
			Name:        "catalog_items",
			KeyPrefix:   "catalog-items/",
			Extension:   ".jsonl",
			ContentType: "application/x-ndjson",
			Windows:     today,
			Fetch: func(ctx context.Context, _ daterange.Window) ([]json.RawMessage, error) {
				return catalogRecords(ctx, svc.Data, marketplace)
			},
		}),
		report(Config{
			Name:        "sales_and_traffic_day",
			ReportType:  "GET_SALES_AND_TRAFFIC_REPORT",
			Options:     map[string]string{"dateGranularity": "DAY", "asinGranularity": "PARENT"},
			Windows:     daily,
			KeyPrefix:   "sales-and-traffic-report/day/",
			KeyFormat:   daterange.KeyDay,
			Extension:   ".json",
			ContentType: "application/json",
			OnEmpty:     EmptyWriteSentinel,
		}),
		report(Config{
			Name:        "sales_and_traffic_child_asin",
			ReportType:  "GET_SALES_AND_TRAFFIC_REPORT",
			Options:     map[string]string{"dateGranularity": "DAY", "asinGranularity": "CHILD"},
			Windows:     daily,
			KeyPrefix:   "sales-and-traffic-report/child-asin/",
			KeyFormat:   daterange.KeyDay,
			Extension:   ".jsonl",
			ContentType: "application/x-ndjson",
			Transform:   FlattenField("salesAndTrafficByAsin"),
			OnEmpty:     EmptyWriteSentinel,
		}),
		report(Config{
			Name:        "brand_analytics_search_query_weekly",
			ReportType:  "GET_BRAND_ANALYTICS_SEARCH_QUERY_PERFORMANCE_REPORT",
			Options:     map[string]string{"reportPeriod": "WEEK"},
			Windows:     weekly,
			KeyPrefix:   "brand-analytics/search-query-performance/weekly/",
			KeyFormat:   daterange.KeyRange,
			Extension:   ".jsonl",
			ContentType: "application/x-ndjson",
			Transform:   FlattenField("dataByAsin"),
			ASINSource:  asinSource,
			ChunkSize:   cfg.ChunkSize,
			OnEmpty:     EmptySkipWrite,
		}),
		report(Config{
			Name:        "brand_analytics_search_query_monthly",
			ReportType:  "GET_BRAND_ANALYTICS_SEARCH_QUERY_PERFORMANCE_REPORT",
			Options:     map[string]string{"reportPeriod": "MONTH"},
			Windows:     monthly,
			KeyPrefix:   "brand-analytics/search-query-performance/monthly/",
			KeyFormat:   daterange.KeyMonth,
			Extension:   ".jsonl",
			ContentType: "application/x-ndjson",
			Transform:   FlattenField("dataByAsin"),
			ASINSource:  asinSource,
			ChunkSize:   cfg.ChunkSize,
			OnEmpty:     EmptySkipWrite,
		}),
		report(Config{
			Name:        "brand_analytics_repeat_purchase_weekly",
			ReportType:  "GET_BRAND_ANALYTICS_REPEAT_PURCHASE_REPORT",
			Options:     map[string]string{"reportPeriod": "WEEK"},
			Windows:     weekly,
			KeyPrefix:   "brand-analytics/repeat-purchase/weekly/",
			KeyFormat:   daterange.KeyRange,
			Extension:   ".jsonl",
			ContentType: "application/x-ndjson",
			Transform:   FlattenField("dataByAsin"),
			ASINSource:  asinSource,
			ChunkSize:   cfg.ChunkSize,
			OnEmpty:     EmptySkipWrite,
		}),
		report(Config{
			Name:        "brand_analytics_repeat_purchase_monthly",
			ReportType:  "GET_BRAND_ANALYTICS_REPEAT_PURCHASE_REPORT",
			Options:     map[string]string{"reportPeriod": "MONTH"},
			Windows:     monthly,
			KeyPrefix:   "brand-analytics/repeat-purchase/monthly/",
			KeyFormat:   daterange.KeyMonth,
			Extension:   ".jsonl",
			ContentType: "application/x-ndjson",
			Transform:   FlattenField("dataByAsin"),
			ASINSource:  asinSource,
			ChunkSize:   cfg.ChunkSize,
			OnEmpty:     EmptySkipWrite,
		}),
		report(Config{
			Name:        "ledger_detail",
			ReportType:  "GET_LEDGER_DETAIL_VIEW_DATA",
			Windows:     daily,
			KeyPrefix:   "ledger-detail/",
			KeyFormat:   daterange.KeyDay,
			Extension:   ".tsv",
			ContentType: "text/tab-separated-values",
			OnEmpty:     EmptyWriteSentinel,
		}),
		report(Config{
			Name:        "ledger_summary",
			ReportType:  "GET_LEDGER_SUMMARY_VIEW_DATA",
			Windows:     daily,
			KeyPrefix:   "ledger-summary/",
			KeyFormat:   daterange.KeyDay,
			Extension:   ".tsv",
			ContentType: "text/tab-separated-values",
			OnEmpty:     EmptyWriteSentinel,
		}),
		report(Config{
			Name:        "all_orders_report",
			ReportType:  "GET_FLAT_FILE_ALL_ORDERS_DATA_BY_ORDER_DATE_GENERAL",
			Windows:     daily,
			KeyPrefix:   "all-orders-report/",
			KeyFormat:   daterange.KeyDay,
			Extension:   ".tsv",
			ContentType: "text/tab-separated-values",
			OnEmpty:     EmptyWriteSentinel,
		}),
		NewSettlementDriver(
			"settlement_report",
			[]string{"GET_V2_SETTLEMENT_REPORT_DATA_FLAT_FILE_V2"},
			cfg.MarketplaceIDs,
			"settlement-report/",
			".tsv",
			"text/tab-separated-values",
			svc.Reports, svc.Sink, svc.Recorder, svc.Logger,
		),
		snapshot(SnapshotConfig{
			Name:        "orders_api",
			KeyPrefix:   "orders-api/",
			KeyFormat:   daterange.KeyDay,
			Extension:   ".jsonl",
			ContentType: "application/x-ndjson",
			Windows:     daily,
			Pause:       time.Second,
			Fetch: func(ctx context.Context, window daterange.Window) ([]json.RawMessage, error) {
				return svc.Data.Orders(ctx, cfg.MarketplaceIDs, window.Start, window.End)
			},
		}),
		snapshot(SnapshotConfig{
			Name:        "transactions",
			KeyPrefix:   "transactions/",
			KeyFormat:   daterange.KeyDay,
			Extension:   ".jsonl",
			ContentType: "application/x-ndjson",
			Windows:     daily,
			Pause:       time.Second,
			Fetch: func(ctx context.Context, window daterange.Window) ([]json.RawMessage, error) {
				return svc.Data.Transactions(ctx, marketplace, window.Start, window.End)
			},
		}),
	}
}

// Select filters built drivers down to the requested names, preserving
// registration order. Unknown names are an error before any work starts.
func Select(drivers []Driver, names []string) ([]Driver, error) {
	if len(names) == 0 {
		return drivers, nil
	}
	byName := make(map[string]Driver, len(drivers))
	for _, d := range drivers {
		byName[d.Name()] = d
	}
	for _, name := range names {
		if _, ok := byName[name]; !ok {
			return nil, fmt.Errorf("unknown driver %q", name)
		}
	}
	requested := make(map[string]bool, len(names))
	for _, name := range names {
		requested[name] = true
	}
	var selected []Driver
	for _, d := range drivers {
		if requested[d.Name()] {
			selected = append(selected, d)
		}
	}
	return selected, nil
}

// catalogRecords fetches one catalog item per ASIN in today's inventory and
// wraps each with fetch metadata.
func catalogRecords(ctx context.Context, data *spapi.DataService, marketplace string) ([]json.RawMessage, error) {
	asins, err := data.ASINList(ctx, marketplace)
	if err != nil {
		return nil, err
	}

	fetchedAt := time.Now().UTC().Format(time.RFC3339)
	var records []json.RawMessage
	for _, asin := range asins {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		item, err := data.CatalogItem(ctx, marketplace, asin, []string{"summaries", "attributes", "images", "salesRanks"})
		if err != nil {
			// One bad ASIN must not sink the whole snapshot.
			continue
		}
		record, err := json.Marshal(map[string]any{
			"asin":          asin,
			"marketplaceId": marketplace,
			"fetchedAt":     fetchedAt,
			"item":          json.RawMessage(item),
		})
		if err != nil {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}
