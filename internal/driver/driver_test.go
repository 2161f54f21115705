package driver

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"sellersync/internal/daterange"
	"sellersync/internal/domain"
	"sellersync/internal/spapi"
)

type memSink struct {
	mu      sync.Mutex
	objects map[string]string
	writes  int
}

func newMemSink() *memSink {
	return &memSink{objects: map[string]string{}}
}

func (s *memSink) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *memSink) Write(_ context.Context, key string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = string(data)
	s.writes++
	return nil
}

type stubTokens struct{}

func (stubTokens) BearerToken(context.Context) (string, error) { return "bearer-token", nil }
func (stubTokens) RestrictedToken(context.Context, string, string, []string) (string, error) {
	return "restricted-token", nil
}

// reportBackend fakes the report API: create, status, document, download.
type reportBackend struct {
	server *httptest.Server

	mu      sync.Mutex
	creates int
	options map[string]map[string]string

	status   string
	document func(options map[string]string) []byte
}

func newReportBackend(t *testing.T) *reportBackend {
	t.Helper()
	b := &reportBackend{options: map[string]map[string]string{}, status: "DONE"}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /reports", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ReportOptions map[string]string `json:"reportOptions"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.mu.Lock()
		b.creates++
		id := fmt.Sprintf("r-%d", b.creates)
		b.options[id] = body.ReportOptions
		b.mu.Unlock()
		_, _ = w.Write([]byte(`{"reportId":"` + id + `"}`))
	})
	mux.HandleFunc("GET /reports/{id}", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		status := b.status
		b.mu.Unlock()
		if status != "DONE" {
			_, _ = w.Write([]byte(`{"processingStatus":"` + status + `"}`))
			return
		}
		_, _ = w.Write([]byte(`{"processingStatus":"DONE","reportDocumentId":"d-` + r.PathValue("id") + `"}`))
	})
	mux.HandleFunc("GET /documents/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"url":"` + b.server.URL + `/download/` + r.PathValue("id") + `"}`))
	})
	mux.HandleFunc("GET /download/{id}", func(w http.ResponseWriter, r *http.Request) {
		reportID := strings.TrimPrefix(r.PathValue("id"), "d-")
		b.mu.Lock()
		options := b.options[reportID]
		body := b.document(options)
		b.mu.Unlock()
		_, _ = w.Write(body)
	})

	b.server = httptest.NewServer(mux)
	t.Cleanup(b.server.Close)
	return b
}

func (b *reportBackend) reportsService() *spapi.ReportsService {
	client := spapi.NewClient(spapi.ClientConfig{
		Policy: domain.RetryPolicy{MaxAttempts: 2, Backoff: []time.Duration{time.Millisecond}},
	})
	return spapi.NewReportsService(client, stubTokens{}, b.server.URL, nil)
}

func (b *reportBackend) createCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.creates
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func fixedWindows(windows ...daterange.Window) func(time.Time) []daterange.Window {
	return func(time.Time) []daterange.Window { return windows }
}

func fastPoll() spapi.PollConfig {
	return spapi.PollConfig{Interval: time.Millisecond, MaxAttempts: 5}
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestReportDriverMonthlyWindowEndToEnd(t *testing.T) {
	backend := newReportBackend(t)
	backend.document = func(map[string]string) []byte {
		return gzipBytes(t, []byte(`{"dataByAsin":[{"asin":"X"},{"asin":"Y"}]}`))
	}
	out := newMemSink()

	august := daterange.Window{
		Start: time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC),
	}
	d := NewReportDriver(Config{
		Name:       "brand_monthly",
		ReportType: "TEST_REPORT",
		Windows:    fixedWindows(august),
		KeyPrefix:  "brand/",
		KeyFormat:  daterange.KeyMonth,
		Extension:  ".jsonl",
		Transform:  FlattenField("dataByAsin"),
		Poll:       fastPoll(),
	}, backend.reportsService(), out, nil, nil)
	d.sleep = noSleep

	summary := d.Run(context.Background())
	if summary.Succeeded != 1 || summary.Failed != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	content, ok := out.objects["brand/202408.jsonl"]
	if !ok {
		t.Fatalf("expected key brand/202408.jsonl, have %v", out.objects)
	}
	want := `{"asin":"X"}` + "\n" + `{"asin":"Y"}`
	if content != want {
		t.Fatalf("unexpected content %q", content)
	}
}

func TestReportDriverSecondRunSkipsExistingKeys(t *testing.T) {
	backend := newReportBackend(t)
	backend.document = func(map[string]string) []byte {
		return []byte("date\tunits\n2024-08-01\t3\n")
	}
	out := newMemSink()

	window := daterange.Window{
		Start: time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 8, 2, 0, 0, 0, 0, time.UTC),
	}
	cfg := Config{
		Name:       "ledger",
		ReportType: "TEST_REPORT",
		Windows:    fixedWindows(window),
		KeyPrefix:  "ledger-detail/",
		KeyFormat:  daterange.KeyDay,
		Extension:  ".tsv",
		Poll:       fastPoll(),
	}

	first := NewReportDriver(cfg, backend.reportsService(), out, nil, nil)
	first.sleep = noSleep
	if s := first.Run(context.Background()); s.Succeeded != 1 {
		t.Fatalf("first run: %+v", s)
	}
	createsAfterFirst := backend.createCount()

	second := NewReportDriver(cfg, backend.reportsService(), out, nil, nil)
	second.sleep = noSleep
	s := second.Run(context.Background())
	if s.Skipped != 1 || s.Succeeded != 0 {
		t.Fatalf("second run: %+v", s)
	}
	if backend.createCount() != createsAfterFirst {
		t.Fatalf("second run must not touch the remote API")
	}
	if out.writes != 1 {
		t.Fatalf("expected a single write, got %d", out.writes)
	}
}

func TestReportDriverChunksIdentifierListInOrder(t *testing.T) {
	backend := newReportBackend(t)
	backend.document = func(options map[string]string) []byte {
		var records []string
		for _, asin := range strings.Fields(options["asin"]) {
			records = append(records, `{"asin":"`+asin+`"}`)
		}
		return []byte(`{"dataByAsin":[` + strings.Join(records, ",") + `]}`)
	}
	out := newMemSink()

	var asins []string
	for i := 0; i < 23; i++ {
		asins = append(asins, fmt.Sprintf("A%02d", i))
	}

	window := daterange.Window{
		Start: time.Date(2024, 8, 4, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 8, 11, 0, 0, 0, 0, time.UTC),
	}
	d := NewReportDriver(Config{
		Name:       "brand_weekly",
		ReportType: "TEST_REPORT",
		Windows:    fixedWindows(window),
		KeyPrefix:  "brand/",
		KeyFormat:  daterange.KeyRange,
		Extension:  ".jsonl",
		Transform:  FlattenField("dataByAsin"),
		ASINSource: func(context.Context) ([]string, error) { return asins, nil },
		ChunkSize:  10,
		Poll:       fastPoll(),
	}, backend.reportsService(), out, nil, nil)
	d.sleep = noSleep

	summary := d.Run(context.Background())
	if summary.Succeeded != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if got := backend.createCount(); got != 3 {
		t.Fatalf("expected 3 chunked report requests, got %d", got)
	}

	content := out.objects["brand/20240804-20240810.jsonl"]
	lines := strings.Split(content, "\n")
	if len(lines) != 23 {
		t.Fatalf("expected 23 records, got %d", len(lines))
	}
	for i, line := range lines {
		want := `{"asin":"` + fmt.Sprintf("A%02d", i) + `"}`
		if line != want {
			t.Fatalf("record %d out of order: %q", i, line)
		}
	}
}

func TestReportDriverAbandonsWindowsAfterConsecutiveTerminalFailures(t *testing.T) {
	backend := newReportBackend(t)
	backend.status = "FATAL"
	backend.document = func(map[string]string) []byte { return nil }
	out := newMemSink()

	now := time.Date(2024, 8, 21, 0, 0, 0, 0, time.UTC)
	d := NewReportDriver(Config{
		Name:       "backfill",
		ReportType: "TEST_REPORT",
		Windows:    func(time.Time) []daterange.Window { return daterange.BackfillDays(now, now.AddDate(0, 0, -10)) },
		KeyPrefix:  "sales/",
		KeyFormat:  daterange.KeyDay,
		Extension:  ".json",
		Poll:       fastPoll(),
		AbortAfter: 3,
	}, backend.reportsService(), out, nil, nil)
	d.sleep = noSleep

	summary := d.Run(context.Background())
	if !summary.Aborted {
		t.Fatalf("expected abort, got %+v", summary)
	}
	if summary.Failed != 3 {
		t.Fatalf("expected exactly 3 failures before abandoning, got %d", summary.Failed)
	}
	if got := backend.createCount(); got != 3 {
		t.Fatalf("expected 3 creates, got %d", got)
	}
}

func TestReportDriverEmptyBodyPolicies(t *testing.T) {
	window := daterange.Window{
		Start: time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 8, 2, 0, 0, 0, 0, time.UTC),
	}

	run := func(policy EmptyPolicy) (Summary, *memSink) {
		backend := newReportBackend(t)
		backend.document = func(map[string]string) []byte { return []byte("  \n") }
		out := newMemSink()
		d := NewReportDriver(Config{
			Name:       "empty",
			ReportType: "TEST_REPORT",
			Windows:    fixedWindows(window),
			KeyPrefix:  "sales/",
			KeyFormat:  daterange.KeyDay,
			Extension:  ".json",
			Poll:       fastPoll(),
			OnEmpty:    policy,
		}, backend.reportsService(), out, nil, nil)
		d.sleep = noSleep
		return d.Run(context.Background()), out
	}

	summary, out := run(EmptyWriteSentinel)
	if summary.Succeeded != 1 {
		t.Fatalf("sentinel: unexpected summary %+v", summary)
	}
	if content, ok := out.objects["sales/20240801.json"]; !ok || content != "" {
		t.Fatalf("sentinel: expected empty object, got %v", out.objects)
	}

	summary, out = run(EmptySkipWrite)
	if summary.Skipped != 1 || summary.Succeeded != 0 {
		t.Fatalf("skip: unexpected summary %+v", summary)
	}
	if out.writes != 0 {
		t.Fatalf("skip: expected no writes, got %d", out.writes)
	}
}
