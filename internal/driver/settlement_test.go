package driver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSettlementDriverDownloadsFinishedReports(t *testing.T) {
	mux := http.NewServeMux()
	var server *httptest.Server
	mux.HandleFunc("GET /reports", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"reports":[
			{"reportId":"s-1","processingStatus":"DONE","reportDocumentId":"doc-1","dataStartTime":"2024-07-01T00:00:00Z","dataEndTime":"2024-07-15T00:00:00Z"},
			{"reportId":"s-2","processingStatus":"IN_PROGRESS","dataStartTime":"2024-07-15T00:00:00Z","dataEndTime":"2024-07-29T00:00:00Z"},
			{"reportId":"s-3","processingStatus":"DONE","reportDocumentId":"","dataStartTime":"2024-06-17T00:00:00Z","dataEndTime":"2024-07-01T00:00:00Z"}
		]}`))
	})
	mux.HandleFunc("GET /documents/doc-1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"url":"` + server.URL + `/download/doc-1"}`))
	})
	mux.HandleFunc("GET /download/doc-1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("settlement-id\tamount\n123\t9.99\n"))
	})
	server = httptest.NewServer(mux)
	defer server.Close()

	backend := &reportBackend{server: server}
	out := newMemSink()
	d := NewSettlementDriver(
		"settlement_report",
		[]string{"SETTLEMENT_TYPE"},
		[]string{"M1"},
		"settlement-report/",
		".tsv",
		"text/tab-separated-values",
		backend.reportsService(), out, nil, nil,
	)

	summary := d.Run(context.Background())
	if summary.Succeeded != 1 || summary.Failed != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	key := "settlement-report/20240701-20240715-s-1.tsv"
	if _, ok := out.objects[key]; !ok {
		t.Fatalf("expected key %s, have %v", key, out.objects)
	}

	// Second run sees the stored key and downloads nothing new.
	second := d.Run(context.Background())
	if second.Skipped != 1 || second.Succeeded != 0 {
		t.Fatalf("second run: %+v", second)
	}
	if out.writes != 1 {
		t.Fatalf("expected a single write, got %d", out.writes)
	}
}
