package spapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sellersync/internal/domain"
)

func newTestDataService(baseURL string) *DataService {
	client := NewClient(ClientConfig{Policy: domain.RetryPolicy{MaxAttempts: 2, Backoff: []time.Duration{time.Second}}})
	client.sleep = func(context.Context, time.Duration) error { return nil }
	return NewDataService(client, stubTokens{}, baseURL, nil)
}

func TestOrdersFollowsPaginationWithRestrictedToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-access-token") != "restricted-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("NextToken") == "" {
			if r.URL.Query().Get("LastUpdatedAfter") == "" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"payload":{"Orders":[{"AmazonOrderId":"o-1"}],"NextToken":"page-2"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"payload":{"Orders":[{"AmazonOrderId":"o-2"},{"AmazonOrderId":"o-3"}]}}`))
	}))
	defer server.Close()

	service := newTestDataService(server.URL)
	start := time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)
	orders, err := service.Orders(context.Background(), []string{"M1"}, start, start.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("expected orders, got err=%v", err)
	}
	if len(orders) != 3 {
		t.Fatalf("expected 3 orders across pages, got %d", len(orders))
	}
}

func TestTransactionsFollowsPagination(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-access-token") != "bearer-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("nextToken") == "" {
			_, _ = w.Write([]byte(`{"payload":{"transactions":[{"description":"Order"}],"nextToken":"page-2"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"payload":{"transactions":[{"description":"Refund"}]}}`))
	}))
	defer server.Close()

	service := newTestDataService(server.URL)
	start := time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)
	transactions, err := service.Transactions(context.Background(), "M1", start, start.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("expected transactions, got err=%v", err)
	}
	if len(transactions) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(transactions))
	}
}

func TestASINListDeduplicatesInventory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("nextToken") == "" {
			_, _ = w.Write([]byte(`{"payload":{"inventorySummaries":[
				{"asin":"B001","sellerSku":"sku-1"},
				{"asin":"B002","sellerSku":"sku-2"}
			]},"pagination":{"nextToken":"page-2"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"payload":{"inventorySummaries":[
			{"asin":"B001","sellerSku":"sku-1b"},
			{"asin":"B003","sellerSku":"sku-3"}
		]}}`))
	}))
	defer server.Close()

	service := newTestDataService(server.URL)
	asins, err := service.ASINList(context.Background(), "M1")
	if err != nil {
		t.Fatalf("expected asins, got err=%v", err)
	}
	want := []string{"B001", "B002", "B003"}
	if len(asins) != len(want) {
		t.Fatalf("expected %v, got %v", want, asins)
	}
	for i := range want {
		if asins[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, asins)
		}
	}
}

func TestCatalogItemPassesIncludedData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/catalog/2022-04-01/items/B009" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.URL.Query().Get("includedData") != "summaries,attributes" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"asin":"B009","summaries":[{"itemName":"Widget"}]}`))
	}))
	defer server.Close()

	service := newTestDataService(server.URL)
	item, err := service.CatalogItem(context.Background(), "M1", "B009", []string{"summaries", "attributes"})
	if err != nil {
		t.Fatalf("expected item, got err=%v", err)
	}
	if len(item) == 0 {
		t.Fatalf("expected item payload")
	}
}
