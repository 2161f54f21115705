package spapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const ordersPath = "/orders/v0/orders"

// DataService fetches entity snapshots from the synchronous seller APIs:
// orders, financial transactions, inventory summaries, and catalog items.
// These endpoints page with continuation tokens instead of the asynchronous
// report protocol.
type DataService struct {
	client  *Client
	auth    TokenProvider
	baseURL string
	logger  *log.Logger
}

func NewDataService(client *Client, auth TokenProvider, baseURL string, logger *log.Logger) *DataService {
	return &DataService{
		client:  client,
		auth:    auth,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

func (s *DataService) bearerHeaders(ctx context.Context) (map[string]string, error) {
	token, err := s.auth.BearerToken(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{"x-api-access-token": token}, nil
}

// Orders returns every order updated inside [start, end), pages followed to
// exhaustion. Buyer fields require a restricted token, exchanged once per call.
func (s *DataService) Orders(ctx context.Context, marketplaceIDs []string, start, end time.Time) ([]json.RawMessage, error) {
	token, err := s.auth.RestrictedToken(ctx, ordersPath, http.MethodGet, []string{"buyerInfo", "shippingAddress"})
	if err != nil {
		return nil, err
	}
	headers := map[string]string{"x-api-access-token": token}

	var (
		orders    []json.RawMessage
		nextToken string
	)
	for {
		query := url.Values{}
		if nextToken == "" {
			query.Set("MarketplaceIds", strings.Join(marketplaceIDs, ","))
			query.Set("LastUpdatedAfter", start.UTC().Format(time.RFC3339))
			query.Set("LastUpdatedBefore", end.UTC().Format(time.RFC3339))
		} else {
			query.Set("MarketplaceIds", strings.Join(marketplaceIDs, ","))
			query.Set("NextToken", nextToken)
		}

		resp, err := s.client.Execute(ctx, http.MethodGet, s.baseURL+ordersPath, RequestOptions{
			Headers: headers,
			Query:   query,
		})
		if err != nil {
			return nil, err
		}

		var parsed struct {
			Payload struct {
				Orders    []json.RawMessage `json:"Orders"`
				NextToken string            `json:"NextToken"`
			} `json:"payload"`
		}
		if err := json.Unmarshal(resp.Body, &parsed); err != nil {
			return nil, &APIError{StatusCode: resp.StatusCode, Body: "orders response was not JSON: " + err.Error()}
		}

		orders = append(orders, parsed.Payload.Orders...)
		nextToken = parsed.Payload.NextToken
		if nextToken == "" {
			return orders, nil
		}
	}
}

// Transactions returns financial transaction events posted inside [start, end).
func (s *DataService) Transactions(ctx context.Context, marketplaceID string, start, end time.Time) ([]json.RawMessage, error) {
	headers, err := s.bearerHeaders(ctx)
	if err != nil {
		return nil, err
	}

	var (
		transactions []json.RawMessage
		nextToken    string
	)
	for {
		query := url.Values{}
		query.Set("postedAfter", start.UTC().Format(time.RFC3339))
		query.Set("postedBefore", end.UTC().Format(time.RFC3339))
		query.Set("marketplaceId", marketplaceID)
		if nextToken != "" {
			query.Set("nextToken", nextToken)
		}

		resp, err := s.client.Execute(ctx, http.MethodGet, s.baseURL+"/finances/2024-06-19/transactions", RequestOptions{
			Headers: headers,
			Query:   query,
		})
		if err != nil {
			return nil, err
		}

		var parsed struct {
			Payload struct {
				Transactions []json.RawMessage `json:"transactions"`
				NextToken    string            `json:"nextToken"`
			} `json:"payload"`
		}
		if err := json.Unmarshal(resp.Body, &parsed); err != nil {
			return nil, &APIError{StatusCode: resp.StatusCode, Body: "transactions response was not JSON: " + err.Error()}
		}

		transactions = append(transactions, parsed.Payload.Transactions...)
		nextToken = parsed.Payload.NextToken
		if nextToken == "" {
			return transactions, nil
		}
	}
}

// InventorySummaries returns the current FBA inventory snapshot for the
// marketplace, details included, pages followed to exhaustion.
func (s *DataService) InventorySummaries(ctx context.Context, marketplaceID string) ([]json.RawMessage, error) {
	headers, err := s.bearerHeaders(ctx)
	if err != nil {
		return nil, err
	}

	var (
		summaries []json.RawMessage
		nextToken string
	)
	for {
		query := url.Values{}
		query.Set("granularityType", "Marketplace")
		query.Set("granularityId", marketplaceID)
		query.Set("marketplaceIds", marketplaceID)
		query.Set("details", "true")
		if nextToken != "" {
			query.Set("nextToken", nextToken)
		}

		resp, err := s.client.Execute(ctx, http.MethodGet, s.baseURL+"/fba/inventory/v1/summaries", RequestOptions{
			Headers: headers,
			Query:   query,
		})
		if err != nil {
			return nil, err
		}

		var parsed struct {
			Payload struct {
				InventorySummaries []json.RawMessage `json:"inventorySummaries"`
			} `json:"payload"`
			Pagination struct {
				NextToken string `json:"nextToken"`
			} `json:"pagination"`
		}
		if err := json.Unmarshal(resp.Body, &parsed); err != nil {
			return nil, &APIError{StatusCode: resp.StatusCode, Body: "inventory response was not JSON: " + err.Error()}
		}

		summaries = append(summaries, parsed.Payload.InventorySummaries...)
		nextToken = parsed.Pagination.NextToken
		if nextToken == "" {
			return summaries, nil
		}
	}
}

// ASINList derives the deduplicated ASIN list from the inventory snapshot,
// in first-seen order. It feeds the report types that are requested per ASIN
// chunk.
func (s *DataService) ASINList(ctx context.Context, marketplaceID string) ([]string, error) {
	summaries, err := s.InventorySummaries(ctx, marketplaceID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(summaries))
	var asins []string
	for _, summary := range summaries {
		var parsed struct {
			ASIN string `json:"asin"`
		}
		if err := json.Unmarshal(summary, &parsed); err != nil || parsed.ASIN == "" {
			continue
		}
		if !seen[parsed.ASIN] {
			seen[parsed.ASIN] = true
			asins = append(asins, parsed.ASIN)
		}
	}
	return asins, nil
}

// CatalogItem fetches one catalog item with the requested data sets.
func (s *DataService) CatalogItem(ctx context.Context, marketplaceID, asin string, includedData []string) (json.RawMessage, error) {
	headers, err := s.bearerHeaders(ctx)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("marketplaceIds", marketplaceID)
	if len(includedData) > 0 {
		query.Set("includedData", strings.Join(includedData, ","))
	}

	resp, err := s.client.Execute(ctx, http.MethodGet, s.baseURL+"/catalog/2022-04-01/items/"+url.PathEscape(asin), RequestOptions{
		Headers: headers,
		Query:   query,
	})
	if err != nil {
		return nil, err
	}
	return json.RawMessage(resp.Body), nil
}
