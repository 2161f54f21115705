package spapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sellersync/internal/decode"
	"sellersync/internal/domain"
)

// PollConfig bounds the status-poll loop for one report. Remote processing
// time is unbounded in the worst case, so every caller supplies a finite
// attempt budget.
type PollConfig struct {
	Interval    time.Duration
	MaxAttempts int
}

// ReportDescriptor is one entry from the report listing endpoint.
type ReportDescriptor struct {
	ReportID         string `json:"reportId"`
	ReportType       string `json:"reportType"`
	ProcessingStatus string `json:"processingStatus"`
	ReportDocumentID string `json:"reportDocumentId"`
	DataStartTime    string `json:"dataStartTime"`
	DataEndTime      string `json:"dataEndTime"`
}

// ReportsService drives the asynchronous report acquisition protocol:
// create -> poll -> resolve document -> download -> decode.
type ReportsService struct {
	client  *Client
	auth    TokenProvider
	baseURL string
	logger  *log.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewReportsService(client *Client, auth TokenProvider, baseURL string, logger *log.Logger) *ReportsService {
	return &ReportsService{
		client:  client,
		auth:    auth,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
		sleep:   sleepContext,
	}
}

func (s *ReportsService) headers(ctx context.Context) (map[string]string, error) {
	token, err := s.auth.BearerToken(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"Content-Type":       "application/json",
		"x-api-access-token": token,
	}, nil
}

// CreateReport submits the request and returns the remote report id.
func (s *ReportsService) CreateReport(ctx context.Context, req domain.ReportRequest) (string, error) {
	body := map[string]any{
		"reportType":     req.ReportType,
		"marketplaceIds": req.MarketplaceIDs,
		"dataStartTime":  req.StartTime.UTC().Format(time.RFC3339),
		"dataEndTime":    req.EndTime.UTC().Format(time.RFC3339),
	}
	if len(req.Options) > 0 {
		body["reportOptions"] = req.Options
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	headers, err := s.headers(ctx)
	if err != nil {
		return "", err
	}

	resp, err := s.client.Execute(ctx, http.MethodPost, s.baseURL+"/reports", RequestOptions{
		Headers: headers,
		Body:    payload,
	})
	if err != nil {
		return "", err
	}

	var parsed struct {
		ReportID string `json:"reportId"`
	}
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return "", &APIError{StatusCode: resp.StatusCode, Body: "create response was not JSON: " + err.Error()}
	}
	if parsed.ReportID == "" {
		return "", &APIError{StatusCode: resp.StatusCode, Body: "create response without reportId"}
	}
	return parsed.ReportID, nil
}

// Poll waits for the report to reach a terminal remote state. DONE yields the
// document id. FATAL and CANCELLED stop immediately with *ReportFailedError:
// that window is permanently unavailable and retrying will not help. An
// exhausted attempt budget yields *ReportTimeoutError, which callers treat as
// retryable on a later run.
func (s *ReportsService) Poll(ctx context.Context, job *domain.ReportJob, poll PollConfig) error {
	headers, err := s.headers(ctx)
	if err != nil {
		return err
	}

	job.State = domain.JobStatePolling
	statusURL := s.baseURL + "/reports/" + url.PathEscape(job.ReportID)

	for attempt := 0; attempt < poll.MaxAttempts; attempt++ {
		if err := s.sleep(ctx, poll.Interval); err != nil {
			return err
		}
		job.Attempts = attempt + 1

		resp, err := s.client.Execute(ctx, http.MethodGet, statusURL, RequestOptions{Headers: headers})
		if err != nil {
			return err
		}

		var parsed struct {
			ProcessingStatus string `json:"processingStatus"`
			ReportDocumentID string `json:"reportDocumentId"`
		}
		if err := json.Unmarshal(resp.Body, &parsed); err != nil {
			return &APIError{StatusCode: resp.StatusCode, Body: "status response was not JSON: " + err.Error()}
		}

		switch parsed.ProcessingStatus {
		case "DONE":
			if parsed.ReportDocumentID == "" {
				// Should not happen, but must not crash or hang the caller.
				job.State = domain.JobStateFailed
				return &ReportFailedError{ReportID: job.ReportID, Status: "DONE_WITHOUT_DOCUMENT"}
			}
			job.DocumentID = parsed.ReportDocumentID
			job.State = domain.JobStateDone
			return nil
		case "FATAL", "CANCELLED":
			job.State = domain.JobStateFailed
			return &ReportFailedError{ReportID: job.ReportID, Status: parsed.ProcessingStatus}
		default:
			// IN_QUEUE / IN_PROGRESS: keep polling.
			if s.logger != nil && attempt > 0 && attempt%5 == 0 {
				s.logger.Printf("reports: %s still %s (attempt %d/%d)", job.ReportID, parsed.ProcessingStatus, attempt+1, poll.MaxAttempts)
			}
		}
	}

	job.State = domain.JobStateTimedOut
	return &ReportTimeoutError{ReportID: job.ReportID, Attempts: poll.MaxAttempts}
}

// DocumentURL resolves a document id to its time-limited download URL.
func (s *ReportsService) DocumentURL(ctx context.Context, documentID string) (string, error) {
	headers, err := s.headers(ctx)
	if err != nil {
		return "", err
	}

	resp, err := s.client.Execute(ctx, http.MethodGet, s.baseURL+"/documents/"+url.PathEscape(documentID), RequestOptions{Headers: headers})
	if err != nil {
		return "", err
	}

	var parsed struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(resp.Body, &parsed); err != nil || parsed.URL == "" {
		return "", &APIError{StatusCode: resp.StatusCode, Body: "document response without url"}
	}
	return parsed.URL, nil
}

// Download fetches the document payload. The URL is pre-signed, so no auth
// header is attached.
func (s *ReportsService) Download(ctx context.Context, downloadURL string) ([]byte, error) {
	resp, err := s.client.Execute(ctx, http.MethodGet, downloadURL, RequestOptions{})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// FetchReport runs the whole state machine for one request and returns the
// decoded payload. The ReportJob it builds lives only for this call.
func (s *ReportsService) FetchReport(ctx context.Context, req domain.ReportRequest, poll PollConfig) (domain.Payload, error) {
	reportID, err := s.CreateReport(ctx, req)
	if err != nil {
		return domain.Payload{}, err
	}

	job := &domain.ReportJob{ReportID: reportID, State: domain.JobStateCreated}
	if err := s.Poll(ctx, job, poll); err != nil {
		return domain.Payload{}, err
	}

	downloadURL, err := s.DocumentURL(ctx, job.DocumentID)
	if err != nil {
		return domain.Payload{}, err
	}

	raw, err := s.Download(ctx, downloadURL)
	if err != nil {
		return domain.Payload{}, err
	}
	return decode.Decode(raw)
}

// FetchDocument downloads and decodes an already-generated report, given its
// document id. Used for platform-scheduled reports discovered via ListReports.
func (s *ReportsService) FetchDocument(ctx context.Context, documentID string) (domain.Payload, error) {
	downloadURL, err := s.DocumentURL(ctx, documentID)
	if err != nil {
		return domain.Payload{}, err
	}
	raw, err := s.Download(ctx, downloadURL)
	if err != nil {
		return domain.Payload{}, err
	}
	return decode.Decode(raw)
}

// ListReports returns existing report descriptors for the given types. Some
// report families are generated by the platform on its own schedule and can
// only be discovered, never requested.
func (s *ReportsService) ListReports(ctx context.Context, reportTypes []string, marketplaceIDs []string) ([]ReportDescriptor, error) {
	headers, err := s.headers(ctx)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("reportTypes", strings.Join(reportTypes, ","))
	query.Set("marketplaceIds", strings.Join(marketplaceIDs, ","))

	resp, err := s.client.Execute(ctx, http.MethodGet, s.baseURL+"/reports", RequestOptions{
		Headers: headers,
		Query:   query,
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Reports []ReportDescriptor `json:"reports"`
	}
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: "list response was not JSON: " + err.Error()}
	}
	return parsed.Reports, nil
}
