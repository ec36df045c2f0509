package migrate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"auditdesk/storage"
)

// RESTSource reads through the hosted backend's REST API (PostgREST) with the
// project URL and anon key, the same credentials the web client uses.
type RESTSource struct {
	baseURL string
	apiKey  string
	client  *retryablehttp.Client
}

// NewRESTSource creates a source for the project at baseURL.
func NewRESTSource(baseURL, apiKey string, logger *zap.SugaredLogger) (*RESTSource, error) {
	if baseURL == "" || apiKey == "" {
		return nil, fmt.Errorf("rest source: project URL and API key are required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("rest source: invalid project URL: %w", err)
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = 60 * time.Second
	client.Logger = nil
	client.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			logger.Warnw("Retrying REST request", "path", req.URL.Path, "attempt", attempt)
		}
	}

	return &RESTSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
	}, nil
}

func (s *RESTSource) newRequest(ctx context.Context, method string, table storage.Table) (*retryablehttp.Request, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/rest/v1/%s?select=*&order=id.asc", s.baseURL, url.PathEscape(string(table)))
	req, err := retryablehttp.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// FetchPage requests rows offset..offset+limit-1 using a Range header.
func (s *RESTSource) FetchPage(ctx context.Context, table storage.Table, offset, limit int) ([]map[string]any, error) {
	req, err := s.newRequest(ctx, http.MethodGet, table)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range-Unit", "items")
	req.Header.Set("Range", fmt.Sprintf("%d-%d", offset, offset+limit-1))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", table, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	// 416 means the range starts past the end
	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		return []map[string]any{}, nil
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return nil, fmt.Errorf("fetch %s: %s: %s", table, resp.Status, strings.TrimSpace(string(body)))
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	page := make([]map[string]any, 0, limit)
	if err := dec.Decode(&page); err != nil {
		return nil, fmt.Errorf("decode %s: %w", table, err)
	}
	return page, nil
}

// Count asks for an exact count and reads it from Content-Range.
func (s *RESTSource) Count(ctx context.Context, table storage.Table) (int, error) {
	req, err := s.newRequest(ctx, http.MethodHead, table)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Prefer", "count=exact")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("count %s: %s", table, resp.Status)
	}
	return parseContentRangeTotal(resp.Header.Get("Content-Range"))
}

// parseContentRangeTotal reads N from "0-9/N" or "*/N".
func parseContentRangeTotal(h string) (int, error) {
	i := strings.LastIndexByte(h, '/')
	if i < 0 || i == len(h)-1 {
		return 0, fmt.Errorf("malformed Content-Range %q", h)
	}
	total := h[i+1:]
	if total == "*" {
		return 0, fmt.Errorf("Content-Range %q has no total", h)
	}
	n, err := strconv.Atoi(total)
	if err != nil {
		return 0, fmt.Errorf("malformed Content-Range %q: %w", h, err)
	}
	return n, nil
}
