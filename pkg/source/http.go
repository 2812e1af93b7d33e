package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config configures the HTTP store client.
type Config struct {
	// URL is the store's base URL, e.g. "http://influx:8086".
	URL string
	// Org and Bucket address the dataset.
	Org    string
	Bucket string
	// Token authenticates requests.
	Token string
	// TagKey is the retirement tag column; defaults to "RetDate".
	TagKey string
	// Timeout bounds a single HTTP request (the query stream itself is
	// only bounded by the caller's context).
	Timeout time.Duration
}

// HTTPStore implements Store against an InfluxDB-v2-style HTTP API:
// POST /api/v2/query for the annotated CSV export and POST /api/v2/delete
// for the predicate delete.
type HTTPStore struct {
	cfg    Config
	client *http.Client
	log    *zap.Logger
}

// NewHTTPStore creates a client for cfg.
func NewHTTPStore(cfg Config, log *zap.Logger) *HTTPStore {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.TagKey == "" {
		cfg.TagKey = "RetDate"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &HTTPStore{
		cfg:    cfg,
		client: &http.Client{},
		log:    log,
	}
}

// TagKey returns the retirement tag column name used in predicates.
func (s *HTTPStore) TagKey() string {
	return s.cfg.TagKey
}

// queryRequest is the /api/v2/query body. The dialect requests all three
// annotation rows so the export matches the stream format the parser
// expects.
type queryRequest struct {
	Query   string       `json:"query"`
	Type    string       `json:"type"`
	Dialect queryDialect `json:"dialect"`
}

type queryDialect struct {
	Annotations []string `json:"annotations"`
	Header      bool     `json:"header"`
}

// Query requests all points tagged with period as an annotated CSV stream.
func (s *HTTPStore) Query(ctx context.Context, period string) (io.ReadCloser, error) {
	flux := fmt.Sprintf(
		`from(bucket: %q) |> range(start: 0) |> filter(fn: (r) => r.%s == %q)`,
		s.cfg.Bucket, s.cfg.TagKey, period)

	body, err := json.Marshal(queryRequest{
		Query: flux,
		Type:  "flux",
		Dialect: queryDialect{
			Annotations: []string{"group", "datatype", "default"},
			Header:      true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("source: marshal query: %w", err)
	}

	u := strings.TrimRight(s.cfg.URL, "/") + "/api/v2/query?" +
		url.Values{"org": {s.cfg.Org}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("source: build query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/csv")
	req.Header.Set("Authorization", "Token "+s.cfg.Token)

	s.log.Debug("querying source store",
		zap.String("period", period),
		zap.String("bucket", s.cfg.Bucket))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source: query: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("source: query: %s", readAPIError(resp))
	}
	return resp.Body, nil
}

// deleteRequest is the /api/v2/delete body.
type deleteRequest struct {
	Start     string `json:"start"`
	Stop      string `json:"stop"`
	Predicate string `json:"predicate"`
}

// Delete issues the predicate delete bounded by [start, stop].
func (s *HTTPStore) Delete(ctx context.Context, predicate string, start, stop time.Time) error {
	body, err := json.Marshal(deleteRequest{
		Start:     start.UTC().Format(time.RFC3339),
		Stop:      stop.UTC().Format(time.RFC3339),
		Predicate: predicate,
	})
	if err != nil {
		return fmt.Errorf("source: marshal delete: %w", err)
	}

	u := strings.TrimRight(s.cfg.URL, "/") + "/api/v2/delete?" +
		url.Values{"org": {s.cfg.Org}, "bucket": {s.cfg.Bucket}}.Encode()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("source: build delete request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+s.cfg.Token)

	s.log.Info("deleting retired records",
		zap.String("predicate", predicate),
		zap.Time("stop", stop))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("source: delete: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("source: delete: %s", readAPIError(resp))
	}
	return nil
}

// readAPIError extracts a short error description from a failed response.
func readAPIError(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		return resp.Status
	}
	return fmt.Sprintf("%s: %s", resp.Status, msg)
}
