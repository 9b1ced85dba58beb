// Package opensearch indexes worker history events as JSON documents
// through the OpenSearch (or Elasticsearch) document API.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loykin/hedgectl/internal/history"
)

const requestTimeout = 5 * time.Second

// maxErrorBody bounds how much of a rejected response ends up in the error.
const maxErrorBody = 512

type Sink struct {
	client *http.Client
	docURL string
	index  string
}

// New returns a sink posting to <baseURL>/<index>/_doc.
func New(baseURL, index string) (*Sink, error) {
	index = strings.TrimSpace(index)
	if index == "" || strings.ContainsAny(index, `/\ *?"<>|,#`) || index != strings.ToLower(index) {
		return nil, fmt.Errorf("invalid opensearch index %q", index)
	}
	u, err := url.JoinPath(baseURL, index, "_doc")
	if err != nil {
		return nil, fmt.Errorf("opensearch url: %w", err)
	}
	return &Sink{client: &http.Client{Timeout: requestTimeout}, docURL: u, index: index}, nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.docURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("index %s: %w", s.index, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return fmt.Errorf("index %s: %w", s.index, &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(detail))})
}

// StatusError is a non-2xx reply from the cluster.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.Code)
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

// IsStatus reports whether err carries a StatusError with code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
