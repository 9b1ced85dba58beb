package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loykin/hedgectl/internal/history"
)

func TestOpenSearchSink_Send(t *testing.T) {
	var receivedBody []byte
	var receivedURL, receivedMethod, contentType string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedURL = r.URL.Path
		contentType = r.Header.Get("Content-Type")
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"_id":"1","_index":"worker-history","result":"created"}`))
	}))
	defer server.Close()

	sink, err := New(server.URL+"/", "worker-history")
	if err != nil {
		t.Fatal(err)
	}
	started := time.Now().Add(-time.Minute).UTC()
	event := history.Event{
		Type:       history.EventStart,
		OccurredAt: time.Now().UTC(),
		Record:     history.Record{Name: "hedge-scheduler", PID: 12345, StartedAt: started},
	}
	if err = sink.Send(context.Background(), event); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if receivedMethod != http.MethodPost {
		t.Errorf("Expected POST method, got: %s", receivedMethod)
	}
	if receivedURL != "/worker-history/_doc" {
		t.Errorf("Unexpected URL path: %s", receivedURL)
	}
	if contentType != "application/json" {
		t.Errorf("Unexpected content type: %s", contentType)
	}

	var doc map[string]any
	if err := json.Unmarshal(receivedBody, &doc); err != nil {
		t.Fatalf("Failed to parse received JSON: %v", err)
	}
	if doc["type"] != "start" {
		t.Errorf("Expected type start, got: %v", doc["type"])
	}
	rec, ok := doc["record"].(map[string]any)
	if !ok {
		t.Fatalf("missing record in payload: %v", doc)
	}
	if rec["name"] != "hedge-scheduler" || rec["pid"] != float64(12345) {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestOpenSearchSink_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"mapper_parsing_exception"}`))
	}))
	defer server.Close()

	sink, err := New(server.URL, "idx")
	if err != nil {
		t.Fatal(err)
	}
	err = sink.Send(context.Background(), history.Event{Type: history.EventStop})
	if !IsStatus(err, http.StatusBadRequest) || !strings.Contains(err.Error(), "mapper_parsing_exception") {
		t.Fatalf("expected status error with body, got %v", err)
	}
}

func TestOpenSearchSink_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink, err := New(server.URL, "idx")
	if err != nil {
		t.Fatal(err)
	}
	if err := sink.Send(ctx, history.Event{}); err == nil {
		t.Fatal("expected error with cancelled context")
	}
}

func TestNewRejectsBadIndex(t *testing.T) {
	for _, idx := range []string{"", "Upper", "a/b", "with space", "x*"} {
		if _, err := New("http://localhost:9200", idx); err == nil {
			t.Errorf("index %q accepted", idx)
		}
	}
	s, err := New("http://localhost:9200/prefix/", "worker-history")
	if err != nil || s.docURL != "http://localhost:9200/prefix/worker-history/_doc" {
		t.Fatalf("docURL=%v err=%v", s, err)
	}
}
