package scanner

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPClient_Submit(t *testing.T) {
	var gotAPIKey string
	var gotFilename string
	var gotContent []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/files" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAPIKey = r.Header.Get("x-apikey")

		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		gotFilename = header.Filename
		buf := new(bytes.Buffer)
		buf.ReadFrom(file)
		gotContent = buf.Bytes()

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"type":"analysis","id":"analysis-123"}}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "secret-key")
	handle, err := client.Submit(context.Background(), "cat.png", bytes.NewReader([]byte("png-bytes")))
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if handle != "analysis-123" {
		t.Fatalf("expected handle analysis-123, got %s", handle)
	}
	if gotAPIKey != "secret-key" {
		t.Fatalf("expected api key header, got %q", gotAPIKey)
	}
	if gotFilename != "cat.png" {
		t.Fatalf("expected filename cat.png, got %s", gotFilename)
	}
	if string(gotContent) != "png-bytes" {
		t.Fatalf("provider received wrong content: %q", gotContent)
	}
}

func TestHTTPClient_Submit_ProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "bad-key")
	_, err := client.Submit(context.Background(), "cat.png", bytes.NewReader([]byte("x")))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if errors.Is(err, ErrTransient) {
		t.Fatal("submit errors must not be marked transient")
	}
}

func TestHTTPClient_Analysis_Completed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analyses/analysis-123" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"attributes":{"status":"completed","stats":{"malicious":1,"suspicious":0,"harmless":70}}}}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "key")
	report, err := client.Analysis(context.Background(), "analysis-123")
	if err != nil {
		t.Fatalf("Analysis returned error: %v", err)
	}
	if !report.Completed() {
		t.Fatalf("expected completed report, got status %q", report.Status)
	}
	if !report.Stats.Flagged() {
		t.Fatal("expected flagged stats")
	}
}

func TestHTTPClient_Analysis_Queued(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"attributes":{"status":"queued","stats":{}}}}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "key")
	report, err := client.Analysis(context.Background(), "h")
	if err != nil {
		t.Fatalf("Analysis returned error: %v", err)
	}
	if report.Completed() {
		t.Fatal("queued report must not be terminal")
	}
}

func TestHTTPClient_Analysis_TransientStatuses(t *testing.T) {
	for _, status := range []int{http.StatusInternalServerError, http.StatusBadGateway, http.StatusTooManyRequests} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		client := NewHTTPClient(server.URL, "key")
		_, err := client.Analysis(context.Background(), "h")
		server.Close()

		if !errors.Is(err, ErrTransient) {
			t.Fatalf("status %d: expected transient error, got %v", status, err)
		}
	}
}

func TestHTTPClient_Analysis_PermanentClientError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "key")
	_, err := client.Analysis(context.Background(), "h")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if errors.Is(err, ErrTransient) {
		t.Fatal("4xx must not be treated as transient")
	}
}
