package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mediaproxy/internal/apperr"
)

func TestFetchReturnsBody(t *testing.T) {
	payload := []byte("hello world")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua == "" {
			t.Errorf("expected non-empty User-Agent header")
		}
		w.Write(payload)
	}))
	defer srv.Close()

	f := New(5*time.Second, 1024)
	body, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(body) != string(payload) {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestFetchRejectsNon2xxStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(5*time.Second, 1024)
	_, err := f.Fetch(context.Background(), srv.URL)
	ae, ok := apperr.As(err)
	if !ok || ae.Kind != apperr.Upstream {
		t.Fatalf("expected Upstream apperr, got %v", err)
	}
}

func TestFetchRejectsOversizeContentLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "2048")
		w.WriteHeader(http.StatusOK)
		w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	f := New(5*time.Second, 1024)
	_, err := f.Fetch(context.Background(), srv.URL)
	ae, ok := apperr.As(err)
	if !ok || ae.Kind != apperr.TooLarge {
		t.Fatalf("expected TooLarge apperr, got %v", err)
	}
}

func TestFetchRejectsOversizeStreamedBodyWithoutContentLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Transfer-Encoding", "chunked")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		for i := 0; i < 4; i++ {
			w.Write(make([]byte, 512))
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	defer srv.Close()

	f := New(5*time.Second, 1024)
	_, err := f.Fetch(context.Background(), srv.URL)
	ae, ok := apperr.As(err)
	if !ok || ae.Kind != apperr.TooLarge {
		t.Fatalf("expected TooLarge apperr, got %v", err)
	}
}

func TestFetchTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.Write([]byte("too slow"))
	}))
	defer srv.Close()

	f := New(10*time.Millisecond, 1024)
	_, err := f.Fetch(context.Background(), srv.URL)
	ae, ok := apperr.As(err)
	if !ok || ae.Kind != apperr.Timeout {
		t.Fatalf("expected Timeout apperr, got %v", err)
	}
}

func TestFetchBadRequestOnUnbuildableRequest(t *testing.T) {
	f := New(5*time.Second, 1024)
	_, err := f.Fetch(context.Background(), "://not-a-url")
	ae, ok := apperr.As(err)
	if !ok || ae.Kind != apperr.BadRequest {
		t.Fatalf("expected BadRequest apperr, got %v", err)
	}
	if !strings.Contains(err.Error(), "build request") {
		t.Fatalf("unexpected error message: %v", err)
	}
}
