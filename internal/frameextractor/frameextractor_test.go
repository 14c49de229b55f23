package frameextractor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"mediaproxy/internal/apperr"
	"mediaproxy/internal/fetcher"
)

func TestIsVideoURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com/clip.mp4", true},
		{"https://example.com/clip.MOV", true},
		{"https://example.com/clip.webm?token=abc", true},
		{"https://example.com/clip.mkv#frag", true},
		{"https://example.com/photo.jpg", false},
		{"https://example.com/photo.png?ext=.mp4", false},
		{"https://example.com/novideoext", false},
	}
	for _, tc := range tests {
		if got := IsVideoURL(tc.url); got != tc.want {
			t.Errorf("IsVideoURL(%q) = %v, want %v", tc.url, got, tc.want)
		}
	}
}

func newTestFetcher() *fetcher.Fetcher {
	return fetcher.New(5*time.Second, 10<<20)
}

func videoServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewResolvesExplicitPath(t *testing.T) {
	path, err := exec.LookPath("echo")
	if err != nil {
		t.Skip("echo not available on this system")
	}
	e, err := New(path, 4, newTestFetcher())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.ffmpegPath != path {
		t.Fatalf("ffmpegPath = %q, want %q", e.ffmpegPath, path)
	}
}

func TestNewDefaultsConcurrency(t *testing.T) {
	path, err := exec.LookPath("echo")
	if err != nil {
		t.Skip("echo not available on this system")
	}
	e, err := New(path, 0, newTestFetcher())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.sem == nil {
		t.Fatalf("expected non-nil semaphore")
	}
}

func TestNewFailsWhenFfmpegNotOnPath(t *testing.T) {
	empty := t.TempDir()
	t.Setenv("PATH", empty)
	if _, err := New("", 1, newTestFetcher()); err == nil {
		t.Fatalf("expected error when ffmpeg cannot be located on PATH")
	}
}

func TestExtractFrameFetchesSourceThroughFetcherContract(t *testing.T) {
	// A fetcher with a tiny byte cap should reject the video before ffmpeg is
	// ever invoked, proving the fetch happens through the shared contract
	// rather than being handed straight to ffmpeg's own input handling.
	srv := videoServer(t, make([]byte, 4096))
	tinyFetcher := fetcher.New(5*time.Second, 128)

	path, err := exec.LookPath("false")
	if err != nil {
		t.Skip("false not available on this system")
	}
	e, err := New(path, 1, tinyFetcher)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = e.ExtractFrame(context.Background(), srv.URL)
	ae, ok := apperr.As(err)
	if !ok || ae.Kind != apperr.TooLarge {
		t.Fatalf("expected TooLarge apperr from the fetch cap, got %v", err)
	}
}

func TestExtractFrameSurfacesVideoDecodeOnFfmpegFailure(t *testing.T) {
	srv := videoServer(t, []byte("not actually a video, but fetchable"))

	// Use "false" as a stand-in binary: it exits non-zero immediately without
	// touching the real ffmpeg CLI contract, exercising the error-mapping path.
	path, err := exec.LookPath("false")
	if err != nil {
		t.Skip("false not available on this system")
	}
	e, err := New(path, 1, newTestFetcher())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = e.ExtractFrame(context.Background(), srv.URL)
	ae, ok := apperr.As(err)
	if !ok || ae.Kind != apperr.VideoDecode {
		t.Fatalf("expected VideoDecode apperr, got %v", err)
	}
}

func TestExtractFrameRespectsSemaphoreCapacity(t *testing.T) {
	srv := videoServer(t, []byte("fetchable payload"))

	path, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available on this system")
	}
	e, err := New(path, 1, newTestFetcher())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if !e.sem.TryAcquire(1) {
		t.Fatalf("expected to acquire the sole permit")
	}
	defer e.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = e.ExtractFrame(ctx, srv.URL)
	ae, ok := apperr.As(err)
	if !ok || ae.Kind != apperr.Timeout {
		t.Fatalf("expected Timeout apperr while permit is held, got %v", err)
	}
}
