// Package frameextractor produces a still WebP frame from a video source by
// fetching it through the shared Fetcher contract and invoking ffmpeg as a
// subprocess against the downloaded bytes, bounded by a process-wide
// concurrency permit.
package frameextractor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"mediaproxy/internal/apperr"
	"mediaproxy/internal/fetcher"
)

const (
	seekOffsetSeconds = "0.5"
	maxHeight         = 720
	stillQuality      = 80
	decodeBudget      = 30 * time.Second
)

// videoExtensions lists the case-insensitive URL path suffixes that mark a
// source as video-typed, per spec.md §4.4.
var videoExtensions = []string{
	".mp4", ".mov", ".avi", ".webm", ".mkv", ".flv", ".wmv", ".m4v", ".mpg", ".mpeg", ".3gp", ".ogv",
}

// IsVideoURL reports whether the URL's path suffix marks it as video-typed.
func IsVideoURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	if idx := strings.IndexAny(lower, "?#"); idx >= 0 {
		lower = lower[:idx]
	}
	for _, ext := range videoExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// Extractor invokes ffmpeg to pull one still frame from a video source URL.
type Extractor struct {
	ffmpegPath string
	fetcher    *fetcher.Fetcher
	sem        *semaphore.Weighted
	budget     time.Duration
}

// New builds an Extractor. ffmpegPath is resolved once at startup so a
// missing binary fails fast rather than per-request; concurrency bounds the
// number of simultaneous ffmpeg subprocesses. f performs the network fetch of
// the video source, so MAX_IMAGE_BYTES and FETCH_TIMEOUT_SECS apply to video
// sources exactly as they do to image sources.
func New(ffmpegPath string, concurrency int, f *fetcher.Fetcher) (*Extractor, error) {
	if ffmpegPath == "" {
		resolved, err := exec.LookPath("ffmpeg")
		if err != nil {
			return nil, fmt.Errorf("locate ffmpeg: %w", err)
		}
		ffmpegPath = resolved
	}
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Extractor{
		ffmpegPath: ffmpegPath,
		fetcher:    f,
		sem:        semaphore.NewWeighted(int64(concurrency)),
		budget:     decodeBudget,
	}, nil
}

// ExtractFrame fetches sourceURL through the shared Fetcher contract (bounded
// by the configured fetch timeout and size cap) and emits a single
// WebP-encoded still frame, seeked 0.5s in and scaled so height <= 720
// preserving aspect ratio.
func (e *Extractor) ExtractFrame(ctx context.Context, sourceURL string) ([]byte, error) {
	video, err := e.fetcher.Fetch(ctx, sourceURL)
	if err != nil {
		return nil, err
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, apperr.Wrap(apperr.Timeout, "waiting for extraction permit", err)
	}
	defer e.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, e.budget)
	defer cancel()

	in, err := os.CreateTemp("", "source-*.mp4")
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "create temp input", err)
	}
	inPath := in.Name()
	defer os.Remove(inPath)
	if _, err := in.Write(video); err != nil {
		in.Close()
		return nil, apperr.Wrap(apperr.Internal, "write temp input", err)
	}
	if err := in.Close(); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "write temp input", err)
	}

	outDir, err := os.MkdirTemp("", "frame-*")
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "create temp output dir", err)
	}
	defer os.RemoveAll(outDir)
	outPath := filepath.Join(outDir, "frame.webp")

	args := []string{
		"-ss", seekOffsetSeconds,
		"-i", inPath,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale='min(iw,iw*%d/ih)':'min(%d,ih)'", maxHeight, maxHeight),
		"-c:v", "libwebp",
		"-quality", strconv.Itoa(stillQuality),
		"-y",
		outPath,
	}

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return nil, apperr.Wrap(apperr.Timeout, "extraction timed out", ctx.Err())
	}
	if runErr != nil {
		msg := strings.TrimSpace(stderr.String())
		return nil, apperr.Wrap(apperr.VideoDecode, fmt.Sprintf("ffmpeg exited with error: %s", msg), runErr)
	}

	payload, err := os.ReadFile(outPath)
	if err != nil {
		return nil, apperr.Wrap(apperr.VideoDecode, "read extracted frame", err)
	}
	if len(payload) == 0 {
		return nil, apperr.New(apperr.VideoDecode, "ffmpeg produced zero bytes")
	}
	return payload, nil
}
