// Package orchestrator glues directive parsing, the two-tier cache, source
// fetching/frame extraction, and the transformer into the single pipeline
// the HTTP handler calls per request.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"mediaproxy/internal/apperr"
	"mediaproxy/internal/cache"
	"mediaproxy/internal/config"
	"mediaproxy/internal/directive"
	"mediaproxy/internal/fetcher"
	"mediaproxy/internal/frameextractor"
	"mediaproxy/internal/locker"
	"mediaproxy/internal/processor"
)

// Result is the outcome of one transform request.
type Result struct {
	Payload     []byte
	ContentType string
	Cached      bool
}

// Orchestrator runs the cache-check / lock / re-check / fetch-or-extract /
// transform / write-back sequence for one parsed request.
type Orchestrator struct {
	cfg       *config.Config
	cache     *cache.Manager
	fetcher   *fetcher.Fetcher
	extractor *frameextractor.Extractor
	processor *processor.Processor
	locks     *locker.KeyedLocker
	logger    *slog.Logger
}

// New builds an Orchestrator.
func New(cfg *config.Config, cacheMgr *cache.Manager, f *fetcher.Fetcher, extractor *frameextractor.Extractor, p *processor.Processor, locks *locker.KeyedLocker, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		cache:     cacheMgr,
		fetcher:   f,
		extractor: extractor,
		processor: p,
		locks:     locks,
		logger:    logger.With("component", "orchestrator"),
	}
}

// Handle executes req end to end, returning the encoded output payload.
func (o *Orchestrator) Handle(ctx context.Context, req directive.TransformRequest) (Result, error) {
	if err := o.validateDimensions(req.Resize.Width, req.Resize.Height); err != nil {
		return Result{}, err
	}

	processedKey := cache.Key(directive.Canonical(req))
	processedExt := req.OutputFormat.Extension()

	if payload, ok, err := o.cache.Processed.Lookup(processedKey, processedExt); err != nil {
		return Result{}, apperr.Wrap(apperr.Internal, "lookup processed cache", err)
	} else if ok {
		return Result{Payload: payload, ContentType: req.OutputFormat.ContentType(), Cached: true}, nil
	}

	release := o.locks.Lock(processedKey)
	defer release()

	if payload, ok, err := o.cache.Processed.Lookup(processedKey, processedExt); err != nil {
		return Result{}, apperr.Wrap(apperr.Internal, "lookup processed cache", err)
	} else if ok {
		return Result{Payload: payload, ContentType: req.OutputFormat.ContentType(), Cached: true}, nil
	}

	source, err := o.loadSource(ctx, req.SourceURL)
	if err != nil {
		return Result{}, err
	}

	payload, err := o.processor.Resize(source, processor.Options{
		Mode:           processor.Mode(req.Resize.Mode),
		Width:          req.Resize.Width,
		Height:         req.Resize.Height,
		Format:         processor.Format(req.OutputFormat),
		JPEGQuality:    req.Quality,
		WebPQuality:    req.Quality,
		AVIFQuality:    req.Quality,
		AVIFSpeed:      o.cfg.Resize.AVIFSpeed,
		PNGCompression: o.cfg.Resize.PNGCompression,
	})
	if err != nil {
		if ae, ok := apperr.As(err); ok {
			return Result{}, ae
		}
		return Result{}, apperr.Wrap(apperr.Internal, "transform source", err)
	}

	if err := o.cache.Processed.Install(processedKey, processedExt, payload); err != nil {
		o.logger.Error("install processed cache entry failed", slog.Any("error", err))
	}

	return Result{Payload: payload, ContentType: req.OutputFormat.ContentType(), Cached: false}, nil
}

func (o *Orchestrator) validateDimensions(width, height int) error {
	if width > o.cfg.Resize.MaxWidth {
		return apperr.New(apperr.BadRequest, fmt.Sprintf("width %d exceeds limit %d", width, o.cfg.Resize.MaxWidth))
	}
	if height > o.cfg.Resize.MaxHeight {
		return apperr.New(apperr.BadRequest, fmt.Sprintf("height %d exceeds limit %d", height, o.cfg.Resize.MaxHeight))
	}
	return nil
}

// loadSource returns the decodable source bytes for sourceURL: a fetched
// original for images, or an extracted still frame for videos. Either path
// is cached under the original store keyed by the source URL.
func (o *Orchestrator) loadSource(ctx context.Context, sourceURL string) ([]byte, error) {
	originalKey := cache.Key(sourceURL)
	const originalExt = ""

	if payload, ok, err := o.cache.Original.Lookup(originalKey, originalExt); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "lookup original cache", err)
	} else if ok {
		return payload, nil
	}

	var (
		payload []byte
		err     error
	)
	if frameextractor.IsVideoURL(sourceURL) {
		payload, err = o.extractor.ExtractFrame(ctx, sourceURL)
	} else {
		payload, err = o.fetcher.Fetch(ctx, sourceURL)
	}
	if err != nil {
		return nil, err
	}

	if err := o.cache.Original.Install(originalKey, originalExt, payload); err != nil {
		o.logger.Error("install original cache entry failed", slog.Any("error", err))
	}
	return payload, nil
}
