// Package processor implements the five named resize geometries
// (Fit/Fill/FillDown/Force/Auto) on top of libvips via bimg, plus
// per-format encode settings (JPEG/PNG/WebP/AVIF quality and speed).
package processor

import (
	"fmt"

	"github.com/h2non/bimg"

	"mediaproxy/internal/apperr"
)

// Format enumerates supported output formats.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWEBP Format = "webp"
	FormatAVIF Format = "avif"
)

// Mode enumerates the five resize geometries.
type Mode string

const (
	ModeFit      Mode = "fit"
	ModeFill     Mode = "fill"
	ModeFillDown Mode = "fill-down"
	ModeForce    Mode = "force"
	ModeAuto     Mode = "auto"
)

// Options describe a resize-and-encode request. Width/Height of 0 means
// the dimension is absent; the missing one is derived from source aspect.
type Options struct {
	Mode           Mode
	Width          int
	Height         int
	Format         Format
	JPEGQuality    int
	WebPQuality    int
	AVIFQuality    int
	AVIFSpeed      int
	PNGCompression int
}

// Processor wraps libvips via bimg to transform images.
type Processor struct{}

// New creates a new Processor instance.
func New() *Processor {
	return &Processor{}
}

// geometry is the concrete bimg resize instruction derived from a Mode and
// the source's actual dimensions.
type geometry struct {
	width   int
	height  int
	crop    bool
	enlarge bool
	force   bool
}

// Resize applies the requested mode/dimensions to the source payload and
// encodes the result in the requested format.
func (p *Processor) Resize(source []byte, opts Options) ([]byte, error) {
	if len(source) == 0 {
		return nil, apperr.New(apperr.Decode, "source payload is empty")
	}
	img := bimg.NewImage(source)
	size, err := img.Size()
	if err != nil {
		return nil, apperr.Wrap(apperr.Decode, "inspect source size", err)
	}

	geo, err := computeGeometry(opts.Mode, size.Width, size.Height, opts.Width, opts.Height)
	if err != nil {
		return nil, apperr.Wrap(apperr.BadRequest, "compute resize geometry", err)
	}

	options, err := buildEncodeOptions(opts)
	if err != nil {
		return nil, apperr.Wrap(apperr.BadRequest, "build encode options", err)
	}
	options.Width = geo.width
	options.Height = geo.height
	options.Crop = geo.crop
	options.Enlarge = geo.enlarge
	options.Force = geo.force
	if geo.crop {
		options.Gravity = bimg.GravityCentre
	} else {
		options.Embed = false
	}

	result, err := img.Process(options)
	if err != nil {
		return nil, apperr.Wrap(apperr.Encode, "encode image", err)
	}
	return result, nil
}

// computeGeometry derives the bimg instruction for mode against a source of
// size sw×sh and requested bounds w×h (0 meaning absent).
func computeGeometry(mode Mode, sw, sh, w, h int) (geometry, error) {
	switch mode {
	case ModeFit, "":
		return fitGeometry(sw, sh, w, h), nil
	case ModeFill:
		return fillGeometry(sw, sh, w, h, true), nil
	case ModeFillDown:
		return fillDownGeometry(sw, sh, w, h), nil
	case ModeForce:
		return forceGeometry(sw, sh, w, h), nil
	case ModeAuto:
		return autoGeometry(sw, sh, w, h), nil
	default:
		return geometry{}, fmt.Errorf("unsupported resize mode %q", mode)
	}
}

// fitGeometry scales uniformly to fit within w×h, never upscaling and never
// cropping. A missing dimension is derived from source aspect by
// clampMissing before bimg is called.
func fitGeometry(sw, sh, w, h int) geometry {
	w, h = clampMissing(sw, sh, w, h)
	return geometry{width: w, height: h, crop: false, enlarge: false}
}

// fillGeometry scales uniformly to cover w×h, then center-crops to exactly
// w×h. enlarge controls whether upscaling is permitted.
func fillGeometry(sw, sh, w, h int, enlarge bool) geometry {
	w, h = clampMissing(sw, sh, w, h)
	return geometry{width: w, height: h, crop: true, enlarge: enlarge}
}

// fillDownGeometry behaves like Fill but never upscales: when a requested
// dimension exceeds the source, the crop target narrows to the source's own
// extent on that axis, per spec.md's FillDown definition.
func fillDownGeometry(sw, sh, w, h int) geometry {
	w, h = clampMissing(sw, sh, w, h)
	effectiveW, effectiveH := w, h
	if effectiveW > sw {
		effectiveW = sw
	}
	if effectiveH > sh {
		effectiveH = sh
	}
	return geometry{width: effectiveW, height: effectiveH, crop: true, enlarge: false}
}

// forceGeometry resizes to exactly w×h, ignoring aspect ratio, upscaling as
// needed. A missing dimension falls back to the source's own size on that
// axis, since "ignoring aspect ratio" has no meaning with only one bound.
func forceGeometry(sw, sh, w, h int) geometry {
	if w == 0 {
		w = sw
	}
	if h == 0 {
		h = sh
	}
	return geometry{width: w, height: h, crop: false, enlarge: true, force: true}
}

// autoGeometry applies Fill when the source and target share an
// orientation (landscape if dim w/h ratio ≥ 1), Fit otherwise.
func autoGeometry(sw, sh, w, h int) geometry {
	tw, th := clampMissing(sw, sh, w, h)
	sourceLandscape := sw >= sh
	targetLandscape := tw >= th
	if sourceLandscape == targetLandscape {
		return fillGeometry(sw, sh, w, h, true)
	}
	return fitGeometry(sw, sh, w, h)
}

// clampMissing derives a missing dimension (0) from the source aspect ratio
// so later geometry math always has two concrete bounds to work with.
func clampMissing(sw, sh, w, h int) (int, int) {
	switch {
	case w > 0 && h == 0:
		h = int(round(float64(w) * float64(sh) / float64(sw)))
		if h < 1 {
			h = 1
		}
	case h > 0 && w == 0:
		w = int(round(float64(h) * float64(sw) / float64(sh)))
		if w < 1 {
			w = 1
		}
	}
	return w, h
}

func round(f float64) float64 {
	if f < 0 {
		return float64(int(f - 0.5))
	}
	return float64(int(f + 0.5))
}

// buildEncodeOptions sets the per-format encode settings (quality/speed/
// compression) and opaque-white compositing for formats without alpha.
func buildEncodeOptions(opts Options) (bimg.Options, error) {
	options := bimg.Options{
		StripMetadata: true,
		Embed:         true,
		Force:         false,
		NoAutoRotate:  false,
		Interlace:     true,
	}
	switch opts.Format {
	case FormatJPEG:
		options.Type = bimg.JPEG
		options.Quality = opts.JPEGQuality
		options.Background = bimg.Color{R: 255, G: 255, B: 255}
		options.Extend = bimg.ExtendBackground
	case FormatPNG:
		options.Type = bimg.PNG
		options.Compression = opts.PNGCompression
	case FormatWEBP:
		options.Type = bimg.WEBP
		options.Quality = opts.WebPQuality
	case FormatAVIF:
		options.Type = bimg.AVIF
		options.Quality = opts.AVIFQuality
		options.Speed = opts.AVIFSpeed
	default:
		return bimg.Options{}, fmt.Errorf("unsupported format %q", opts.Format)
	}
	return options, nil
}
