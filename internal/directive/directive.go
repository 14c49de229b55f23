// Package directive parses the path suffix following the fixed prefix
// "/insecure/" into a validated TransformRequest.
package directive

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"mediaproxy/internal/apperr"
)

// Format enumerates the output image formats a request may select.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWEBP Format = "webp"
	FormatAVIF Format = "avif"
)

// Extension returns the canonical file extension for the format.
func (f Format) Extension() string {
	switch f {
	case FormatPNG:
		return ".png"
	case FormatWEBP:
		return ".webp"
	case FormatAVIF:
		return ".avif"
	default:
		return ".jpg"
	}
}

// ContentType returns the MIME type served for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatWEBP:
		return "image/webp"
	case FormatAVIF:
		return "image/avif"
	default:
		return "image/jpeg"
	}
}

// Mode enumerates the five resize geometries spec'd for this service.
type Mode string

const (
	ModeFit      Mode = "fit"
	ModeFill     Mode = "fill"
	ModeFillDown Mode = "fill-down"
	ModeForce    Mode = "force"
	ModeAuto     Mode = "auto"
)

const (
	defaultQuality = 82
	minQuality     = 0
	maxQuality     = 100
	plainSentinel  = "plain"
)

// Resize holds the parsed resize directive. Width/Height of 0 means absent.
type Resize struct {
	Mode   Mode
	Width  int
	Height int
}

// TransformRequest is the fully parsed, validated representation of one
// request path.
type TransformRequest struct {
	SourceURL    string
	OutputFormat Format
	Quality      int
	Resize       Resize
}

// directiveKind is a closed sum type over recognized directive keys. Each
// implementation mutates an in-progress TransformRequest; later occurrences
// of the same directive override earlier ones (fold with last-writer-wins).
type directiveKind interface {
	apply(*TransformRequest)
}

type formatDirective struct{ format Format }

func (d formatDirective) apply(r *TransformRequest) { r.OutputFormat = d.format }

type qualityDirective struct{ quality int }

func (d qualityDirective) apply(r *TransformRequest) { r.Quality = d.quality }

type resizeDirective struct{ resize Resize }

func (d resizeDirective) apply(r *TransformRequest) { r.Resize = d.resize }

// Parse parses the path suffix following "/insecure/" (directives segments,
// the "plain" sentinel, then the percent-encoded source URL) into a
// validated TransformRequest.
func Parse(pathSuffix string) (TransformRequest, error) {
	trimmed := strings.Trim(pathSuffix, "/")
	if trimmed == "" {
		return TransformRequest{}, apperr.New(apperr.BadRequest, "empty path")
	}
	segments := strings.Split(trimmed, "/")

	idx := -1
	for i, seg := range segments {
		if seg == plainSentinel {
			idx = i
			break
		}
	}
	if idx == -1 {
		return TransformRequest{}, apperr.New(apperr.BadRequest, "missing plain sentinel")
	}
	if idx+1 >= len(segments) {
		return TransformRequest{}, apperr.New(apperr.BadRequest, "missing source segment")
	}
	if idx+1 != len(segments)-1 {
		return TransformRequest{}, apperr.New(apperr.BadRequest, "unexpected segments after source")
	}

	req := TransformRequest{
		OutputFormat: FormatJPEG,
		Quality:      defaultQuality,
		Resize:       Resize{Mode: ModeFit},
	}

	for _, seg := range segments[:idx] {
		kind, err := parseSegment(seg)
		if err != nil {
			return TransformRequest{}, err
		}
		kind.apply(&req)
	}

	encoded := segments[idx+1]
	decoded, err := url.QueryUnescape(encoded)
	if err != nil {
		return TransformRequest{}, apperr.Wrap(apperr.BadRequest, "malformed source url encoding", err)
	}
	parsed, err := url.Parse(decoded)
	if err != nil || !parsed.IsAbs() || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return TransformRequest{}, apperr.New(apperr.BadRequest, "source url must be an absolute http(s) url")
	}
	req.SourceURL = decoded

	return req, nil
}

func parseSegment(seg string) (directiveKind, error) {
	parts := strings.Split(seg, ":")
	if len(parts) < 2 {
		return nil, apperr.New(apperr.BadRequest, fmt.Sprintf("malformed directive %q", seg))
	}
	key := strings.ToLower(parts[0])
	args := parts[1:]

	switch key {
	case "f":
		return parseFormat(args)
	case "q":
		return parseQuality(args)
	case "rs", "rt":
		return parseResize(args)
	default:
		return nil, apperr.New(apperr.BadRequest, fmt.Sprintf("unknown directive %q", key))
	}
}

func parseFormat(args []string) (directiveKind, error) {
	if len(args) != 1 {
		return nil, apperr.New(apperr.BadRequest, "f: expects exactly one argument")
	}
	switch strings.ToLower(args[0]) {
	case "jpeg", "jpg":
		return formatDirective{FormatJPEG}, nil
	case "png":
		return formatDirective{FormatPNG}, nil
	case "webp":
		return formatDirective{FormatWEBP}, nil
	case "avif":
		return formatDirective{FormatAVIF}, nil
	default:
		return nil, apperr.New(apperr.BadRequest, fmt.Sprintf("unknown format %q", args[0]))
	}
}

func parseQuality(args []string) (directiveKind, error) {
	if len(args) != 1 {
		return nil, apperr.New(apperr.BadRequest, "q: expects exactly one argument")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return nil, apperr.Wrap(apperr.BadRequest, fmt.Sprintf("unparsable quality %q", args[0]), err)
	}
	if n < minQuality || n > maxQuality {
		return nil, apperr.New(apperr.BadRequest, fmt.Sprintf("quality %d out of range 0..100", n))
	}
	return qualityDirective{n}, nil
}

func parseResize(args []string) (directiveKind, error) {
	if len(args) != 3 {
		return nil, apperr.New(apperr.BadRequest, "rs:/rt: expects mode:width:height")
	}
	mode, err := parseMode(args[0])
	if err != nil {
		return nil, err
	}
	width, err := parseDimension(args[1])
	if err != nil {
		return nil, apperr.Wrap(apperr.BadRequest, fmt.Sprintf("unparsable width %q", args[1]), err)
	}
	height, err := parseDimension(args[2])
	if err != nil {
		return nil, apperr.Wrap(apperr.BadRequest, fmt.Sprintf("unparsable height %q", args[2]), err)
	}
	if width == 0 && height == 0 {
		return nil, apperr.New(apperr.BadRequest, "rs:/rt: both dimensions empty")
	}
	return resizeDirective{Resize{Mode: mode, Width: width, Height: height}}, nil
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(raw) {
	case string(ModeFit):
		return ModeFit, nil
	case string(ModeFill):
		return ModeFill, nil
	case string(ModeFillDown):
		return ModeFillDown, nil
	case string(ModeForce):
		return ModeForce, nil
	case string(ModeAuto):
		return ModeAuto, nil
	default:
		return "", apperr.New(apperr.BadRequest, fmt.Sprintf("unknown resize mode %q", raw))
	}
}

func parseDimension(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("dimension must be positive, got %d", n)
	}
	return n, nil
}

// Canonical renders the canonical path form for a TransformRequest: the
// normalized directive segments, the "plain" sentinel, then the
// percent-encoded source URL. Re-parsing this output must yield an equal
// TransformRequest (round-trip invariant, spec.md §8 property 6).
func Canonical(req TransformRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "f:%s/", req.OutputFormat)
	fmt.Fprintf(&b, "q:%d/", req.Quality)
	fmt.Fprintf(&b, "rs:%s:%s:%s/", req.Resize.Mode, dimString(req.Resize.Width), dimString(req.Resize.Height))
	b.WriteString(plainSentinel)
	b.WriteString("/")
	b.WriteString(url.QueryEscape(req.SourceURL))
	return b.String()
}

func dimString(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}
