// Package config loads and validates the service configuration: defaults,
// then an optional YAML file, then environment variables, layered with
// koanf exactly as the teacher service does.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/knadh/koanf"
	yamlparser "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/providers/structs"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"mediaproxy/pkg/configutil"
)

var (
	errEmptyConfigPath = errors.New("config path is empty")
	envPathLookup      = buildEnvPathLookup()
	envShortcutLookup  = map[string]string{
		"BIND_ADDR":             "server.bind_addr",
		"CACHE_DIR":             "storage.cache_dir",
		"CACHE_TTL_SECS":        "cache.ttl_secs",
		"FETCH_TIMEOUT_SECS":    "fetch.timeout_secs",
		"MAX_IMAGE_BYTES":       "fetch.max_image_bytes",
		"MAX_FFMPEG_CONCURRENT": "extractor.max_concurrent",
		"FFMPEG_PATH":           "extractor.ffmpeg_path",
		"JPG_QUALITY":           "resize.jpg_quality",
		"WEBP_QUALITY":          "resize.webp_quality",
		"AVIF_QUALITY":          "resize.avif_quality",
		"PNG_COMPRESSION":       "resize.png_compression",
		"AVIF_SPEED":            "resize.avif_speed",
		"MAX_WIDTH":             "resize.max_width",
		"MAX_HEIGHT":            "resize.max_height",
		"GOMAXPROCS":            "runtime.gomaxprocs",
		"VIPS_CONCURRENCY":      "runtime.vips_concurrency",
	}
)

// Config represents the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Resize    ResizeConfig    `yaml:"resize"`
	Cache     CacheConfig     `yaml:"cache"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
}

// ServerConfig describes HTTP server binding parameters.
type ServerConfig struct {
	BindAddr string `yaml:"bind_addr"`
}

// StorageConfig includes the root cache directory.
type StorageConfig struct {
	CacheDir string `yaml:"cache_dir"`
}

// OriginalDir returns the path of the original-media store.
func (s StorageConfig) OriginalDir() string {
	return joinPath(s.CacheDir, "original")
}

// ProcessedDir returns the path of the processed-output store.
func (s StorageConfig) ProcessedDir() string {
	return joinPath(s.CacheDir, "processed")
}

func joinPath(base, leaf string) string {
	base = strings.TrimRight(base, "/")
	return base + "/" + leaf
}

// FetchConfig controls source fetching.
type FetchConfig struct {
	TimeoutSecs   int      `yaml:"timeout_secs"`
	MaxImageBytes ByteSize `yaml:"max_image_bytes"`
}

// Timeout returns the configured fetch timeout as a Duration.
func (f FetchConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSecs) * time.Second
}

// ExtractorConfig controls video frame extraction.
type ExtractorConfig struct {
	MaxConcurrent int    `yaml:"max_concurrent"`
	FFmpegPath    string `yaml:"ffmpeg_path"`
}

// ResizeConfig holds resize limits and per-format encoding settings. The
// pipeline reads MaxWidth, MaxHeight, PNGCompression and AVIFSpeed; output
// quality comes from the request's q directive, so the *Quality fields are
// validated but not applied to encoding.
type ResizeConfig struct {
	MaxWidth       int `yaml:"max_width"`
	MaxHeight      int `yaml:"max_height"`
	JPGQuality     int `yaml:"jpg_quality"`
	WebPQuality    int `yaml:"webp_quality"`
	AVIFQuality    int `yaml:"avif_quality"`
	PNGCompression int `yaml:"png_compression"`
	AVIFSpeed      int `yaml:"avif_speed"`
}

// RuntimeConfig controls Go scheduler and libvips concurrency.
type RuntimeConfig struct {
	GOMAXPROCS      int `yaml:"gomaxprocs"`
	VIPSConcurrency int `yaml:"vips_concurrency"`
}

// CacheConfig stores cache retention settings.
type CacheConfig struct {
	TTLSecs int      `yaml:"ttl_secs"`
	TTL     Duration `yaml:"-"`
}

// Duration wraps time.Duration to support YAML strings like "30d".
type Duration struct {
	time.Duration
}

// ByteSize wraps an int64 byte count to support YAML/env strings like "16mb".
type ByteSize int64

// Bytes returns the plain int64 byte count.
func (b ByteSize) Bytes() int64 {
	return int64(b)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("byte size must be a scalar, got kind %d", value.Kind)
	}
	return b.parseFromString(value.Value)
}

// UnmarshalText allows decoding byte sizes from koanf/env providers.
func (b *ByteSize) UnmarshalText(text []byte) error {
	return b.parseFromString(string(text))
}

func (b *ByteSize) parseFromString(raw string) error {
	size, err := configutil.ParseByteSize(raw)
	if err != nil {
		return err
	}
	*b = ByteSize(size)
	return nil
}

// defaultConfig returns sane defaults when no YAML or env overrides apply.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddr: ":8080",
		},
		Storage: StorageConfig{
			CacheDir: "/data/cache",
		},
		Fetch: FetchConfig{
			TimeoutSecs:   10,
			MaxImageBytes: ByteSize(16 * 1024 * 1024),
		},
		Extractor: ExtractorConfig{
			MaxConcurrent: 8,
		},
		Resize: ResizeConfig{
			MaxWidth:       4096,
			MaxHeight:      4096,
			JPGQuality:     82,
			WebPQuality:    82,
			AVIFQuality:    82,
			PNGCompression: 6,
			AVIFSpeed:      8,
		},
		Cache: CacheConfig{
			TTLSecs: 86400,
		},
		Runtime: RuntimeConfig{},
	}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a string, got kind %d", value.Kind)
	}
	return d.parseFromString(value.Value)
}

// UnmarshalText allows decoding durations from koanf/env providers.
func (d *Duration) UnmarshalText(text []byte) error {
	return d.parseFromString(string(text))
}

func (d *Duration) parseFromString(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.EqualFold(trimmed, "null") {
		d.Duration = 0
		return nil
	}
	dur, err := configutil.ParseFlexibleDuration(trimmed)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// Load reads and validates configuration from the provided file path.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errEmptyConfigPath
	}
	return loadConfig(path, nil, false)
}

// LoadReader decodes configuration from an arbitrary reader.
func LoadReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return loadConfig("", data, false)
}

// LoadFromEnvOrFile loads configuration from YAML if path is provided;
// otherwise starts from defaultConfig(). Env vars (if present) override both.
func LoadFromEnvOrFile(path string) (*Config, error) {
	return loadConfig(path, nil, true)
}

func loadConfig(path string, raw []byte, allowMissing bool) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(*defaultConfig(), "yaml"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	sourcePath := strings.TrimSpace(path)
	switch {
	case len(raw) > 0:
		if err := k.Load(rawbytes.Provider(raw), yamlparser.Parser()); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	case sourcePath != "":
		if err := k.Load(file.Provider(sourcePath), yamlparser.Parser()); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	case !allowMissing:
		return nil, errEmptyConfigPath
	}
	if err := loadEnvVars(k); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "yaml",
		DecoderConfig: &mapstructure.DecoderConfig{
			TagName:          "yaml",
			WeaklyTypedInput: true,
			Result:           &cfg,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.TextUnmarshallerHookFunc(),
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Cache.TTL = Duration{time.Duration(cfg.Cache.TTLSecs) * time.Second}
	return &cfg, cfg.Validate()
}

func loadEnvVars(k *koanf.Koanf) error {
	for _, prefix := range []string{"MEDIAPROXY_", ""} {
		if err := k.Load(env.Provider(prefix, ".", canonicalEnvKey), nil); err != nil {
			return fmt.Errorf("load env: %w", err)
		}
	}
	return nil
}

func canonicalEnvKey(key string) string {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "MEDIAPROXY_") {
		trimmed = strings.TrimPrefix(trimmed, "MEDIAPROXY_")
	}
	if strings.Contains(trimmed, "__") {
		lower := strings.ToLower(trimmed)
		return strings.ReplaceAll(lower, "__", ".")
	}
	upper := strings.ToUpper(trimmed)
	if mapped, ok := envShortcutLookup[upper]; ok {
		return mapped
	}
	if mapped, ok := envPathLookup[upper]; ok {
		return mapped
	}
	return ""
}

func buildEnvPathLookup() map[string]string {
	result := make(map[string]string)
	var walk func(reflect.Type, []string)
	walk = func(t reflect.Type, path []string) {
		if t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if field.PkgPath != "" {
				continue
			}
			name := field.Tag.Get("yaml")
			if name == "" || name == "-" {
				name = strings.ToLower(field.Name)
			} else {
				name = strings.Split(name, ",")[0]
			}
			if name == "" || name == "-" {
				continue
			}
			current := append(append([]string{}, path...), name)
			typ := field.Type
			base := typ
			for base.Kind() == reflect.Pointer {
				base = base.Elem()
			}
			switch base.Kind() {
			case reflect.Struct:
				if base != reflect.TypeOf(Duration{}) && base != reflect.TypeOf(time.Time{}) {
					walk(base, current)
					continue
				}
			case reflect.Slice, reflect.Map, reflect.Array:
				continue
			}
			key := strings.ToUpper(strings.Join(current, "_"))
			result[key] = strings.Join(current, ".")
		}
	}
	walk(reflect.TypeOf(Config{}), nil)
	return result
}

// Validate returns an error if required configuration values are missing or invalid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.BindAddr) == "" {
		return errors.New("server.bind_addr must be set")
	}
	if strings.TrimSpace(c.Storage.CacheDir) == "" {
		return errors.New("storage.cache_dir must be set")
	}
	if err := ensureDirExists(c.Storage.CacheDir); err != nil {
		return fmt.Errorf("validate storage.cache_dir: %w", err)
	}
	if c.Fetch.TimeoutSecs <= 0 {
		return fmt.Errorf("fetch.timeout_secs must be positive, got %d", c.Fetch.TimeoutSecs)
	}
	if c.Fetch.MaxImageBytes.Bytes() <= 0 {
		return fmt.Errorf("fetch.max_image_bytes must be positive, got %d", c.Fetch.MaxImageBytes)
	}
	if c.Extractor.MaxConcurrent <= 0 {
		return fmt.Errorf("extractor.max_concurrent must be positive, got %d", c.Extractor.MaxConcurrent)
	}
	if c.Resize.JPGQuality <= 0 || c.Resize.JPGQuality > 100 {
		return fmt.Errorf("resize.jpg_quality must be within 1-100, got %d", c.Resize.JPGQuality)
	}
	if c.Resize.WebPQuality < 0 || c.Resize.WebPQuality > 100 {
		return fmt.Errorf("resize.webp_quality must be within 0-100, got %d", c.Resize.WebPQuality)
	}
	if c.Resize.AVIFQuality < 0 || c.Resize.AVIFQuality > 100 {
		return fmt.Errorf("resize.avif_quality must be within 0-100, got %d", c.Resize.AVIFQuality)
	}
	if c.Resize.PNGCompression < 0 || c.Resize.PNGCompression > 9 {
		return fmt.Errorf("resize.png_compression must be within 0-9, got %d", c.Resize.PNGCompression)
	}
	if c.Resize.AVIFSpeed < 0 || c.Resize.AVIFSpeed > 8 {
		return fmt.Errorf("resize.avif_speed must be within 0-8, got %d", c.Resize.AVIFSpeed)
	}
	if c.Runtime.GOMAXPROCS < 0 {
		return fmt.Errorf("runtime.gomaxprocs must be >= 0, got %d", c.Runtime.GOMAXPROCS)
	}
	if c.Runtime.VIPSConcurrency < 0 {
		return fmt.Errorf("runtime.vips_concurrency must be >= 0, got %d", c.Runtime.VIPSConcurrency)
	}
	return nil
}

func ensureDirExists(path string) error {
	sanitized := strings.TrimSpace(path)
	if sanitized == "" {
		return errors.New("path cannot be empty")
	}
	info, err := os.Stat(sanitized)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(sanitized, 0o755); mkErr != nil {
				return fmt.Errorf("create dir %s: %w", sanitized, mkErr)
			}
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path %s is not a directory", sanitized)
	}
	return nil
}
