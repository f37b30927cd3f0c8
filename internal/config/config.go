// Package config handles configuration loading and validation for catmosaic.
package config

import (
	"fmt"
	"image/color"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/catmosaic/catmosaic/internal/mosaic"
	"github.com/catmosaic/catmosaic/internal/remote"
	"github.com/dustin/go-humanize"
	"github.com/lucasb-eyer/go-colorful"
	"gopkg.in/yaml.v3"
)

// Mode selects what batch workers produce.
type Mode string

const (
	ModeArchive Mode = "archive" // zip of JPEG entries
	ModeMosaic  Mode = "mosaic"  // single PNG collage
)

// ParseMode parses a mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeArchive, ModeMosaic:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want %q or %q)", s, ModeArchive, ModeMosaic)
	}
}

// IngestConfig holds configuration for the fetch workers.
type IngestConfig struct {
	Workers    int      `yaml:"workers"`
	MaxPayload ByteSize `yaml:"max_payload"` // e.g. "20MB"
	RateLimit  float64  `yaml:"rate_limit"`  // fetches per second across all workers, 0 = unlimited
	Timeout    string   `yaml:"timeout"`     // HTTP request timeout, e.g. "30s"
}

// BatchConfig holds configuration for the batch workers.
type BatchConfig struct {
	Workers     int    `yaml:"workers"`
	Mode        Mode   `yaml:"mode"`
	Size        int    `yaml:"size"`
	Interval    string `yaml:"interval"` // pause after each batch, "0s" for back to back
	JPEGQuality int    `yaml:"jpeg_quality"`
}

// MosaicConfig holds the collage geometry.
type MosaicConfig struct {
	Columns    int   `yaml:"columns"`
	Width      int   `yaml:"width"`
	ColumnGap  int   `yaml:"column_gap"`
	RowGap     int   `yaml:"row_gap"`
	Margin     int   `yaml:"margin"`
	Background Color `yaml:"background"` // hex, e.g. "#ffffff"
}

// RetryConfig holds retry and supervision settings shared by all workers.
type RetryConfig struct {
	MaxRetries     int    `yaml:"max_retries"`
	InitialBackoff string `yaml:"initial_backoff"`
	MaxBackoff     string `yaml:"max_backoff"`
	UnhealthyAfter int    `yaml:"unhealthy_after"` // consecutive failed steps before a worker reports unhealthy
}

// OpsConfig holds configuration for the operational HTTP listener.
type OpsConfig struct {
	Listen          string   `yaml:"listen"` // empty disables the listener
	CollectInterval string   `yaml:"collect_interval"`
	Trace           bool     `yaml:"trace"`        // keep a flight-recorder trace, served on /debug/trace
	TraceBuffer     ByteSize `yaml:"trace_buffer"` // flight recorder size
}

// LokiConfig holds configuration for shipping logs to Loki.
type LokiConfig struct {
	URL           string            `yaml:"url"` // empty disables shipping
	Labels        map[string]string `yaml:"labels"`
	BatchSize     int               `yaml:"batch_size"`
	FlushInterval string            `yaml:"flush_interval"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Loki LokiConfig `yaml:"loki"`
}

// Config is the complete catmosaic configuration.
type Config struct {
	Server  string        `yaml:"server"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Batch   BatchConfig   `yaml:"batch"`
	Mosaic  MosaicConfig  `yaml:"mosaic"`
	Retry   RetryConfig   `yaml:"retry"`
	Ops     OpsConfig     `yaml:"ops"`
	Logging LoggingConfig `yaml:"logging"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := newConfig()
	cfg.applyDefaults()
	return cfg
}

// newConfig returns a Config seeded with the defaults for fields where zero is
// a valid setting. YAML decoding overwrites only the keys that are present.
func newConfig() *Config {
	layout := mosaic.DefaultLayout()
	return &Config{
		Mosaic: MosaicConfig{
			ColumnGap: layout.ColumnGap,
			RowGap:    layout.RowGap,
			Margin:    layout.Margin,
		},
	}
}

// Load loads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := newConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.applyDefaults()

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server == "" {
		c.Server = "http://127.0.0.1:8080"
	}

	if c.Ingest.Workers == 0 {
		c.Ingest.Workers = 4
	}
	if c.Ingest.MaxPayload == 0 {
		c.Ingest.MaxPayload = 32 * humanize.MiByte
	}
	if c.Ingest.Timeout == "" {
		c.Ingest.Timeout = "30s"
	}

	if c.Batch.Workers == 0 {
		c.Batch.Workers = 4
	}
	if c.Batch.Mode == "" {
		c.Batch.Mode = ModeArchive
	}
	if c.Batch.Size == 0 {
		c.Batch.Size = 12
	}
	if c.Batch.Interval == "" {
		c.Batch.Interval = "2s"
	}
	if c.Batch.JPEGQuality == 0 {
		c.Batch.JPEGQuality = 90
	}

	layout := mosaic.DefaultLayout()
	if c.Mosaic.Columns == 0 {
		c.Mosaic.Columns = layout.Columns
	}
	if c.Mosaic.Width == 0 {
		c.Mosaic.Width = layout.Width
	}
	if !c.Mosaic.Background.set {
		c.Mosaic.Background = Color{Color: colorful.Color{R: 1, G: 1, B: 1}, set: true}
	}

	retry := remote.DefaultRetryConfig()
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = retry.MaxRetries
	}
	if c.Retry.InitialBackoff == "" {
		c.Retry.InitialBackoff = retry.InitialBackoff.String()
	}
	if c.Retry.MaxBackoff == "" {
		c.Retry.MaxBackoff = retry.MaxBackoff.String()
	}
	if c.Retry.UnhealthyAfter == 0 {
		c.Retry.UnhealthyAfter = 3
	}

	if c.Ops.CollectInterval == "" {
		c.Ops.CollectInterval = "10s"
	}
	if c.Ops.TraceBuffer == 0 {
		c.Ops.TraceBuffer = 10 * humanize.MiByte
	}

	if c.Logging.Loki.BatchSize == 0 {
		c.Logging.Loki.BatchSize = 100
	}
	if c.Logging.Loki.FlushInterval == "" {
		c.Logging.Loki.FlushInterval = "5s"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server)
	if err != nil {
		return fmt.Errorf("invalid server: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server must be an http or https URL, got %q", c.Server)
	}
	if u.Host == "" {
		return fmt.Errorf("server %q has no host", c.Server)
	}

	if c.Ingest.Workers < 1 {
		return fmt.Errorf("ingest.workers must be at least 1")
	}
	if c.Ingest.RateLimit < 0 {
		return fmt.Errorf("ingest.rate_limit must not be negative")
	}
	if c.Batch.Workers < 1 {
		return fmt.Errorf("batch.workers must be at least 1")
	}
	if _, err := ParseMode(string(c.Batch.Mode)); err != nil {
		return fmt.Errorf("batch.mode: %w", err)
	}
	if c.Batch.Size < 1 {
		return fmt.Errorf("batch.size must be at least 1")
	}
	if c.Batch.JPEGQuality < 1 || c.Batch.JPEGQuality > 100 {
		return fmt.Errorf("batch.jpeg_quality must be between 1 and 100")
	}
	if err := c.Layout().Validate(); err != nil {
		return fmt.Errorf("mosaic: %w", err)
	}
	if c.Batch.Mode == ModeMosaic && c.Batch.Size < c.Mosaic.Columns {
		return fmt.Errorf("batch.size %d cannot fill %d mosaic columns", c.Batch.Size, c.Mosaic.Columns)
	}

	durations := []struct {
		name, value string
		allowZero   bool
	}{
		{"ingest.timeout", c.Ingest.Timeout, false},
		{"batch.interval", c.Batch.Interval, true},
		{"retry.initial_backoff", c.Retry.InitialBackoff, false},
		{"retry.max_backoff", c.Retry.MaxBackoff, false},
		{"ops.collect_interval", c.Ops.CollectInterval, false},
		{"logging.loki.flush_interval", c.Logging.Loki.FlushInterval, false},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
		if v < 0 || (v == 0 && !d.allowZero) {
			return fmt.Errorf("%s must be positive", d.name)
		}
	}

	if c.Retry.MaxRetries < 1 {
		return fmt.Errorf("retry.max_retries must be at least 1")
	}
	if c.Retry.UnhealthyAfter < 1 {
		return fmt.Errorf("retry.unhealthy_after must be at least 1")
	}
	if c.Ops.Trace && c.Ops.Listen == "" {
		return fmt.Errorf("ops.trace requires ops.listen")
	}
	if c.Logging.Loki.URL != "" {
		u, err := url.Parse(c.Logging.Loki.URL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("logging.loki.url must be an http or https URL, got %q", c.Logging.Loki.URL)
		}
	}
	if c.Logging.Loki.BatchSize < 1 {
		return fmt.Errorf("logging.loki.batch_size must be at least 1")
	}
	return nil
}

// Layout returns the mosaic geometry.
func (c *Config) Layout() mosaic.Layout {
	return mosaic.Layout{
		Columns:    c.Mosaic.Columns,
		Width:      c.Mosaic.Width,
		ColumnGap:  c.Mosaic.ColumnGap,
		RowGap:     c.Mosaic.RowGap,
		Margin:     c.Mosaic.Margin,
		Background: c.Mosaic.Background.NRGBA(),
	}
}

// RemoteRetry returns the retry policy for endpoint calls.
func (c *Config) RemoteRetry() remote.RetryConfig {
	return remote.RetryConfig{
		MaxRetries:     c.Retry.MaxRetries,
		InitialBackoff: mustDuration(c.Retry.InitialBackoff),
		MaxBackoff:     mustDuration(c.Retry.MaxBackoff),
	}
}

// RequestTimeout returns the HTTP request timeout.
func (c *Config) RequestTimeout() time.Duration { return mustDuration(c.Ingest.Timeout) }

// BatchInterval returns the pause after each batch.
func (c *Config) BatchInterval() time.Duration { return mustDuration(c.Batch.Interval) }

// CollectInterval returns the metrics collection interval.
func (c *Config) CollectInterval() time.Duration { return mustDuration(c.Ops.CollectInterval) }

// LokiFlushInterval returns the log push interval.
func (c *Config) LokiFlushInterval() time.Duration { return mustDuration(c.Logging.Loki.FlushInterval) }

// mustDuration parses a duration already checked by Validate.
func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// ByteSize is a byte count that unmarshals from YAML as either a number of
// bytes or a human-readable string ("20MB", "512 KiB").
type ByteSize uint64

// UnmarshalYAML implements yaml.Unmarshaler for ByteSize.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	n, err := humanize.ParseBytes(value.Value)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", value.Value, err)
	}
	*b = ByteSize(n)
	return nil
}

// String returns a human-readable representation.
func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// Color is an opaque color that unmarshals from a hex string.
type Color struct {
	colorful.Color
	set bool
}

// ParseColor parses a "#rrggbb" or "#rgb" hex color.
func ParseColor(s string) (Color, error) {
	c, err := colorful.Hex(expandHex(strings.TrimSpace(s)))
	if err != nil {
		return Color{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return Color{Color: c, set: true}, nil
}

// UnmarshalYAML implements yaml.Unmarshaler for Color.
func (c *Color) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseColor(value.Value)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// NRGBA converts c to an opaque 8-bit color.
func (c Color) NRGBA() color.NRGBA {
	r, g, b := c.Clamped().RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 0xff}
}

// String returns the hex form of c.
func (c Color) String() string {
	return c.Hex()
}

func expandHex(s string) string {
	if len(s) == 4 && s[0] == '#' {
		return string([]byte{'#', s[1], s[1], s[2], s[2], s[3], s[3]})
	}
	return s
}
