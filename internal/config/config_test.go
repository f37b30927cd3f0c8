package config

import (
	"image/color"
	"testing"
	"time"

	"github.com/catmosaic/catmosaic/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	content := `
server: "http://cats.internal:9000"
ingest:
  workers: 8
  max_payload: "5MB"
  rate_limit: 2.5
  timeout: "10s"
batch:
  workers: 2
  mode: mosaic
  size: 16
  interval: "0s"
  jpeg_quality: 75
mosaic:
  columns: 5
  width: 640
  column_gap: 4
  row_gap: 6
  margin: 8
  background: "#102030"
retry:
  max_retries: 7
  initial_backoff: "100ms"
  max_backoff: "5s"
  unhealthy_after: 2
ops:
  listen: ":9102"
  trace: true
  trace_buffer: "2MiB"
logging:
  loki:
    url: "http://loki:3100"
    labels:
      env: dev
    batch_size: 20
    flush_interval: "1s"
`
	path := testutil.TempFile(t, dir, "catmosaic.yaml", content)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "http://cats.internal:9000", cfg.Server)
	assert.Equal(t, 8, cfg.Ingest.Workers)
	assert.Equal(t, ByteSize(5_000_000), cfg.Ingest.MaxPayload)
	assert.Equal(t, 2.5, cfg.Ingest.RateLimit)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout())

	assert.Equal(t, 2, cfg.Batch.Workers)
	assert.Equal(t, ModeMosaic, cfg.Batch.Mode)
	assert.Equal(t, 16, cfg.Batch.Size)
	assert.Equal(t, time.Duration(0), cfg.BatchInterval())
	assert.Equal(t, 75, cfg.Batch.JPEGQuality)

	layout := cfg.Layout()
	assert.Equal(t, 5, layout.Columns)
	assert.Equal(t, 640, layout.Width)
	assert.Equal(t, 4, layout.ColumnGap)
	assert.Equal(t, 6, layout.RowGap)
	assert.Equal(t, 8, layout.Margin)
	assert.Equal(t, color.NRGBA{R: 0x10, G: 0x20, B: 0x30, A: 0xff}, layout.Background)

	retry := cfg.RemoteRetry()
	assert.Equal(t, 7, retry.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, retry.InitialBackoff)
	assert.Equal(t, 5*time.Second, retry.MaxBackoff)
	assert.Equal(t, 2, cfg.Retry.UnhealthyAfter)

	assert.Equal(t, ":9102", cfg.Ops.Listen)
	assert.True(t, cfg.Ops.Trace)
	assert.Equal(t, ByteSize(2<<20), cfg.Ops.TraceBuffer)

	assert.Equal(t, "http://loki:3100", cfg.Logging.Loki.URL)
	assert.Equal(t, map[string]string{"env": "dev"}, cfg.Logging.Loki.Labels)
	assert.Equal(t, 20, cfg.Logging.Loki.BatchSize)
	assert.Equal(t, time.Second, cfg.LokiFlushInterval())
}

func TestLoad_Defaults(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	path := testutil.TempFile(t, dir, "catmosaic.yaml", "server: \"http://localhost:8080\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 4, cfg.Ingest.Workers)
	assert.Equal(t, 4, cfg.Batch.Workers)
	assert.Equal(t, ModeArchive, cfg.Batch.Mode)
	assert.Equal(t, 12, cfg.Batch.Size)
	assert.Equal(t, 2*time.Second, cfg.BatchInterval())
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout())
	assert.Equal(t, "32 MiB", cfg.Ingest.MaxPayload.String())

	layout := cfg.Layout()
	assert.Equal(t, 4, layout.Columns)
	assert.Equal(t, 512, layout.Width)
	assert.Equal(t, 10, layout.ColumnGap)
	assert.Equal(t, 10, layout.RowGap)
	assert.Equal(t, 10, layout.Margin)
	assert.Equal(t, color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}, layout.Background)
	assert.Equal(t, 562, layout.CanvasWidth())
}

func TestLoad_ExplicitZeroGaps(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	content := `
mosaic:
  column_gap: 0
  row_gap: 0
  margin: 0
`
	path := testutil.TempFile(t, dir, "catmosaic.yaml", content)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	layout := cfg.Layout()
	assert.Equal(t, 0, layout.ColumnGap)
	assert.Equal(t, 0, layout.RowGap)
	assert.Equal(t, 0, layout.Margin)
	assert.Equal(t, 4, layout.Columns)
	assert.Equal(t, 512, layout.CanvasWidth())
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "http://127.0.0.1:8080", cfg.Server)
	assert.Equal(t, 10*time.Second, cfg.CollectInterval())
	assert.Empty(t, cfg.Ops.Listen)
	assert.False(t, cfg.Ops.Trace)
	assert.Equal(t, "10 MiB", cfg.Ops.TraceBuffer.String())
	assert.Empty(t, cfg.Logging.Loki.URL)
	assert.Equal(t, 5*time.Second, cfg.LokiFlushInterval())
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/catmosaic.yaml")
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	path := testutil.TempFile(t, dir, "catmosaic.yaml", "server: [invalid yaml\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_InvalidSizeAndColor(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	path := testutil.TempFile(t, dir, "size.yaml", "ingest:\n  max_payload: \"lots\"\n")
	_, err := Load(path)
	assert.Error(t, err)

	path = testutil.TempFile(t, dir, "color.yaml", "mosaic:\n  background: \"white-ish\"\n")
	_, err = Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad scheme", func(c *Config) { c.Server = "ftp://host" }, "http or https"},
		{"no host", func(c *Config) { c.Server = "http://" }, "no host"},
		{"no ingest workers", func(c *Config) { c.Ingest.Workers = -1 }, "ingest.workers"},
		{"no batch workers", func(c *Config) { c.Batch.Workers = -1 }, "batch.workers"},
		{"bad mode", func(c *Config) { c.Batch.Mode = "gif" }, "batch.mode"},
		{"negative rate", func(c *Config) { c.Ingest.RateLimit = -1 }, "rate_limit"},
		{"quality", func(c *Config) { c.Batch.JPEGQuality = 101 }, "jpeg_quality"},
		{"mosaic batch smaller than columns", func(c *Config) {
			c.Batch.Mode = ModeMosaic
			c.Batch.Size = 3
		}, "cannot fill"},
		{"archive batch smaller than columns", func(c *Config) { c.Batch.Size = 3 }, ""},
		{"bad interval", func(c *Config) { c.Batch.Interval = "soon" }, "batch.interval"},
		{"zero timeout", func(c *Config) { c.Ingest.Timeout = "0s" }, "ingest.timeout"},
		{"narrow mosaic", func(c *Config) { c.Mosaic.Width = 2 }, "mosaic"},
		{"trace without listener", func(c *Config) { c.Ops.Trace = true }, "ops.trace"},
		{"trace with listener", func(c *Config) {
			c.Ops.Trace = true
			c.Ops.Listen = ":0"
		}, ""},
		{"bad loki url", func(c *Config) { c.Logging.Loki.URL = "loki:3100" }, "logging.loki.url"},
		{"loki batch", func(c *Config) { c.Logging.Loki.BatchSize = -1 }, "batch_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Mosaic ")
	require.NoError(t, err)
	assert.Equal(t, ModeMosaic, m)

	m, err = ParseMode("archive")
	require.NoError(t, err)
	assert.Equal(t, ModeArchive, m)

	_, err = ParseMode("tarball")
	assert.Error(t, err)
}

func TestParseColor(t *testing.T) {
	c, err := ParseColor("#fff")
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}, c.NRGBA())

	c, err = ParseColor("#336699")
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 0x33, G: 0x66, B: 0x99, A: 0xff}, c.NRGBA())
	assert.Equal(t, "#336699", c.String())

	_, err = ParseColor("336699")
	assert.Error(t, err)
}
