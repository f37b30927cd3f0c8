// Package loki ships catmosaic logs to a Grafana Loki push endpoint.
//
// Writer is a zerolog.LevelWriter: entries are buffered per level and pushed
// as one stream per level, so Loki can filter on {level="error"} without
// parsing lines.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"os"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// PushPath is the Loki push API path appended to Config.URL.
const PushPath = "/loki/api/v1/push"

// Config holds configuration for the Loki writer.
type Config struct {
	URL           string            // Loki base URL, e.g. "http://127.0.0.1:3100"
	Labels        map[string]string // static labels on every stream
	BatchSize     int               // entries buffered before an early push (default: 100)
	FlushInterval time.Duration     // push interval (default: 5s)
	Timeout       time.Duration     // HTTP timeout (default: 10s)
}

// Writer buffers log lines and pushes them to Loki from Run.
type Writer struct {
	url       string
	labels    map[string]string
	client    *http.Client
	batchSize int
	interval  time.Duration

	mu      sync.Mutex
	pending map[zerolog.Level][]entry
	count   int

	kick   chan struct{}
	pushMu sync.Mutex

	pushed atomic.Uint64
	failed atomic.Uint64
}

type entry struct {
	ts   time.Time
	line string
}

type pushRequest struct {
	Streams []stream `json:"streams"`
}

type stream struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

// NewWriter creates a writer. Nothing is sent until Run is started.
func NewWriter(cfg Config) *Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	labels := maps.Clone(cfg.Labels)
	if labels == nil {
		labels = make(map[string]string)
	}
	if _, ok := labels["job"]; !ok {
		labels["job"] = "catmosaic"
	}

	return &Writer{
		url:       cfg.URL,
		labels:    labels,
		client:    &http.Client{Timeout: cfg.Timeout},
		batchSize: cfg.BatchSize,
		interval:  cfg.FlushInterval,
		pending:   make(map[zerolog.Level][]entry),
		kick:      make(chan struct{}, 1),
	}
}

// Write buffers p with no level. It never fails, so a dead Loki does not
// break local logging.
func (w *Writer) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.NoLevel, p)
}

// WriteLevel implements zerolog.LevelWriter.
func (w *Writer) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	line := string(bytes.TrimSpace(p))
	if line == "" {
		return len(p), nil
	}

	w.mu.Lock()
	w.pending[level] = append(w.pending[level], entry{ts: time.Now(), line: line})
	w.count++
	full := w.count >= w.batchSize
	w.mu.Unlock()

	if full {
		select {
		case w.kick <- struct{}{}:
		default:
		}
	}
	return len(p), nil
}

// Run pushes buffered entries every FlushInterval, or sooner when a batch
// fills, until ctx is cancelled. Remaining entries are pushed before it
// returns.
func (w *Writer) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Flush()
			return
		case <-ticker.C:
			w.Flush()
		case <-w.kick:
			w.Flush()
		}
	}
}

// Flush pushes everything buffered so far.
func (w *Writer) Flush() {
	w.pushMu.Lock()
	defer w.pushMu.Unlock()

	w.mu.Lock()
	if w.count == 0 {
		w.mu.Unlock()
		return
	}
	pending := w.pending
	n := w.count
	w.pending = make(map[zerolog.Level][]entry)
	w.count = 0
	labels := maps.Clone(w.labels)
	w.mu.Unlock()

	if err := w.push(buildRequest(labels, pending)); err != nil {
		if w.failed.Add(1) <= 3 {
			// stderr, not zerolog: this writer may be behind the global logger
			fmt.Fprintf(os.Stderr, "loki: dropped %d log lines: %v\n", n, err)
		}
		return
	}
	w.pushed.Add(uint64(n))
}

func buildRequest(labels map[string]string, pending map[zerolog.Level][]entry) pushRequest {
	levels := slices.Sorted(maps.Keys(pending))
	req := pushRequest{Streams: make([]stream, 0, len(levels))}
	for _, lvl := range levels {
		entries := pending[lvl]
		s := stream{Stream: maps.Clone(labels), Values: make([][2]string, len(entries))}
		if lvl != zerolog.NoLevel {
			s.Stream["level"] = lvl.String()
		}
		for i, e := range entries {
			s.Values[i] = [2]string{strconv.FormatInt(e.ts.UnixNano(), 10), e.line}
		}
		req.Streams = append(req.Streams, s)
	}
	return req
}

func (w *Writer) push(body pushRequest) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal push: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url+PushPath, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("loki returned %s", resp.Status)
	}
	return nil
}

// SetLabel sets a static label for future pushes.
func (w *Writer) SetLabel(name, value string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.labels[name] = value
}

// Pushed returns the number of lines accepted by Loki.
func (w *Writer) Pushed() uint64 { return w.pushed.Load() }

// Failures returns the number of failed pushes.
func (w *Writer) Failures() uint64 { return w.failed.Load() }
