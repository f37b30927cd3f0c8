// Package worker runs the ingest and batch loops and supervises them.
package worker

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/catmosaic/catmosaic/internal/ident"
	"github.com/catmosaic/catmosaic/internal/metrics"
	"github.com/catmosaic/catmosaic/internal/pack"
	"github.com/catmosaic/catmosaic/internal/remote"
	"github.com/catmosaic/catmosaic/internal/store"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ErrDropped marks a step that discarded its payload. The worker carries on
// immediately; it is not counted as a failure.
var ErrDropped = errors.New("payload dropped")

// Fetcher downloads raw image payloads.
type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// IngestConfig holds the dependencies of an Ingester.
type IngestConfig struct {
	Client  Fetcher
	Store   *store.Store
	Retry   remote.RetryConfig
	Limiter *rate.Limiter    // shared across workers; nil means unlimited
	Metrics *metrics.Metrics // optional
}

// Ingester fetches one payload per step and adds it to the store when its
// identity is new.
type Ingester struct {
	id      int
	client  Fetcher
	store   *store.Store
	retry   remote.RetryConfig
	limiter *rate.Limiter
	metrics *metrics.Metrics
}

// NewIngester creates an ingest worker.
func NewIngester(id int, cfg IngestConfig) *Ingester {
	return &Ingester{
		id:      id,
		client:  cfg.Client,
		store:   cfg.Store,
		retry:   cfg.Retry,
		limiter: cfg.Limiter,
		metrics: cfg.Metrics,
	}
}

// Name identifies the worker in logs.
func (w *Ingester) Name() string {
	return fmt.Sprintf("ingest-%d", w.id)
}

// Step performs one fetch, identify, insert cycle.
func (w *Ingester) Step(ctx context.Context) error {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var payload []byte
	err := remote.Retry(ctx, w.retry, "fetch", func() error {
		var err error
		payload, err = w.client.Fetch(ctx)
		return err
	})
	if err != nil {
		if errors.Is(err, remote.ErrPayloadTooLarge) {
			w.drop(metrics.DropTooBig)
			return fmt.Errorf("%w: %w", ErrDropped, err)
		}
		if w.metrics != nil && ctx.Err() == nil {
			w.metrics.FetchErrors.Inc()
		}
		return err
	}
	if w.metrics != nil {
		w.metrics.Fetches.Inc()
	}

	id := ident.Of(payload)
	if w.store.Exists(id) {
		w.duplicate(id)
		return nil
	}

	ins, err := w.store.InsertFunc(id, func() (image.Image, error) {
		return pack.Decode(payload)
	})
	if err != nil {
		w.drop(metrics.DropDecode)
		return fmt.Errorf("%w: %w", ErrDropped, err)
	}
	if !ins.Inserted {
		// Another worker stored or is decoding the same payload.
		w.duplicate(id)
		return nil
	}

	if w.metrics != nil {
		w.metrics.Inserted.Inc()
	}
	log.Info().
		Str("worker", w.Name()).
		Str("id", id[:12]).
		Int("pos", ins.Pos).
		Int("size", ins.Size).
		Msg("new image")
	return nil
}

func (w *Ingester) duplicate(id string) {
	if w.metrics != nil {
		w.metrics.Duplicates.Inc()
	}
	log.Debug().Str("worker", w.Name()).Str("id", id[:12]).Msg("duplicate payload")
}

func (w *Ingester) drop(reason string) {
	if w.metrics != nil {
		w.metrics.Dropped.WithLabelValues(reason).Inc()
	}
}
