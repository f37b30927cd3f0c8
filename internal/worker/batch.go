package worker

import (
	"context"
	"fmt"
	"image"
	"math/rand/v2"
	"time"

	"github.com/catmosaic/catmosaic/internal/config"
	"github.com/catmosaic/catmosaic/internal/metrics"
	"github.com/catmosaic/catmosaic/internal/mosaic"
	"github.com/catmosaic/catmosaic/internal/pack"
	"github.com/catmosaic/catmosaic/internal/remote"
	"github.com/catmosaic/catmosaic/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Upload file names for the two batch modes.
const (
	ArchiveFileName = "images.zip"
	MosaicFileName  = "mosaic.png"
)

// Uploader sends finished batches.
type Uploader interface {
	Upload(ctx context.Context, part remote.Part) error
}

// BatchConfig holds the dependencies and settings of a Batcher.
type BatchConfig struct {
	Client      Uploader
	Store       *store.Store
	Mode        config.Mode
	Size        int
	Interval    time.Duration // pause after each uploaded batch
	JPEGQuality int
	Layout      mosaic.Layout
	Retry       remote.RetryConfig
	Metrics     *metrics.Metrics // optional
	Rand        *rand.Rand       // owned by the worker; seeded randomly when nil
}

// Batcher samples a batch from the store per step, encodes it and uploads it.
type Batcher struct {
	id      int
	cfg     BatchConfig
	rng     *rand.Rand
	metrics *metrics.Metrics
}

// NewBatcher creates a batch worker.
func NewBatcher(id int, cfg BatchConfig) *Batcher {
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Batcher{id: id, cfg: cfg, rng: rng, metrics: cfg.Metrics}
}

// Name identifies the worker in logs.
func (b *Batcher) Name() string {
	return fmt.Sprintf("batch-%d", b.id)
}

// Step waits for enough images, builds one batch and uploads it.
func (b *Batcher) Step(ctx context.Context) error {
	if err := b.cfg.Store.WaitForSize(ctx, b.cfg.Size); err != nil {
		return err
	}

	start := time.Now()
	entries, err := b.cfg.Store.Sample(b.rng, b.cfg.Size)
	if err != nil {
		return fmt.Errorf("sample batch: %w", err)
	}
	images := make([]image.Image, len(entries))
	for i, e := range entries {
		images[i] = e.Image
	}

	part, err := BuildPart(b.cfg.Mode, images, b.cfg.JPEGQuality, b.cfg.Layout)
	if err != nil {
		return fmt.Errorf("build %s batch: %w", b.cfg.Mode, err)
	}
	part.BatchID = uuid.NewString()

	err = remote.Retry(ctx, b.cfg.Retry, "upload", func() error {
		return b.cfg.Client.Upload(ctx, part)
	})
	if err != nil {
		if b.metrics != nil && ctx.Err() == nil {
			b.metrics.Uploads.WithLabelValues(metrics.UploadFailed).Inc()
		}
		return fmt.Errorf("upload batch %s: %w", part.BatchID, err)
	}

	took := time.Since(start)
	if b.metrics != nil {
		mode := string(b.cfg.Mode)
		b.metrics.Batches.WithLabelValues(mode).Inc()
		b.metrics.Uploads.WithLabelValues(metrics.UploadOK).Inc()
		b.metrics.UploadBytes.Add(float64(len(part.Data)))
		b.metrics.BatchDuration.WithLabelValues(mode).Observe(took.Seconds())
	}
	log.Info().
		Str("worker", b.Name()).
		Str("batch", part.BatchID).
		Str("mode", string(b.cfg.Mode)).
		Int("images", len(images)).
		Int("bytes", len(part.Data)).
		Dur("took", took).
		Msg("batch uploaded")

	if b.cfg.Interval <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(b.cfg.Interval):
		return nil
	}
}

// BuildPart encodes images as an upload part: a zip of JPEG entries in
// archive mode, a PNG collage in mosaic mode.
func BuildPart(mode config.Mode, images []image.Image, quality int, layout mosaic.Layout) (remote.Part, error) {
	switch mode {
	case config.ModeArchive:
		data, err := pack.Zip(images, quality)
		if err != nil {
			return remote.Part{}, err
		}
		return remote.Part{FileName: ArchiveFileName, ContentType: pack.ZipContentType, Data: data}, nil

	case config.ModeMosaic:
		canvas, err := layout.Compose(images)
		if err != nil {
			return remote.Part{}, err
		}
		data, err := pack.PNG(canvas)
		if err != nil {
			return remote.Part{}, err
		}
		return remote.Part{FileName: MosaicFileName, ContentType: pack.PNGContentType, Data: data}, nil

	default:
		return remote.Part{}, fmt.Errorf("unknown mode %q", mode)
	}
}
