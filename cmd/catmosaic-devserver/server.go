package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/catmosaic/catmosaic/internal/remote"
	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/rs/zerolog/log"
)

// maxUpload bounds accepted multipart bodies.
const maxUpload = 64 << 20

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".bmp": true,
}

type payload struct {
	name        string
	contentType string
	data        []byte
}

type serverOptions struct {
	ImageDir string // serve files from here; synthetic images when empty
	Palette  int    // number of distinct synthetic images
	SaveDir  string // keep uploads here when set
}

// server is a stand-in for the image endpoint.
type server struct {
	payloads []payload
	saveDir  string

	mu  sync.Mutex
	rng *rand.Rand

	uploads atomic.Int64
}

func newServer(opts serverOptions) (*server, error) {
	s := &server{
		saveDir: opts.SaveDir,
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}

	var err error
	if opts.ImageDir != "" {
		s.payloads, err = loadDir(opts.ImageDir)
	} else {
		s.payloads, err = synthesize(opts.Palette)
	}
	if err != nil {
		return nil, err
	}
	if len(s.payloads) == 0 {
		return nil, errors.New("no images to serve")
	}

	if s.saveDir != "" {
		if err := os.MkdirAll(s.saveDir, 0755); err != nil {
			return nil, fmt.Errorf("create save dir: %w", err)
		}
	}
	return s, nil
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get(remote.Path, s.serveImage)
	r.Post(remote.Path, s.receiveUpload)
	return r
}

func (s *server) serveImage(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	p := s.payloads[s.rng.IntN(len(s.payloads))]
	s.mu.Unlock()

	w.Header().Set("Content-Type", p.contentType)
	w.Header().Set("Content-Length", fmt.Sprint(len(p.data)))
	_, _ = w.Write(p.data)
	log.Debug().Str("image", p.name).Msg("served image")
}

func (s *server) receiveUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	file, header, err := r.FormFile(remote.FileField)
	if err != nil {
		http.Error(w, fmt.Sprintf("missing %q file part: %v", remote.FileField, err), http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "read upload: "+err.Error(), http.StatusBadRequest)
		return
	}

	id := r.Header.Get("X-Batch-ID")
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}

	var saved string
	if s.saveDir != "" {
		saved = filepath.Join(s.saveDir, id+"-"+filepath.Base(header.Filename))
		if err := os.WriteFile(saved, data, 0644); err != nil {
			log.Error().Err(err).Str("path", saved).Msg("failed to save upload")
			http.Error(w, "save upload", http.StatusInternalServerError)
			return
		}
	}

	n := s.uploads.Add(1)
	log.Info().
		Str("batch", id).
		Str("file", header.Filename).
		Str("content_type", header.Header.Get("Content-Type")).
		Str("size", humanize.Bytes(uint64(len(data)))).
		Int64("total", n).
		Msg("upload received")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"id": id, "path": saved})
}

// loadDir reads every image file directly under dir.
func loadDir(dir string) ([]payload, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read image dir: %w", err)
	}

	var out []payload
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || !imageExts[ext] {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		ct := mime.TypeByExtension(ext)
		if ct == "" {
			ct = http.DetectContentType(data)
		}
		out = append(out, payload{name: e.Name(), contentType: ct, data: data})
	}
	log.Info().Str("dir", dir).Int("images", len(out)).Msg("loaded images")
	return out, nil
}

// synthesize encodes n solid JPEGs with evenly spaced hues and varying
// sizes. The set is finite, so clients see repeats.
func synthesize(n int) ([]payload, error) {
	if n < 1 {
		return nil, fmt.Errorf("palette must be at least 1, got %d", n)
	}

	out := make([]payload, n)
	for i := range out {
		c := colorful.Hsv(float64(i)*360/float64(n), 0.55, 0.9)
		w := 160 + 40*(i%5)
		h := 120 + 35*((i*3)%7)

		var buf bytes.Buffer
		if err := imaging.Encode(&buf, imaging.New(w, h, c), imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
			return nil, fmt.Errorf("encode synthetic image: %w", err)
		}
		out[i] = payload{
			name:        fmt.Sprintf("synthetic-%d-%s", i, c.Hex()),
			contentType: "image/jpeg",
			data:        buf.Bytes(),
		}
	}
	return out, nil
}
