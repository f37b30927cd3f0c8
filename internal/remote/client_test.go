package remote

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Fetch(t *testing.T) {
	payload := []byte("\xff\xd8\xff fake jpeg")
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, Path, r.URL.Path)
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(payload)
	}))
	defer ts.Close()

	client := NewClient(ts.URL+"/", Options{})
	got, err := client.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, ts.URL, client.BaseURL())
}

func TestClient_FetchAcceptsAny2xx(t *testing.T) {
	for _, code := range []int{http.StatusCreated, http.StatusNonAuthoritativeInfo} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(code)
				_, _ = w.Write([]byte("payload"))
			}))
			defer ts.Close()

			got, err := NewClient(ts.URL, Options{}).Fetch(context.Background())
			require.NoError(t, err)
			assert.Equal(t, []byte("payload"), got)
		})
	}
}

func TestClient_FetchNonSuccessStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no cats today", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, Options{})
	_, err := client.Fetch(context.Background())
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Equal(t, "no cats today", se.Body)
	assert.True(t, IsTransient(err))
}

func TestClient_FetchPayloadLimit(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 2048))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, Options{MaxPayload: 1024})
	_, err := client.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.False(t, IsTransient(err))

	client = NewClient(ts.URL, Options{MaxPayload: 2048})
	got, err := client.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2048)
}

func TestClient_FetchConnectionRefused(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	client := NewClient(url, Options{Timeout: time.Second})
	_, err := client.Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestClient_Upload(t *testing.T) {
	type upload struct {
		name, contentType, batch string
		data                     []byte
	}
	received := make(chan upload, 1)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, Path, r.URL.Path)

		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		files := r.MultipartForm.File[FileField]
		if !assert.Len(t, files, 1) {
			return
		}
		f, err := files[0].Open()
		if !assert.NoError(t, err) {
			return
		}
		defer func() { _ = f.Close() }()
		data, _ := io.ReadAll(f)

		received <- upload{
			name:        files[0].Filename,
			contentType: files[0].Header.Get("Content-Type"),
			batch:       r.Header.Get("X-Batch-ID"),
			data:        data,
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, Options{})
	err := client.Upload(context.Background(), Part{
		FileName:    "images.zip",
		ContentType: "application/zip",
		Data:        []byte("PK\x03\x04 zip bytes"),
		BatchID:     "batch-1",
	})
	require.NoError(t, err)

	got := <-received
	assert.Equal(t, "images.zip", got.name)
	assert.Equal(t, "application/zip", got.contentType)
	assert.Equal(t, []byte("PK\x03\x04 zip bytes"), got.data)
	assert.Equal(t, "batch-1", got.batch)
}

func TestClient_UploadRejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad form", http.StatusBadRequest)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, Options{})
	err := client.Upload(context.Background(), Part{FileName: "mosaic.png", ContentType: "image/png", Data: []byte{1}})

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Equal(t, http.MethodPost, se.Method)
	assert.False(t, IsTransient(err))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"500", &StatusError{Code: 500}, true},
		{"502", &StatusError{Code: 502}, true},
		{"429", &StatusError{Code: 429}, true},
		{"408", &StatusError{Code: 408}, true},
		{"404", &StatusError{Code: 404}, false},
		{"400", &StatusError{Code: 400}, false},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"too large", ErrPayloadTooLarge, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestClient_FetchHonorsContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	client := NewClient(ts.URL, Options{})
	_, err := client.Fetch(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsTransient(err))
}
