// Package remote talks to the image endpoint: it fetches payloads to ingest
// and uploads finished batches.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// Path is the endpoint path used for both fetch and upload.
const Path = "/cat"

// FileField is the multipart form field carrying the uploaded file.
const FileField = "file"

// DefaultMaxPayload bounds fetched bodies when no limit is configured.
const DefaultMaxPayload = 32 << 20

// Part is one file uploaded as a multipart form part.
type Part struct {
	FileName    string
	ContentType string
	Data        []byte
	BatchID     string // sent as X-Batch-ID when set
}

// Client is a client for the image endpoint.
type Client struct {
	baseURL    string
	maxPayload int64
	client     *http.Client
}

// Options configures a Client.
type Options struct {
	Timeout    time.Duration // per-request timeout (default 30s)
	MaxPayload int64         // maximum fetched body size (default 32MiB)
}

// NewClient creates a new endpoint client for baseURL.
func NewClient(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxPayload <= 0 {
		opts.MaxPayload = DefaultMaxPayload
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxPayload: opts.MaxPayload,
		client: &http.Client{
			Timeout: opts.Timeout,
		},
	}
}

// BaseURL returns the base URL of the endpoint.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Fetch downloads one raw image payload.
func (c *Client) Fetch(ctx context.Context) ([]byte, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, nil, "")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.parseError(resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxPayload+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > c.maxPayload {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrPayloadTooLarge, c.maxPayload)
	}
	return body, nil
}

// Upload posts part as the single file of a multipart form.
func (c *Client) Upload(ctx context.Context, part Part) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, FileField, part.FileName))
	h.Set("Content-Type", part.ContentType)
	w, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create part: %w", err)
	}
	if _, err := w.Write(part.Data); err != nil {
		return fmt.Errorf("write part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, body.Bytes(), mw.FormDataContentType())
	if err != nil {
		return err
	}
	if part.BatchID != "" {
		req.Header.Set("X-Batch-ID", part.BatchID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.parseError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// CloseIdleConnections closes any idle connections in the HTTP client pool.
func (c *Client) CloseIdleConnections() {
	c.client.CloseIdleConnections()
}

func (c *Client) doRequest(ctx context.Context, method string, body []byte, contentType string) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, body, contentType)
	if err != nil {
		return nil, err
	}
	return c.client.Do(req)
}

func (c *Client) newRequest(ctx context.Context, method string, body []byte, contentType string) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+Path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

func (c *Client) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{
		Method: resp.Request.Method,
		Code:   resp.StatusCode,
		Body:   strings.TrimSpace(string(body)),
	}
}
