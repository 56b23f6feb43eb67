package uplink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mklimuk/envnode/pipeline"
)

type HTTPOpts struct {
	Timeout time.Duration
	Headers map[string]string
}

type HTTPOpt func(*HTTPOpts)

func WithTimeout(timeout time.Duration) HTTPOpt {
	return func(o *HTTPOpts) {
		o.Timeout = timeout
	}
}

// WithHeader adds a header to every upload, e.g. an authorization token.
func WithHeader(key, value string) HTTPOpt {
	return func(o *HTTPOpts) {
		if o.Headers == nil {
			o.Headers = map[string]string{}
		}
		o.Headers[key] = value
	}
}

// HTTP posts each reading as a JSON Payload to a collector endpoint.
type HTTP struct {
	url    string
	client *http.Client
	config HTTPOpts
}

func NewHTTP(url string, opts ...HTTPOpt) *HTTP {
	config := HTTPOpts{
		Timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &HTTP{
		url:    url,
		client: &http.Client{Timeout: config.Timeout},
		config: config,
	}
}

func (h *HTTP) Publish(ctx context.Context, r pipeline.Reading) error {
	body, err := json.Marshal(NewPayload(r))
	if err != nil {
		return fmt.Errorf("uplink: could not encode reading: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("uplink: could not build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range h.config.Headers {
		req.Header.Set(k, v)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("uplink: upload failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("uplink: upload rejected with %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (h *HTTP) String() string {
	return "http(" + h.url + ")"
}

var _ pipeline.Sink = &HTTP{}
