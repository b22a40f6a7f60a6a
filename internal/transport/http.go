package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"syncline/internal/domain"

	"github.com/rs/zerolog"
)

// maxBodyBytes caps how much of an upstream response is buffered.
const maxBodyBytes = 8 << 20

// Client is the HTTP implementation of domain.Transport. Every failure it
// returns is a *domain.TransportError: Connectivity=true when no response
// was received, otherwise the non-2xx status and body are captured.
type Client struct {
	http    *http.Client
	headers map[string]string
	logger  zerolog.Logger
}

// Options configure the client.
type Options struct {
	Timeout time.Duration
	// Headers are attached to every request, e.g. an auth token header.
	Headers map[string]string
}

func NewClient(logger zerolog.Logger, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: opts.Timeout},
		headers: opts.Headers,
		logger:  logger.With().Str("component", "transport").Logger(),
	}
}

func (c *Client) Do(ctx context.Context, method, url string, params map[string]string, body []byte) (*domain.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, &domain.TransportError{Connectivity: true, Err: fmt.Errorf("build request: %w", err)}
	}

	if len(params) > 0 {
		q := req.URL.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("method", method).Str("url", url).Msg("no response from upstream")
		return nil, &domain.TransportError{Connectivity: true, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &domain.TransportError{Connectivity: true, Err: fmt.Errorf("read response: %w", err)}
	}

	c.logger.Debug().
		Str("method", method).
		Str("url", url).
		Int("status", resp.StatusCode).
		Dur("dur", time.Since(start)).
		Msg("upstream exchange")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.TransportError{StatusCode: resp.StatusCode, Body: data}
	}

	return &domain.Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// IsConnectivity reports whether err represents "no response received".
func IsConnectivity(err error) bool {
	var te *domain.TransportError
	return errors.As(err, &te) && te.Connectivity
}
