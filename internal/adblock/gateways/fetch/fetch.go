// Package fetch downloads filter lists over HTTP. Content-Encoding is
// negotiated by hand so zstd as well as gzip bodies can be decoded.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/haukened/rr-adblock/internal/adblock/common/log"
	"github.com/haukened/rr-adblock/internal/adblock/domain"
)

const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultReadTimeout    = 60 * time.Second
	DefaultUserAgent      = "rr-adblock/1.0"

	acceptEncoding = "zstd, gzip"
)

// Options configures a Client.
type Options struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	UserAgent      string
	Logger         log.Logger
	// Transport overrides the underlying round tripper (tests).
	Transport http.RoundTripper
}

// Client is a pooled HTTP client for filter list downloads.
type Client struct {
	http      *http.Client
	transport *http.Transport
	userAgent string
	logger    log.Logger
}

// New builds a Client with its own connection pool.
func New(opts Options) *Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	c := &Client{userAgent: opts.UserAgent, logger: log.Named(log.OrNoop(opts.Logger), "fetch")}

	rt := opts.Transport
	if rt == nil {
		c.transport = newTransport(opts.ConnectTimeout, opts.ReadTimeout)
		rt = c.transport
	}
	c.http = &http.Client{Transport: rt}
	return c
}

func newTransport(connect, read time.Duration) *http.Transport {
	dialer := &net.Dialer{Timeout: connect, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   connect,
		ResponseHeaderTimeout: read,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		DisableCompression:    true, // Accept-Encoding is set by hand
		ForceAttemptHTTP2:     true,
	}
}

// Fetch issues a GET for url and returns the decoded body. A non-2xx status
// is a *domain.DownloadError. The caller must close the returned reader.
func (c *Client) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &domain.DownloadError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept-Encoding", acceptEncoding)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &domain.DownloadError{URL: url, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &domain.DownloadError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := decode(resp)
	if err != nil {
		resp.Body.Close()
		return nil, &domain.DownloadError{URL: url, Err: err}
	}
	c.logger.Debug(map[string]any{
		"url":      url,
		"status":   resp.StatusCode,
		"encoding": resp.Header.Get("Content-Encoding"),
	}, "filter list response")
	return body, nil
}

// CloseIdleConnections evicts pooled connections.
func (c *Client) CloseIdleConnections() {
	c.http.CloseIdleConnections()
}

func decode(resp *http.Response) (io.ReadCloser, error) {
	enc := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch enc {
	case "", "identity":
		return resp.Body, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip body: %w", err)
		}
		return &decodedBody{Reader: zr, closeFn: func() error {
			zr.Close()
			return resp.Body.Close()
		}}, nil
	case "zstd":
		zr, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("zstd body: %w", err)
		}
		return &decodedBody{Reader: zr, closeFn: func() error {
			zr.Close()
			return resp.Body.Close()
		}}, nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", enc)
	}
}

type decodedBody struct {
	io.Reader
	closeFn func() error
}

func (d *decodedBody) Close() error { return d.closeFn() }
