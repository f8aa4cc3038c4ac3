package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Client opens streaming calls against the hosted agent endpoint.
type Client struct {
	url        string
	httpClient *http.Client
	header     http.Header
}

// NewClient returns a client for url. headerTimeout bounds the wait for the
// response headers only; the body may stream for as long as the agent needs.
func NewClient(url string, headerTimeout time.Duration) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: headerTimeout,
		// Compressed bodies would be re-chunked by the gzip reader.
		DisableCompression: true,
	}
	return NewClientWithHTTP(url, &http.Client{Transport: transport})
}

func NewClientWithHTTP(url string, httpClient *http.Client) *Client {
	header := make(http.Header)
	header.Set("Accept", "*/*")
	header.Set("Content-Type", "application/json")
	header.Set("x-mastra-dev-playground", "true")
	return &Client{url: url, httpClient: httpClient, header: header}
}

// Open issues one POST and returns the response body as a Stream once the
// agent has answered with a success status. Nothing is retried.
func (c *Client) Open(ctx context.Context, req Request) (*Stream, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal agent request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create agent request: %w", err)
	}
	httpReq.Header = c.header.Clone()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Err: fmt.Errorf("status %s", resp.Status)}
	}
	return newResponseStream(resp), nil
}
