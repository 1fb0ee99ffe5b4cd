// Package inference forwards prediction requests to the model server.
package inference

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	accounts "github.com/lungvision/go-accounts"
)

const (
	DefaultTimeout     = 60 * time.Second
	DefaultPredictPath = "/predict/"
)

// Options configure the client
type Options struct {
	BaseURL     string
	PredictPath string
	Timeout     time.Duration
	RetryCount  int
}

// Client proxies prediction payloads unchanged.
type Client struct {
	http *resty.Client
	path string
}

var _ accounts.Predictor = (*Client)(nil)

func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("inference: base url is required")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	path := opts.PredictPath
	if path == "" {
		path = DefaultPredictPath
	}

	client := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetRetryCount(opts.RetryCount)

	return &Client{http: client, path: path}, nil
}

// Predict posts body to the model server and returns its status and body.
func (c *Client) Predict(ctx context.Context, contentType string, body []byte) (int, []byte, error) {
	req := c.http.R().
		SetContext(ctx).
		SetBody(body)
	if contentType != "" {
		req.SetHeader("Content-Type", contentType)
	}

	resp, err := req.Post(c.path)
	if err != nil {
		return 0, nil, fmt.Errorf("inference request: %w", err)
	}

	return resp.StatusCode(), resp.Body(), nil
}
