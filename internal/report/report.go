// Package report sends changed readings to the remote collection endpoint.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// AuthHeader carries the collection secret.
const AuthHeader = "X-Require-Whisk-Auth"

// Source is the slice of tracker state a report needs.
type Source interface {
	ShouldCollect() bool
	Current() float64
}

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Options struct {
	Enabled bool
	URL     string
	Secret  string
	Timeout time.Duration
}

type payload struct {
	TemperatureInCelcius float64 `json:"temperature_in_celcius"`
}

type Client struct {
	opts   Options
	doer   Doer
	logger *slog.Logger
}

// NewClient builds a reporter. A nil doer gets an *http.Client bounded by
// opts.Timeout.
func NewClient(opts Options, doer Doer, logger *slog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if doer == nil {
		doer = &http.Client{Timeout: opts.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{opts: opts, doer: doer, logger: logger}
}

// Report performs at most one POST. It never retries; the caller decides what
// to do with a failed Outcome.
func (c *Client) Report(ctx context.Context, src Source) Outcome {
	if !c.opts.Enabled {
		return Outcome{Kind: Disabled}
	}
	if !src.ShouldCollect() {
		return Outcome{Kind: Unchanged}
	}

	body, err := json.Marshal(payload{TemperatureInCelcius: src.Current()})
	if err != nil {
		return Outcome{Kind: TransportError, Message: fmt.Sprintf("marshal payload: %v", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.URL, bytes.NewReader(body))
	if err != nil {
		return Outcome{Kind: TransportError, Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(AuthHeader, c.opts.Secret)

	resp, err := c.doer.Do(req)
	if err != nil {
		return Outcome{Kind: TransportError, Message: err.Error()}
	}
	defer resp.Body.Close()
	_, _ = io.CopyN(io.Discard, resp.Body, 4<<10)

	c.logger.Debug("report sent", "status", resp.StatusCode, "temperature_c", src.Current())

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return Outcome{Kind: Success, StatusCode: resp.StatusCode}
	default:
		return Outcome{Kind: RemoteError, StatusCode: resp.StatusCode}
	}
}
