// Package metrics ships accounting measurements to a measurements API and
// exposes them to Prometheus.
package metrics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrNoTags     = errors.New("there are no metrics tags to send")
	ErrBadStatus  = errors.New("measurements rejected")
	ErrNoInterval = errors.New("send interval must be positive")
)

type Measurement struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

type payload struct {
	Tags         map[string]string `json:"tags"`
	Measurements []Measurement     `json:"measurements"`
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       string
}

type Stats struct {
	Sent               uint64 `json:"sent"`
	ErrorCount         uint64 `json:"errorCount"`
	LastError          string `json:"lastErrorEvent,omitempty"`
	Non200Count        uint64 `json:"non200Count"`
	LastNon200         int    `json:"lastNon200,omitempty"`
	LastNon200Received string `json:"lastNon200Received,omitempty"`
}

// Client posts measurements authenticated with a token.
type Client struct {
	token  string
	url    string
	tags   map[string]string
	http   *http.Client
	logger *zap.Logger

	mu    sync.Mutex
	stats Stats
}

type ClientOption func(*Client)

func WithTags(tags map[string]string) ClientOption {
	return func(c *Client) {
		for k, v := range tags {
			c.tags[k] = v
		}
	}
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.http = client
	}
}

func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

func NewClient(token, url string, options ...ClientOption) *Client {
	c := &Client{
		token: token,
		url:   url,
		tags:  map[string]string{},
		http: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 1,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: zap.NewNop(),
	}

	for _, option := range options {
		option(c)
	}

	return c
}

// Send posts measurements tagged with the client tags merged with tags.
// Any response is returned without error; non-2xx responses are counted.
func (c *Client) Send(ctx context.Context, measurements []Measurement, tags map[string]string) (*Response, error) {
	merged := make(map[string]string, len(c.tags)+len(tags))
	for k, v := range c.tags {
		merged[k] = v
	}
	for k, v := range tags {
		merged[k] = v
	}
	if len(merged) == 0 {
		return nil, ErrNoTags
	}

	body, err := json.Marshal(payload{Tags: merged, Measurements: measurements})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.token, "")

	res, err := c.http.Do(req)
	if err != nil {
		c.mu.Lock()
		c.stats.ErrorCount++
		c.stats.LastError = err.Error()
		c.mu.Unlock()
		return nil, err
	}
	defer res.Body.Close()

	received, err := io.ReadAll(res.Body)
	if err != nil {
		c.mu.Lock()
		c.stats.ErrorCount++
		c.stats.LastError = err.Error()
		c.mu.Unlock()
		return nil, err
	}

	c.mu.Lock()
	c.stats.Sent++
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		c.stats.Non200Count++
		c.stats.LastNon200 = res.StatusCode
		c.stats.LastNon200Received = string(received)
	}
	c.mu.Unlock()

	return &Response{StatusCode: res.StatusCode, Header: res.Header, Body: string(received)}, nil
}

func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stats
}

// Source yields the measurements and extra tags of one send.
type Source func() ([]Measurement, map[string]string)

// Sending is a periodic send started by SendOnInterval.
type Sending struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// SendOnInterval sends what source yields every interval until ctx is done,
// a send fails or the endpoint answers with a status of 300 or more. sent,
// when not nil, observes every response.
func (c *Client) SendOnInterval(ctx context.Context, interval time.Duration, source Source, sent func(*Response)) (*Sending, error) {
	if interval <= 0 {
		return nil, ErrNoInterval
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Sending{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(s.done)
		defer cancel()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			measurements, tags := source()
			res, err := c.Send(ctx, measurements, tags)
			if err != nil {
				if ctx.Err() == nil {
					s.err = err
					c.logger.Warn("sending measurements failed", zap.Error(err))
				}
				return
			}
			if sent != nil {
				sent(res)
			}
			if res.StatusCode >= 300 {
				s.err = fmt.Errorf("%w: status %d: %s", ErrBadStatus, res.StatusCode, res.Body)
				c.logger.Warn("measurements rejected",
					zap.Int("status", res.StatusCode),
					zap.String("body", res.Body))
				return
			}
		}
	}()

	return s, nil
}

func (s *Sending) Stop() {
	s.cancel()
	<-s.done
}

func (s *Sending) Done() <-chan struct{} {
	return s.done
}

// Err is the failure that ended the sending, nil when it was stopped. It is
// valid once Done is closed.
func (s *Sending) Err() error {
	<-s.done
	return s.err
}
