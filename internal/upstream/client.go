package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"staybook/internal/domain"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

const maxBodyBytes = 1 << 20

type Config struct {
	Name     string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	Failures uint32
	Cooldown time.Duration
}

type response struct {
	status int
	body   []byte
}

// Client calls a collaborator over HTTP behind a circuit breaker. Transport
// failures and 5xx answers count against the breaker and surface as
// domain.ErrUpstreamUnavailable; 404 maps to domain.ErrNotFound.
type Client struct {
	name    string
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[response]
	logger  *zerolog.Logger
}

func New(cfg Config, logger *zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Failures == 0 {
		cfg.Failures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}

	c := &Client{
		name:    cfg.Name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker[response](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("upstream", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
		},
	})
	return c
}

// GetJSON fetches path and decodes the body into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	res, err := c.execute(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(res.body, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", c.name, path, err)
	}
	return nil
}

// PostJSON sends body as JSON and ignores the response payload.
func (c *Client) PostJSON(ctx context.Context, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s %s: encode request: %w", c.name, path, err)
	}
	_, err = c.execute(ctx, http.MethodPost, path, data)
	return err
}

func (c *Client) execute(ctx context.Context, method, path string, body []byte) (response, error) {
	res, err := c.breaker.Execute(func() (response, error) {
		return c.do(ctx, method, path, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return response{}, fmt.Errorf("%s: %w: circuit open", c.name, domain.ErrUpstreamUnavailable)
		}
		return response{}, fmt.Errorf("%s: %w: %v", c.name, domain.ErrUpstreamUnavailable, err)
	}

	switch {
	case res.status == http.StatusNotFound:
		return res, fmt.Errorf("%s %s: %w", c.name, path, domain.ErrNotFound)
	case res.status < 200 || res.status >= 300:
		return res, fmt.Errorf("%s %s: unexpected status %d", c.name, path, res.status)
	}
	return res, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (response, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return response{}, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return response{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return response{}, err
	}
	if resp.StatusCode >= 500 {
		return response{}, fmt.Errorf("status %d", resp.StatusCode)
	}
	return response{status: resp.StatusCode, body: data}, nil
}

// State exposes the breaker state for health reporting.
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}
