package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"staybook/internal/domain"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_GetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/things/1":
			w.Write([]byte(`{"name":"one"}`))
		case "/things/bad":
			w.WriteHeader(http.StatusBadRequest)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	logger := zerolog.New(io.Discard)
	c := New(Config{Name: "things", BaseURL: srv.URL + "/", APIKey: "secret"}, &logger)
	ctx := context.Background()

	var out struct {
		Name string `json:"name"`
	}
	require.NoError(t, c.GetJSON(ctx, "/things/1", &out))
	assert.Equal(t, "one", out.Name)

	err := c.GetJSON(ctx, "/things/2", &out)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	err = c.GetJSON(ctx, "/things/bad", &out)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrUpstreamUnavailable))
}

func TestClient_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	logger := zerolog.New(io.Discard)
	c := New(Config{Name: "flaky", BaseURL: srv.URL, Failures: 2, Cooldown: time.Minute}, &logger)
	ctx := context.Background()

	var out map[string]any
	for i := 0; i < 2; i++ {
		err := c.GetJSON(ctx, "/x", &out)
		assert.True(t, errors.Is(err, domain.ErrUpstreamUnavailable))
	}
	assert.Equal(t, gobreaker.StateOpen, c.State())

	err := c.GetJSON(ctx, "/x", &out)
	assert.True(t, errors.Is(err, domain.ErrUpstreamUnavailable))
	assert.Equal(t, int32(2), calls.Load(), "open breaker must not reach the server")
}

func TestClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	logger := zerolog.New(io.Discard)
	c := New(Config{Name: "gone", BaseURL: url, Timeout: time.Second}, &logger)

	var out map[string]any
	err := c.GetJSON(context.Background(), "/x", &out)
	assert.True(t, errors.Is(err, domain.ErrUpstreamUnavailable))
}

func TestClient_PostJSON(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		got = string(b)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	logger := zerolog.New(io.Discard)
	c := New(Config{Name: "hook", BaseURL: srv.URL}, &logger)

	require.NoError(t, c.PostJSON(context.Background(), "", map[string]string{"kind": "x"}))
	assert.JSONEq(t, `{"kind":"x"}`, got)
}
