package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/cheese-relay/internal/config"
	"github.com/park285/cheese-relay/internal/domain"
	"github.com/park285/cheese-relay/pkg/relaydto"
)

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		HTTPAddr:          "127.0.0.1:0",
		JWTSecret:         "secret",
		JWTAlgorithm:      "HS256",
		BackendURL:        "http://127.0.0.1:1",
		BackendTimeout:    time.Second,
		BackendRetry:      1,
		TextgenTimeout:    time.Second,
		EngineThreads:     1,
		EngineHashMB:      16,
		FanoutTopic:       "relay:test",
		RegistryShards:    4,
		WSSendQueue:       8,
		WSWriteTimeout:    time.Second,
		WSPingInterval:    time.Minute,
		WSMaxMessageBytes: 1 << 16,
	}
}

func TestNewWithoutRedisOrEngine(t *testing.T) {
	d, err := New(context.Background(), testConfig())
	require.NoError(t, err)
	assert.False(t, d.Engine.Available())
	assert.Nil(t, d.bridge)

	rec := httptest.NewRecorder()
	d.API.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))
}

func TestNewWiresRedisFanout(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.RedisURL = "redis://" + mr.Addr()
	cfg.RelayInstanceID = "relay-a"

	d, err := New(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, d.bridge)

	rec := httptest.NewRecorder()
	d.API.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var h relaydto.Health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Equal(t, "relay-a", h.Instance)

	sub := mr.NewSubscriber()
	sub.Subscribe(cfg.FanoutTopic)
	env, err := domain.NewEnvelope(domain.TypeEvent, domain.GlobalChannel, map[string]string{"k": "v"})
	require.NoError(t, err)
	_, err = d.Dispatcher.Publish(context.Background(), domain.GlobalChannel, env)
	require.NoError(t, err)

	select {
	case msg := <-sub.Messages():
		assert.Contains(t, msg.Message, `"origin":"relay-a"`)
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast was not forwarded to redis")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))
}

func TestNewFailsWhenRedisDown(t *testing.T) {
	cfg := testConfig()
	cfg.RedisURL = "redis://127.0.0.1:1"
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
}
