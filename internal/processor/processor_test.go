package processor

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semaforo/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Storage.Backend = "sqlite"
	cfg.Storage.DSN = filepath.Join(t.TempDir(), "semaforo.db")
	cfg.Kafka.Producer.BatchTimeout = 10 * time.Millisecond
	return cfg
}

func TestProcessorRun(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	p := New(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

func TestProcessorServesAPI(t *testing.T) {
	p := New(testConfig(t))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx) }()

	select {
	case <-p.Ready():
	case err := <-errc:
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("processor did not become ready")
	}

	base := "http://" + p.Addr()
	post := func(path, body string) *http.Response {
		resp, err := http.Post(base+path, "application/json", strings.NewReader(body))
		require.NoError(t, err)
		return resp
	}

	resp := post("/api/v1/aircraft", `{"id":"ac-1","registration":"EC-ABC","total_hours":10}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	req, err := http.NewRequest(http.MethodPut, base+"/api/v1/aircraft/ac-1/hours", strings.NewReader(`{"total_hours":20}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// The audit event of the update is published by the log publisher.
	require.Eventually(t, func() bool {
		return p.Stats().Worker.Processed == 1
	}, 2*time.Second, 10*time.Millisecond)

	resp, err = http.Get(base + "/stats")
	require.NoError(t, err)
	var body struct {
		Data Stats `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.Equal(t, uint64(1), body.Data.Worker.Processed)
	assert.Equal(t, 1000, body.Data.Queue.Capacity)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(20 * time.Second):
		t.Fatal("processor did not stop")
	}
}

func TestProcessorRun_BadStorage(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = "cassandra"

	err := New(cfg).Run(context.Background())
	assert.Error(t, err)
}
