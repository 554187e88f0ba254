package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"harvester/config"
	"harvester/core"
	"harvester/fim"
	"harvester/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// inlinePool runs submitted tasks on the calling goroutine
type inlinePool struct {
	err error
}

func (p *inlinePool) Submit(task core.Task) error {
	if p.err != nil {
		return p.err
	}
	task(context.Background())
	return nil
}

// failingConnector rejects every publish
type failingConnector struct{}

func (failingConnector) Publish(ctx context.Context, message string) error {
	return errors.New("indexer unavailable")
}

func (failingConnector) Close() error { return nil }

// recordingProcessor remembers the events it was given
type recordingProcessor struct {
	mu     sync.Mutex
	events []core.RawEvent
}

func (p *recordingProcessor) Run(ctx context.Context, raw core.RawEvent) (*core.FimContext, error) {
	p.mu.Lock()
	p.events = append(p.events, raw)
	p.mu.Unlock()
	return core.NewFimContext(raw)
}

func testListenerConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Indexer.PublishTimeout = 5
	cfg.Listener.Host = "127.0.0.1"
	cfg.Listener.Port = 8090
	cfg.Listener.MaxBodySize = 1 << 20
	return cfg
}

type listenerFixture struct {
	handler  http.Handler
	files    *storage.MemoryConnector
	registry *storage.MemoryConnector
	dlq      *DLQ
}

func newListenerFixture(t *testing.T, cfg *config.Config, pool Submitter, fileConnector storage.IndexerConnector) *listenerFixture {
	t.Helper()
	logger := zap.NewNop().Sugar()

	files := storage.NewMemoryConnector("wazuh-states-fim-files-undefined")
	regs := storage.NewMemoryConnector("wazuh-states-fim-registries-undefined")
	if fileConnector == nil {
		fileConnector = files
	}
	registry, err := storage.NewRegistryBuilder().
		Register(core.ComponentFile, fileConnector).
		Register(core.ComponentRegistry, regs).
		Build()
	require.NoError(t, err)

	orchestrator, err := fim.NewOrchestrator(registry, fim.ClusterInfo{Name: "undefined", Node: "node01"}, logger)
	require.NoError(t, err)

	dlq, err := OpenDLQ(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dlq.Close() })

	l := NewListener(cfg, orchestrator, pool, dlq, logger)
	return &listenerFixture{handler: l.Handler(), files: files, registry: regs, dlq: dlq}
}

func post(t *testing.T, h http.Handler, path string, body []byte, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) ingestResult {
	t.Helper()
	var res ingestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func TestListener_Health(t *testing.T) {
	f := newListenerFixture(t, testListenerConfig(), &inlinePool{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestListener_AcceptsDelta(t *testing.T) {
	f := newListenerFixture(t, testListenerConfig(), &inlinePool{}, nil)

	rec := post(t, f.handler, "/api/v1/fim/delta",
		deltaPayload(t, core.DeltaAdded, core.AttributeFile, "/etc/passwd"),
		http.Header{RequestIDHeader: []string{"req-42"}})

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
	assert.Equal(t, "req-42", decodeResult(t, rec).RequestID)

	// the inline pool has already run the task
	assert.Equal(t, 1, f.files.Len())
	assert.Equal(t, 0, f.registry.Len())
}

func TestListener_WaitReturnsClassification(t *testing.T) {
	f := newListenerFixture(t, testListenerConfig(), &inlinePool{}, nil)

	rec := post(t, f.handler, "/api/v1/fim/delta?wait=true",
		deltaPayload(t, core.DeltaModified, core.AttributeFile, "/etc/passwd"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	res := decodeResult(t, rec)
	assert.True(t, res.Classified)
	assert.Equal(t, "upsert", res.Operation)
	assert.Equal(t, "file", res.Component)
	assert.Empty(t, res.Error)

	rec = post(t, f.handler, "/api/v1/fim/control?wait=true",
		[]byte(`{"action":"deleteAgent","agent_info":{"agent_id":"001"}}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "delete_agent", decodeResult(t, rec).Operation)
	assert.Equal(t, 0, f.files.Len())
}

func TestListener_DecodeFailureIsDeadLettered(t *testing.T) {
	f := newListenerFixture(t, testListenerConfig(), &inlinePool{}, nil)

	rec := post(t, f.handler, "/api/v1/fim/control", []byte(`{"agent_info":{}}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	events, err := f.dlq.List(context.Background(), ReasonDecodeFailure, 10, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, KindControl, events[0].Kind)
	assert.Equal(t, []byte(`{"agent_info":{}}`), events[0].Payload)
}

func TestListener_ClassificationFailure(t *testing.T) {
	f := newListenerFixture(t, testListenerConfig(), &inlinePool{}, nil)

	rec := post(t, f.handler, "/api/v1/fim/delta?wait=true",
		deltaPayload(t, "renamed", core.AttributeFile, "/etc/passwd"), nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	res := decodeResult(t, rec)
	assert.False(t, res.Classified)
	assert.NotEmpty(t, res.Error)

	events, err := f.dlq.List(context.Background(), ReasonClassificationFailure, 10, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestListener_PublishFailure(t *testing.T) {
	f := newListenerFixture(t, testListenerConfig(), &inlinePool{}, failingConnector{})

	rec := post(t, f.handler, "/api/v1/fim/delta?wait=true",
		deltaPayload(t, core.DeltaAdded, core.AttributeFile, "/etc/passwd"), nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, decodeResult(t, rec).Error, "indexer unavailable")

	events, err := f.dlq.List(context.Background(), ReasonPublishFailure, 10, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "001", events[0].AgentID)
}

func TestListener_BodyTooLarge(t *testing.T) {
	cfg := testListenerConfig()
	cfg.Listener.MaxBodySize = 16
	f := newListenerFixture(t, cfg, &inlinePool{}, nil)

	rec := post(t, f.handler, "/api/v1/fim/control",
		[]byte(`{"action":"deleteAgent","agent_info":{"agent_id":"001"}}`), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestListener_QueueFull(t *testing.T) {
	f := newListenerFixture(t, testListenerConfig(), &inlinePool{err: core.ErrWorkerPoolQueueFull}, nil)

	rec := post(t, f.handler, "/api/v1/fim/delta",
		deltaPayload(t, core.DeltaAdded, core.AttributeFile, "/etc/passwd"), nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, 0, f.files.Len())
}

func TestListener_UnknownKind(t *testing.T) {
	f := newListenerFixture(t, testListenerConfig(), &inlinePool{}, nil)

	rec := post(t, f.handler, "/api/v1/fim/syslog", []byte(`{}`), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListener_RateLimit(t *testing.T) {
	cfg := testListenerConfig()
	cfg.Listener.RateLimit.RequestsPerSecond = 1
	cfg.Listener.RateLimit.Burst = 1
	f := newListenerFixture(t, cfg, &inlinePool{}, nil)

	body := []byte(`{"action":"deleteAgent","agent_info":{"agent_id":"001"}}`)
	assert.Equal(t, http.StatusAccepted, post(t, f.handler, "/api/v1/fim/control", body, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, post(t, f.handler, "/api/v1/fim/control", body, nil).Code)
}

func TestListener_Authentication(t *testing.T) {
	cfg := testListenerConfig()
	cfg.Listener.Auth.Enabled = true
	cfg.Listener.Auth.JWTSecret = testSecret
	cfg.Listener.Auth.Issuer = "harvester"
	f := newListenerFixture(t, cfg, &inlinePool{}, nil)

	body := []byte(`{"action":"deleteAgent","agent_info":{"agent_id":"001"}}`)

	rec := post(t, f.handler, "/api/v1/fim/control", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	foreign, err := NewToken(testSecret, "someone-else", "manager-01", time.Hour)
	require.NoError(t, err)
	rec = post(t, f.handler, "/api/v1/fim/control", body, http.Header{"Authorization": []string{"Bearer " + foreign}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := NewToken(testSecret, "harvester", "manager-01", time.Hour)
	require.NoError(t, err)
	rec = post(t, f.handler, "/api/v1/fim/control", body, http.Header{"Authorization": []string{"Bearer " + token}})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// health stays open
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	hrec := httptest.NewRecorder()
	f.handler.ServeHTTP(hrec, req)
	assert.Equal(t, http.StatusOK, hrec.Code)
}

func TestListener_WorkerPool(t *testing.T) {
	logger := zap.NewNop().Sugar()
	pool := core.NewWorkerPool(context.Background(), "ingest-test", 2, 16, logger)
	require.NoError(t, pool.Start())
	defer pool.Stop()

	proc := &recordingProcessor{}
	l := NewListener(testListenerConfig(), proc, pool, nil, logger)

	for i := 0; i < 5; i++ {
		rec := post(t, l.Handler(), "/api/v1/fim/delta",
			deltaPayload(t, core.DeltaAdded, core.AttributeFile, "/etc/passwd"), nil)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	assert.Eventually(t, func() bool {
		proc.mu.Lock()
		defer proc.mu.Unlock()
		return len(proc.events) == 5
	}, 2*time.Second, 10*time.Millisecond)
}
