package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/realtime-ai/voiceloop/pkg/engine"
	"github.com/realtime-ai/voiceloop/pkg/llm"
	"github.com/realtime-ai/voiceloop/pkg/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	down map[llm.Model]bool
}

func (g *fakeGenerator) Generate(context.Context, *llm.Request) (string, error) { return "", nil }

func (g *fakeGenerator) Ping(_ context.Context, m llm.Model) error {
	if g.down[m] {
		return errors.New("model not found")
	}
	return nil
}

type fakeController struct {
	mu        sync.Mutex
	bus       pipeline.Bus
	gen       *fakeGenerator
	cfg       engine.TurnConfig
	status    engine.Status
	startErr  error
	listening bool
	stops     int
	playing   bool
}

func newFakeController() *fakeController {
	return &fakeController{
		bus:    pipeline.NewEventBus(),
		gen:    &fakeGenerator{},
		cfg:    engine.DefaultTurnConfig(),
		status: engine.StatusIdle,
	}
}

func (c *fakeController) StartListening() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return c.startErr
	}
	c.listening = true
	c.status = engine.StatusListening
	return nil
}

func (c *fakeController) StopListening() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listening = false
	c.status = engine.StatusIdle
}

func (c *fakeController) ForceStop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	was := c.playing
	c.playing = false
	return was
}

func (c *fakeController) Status() engine.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *fakeController) TurnConfig() engine.TurnConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

func (c *fakeController) SetTurnConfig(cfg engine.TurnConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
}

func (c *fakeController) set(fn func(c *fakeController)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}

func (c *fakeController) isListening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening
}

func (c *fakeController) Inference() llm.Generator { return c.gen }

func (c *fakeController) Subscribe(t pipeline.EventType, ch chan<- pipeline.Event) {
	c.bus.Subscribe(t, ch)
}

func (c *fakeController) Unsubscribe(t pipeline.EventType, ch chan<- pipeline.Event) {
	c.bus.Unsubscribe(t, ch)
}

func newTestServer(t *testing.T, cfg *Config) (*httptest.Server, *fakeController) {
	t.Helper()
	ctrl := newFakeController()
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.NewRegistry()
	}
	s := New(cfg, ctrl)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Stop(context.Background())
		ts.Close()
	})
	return ts, ctrl
}

func do(t *testing.T, method, url string, body io.Reader) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, body := do(t, http.MethodGet, ts.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","engine":"idle"}`, string(body))
}

func TestRoutesAreFixed(t *testing.T) {
	ts, ctrl := newTestServer(t, nil)

	resp, _ := do(t, http.MethodGet, ts.URL+"/listen/start", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.False(t, ctrl.isListening())

	resp, _ = do(t, http.MethodGet, ts.URL+"/debug/vars", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAuth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AuthToken = "secret"
	ts, _ := newTestServer(t, cfg)

	resp, _ := do(t, http.MethodGet, ts.URL+"/settings", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/settings", nil)
	req.Header.Set("Authorization", "Bearer secret")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	resp, _ = do(t, http.MethodGet, ts.URL+"/settings?token=secret", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// health stays open
	resp, _ = do(t, http.MethodGet, ts.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListenAndPlayback(t *testing.T) {
	ts, ctrl := newTestServer(t, nil)

	resp, body := do(t, http.MethodPost, ts.URL+"/listen/start", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"listening"}`, string(body))
	assert.True(t, ctrl.isListening())

	resp, _ = do(t, http.MethodPost, ts.URL+"/listen/stop", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, ctrl.isListening())

	ctrl.set(func(c *fakeController) { c.startErr = errors.New("no capture device") })
	resp, body = do(t, http.MethodPost, ts.URL+"/listen/start", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, string(body), "no capture device")

	ctrl.set(func(c *fakeController) { c.playing = true })
	resp, body = do(t, http.MethodPost, ts.URL+"/playback/stop", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"stopped":true}`, string(body))

	resp, _ = do(t, http.MethodGet, ts.URL+"/playback/stop", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestSettings(t *testing.T) {
	ts, ctrl := newTestServer(t, nil)

	resp, body := do(t, http.MethodGet, ts.URL+"/settings", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got Settings
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "gemma2", got.Model)
	assert.Equal(t, "🏆 Gemma2 (9B)", got.ModelName)
	assert.Equal(t, llm.DefaultPromptTemplate, got.PromptTemplate)

	resp, body = do(t, http.MethodPut, ts.URL+"/settings", strings.NewReader(`{"model":"gemma3","speech_rate":250}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "gemma3", got.Model)
	assert.True(t, got.SupportsImages)
	assert.Equal(t, 250, got.SpeechRate)
	// prompt template untouched by a partial update
	assert.Equal(t, llm.DefaultPromptTemplate, ctrl.TurnConfig().PromptTemplate)

	resp, _ = do(t, http.MethodPut, ts.URL+"/settings", strings.NewReader(`{"model":"llama"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPut, ts.URL+"/settings", strings.NewReader(`{`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSettingsImage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxImageBytes = 16
	ts, ctrl := newTestServer(t, cfg)

	resp, body := do(t, http.MethodPut, ts.URL+"/settings/image?name=cat.png", bytes.NewReader([]byte("\x89PNG....")))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got Settings
	require.NoError(t, json.Unmarshal(body, &got))
	assert.True(t, got.HasImage)
	assert.Equal(t, "cat.png", got.ImageName)
	assert.Equal(t, []byte("\x89PNG...."), ctrl.TurnConfig().Image)

	resp, _ = do(t, http.MethodPut, ts.URL+"/settings/image", bytes.NewReader(make([]byte, 64)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	resp, _ = do(t, http.MethodPut, ts.URL+"/settings/image", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodDelete, ts.URL+"/settings/image", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, ctrl.TurnConfig().Image)
}

func TestModels(t *testing.T) {
	ts, ctrl := newTestServer(t, nil)
	ctrl.gen.down = map[llm.Model]bool{llm.ModelLight: true}

	resp, body := do(t, http.MethodGet, ts.URL+"/models", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []ModelStatus
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got, 3)
	assert.Equal(t, "gemma2", got[0].Name)
	assert.True(t, got[0].Available)
	assert.Equal(t, "gemma3", got[1].Name)
	assert.True(t, got[1].SupportsImages)
	assert.Equal(t, "gemma3_light", got[2].Name)
	assert.False(t, got[2].Available)
	assert.Equal(t, "model not found", got[2].Error)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "voiceloop_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	cfg := DefaultConfig()
	cfg.Gatherer = reg
	ts, _ := newTestServer(t, cfg)

	resp, body := do(t, http.MethodGet, ts.URL+"/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "voiceloop_test_total 1")
}

func TestEventStream(t *testing.T) {
	ts, ctrl := newTestServer(t, nil)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var hello map[string]interface{}
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "status", hello["type"])
	assert.Equal(t, "idle", hello["payload"].(map[string]interface{})["status"])

	// subscriptions exist before the greeting is written
	ctrl.bus.Publish(pipeline.Event{Type: pipeline.EventTurnResult, Payload: &engine.TurnResult{Transcript: "こんにちは", Response: "はい"}})

	var evt struct {
		Type    string            `json:"type"`
		Payload engine.TurnResult `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, "turn_result", evt.Type)
	assert.Equal(t, "こんにちは", evt.Payload.Transcript)
	assert.Equal(t, "はい", evt.Payload.Response)
}
