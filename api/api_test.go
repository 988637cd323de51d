package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/callkit/bus"
	"github.com/vinayprograms/callkit/errors"
	"github.com/vinayprograms/callkit/llm"
	"github.com/vinayprograms/callkit/memory"
	"github.com/vinayprograms/callkit/registry"
	"github.com/vinayprograms/callkit/session"
	"github.com/vinayprograms/callkit/telemetry"
	"github.com/vinayprograms/callkit/think"
	"github.com/vinayprograms/callkit/transport"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type harness struct {
	srv     *Server
	events  *bus.EventBus
	agents  *registry.Registry
	mock    *llm.MockProvider
	metrics *telemetry.Metrics
}

func newHarness(t *testing.T, thinkCfg think.Config) *harness {
	t.Helper()

	events := bus.New(bus.DefaultConfig())
	t.Cleanup(func() { events.Close() })

	transcript, err := memory.NewTranscript()
	require.NoError(t, err)
	t.Cleanup(func() { transcript.Close() })

	var sessions *session.Registry
	agents := registry.New(events, registry.Options{
		Transcript: transcript,
		OnDelete:   func(id string) { sessions.UnbindAgent(id) },
	})
	t.Cleanup(agents.Close)
	sessions = session.NewRegistry(events, agents, nil)

	mock := llm.NewMockProvider()
	catalog := llm.NewCatalog()
	catalog.Register("mock", mock)

	metrics := telemetry.NewMetrics()
	events.SetObserver(metrics)

	scheduler := think.New(thinkCfg, think.Deps{
		Agents:     agents,
		Providers:  catalog,
		Publisher:  events,
		Transcript: transcript,
		Metrics:    metrics,
	})

	srv := New(Deps{
		Sessions:   sessions,
		Agents:     agents,
		Thinker:    scheduler,
		Events:     events,
		Transcript: transcript,
		Metrics:    metrics,
	}, Options{
		Version: "test",
		SSE:     transport.SSEConfig{},
	})
	t.Cleanup(srv.CloseStreams)

	return &harness{srv: srv, events: events, agents: agents, mock: mock, metrics: metrics}
}

func (h *harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func requireKind(t *testing.T, rec *httptest.ResponseRecorder, status int, kind errors.Kind) {
	t.Helper()
	require.Equal(t, status, rec.Code, "body: %s", rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, string(kind), body["kind"])
	assert.NotEmpty(t, body["error"])
}

// --- Unit Tests ---

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", errors.NotFound("x"), http.StatusNotFound},
		{"conflict", errors.Conflict("x"), http.StatusConflict},
		{"config", errors.UnprocessableConfig("voice.temperature", "bad"), http.StatusUnprocessableEntity},
		{"busy", errors.AgentBusy("a"), http.StatusTooManyRequests},
		{"provider", errors.ProviderError("groq", fmt.Errorf("503")), http.StatusBadGateway},
		{"provider deadline", errors.ProviderError("groq", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"invalid", errors.InvalidInput("x"), http.StatusBadRequest},
		{"plain", fmt.Errorf("boom"), http.StatusInternalServerError},
		{"wrapped not found", fmt.Errorf("lookup: %w", errors.NotFound("x")), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestCORSMiddleware(t *testing.T) {
	assert.Nil(t, corsMiddleware(nil))
	assert.NotNil(t, corsMiddleware([]string{"*"}))
	assert.NotNil(t, corsMiddleware([]string{"http://ui.test"}))
}

// --- Integration Tests ---

func TestStatus(t *testing.T) {
	h := newHarness(t, think.Config{})
	h.events.Publish(bus.AccountCreated, nil)

	rec := h.do(t, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "OK", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.EqualValues(t, 1, body["lastEventId"])
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestAccounts_CRUD(t *testing.T) {
	h := newHarness(t, think.Config{})

	rec := h.do(t, http.MethodPost, "/accounts",
		`{"domain":"sip.test","username":"alice","password":"s3cret","registrarUri":"sip:reg.sip.test"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "s3cret")
	assert.Equal(t, "alice@sip.test", decode(t, rec)["accountId"])

	// Duplicate keeps the original record.
	rec = h.do(t, http.MethodPost, "/accounts", `{"domain":"sip.test","username":"alice","password":"other"}`)
	requireKind(t, rec, http.StatusConflict, errors.KindConflict)

	rec = h.do(t, http.MethodGet, "/accounts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	accounts := decode(t, rec)["accounts"].([]any)
	require.Len(t, accounts, 1)
	assert.Equal(t, "sip:reg.sip.test", accounts[0].(map[string]any)["registrarUri"])

	rec = h.do(t, http.MethodPut, "/accounts/alice@sip.test", `{"password":"new","registrarUri":"sip:other.test"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "sip:other.test", decode(t, rec)["registrarUri"])
	assert.NotContains(t, rec.Body.String(), "new\"")

	rec = h.do(t, http.MethodPut, "/accounts/alice@sip.test", `{"username":"bob"}`)
	requireKind(t, rec, http.StatusBadRequest, errors.KindInvalidInput)

	rec = h.do(t, http.MethodDelete, "/accounts/alice@sip.test", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(t, http.MethodGet, "/accounts/alice@sip.test", "")
	requireKind(t, rec, http.StatusNotFound, errors.KindNotFound)

	for _, ev := range h.events.Since(0) {
		raw, _ := json.Marshal(ev)
		assert.NotContains(t, string(raw), "s3cret")
	}
}

func TestAccounts_Validation(t *testing.T) {
	h := newHarness(t, think.Config{})

	tests := []struct {
		name   string
		body   string
		status int
		kind   errors.Kind
	}{
		{"malformed json", `{"domain":`, http.StatusBadRequest, errors.KindInvalidInput},
		{"missing username", `{"domain":"sip.test"}`, http.StatusBadRequest, errors.KindInvalidInput},
		{"unknown agent", `{"domain":"sip.test","username":"carol","agentId":"ghost"}`, http.StatusNotFound, errors.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireKind(t, h.do(t, http.MethodPost, "/accounts", tt.body), tt.status, tt.kind)
		})
	}
}

func TestCalls_Scenario(t *testing.T) {
	h := newHarness(t, think.Config{})

	rec := h.do(t, http.MethodPost, "/accounts", `{"domain":"sip.test","username":"testuser","password":"pw"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = h.do(t, http.MethodPost, "/calls/make", `{"accountId":"testuser@sip.test","destUri":"sip:callee@sip.test"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "Call initiated", body["status"])
	assert.EqualValues(t, 1, body["callId"])

	// One live call per account.
	rec = h.do(t, http.MethodPost, "/calls/make", `{"accountId":"testuser@sip.test","destUri":"sip:other@sip.test"}`)
	requireKind(t, rec, http.StatusConflict, errors.KindConflict)

	rec = h.do(t, http.MethodPost, "/calls/hangup", `{"callId":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body = decode(t, rec)
	assert.Equal(t, "Call terminated", body["status"])
	assert.EqualValues(t, 1, body["callId"])

	rec = h.do(t, http.MethodPost, "/calls/hangup", `{"callId":1}`)
	requireKind(t, rec, http.StatusConflict, errors.KindConflict)

	rec = h.do(t, http.MethodGet, "/calls/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "terminated", decode(t, rec)["state"])

	var types []bus.EventType
	for _, ev := range h.events.Since(0) {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []bus.EventType{bus.AccountCreated, bus.CallInitiated, bus.CallTerminated}, types)
}

func TestCalls_Errors(t *testing.T) {
	h := newHarness(t, think.Config{})
	h.do(t, http.MethodPost, "/accounts", `{"domain":"sip.test","username":"testuser"}`)

	tests := []struct {
		name         string
		method, path string
		body         string
		status       int
		kind         errors.Kind
	}{
		{"make unknown account", http.MethodPost, "/calls/make", `{"accountId":"nobody@sip.test","destUri":"sip:x@y"}`, http.StatusNotFound, errors.KindNotFound},
		{"make without dest", http.MethodPost, "/calls/make", `{"accountId":"testuser@sip.test"}`, http.StatusBadRequest, errors.KindInvalidInput},
		{"make without account", http.MethodPost, "/calls/make", `{"destUri":"sip:x@y"}`, http.StatusBadRequest, errors.KindInvalidInput},
		{"hangup unknown", http.MethodPost, "/calls/hangup", `{"callId":99}`, http.StatusNotFound, errors.KindNotFound},
		{"hangup without id", http.MethodPost, "/calls/hangup", `{}`, http.StatusBadRequest, errors.KindInvalidInput},
		{"hangup string id", http.MethodPost, "/calls/hangup", `{"callId":"one"}`, http.StatusBadRequest, errors.KindInvalidInput},
		{"get bad id", http.MethodGet, "/calls/abc", "", http.StatusBadRequest, errors.KindInvalidInput},
		{"get unknown", http.MethodGet, "/calls/42", "", http.StatusNotFound, errors.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireKind(t, h.do(t, tt.method, tt.path, tt.body), tt.status, tt.kind)
		})
	}
}

func TestCalls_ConnectThenHangup(t *testing.T) {
	h := newHarness(t, think.Config{})
	h.do(t, http.MethodPost, "/accounts", `{"domain":"sip.test","username":"testuser"}`)
	h.do(t, http.MethodPost, "/calls/make", `{"accountId":"testuser@sip.test","destUri":"sip:callee@sip.test"}`)

	rec := h.do(t, http.MethodPost, "/calls/1/connect", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodPost, "/calls/1/connect", "")
	requireKind(t, rec, http.StatusConflict, errors.KindConflict)

	rec = h.do(t, http.MethodPost, "/calls/hangup", `{"callId":1}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/calls", "")
	calls := decode(t, rec)["calls"].([]any)
	require.Len(t, calls, 1)
	assert.Equal(t, "terminated", calls[0].(map[string]any)["state"])
}

func TestAgents_CreateAndDefaults(t *testing.T) {
	h := newHarness(t, think.Config{})

	rec := h.do(t, http.MethodPost, "/agents", `{"id":"a1","provider":"groq"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, "BaseAgent", body["type"])
	cfg := body["config"].(map[string]any)
	assert.Equal(t, "groq", cfg["provider"])
	assert.EqualValues(t, 10, cfg["stm_capacity"])
	voice := cfg["voice"].(map[string]any)
	assert.Equal(t, "neutral", voice["style"])
	assert.InDelta(t, 0.7, voice["temperature"], 1e-9)

	rec = h.do(t, http.MethodPost, "/agents", `{"id":"a1"}`)
	requireKind(t, rec, http.StatusConflict, errors.KindConflict)

	rec = h.do(t, http.MethodGet, "/agents", "")
	require.Len(t, decode(t, rec)["agents"].([]any), 1)
}

func TestAgents_ConfigValidation(t *testing.T) {
	h := newHarness(t, think.Config{})

	tests := []struct {
		name   string
		body   string
		status int
		kind   errors.Kind
	}{
		{"missing id", `{"provider":"groq"}`, http.StatusBadRequest, errors.KindInvalidInput},
		{"temperature out of range", `{"id":"x","config":{"voice":{"temperature":2.5}}}`, http.StatusUnprocessableEntity, errors.KindUnprocessableConfig},
		{"non-numeric temperature", `{"id":"x","voice":{"temperature":"hot"}}`, http.StatusUnprocessableEntity, errors.KindUnprocessableConfig},
		{"negative capacity", `{"id":"x","stm_capacity":-1}`, http.StatusUnprocessableEntity, errors.KindUnprocessableConfig},
		{"unknown type", `{"id":"x","type":"RobotAgent"}`, http.StatusUnprocessableEntity, errors.KindUnprocessableConfig},
		{"empty style", `{"id":"x","voice":{"style":""}}`, http.StatusUnprocessableEntity, errors.KindUnprocessableConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireKind(t, h.do(t, http.MethodPost, "/agents", tt.body), tt.status, tt.kind)
		})
	}

	assert.Empty(t, h.agents.List(), "failed creates must not store anything")
}

func TestAgents_PatchMerge(t *testing.T) {
	h := newHarness(t, think.Config{})
	h.do(t, http.MethodPost, "/agents", `{"id":"a1","type":"VoiceAgent","config":{"voice":{"style":"calm","temperature":0.3}}}`)

	rec := h.do(t, http.MethodPatch, "/agents/a1", `{"voice":{"temperature":1.1}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	voice := decode(t, rec)["config"].(map[string]any)["voice"].(map[string]any)
	assert.Equal(t, "calm", voice["style"])
	assert.InDelta(t, 1.1, voice["temperature"], 1e-9)

	// A failed patch leaves the agent untouched.
	rec = h.do(t, http.MethodPatch, "/agents/a1", `{"provider":"openai","stm_capacity":-3}`)
	requireKind(t, rec, http.StatusUnprocessableEntity, errors.KindUnprocessableConfig)

	rec = h.do(t, http.MethodGet, "/agents/a1", "")
	cfg := decode(t, rec)["config"].(map[string]any)
	assert.Equal(t, "ollama", cfg["provider"])

	rec = h.do(t, http.MethodPatch, "/agents/ghost", `{"provider":"groq"}`)
	requireKind(t, rec, http.StatusNotFound, errors.KindNotFound)
}

func TestAgents_Delete(t *testing.T) {
	h := newHarness(t, think.Config{})
	h.do(t, http.MethodPost, "/agents", `{"id":"a1"}`)

	rec := h.do(t, http.MethodDelete, "/agents/a1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	requireKind(t, h.do(t, http.MethodGet, "/agents/a1", ""), http.StatusNotFound, errors.KindNotFound)
	requireKind(t, h.do(t, http.MethodDelete, "/agents/a1", ""), http.StatusNotFound, errors.KindNotFound)
	requireKind(t, h.do(t, http.MethodPost, "/agents/a1/think", `{"input":"hi"}`), http.StatusNotFound, errors.KindNotFound)
}

func TestAgents_DeleteClearsAccountBinding(t *testing.T) {
	h := newHarness(t, think.Config{})
	h.do(t, http.MethodPost, "/agents", `{"id":"a1"}`)

	rec := h.do(t, http.MethodPost, "/accounts", `{"domain":"sip.test","username":"u","password":"p","agentId":"a1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "a1", decode(t, rec)["agentId"])

	require.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, "/agents/a1", "").Code)

	rec = h.do(t, http.MethodGet, "/accounts/u@sip.test", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec)["agentId"])

	events := h.events.Since(0)
	require.NotEmpty(t, events)
	assert.Equal(t, bus.AccountUpdated, events[len(events)-1].Type)

	// A re-created agent with the same id is not bound implicitly.
	h.do(t, http.MethodPost, "/agents", `{"id":"a1"}`)
	rec = h.do(t, http.MethodGet, "/accounts/u@sip.test", "")
	assert.Empty(t, decode(t, rec)["agentId"])
}

func TestThink_STM15Scenario(t *testing.T) {
	h := newHarness(t, think.Config{})
	rec := h.do(t, http.MethodPost, "/agents", `{"id":"voice","provider":"mock","stm_capacity":15}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	for i := 1; i <= 16; i++ {
		rec := h.do(t, http.MethodPost, "/agents/voice/think", fmt.Sprintf(`{"input":"input %d"}`, i))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, fmt.Sprintf("echo: input %d", i), decode(t, rec)["response"])
	}

	rec = h.do(t, http.MethodGet, "/agents/voice/memory", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 15, body["capacity"])
	entries := body["entries"].([]any)
	require.Len(t, entries, 15)
	assert.Equal(t, "input 2", entries[0].(map[string]any)["input"])
	assert.Equal(t, "input 16", entries[14].(map[string]any)["input"])

	// The provider saw the retained history before the new input.
	req := h.mock.LastRequest()
	require.NotNil(t, req)
	assert.Equal(t, "input 16", req.Messages[len(req.Messages)-1].Content)
}

func TestThink_Errors(t *testing.T) {
	h := newHarness(t, think.Config{})
	h.do(t, http.MethodPost, "/agents", `{"id":"a1","provider":"mock"}`)
	h.do(t, http.MethodPost, "/agents", `{"id":"dify","provider":"dify"}`)

	requireKind(t, h.do(t, http.MethodPost, "/agents/a1/think", `{"input":""}`), http.StatusBadRequest, errors.KindInvalidInput)
	requireKind(t, h.do(t, http.MethodPost, "/agents/a1/think", `not json`), http.StatusBadRequest, errors.KindInvalidInput)
	requireKind(t, h.do(t, http.MethodPost, "/agents/ghost/think", `{"input":"hi"}`), http.StatusNotFound, errors.KindNotFound)
	requireKind(t, h.do(t, http.MethodPost, "/agents/dify/think", `{"input":"hi"}`), http.StatusBadGateway, errors.KindProviderError)

	h.mock.SetError(fmt.Errorf("upstream exploded"))
	requireKind(t, h.do(t, http.MethodPost, "/agents/a1/think", `{"input":"hi"}`), http.StatusBadGateway, errors.KindProviderError)

	rec := h.do(t, http.MethodGet, "/agents/a1/memory", "")
	assert.Empty(t, decode(t, rec)["entries"])
}

func TestThink_Timeout(t *testing.T) {
	h := newHarness(t, think.Config{Timeout: 30 * time.Millisecond})
	h.mock.ChatFunc = func(ctx context.Context, _ llm.ChatRequest) (*llm.ChatResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	h.do(t, http.MethodPost, "/agents", `{"id":"slow","provider":"mock"}`)

	requireKind(t, h.do(t, http.MethodPost, "/agents/slow/think", `{"input":"hi"}`), http.StatusGatewayTimeout, errors.KindProviderError)
}

func TestThink_BusyWhileInFlight(t *testing.T) {
	h := newHarness(t, think.Config{})
	started := make(chan struct{})
	release := make(chan struct{})
	h.mock.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		close(started)
		<-release
		return &llm.ChatResponse{Content: "done"}, nil
	}
	h.do(t, http.MethodPost, "/agents", `{"id":"a1","provider":"mock"}`)

	first := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		first <- h.do(t, http.MethodPost, "/agents/a1/think", `{"input":"one"}`)
	}()
	<-started

	requireKind(t, h.do(t, http.MethodPost, "/agents/a1/think", `{"input":"two"}`), http.StatusTooManyRequests, errors.KindBusy)

	close(release)
	rec := <-first
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "done", decode(t, rec)["response"])
}

func TestMemorySearch(t *testing.T) {
	h := newHarness(t, think.Config{})
	h.do(t, http.MethodPost, "/agents", `{"id":"a1","provider":"mock"}`)
	h.do(t, http.MethodPost, "/agents/a1/think", `{"input":"book a dentist appointment"}`)
	h.do(t, http.MethodPost, "/agents/a1/think", `{"input":"what is the weather"}`)

	rec := h.do(t, http.MethodGet, "/agents/a1/memory/search?q=dentist", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	hits := decode(t, rec)["hits"].([]any)
	require.Len(t, hits, 1)
	assert.Equal(t, "book a dentist appointment", hits[0].(map[string]any)["input"])

	requireKind(t, h.do(t, http.MethodGet, "/agents/a1/memory/search", ""), http.StatusBadRequest, errors.KindInvalidInput)
	requireKind(t, h.do(t, http.MethodGet, "/agents/a1/memory/search?q=x&limit=0", ""), http.StatusBadRequest, errors.KindInvalidInput)
	requireKind(t, h.do(t, http.MethodGet, "/agents/ghost/memory/search?q=x", ""), http.StatusNotFound, errors.KindNotFound)
}

func TestPanicRecovery(t *testing.T) {
	h := newHarness(t, think.Config{})
	h.srv.router.GET("/boom", func(*gin.Context) { panic("secret stack detail") })

	rec := h.do(t, http.MethodGet, "/boom", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "internal error", body["error"])
	assert.Equal(t, "Internal", body["kind"])
	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, think.Config{})
	h.do(t, http.MethodGet, "/agents/ghost", "")

	rec := h.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `callkit_http_requests_total{method="GET",route="/agents/:id",status="404"} 1`)
}

func TestEventStream_ReplayAndClose(t *testing.T) {
	h := newHarness(t, think.Config{})
	h.do(t, http.MethodPost, "/accounts", `{"domain":"sip.test","username":"alice"}`)
	h.do(t, http.MethodPost, "/agents", `{"id":"a1"}`)

	ts := httptest.NewServer(h.srv.Handler())
	defer ts.Close()

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/events?lastEventId=1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	var frame bytes.Buffer
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if line == "\n" && frame.Len() > 0 {
			break
		}
		if line != "\n" {
			frame.WriteString(line)
		}
	}
	assert.Contains(t, frame.String(), "id: 2\n")
	assert.Contains(t, frame.String(), `"type":"agent_created"`)

	h.srv.CloseStreams()
	_, err = io.ReadAll(resp.Body)
	assert.NoError(t, err)
}

func TestEventStream_BadLastEventID(t *testing.T) {
	h := newHarness(t, think.Config{})
	requireKind(t, h.do(t, http.MethodGet, "/events?lastEventId=abc", ""), http.StatusBadRequest, errors.KindInvalidInput)
}
