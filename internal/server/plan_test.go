package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/tably/config"
	"github.com/mohammad-safakhou/tably/internal/agent/core"
	"github.com/mohammad-safakhou/tably/internal/agent/telemetry"
	"github.com/mohammad-safakhou/tably/internal/ranking"
	"github.com/mohammad-safakhou/tably/internal/session"
	"github.com/mohammad-safakhou/tably/internal/tools"
	"github.com/openai/openai-go"
)

// scriptedProvider replays canned model turns.
type scriptedProvider struct {
	rounds []core.ModelTurn
	calls  int
}

func (p *scriptedProvider) StreamTurn(_ context.Context, _ string, _ []core.Turn, _ []openai.ChatCompletionToolParam, onDelta func(string) error) (core.ModelTurn, error) {
	mt := p.rounds[p.calls]
	p.calls++
	for _, chunk := range strings.SplitAfter(mt.Content, " ") {
		if chunk == "" {
			continue
		}
		if err := onDelta(chunk); err != nil {
			return mt, err
		}
	}
	return mt, nil
}

func (p *scriptedProvider) CalculateCost(string, int64, int64) float64 { return 0 }

// gatedProvider holds the first model round open until released, so tests
// can overlap a second request with an in-flight turn.
type gatedProvider struct {
	scriptedProvider
	started chan struct{}
	release chan struct{}
	gated   bool
}

func (p *gatedProvider) StreamTurn(ctx context.Context, model string, turns []core.Turn, defs []openai.ChatCompletionToolParam, onDelta func(string) error) (core.ModelTurn, error) {
	if !p.gated {
		p.gated = true
		close(p.started)
		select {
		case <-p.release:
		case <-ctx.Done():
			return core.ModelTurn{}, ctx.Err()
		}
	}
	return p.scriptedProvider.StreamTurn(ctx, model, turns, defs, onDelta)
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LLM.Routing.Planning = "test-model"
	cfg.Tools.MaxToolCalls = 10
	cfg.Tools.Timeout = 5 * time.Second
	cfg.Ranking.DefaultProfile = "safe"
	cfg.Ranking = cfg.Ranking.Normalize()
	return cfg
}

func newTestServer(t *testing.T, rounds []core.ModelTurn) *Server {
	t.Helper()
	return newTestServerWithProvider(t, &scriptedProvider{rounds: rounds})
}

func newTestServerWithProvider(t *testing.T, provider core.LLMProvider) *Server {
	t.Helper()
	cfg := testConfig()
	roster := tools.NewRoster([]tools.Friend{
		{Name: "Alice", Location: tools.Location{Lat: 37.77, Lng: -122.42}},
		{Name: "Bob", Location: tools.Location{Lat: 37.80, Lng: -122.27}},
	})
	registry, err := tools.NewRegistry(tools.Deps{
		Roster:         roster,
		Places:         tools.NewPlacesClient("", time.Second, time.Minute),
		Distance:       tools.NewDistanceClient("", time.Second),
		Yelp:           tools.NewYelpClient("", time.Second, time.Minute),
		Profiles:       map[string]ranking.Weights{"safe": {Drive: 0.35, Rating: 0.30, Fairness: 0.20, Price: 0.15}},
		DefaultProfile: "safe",
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	orch, err := core.NewOrchestrator(cfg, provider, nil, telemetry.NewTelemetry(cfg.Telemetry))
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	s := &Server{
		cfg:      cfg,
		orch:     orch,
		registry: registry,
		roster:   roster,
		store:    session.NewInMemoryStore(time.Hour),
		prompt:   systemPrompt(roster),
		logger:   log.New(log.Writer(), "[HTTP] ", log.LstdFlags),
	}
	s.echo = s.buildEcho()
	return s
}

func postPlan(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/plan", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func sseFrames(t *testing.T, body string) []core.Step {
	t.Helper()
	var steps []core.Step
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") || line == "data: [DONE]" {
			continue
		}
		var step core.Step
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &step); err != nil {
			t.Fatalf("bad frame %q: %v", line, err)
		}
		steps = append(steps, step)
	}
	return steps
}

func TestPlanStreamsSessionFirstAndDoneLast(t *testing.T) {
	s := newTestServer(t, []core.ModelTurn{
		{Content: "Let's try Thai Palace.", FinishReason: "stop"},
	})
	rec := postPlan(t, s, `{"message": "plan dinner with Alice"}`)

	if got := rec.Header().Get(echo.HeaderContentType); got != "text/event-stream" {
		t.Errorf("content type = %q", got)
	}
	body := rec.Body.String()
	if !strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]") {
		t.Errorf("stream should end with [DONE]:\n%s", body)
	}
	steps := sseFrames(t, body)
	if len(steps) == 0 || steps[0].Type != core.StepSession {
		t.Fatalf("first frame = %+v", steps)
	}
	last := steps[len(steps)-1]
	if last.Type != core.StepFinalDone {
		t.Errorf("last step = %+v", last)
	}
	for _, st := range steps {
		if st.Type == core.StepError {
			t.Errorf("unexpected error step: %+v", st)
		}
	}
}

func TestPlanReusesSessionAcrossRequests(t *testing.T) {
	s := newTestServer(t, []core.ModelTurn{
		{Content: "First answer.", FinishReason: "stop"},
		{Content: "Second answer.", FinishReason: "stop"},
	})
	first := sseFrames(t, postPlan(t, s, `{"message": "hi"}`).Body.String())
	id := first[0].Content.(string)
	if id == "" {
		t.Fatal("empty session id")
	}

	second := sseFrames(t, postPlan(t, s, `{"message": "and?", "session_id": "`+id+`"}`).Body.String())
	if second[0].Content.(string) != id {
		t.Errorf("session id changed: %v -> %v", id, second[0].Content)
	}

	sess, err := s.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	// system + (user, assistant) x 2
	if len(sess.Turns) != 5 {
		t.Errorf("history length = %d: %+v", len(sess.Turns), sess.Turns)
	}
	if sess.Turns[0].Role != core.RoleSystem {
		t.Errorf("first turn role = %s", sess.Turns[0].Role)
	}
}

func TestPlanExecutesToolRound(t *testing.T) {
	s := newTestServer(t, []core.ModelTurn{
		{
			Content: "Checking the roster.",
			ToolCalls: []core.ToolInvocation{
				{ID: "c1", Name: "get_friends_info", Arguments: `{"friend_names": ["Alice"]}`},
			},
		},
		{Content: "Alice is in the Mission.", FinishReason: "stop"},
	})
	steps := sseFrames(t, postPlan(t, s, `{"message": "where is Alice?"}`).Body.String())

	var tags []core.StepType
	for _, st := range steps {
		if st.Type == core.StepTextDelta {
			continue
		}
		tags = append(tags, st.Type)
	}
	want := []core.StepType{core.StepSession, core.StepThinkingDone, core.StepToolCall, core.StepToolResult, core.StepFinalDone}
	if len(tags) != len(want) {
		t.Fatalf("steps = %v, want %v", tags, want)
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Fatalf("steps = %v, want %v", tags, want)
		}
	}
}

func TestPlanPersistsToolStateAcrossRequests(t *testing.T) {
	s := newTestServer(t, []core.ModelTurn{
		{
			ToolCalls: []core.ToolInvocation{
				{ID: "c1", Name: "get_friends_info", Arguments: `{"friend_names": ["Alice", "Bob"]}`},
			},
		},
		{Content: "Got everyone.", FinishReason: "stop"},
	})
	steps := sseFrames(t, postPlan(t, s, `{"message": "gather the crew"}`).Body.String())
	id := steps[0].Content.(string)

	sess, err := s.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(sess.State.Friends) != 2 {
		t.Errorf("state friends = %+v", sess.State.Friends)
	}
}

func TestPlanBusySessionLeavesHistoryUntouched(t *testing.T) {
	p := &gatedProvider{
		scriptedProvider: scriptedProvider{rounds: []core.ModelTurn{
			{Content: "First answer.", FinishReason: "stop"},
		}},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	s := newTestServerWithProvider(t, p)

	sess, err := s.store.Ensure(context.Background(), "")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	firstDone := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		firstDone <- postPlan(t, s, `{"message": "plan dinner", "session_id": "`+sess.ID+`"}`)
	}()
	<-p.started

	rec := postPlan(t, s, `{"message": "another idea while you think", "session_id": "`+sess.ID+`"}`)
	steps := sseFrames(t, rec.Body.String())
	if len(steps) != 2 || steps[0].Type != core.StepSession || steps[1].Type != core.StepError {
		t.Fatalf("rejected request frames = %+v", steps)
	}
	if msg, _ := steps[1].Content.(string); !strings.Contains(msg, "already in progress") {
		t.Errorf("error frame content = %q", msg)
	}
	if !strings.HasSuffix(strings.TrimSpace(rec.Body.String()), "data: [DONE]") {
		t.Errorf("rejected stream should still end with [DONE]:\n%s", rec.Body.String())
	}

	// Only the in-flight turn's writes may be present.
	mid, err := s.store.Get(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	for _, turn := range mid.Turns {
		if strings.Contains(turn.Content, "another idea") {
			t.Fatalf("rejected message leaked into history: %+v", mid.Turns)
		}
	}

	close(p.release)
	first := sseFrames(t, (<-firstDone).Body.String())
	if last := first[len(first)-1]; last.Type != core.StepFinalDone {
		t.Fatalf("first request should finish normally, steps = %+v", first)
	}

	after, err := s.store.Get(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	// system + first user + assistant, nothing from the rejected message
	if len(after.Turns) != 3 {
		t.Fatalf("history length = %d: %+v", len(after.Turns), after.Turns)
	}
	if after.Turns[1].Role != core.RoleUser || !strings.Contains(after.Turns[1].Content, "plan dinner") {
		t.Errorf("user turn = %+v", after.Turns[1])
	}
}

func TestPlanRejectsEmptyMessage(t *testing.T) {
	s := newTestServer(t, nil)
	rec := postPlan(t, s, `{"message": "  "}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestPlanRequiresFlusher(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/plan", strings.NewReader(`{"message": "hi"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	w := &plainWriter{header: http.Header{}}
	s.echo.ServeHTTP(w, req)
	if w.status != http.StatusServiceUnavailable {
		t.Errorf("status = %d", w.status)
	}
}

// plainWriter is an http.ResponseWriter with no Flusher support.
type plainWriter struct {
	header http.Header
	status int
	body   []byte
}

func (w *plainWriter) Header() http.Header { return w.header }
func (w *plainWriter) Write(b []byte) (int, error) {
	w.body = append(w.body, b...)
	return len(b), nil
}
func (w *plainWriter) WriteHeader(code int) { w.status = code }
