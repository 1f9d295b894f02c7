package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrpga/internal/config"
	"vrpga/internal/logging"
	"vrpga/internal/opt"
	"vrpga/internal/store"
	"vrpga/internal/webhooks"
)

const tinyInstance = `NAME : tiny
DIMENSION : 5
VEHICLES : 2
EDGE_WEIGHT_SECTION
0 2 9 10 7
2 0 6 4 3
9 6 0 8 5
10 4 8 0 6
7 3 5 6 0
DEPOT_SECTION
1
-1
EOF`

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Solver.Population = 10
	cfg.Solver.Generations = 5
	cfg.Server.ProgressEvery = 1
	return cfg
}

func newTestServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	s := newServer(cfg, logging.Discard(), store.NewMemory(), NewBroker())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

// finishedRun stores a completed run without going through the solver.
func finishedRun(t *testing.T, s store.Store, callbackURL string) store.Run {
	t.Helper()
	ctx := context.Background()
	run, err := s.CreateRun(ctx, store.NewRun{Dimension: 3, Vehicles: 1, Config: opt.DefaultConfig(), CallbackURL: callbackURL})
	require.NoError(t, err)
	require.NoError(t, s.StartRun(ctx, run.ID))
	require.NoError(t, s.CompleteRun(ctx, run.ID, opt.Result{Best: opt.Solution{{2, 3}}, BestCost: 8, History: []float64{9, 8}}))
	run, err = s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	return run
}

func TestHealthReady(t *testing.T) {
	h := newTestServer(t, testConfig()).Routes()
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", nil).Code)
	rr := do(t, h, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rr.Body.String())
}

func TestSolveWaitReturnsCompletedRun(t *testing.T) {
	s := newTestServer(t, testConfig())
	rr := do(t, s.Routes(), http.MethodPost, "/v1/solve?wait=true", map[string]any{
		"instance": tinyInstance,
		"name":     "tiny",
		"seed":     7,
		"config":   map[string]any{"population": 12},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	run := decode[store.Run](t, rr)
	assert.Equal(t, "/v1/runs/"+run.ID, rr.Header().Get("Location"))
	assert.Equal(t, store.StatusCompleted, run.Status)
	assert.Equal(t, "tiny", run.InstanceName)
	assert.Equal(t, int64(7), run.Seed)
	assert.Equal(t, 12, run.Config.Population)
	assert.Equal(t, 5, run.Config.Generations)
	require.NotNil(t, run.BestCost)
	assert.Len(t, run.History, 6)
	assert.Equal(t, *run.BestCost, run.History[5])
	assert.Equal(t, 4, run.Best.Cities())
	require.NotNil(t, run.Metrics)
	assert.Equal(t, 5, run.Metrics.Generations)
}

func TestSolveSameSeedSameResult(t *testing.T) {
	h := newTestServer(t, testConfig()).Routes()
	body := map[string]any{"instance": tinyInstance, "seed": 42}
	a := decode[store.Run](t, do(t, h, http.MethodPost, "/v1/solve?wait=true", body))
	b := decode[store.Run](t, do(t, h, http.MethodPost, "/v1/solve?wait=true", body))
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, a.Best, b.Best)
	assert.Equal(t, a.History, b.History)
}

func TestSolveAsyncThenGet(t *testing.T) {
	s := newTestServer(t, testConfig())
	h := s.Routes()
	rr := do(t, h, http.MethodPost, "/v1/solve", map[string]any{"instance": tinyInstance})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	resp := decode[map[string]any](t, rr)
	id, _ := resp["runId"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "/v1/runs/"+id, rr.Header().Get("Location"))

	require.Eventually(t, func() bool {
		run := decode[store.Run](t, do(t, h, http.MethodGet, "/v1/runs/"+id, nil))
		return run.Status == store.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSolveRejectsBadInput(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxGenerations = 100
	h := newTestServer(t, cfg).Routes()

	cases := []struct {
		name  string
		body  any
		title string
	}{
		{"malformed json", `{"instance":`, "Invalid JSON"},
		{"unknown field", map[string]any{"instance": tinyInstance, "extra": 1}, "Invalid JSON"},
		{"empty instance", map[string]any{"instance": "  "}, "Invalid solve request"},
		{"relative callback", map[string]any{"instance": tinyInstance, "callbackUrl": "/hook"}, "Invalid solve request"},
		{"secret without callback", map[string]any{"instance": tinyInstance, "callbackSecret": "s"}, "Invalid solve request"},
		{"matrix too short", map[string]any{"instance": "DIMENSION : 3\nVEHICLES : 1\nEDGE_WEIGHT_SECTION\n0 1 2\nDEPOT_SECTION\n1\nEOF"}, "Invalid instance"},
		{"zero vehicles", map[string]any{"instance": strings.Replace(tinyInstance, "VEHICLES : 2", "VEHICLES : 0", 1)}, "Invalid parameter"},
		{"tournament above population", map[string]any{"instance": tinyInstance, "config": map[string]any{"tournamentSize": 50}}, "Invalid solver config"},
		{"unknown config field", map[string]any{"instance": tinyInstance, "config": map[string]any{"elitism": true}}, "Invalid solver config"},
		{"too many generations", map[string]any{"instance": tinyInstance, "config": map[string]any{"generations": 101}}, "Invalid solver config"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, "/v1/solve", tc.body)
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
			p := decode[Problem](t, rr)
			assert.Equal(t, tc.title, p.Title)
			assert.Equal(t, "/v1/solve", p.Instance)
		})
	}

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/v1/solve", nil).Code)
}

func TestRunsIndex(t *testing.T) {
	s := newTestServer(t, testConfig())
	h := s.Routes()
	for i := 0; i < 3; i++ {
		finishedRun(t, s.Store, "")
	}
	_, err := s.Store.CreateRun(context.Background(), store.NewRun{Dimension: 3, Vehicles: 1})
	require.NoError(t, err)

	type page struct {
		Items      []store.Run `json:"items"`
		NextCursor string      `json:"nextCursor"`
	}
	first := decode[page](t, do(t, h, http.MethodGet, "/v1/runs?status=completed&limit=2", nil))
	require.Len(t, first.Items, 2)
	require.NotEmpty(t, first.NextCursor)
	assert.Nil(t, first.Items[0].History)

	second := decode[page](t, do(t, h, http.MethodGet, "/v1/runs?status=completed&limit=2&cursor="+first.NextCursor, nil))
	require.Len(t, second.Items, 1)
	assert.Empty(t, second.NextCursor)

	queued := decode[page](t, do(t, h, http.MethodGet, "/v1/runs?status=queued", nil))
	assert.Len(t, queued.Items, 1)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/v1/runs?status=paused", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/v1/runs?limit=x", nil).Code)
}

func TestRunByIDNotFound(t *testing.T) {
	h := newTestServer(t, testConfig()).Routes()
	for _, path := range []string{"/v1/runs/nope", "/v1/runs/nope/deliveries", "/v1/runs/nope/events/stream"} {
		rr := do(t, h, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rr.Code, path)
		assert.Equal(t, "Run not found", decode[Problem](t, rr).Title)
	}
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/runs/", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/runs/x/unknown", nil).Code)
}

func TestCancelRun(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxGenerations = 0
	s := newTestServer(t, cfg)
	h := s.Routes()

	done := finishedRun(t, s.Store, "")
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/v1/runs/"+done.ID+"/cancel", nil).Code)

	rr := do(t, h, http.MethodPost, "/v1/solve", map[string]any{
		"instance": tinyInstance,
		"config":   map[string]any{"generations": 1_000_000},
	})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	id := decode[map[string]any](t, rr)["runId"].(string)

	rr = do(t, h, http.MethodPost, "/v1/runs/"+id+"/cancel", nil)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	var run store.Run
	require.Eventually(t, func() bool {
		run = decode[store.Run](t, do(t, h, http.MethodGet, "/v1/runs/"+id, nil))
		return run.Status == store.StatusFailed
	}, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, run.Error, "canceled")
	assert.NotNil(t, run.FinishedAt)
}

func TestDeliveriesEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig())
	run := finishedRun(t, s.Store, "http://example.test/hook")
	_, err := webhooks.NewPublisher(s.Store, "secret").RunFinished(context.Background(), run)
	require.NoError(t, err)

	rr := do(t, s.Routes(), http.MethodGet, "/v1/runs/"+run.ID+"/deliveries", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "secret")
	items := decode[struct {
		Items []store.WebhookDelivery `json:"items"`
	}](t, rr).Items
	require.Len(t, items, 1)
	assert.Equal(t, webhooks.EventRunCompleted, items[0].EventType)
	assert.Equal(t, store.DeliveryPending, items[0].Status)
}

func TestSSEFinishedRunSendsSnapshotOnly(t *testing.T) {
	s := newTestServer(t, testConfig())
	run := finishedRun(t, s.Store, "")
	rr := do(t, s.Routes(), http.MethodGet, "/v1/runs/"+run.ID+"/events/stream", nil)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
	body := rr.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: run.snapshot\ndata: "), body)
	assert.Contains(t, body, `"status":"completed"`)
	assert.Equal(t, 1, strings.Count(body, "event: "))
}

func readSSE(t *testing.T, sc *bufio.Scanner) (string, string) {
	t.Helper()
	var typ, data string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			typ = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && typ != "":
			return typ, data
		}
	}
	return typ, data
}

func TestSSEStreamsUntilTerminalEvent(t *testing.T) {
	s := newTestServer(t, testConfig())
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()
	run, err := s.Store.CreateRun(context.Background(), store.NewRun{Dimension: 3, Vehicles: 1})
	require.NoError(t, err)

	resp, err := srv.Client().Get(srv.URL + "/v1/runs/" + run.ID + "/events/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	sc := bufio.NewScanner(resp.Body)

	typ, data := readSSE(t, sc)
	require.Equal(t, "run.snapshot", typ)
	assert.Contains(t, data, `"status":"queued"`)

	// the handler subscribed before writing the snapshot
	s.Broker.Publish(run.ID, SSEEvent{Type: EventGenerationCompleted, Data: map[string]any{"generation": 1, "bestCost": 20}})
	s.Broker.Publish(run.ID, SSEEvent{Type: EventRunCompleted, Data: map[string]any{"bestCost": 20}})

	typ, data = readSSE(t, sc)
	assert.Equal(t, EventGenerationCompleted, typ)
	assert.JSONEq(t, `{"generation":1,"bestCost":20}`, data)
	typ, _ = readSSE(t, sc)
	assert.Equal(t, EventRunCompleted, typ)
	assert.False(t, sc.Scan(), "stream should end after the terminal event")
}

func TestWSStreamsRunEvents(t *testing.T) {
	s := newTestServer(t, testConfig())
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()
	run, err := s.Store.CreateRun(context.Background(), store.NewRun{Dimension: 3, Vehicles: 1})
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/runs/" + run.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	readEvent := func() (string, SSEEvent) {
		var msg wsMessage
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		require.NoError(t, conn.ReadJSON(&msg))
		var evt SSEEvent
		if len(msg.Payload) > 0 {
			require.NoError(t, json.Unmarshal(msg.Payload, &evt))
		}
		return msg.Type, evt
	}

	typ, evt := readEvent()
	require.Equal(t, "next", typ)
	assert.Equal(t, "run.snapshot", evt.Type)

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "ping"}))
	typ, _ = readEvent()
	assert.Equal(t, "pong", typ)

	s.Broker.Publish(run.ID, SSEEvent{Type: EventRunFailed, Data: map[string]any{"error": "boom"}})
	typ, evt = readEvent()
	assert.Equal(t, "next", typ)
	assert.Equal(t, EventRunFailed, evt.Type)
	assert.Equal(t, "boom", evt.Data["error"])
	typ, _ = readEvent()
	assert.Equal(t, "complete", typ)
}

func TestWSUnknownRun(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t, testConfig()).Routes())
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/runs/missing/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSolverConfigHandler(t *testing.T) {
	h := newTestServer(t, testConfig()).Routes()
	rr := do(t, h, http.MethodGet, "/v1/solver/config", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	got := decode[struct {
		Defaults       opt.Config `json:"defaults"`
		MaxGenerations int        `json:"maxGenerations"`
	}](t, rr)
	assert.Equal(t, 10, got.Defaults.Population)
	assert.Equal(t, 5000, got.MaxGenerations)
}

func TestDebugJSONHidesSecrets(t *testing.T) {
	cfg := testConfig()
	cfg.Webhooks.Secret = "hunter2"
	cfg.Database.URL = "postgres://user:pw@db/vrp"
	rr := do(t, newTestServer(t, cfg).Routes(), http.MethodGet, "/debug", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "hunter2")
	assert.NotContains(t, rr.Body.String(), "pw@db")
	assert.Contains(t, rr.Body.String(), `"hasDatabaseUrl":true`)
}
