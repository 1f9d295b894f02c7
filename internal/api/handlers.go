package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"vrpga/internal/store"
	"vrpga/internal/vrp"
)

// maxSolveBody bounds POST /v1/solve; an instance carries a full matrix.
const maxSolveBody = 32 << 20

// SolveHandler handles POST /v1/solve. The run executes in the background and
// the response is 202 with its id, unless ?wait=true asks to block until the
// run finishes.
func (s *Server) SolveHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxSolveBody)
	var req SolveRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateSolveRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid solve request", err.Error(), r.URL.Path)
		return
	}
	inst, err := vrp.Parse(strings.NewReader(req.Instance))
	if err != nil {
		writeError(w, r, "Invalid instance", err)
		return
	}
	inst.Name = req.Name
	cfg, err := solverConfig(s.Cfg.Solver, req.Config, s.Cfg.Server.MaxGenerations)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid solver config", err.Error(), r.URL.Path)
		return
	}
	seed := time.Now().UnixNano()
	if req.Seed != nil {
		seed = *req.Seed
	}

	run, err := s.Store.CreateRun(r.Context(), store.NewRun{
		InstanceName:   req.Name,
		Dimension:      inst.Dimension,
		Vehicles:       inst.Vehicles,
		Seed:           seed,
		Config:         cfg,
		CallbackURL:    req.CallbackURL,
		CallbackSecret: req.CallbackSecret,
	})
	if err != nil {
		writeError(w, r, "Create run failed", err)
		return
	}
	job := Job{Run: run, Instance: inst, Config: cfg, Seed: seed}
	w.Header().Set("Location", "/v1/runs/"+run.ID)

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		final, err := s.Runner.Execute(r.Context(), job)
		if err != nil {
			writeError(w, r, "Run failed", err)
			return
		}
		writeJSON(w, http.StatusOK, final)
		return
	}
	s.Runner.Submit(job)
	writeJSON(w, http.StatusAccepted, map[string]any{"runId": run.ID, "status": run.Status})
}

// RunsIndexHandler handles GET /v1/runs?status=&cursor=&limit=
func (s *Server) RunsIndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/runs" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	status := store.RunStatus(q.Get("status"))
	if status != "" && !status.Valid() {
		writeProblem(w, http.StatusBadRequest, "Invalid status", string(status), r.URL.Path)
		return
	}
	limit := store.DefaultLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", v, r.URL.Path)
			return
		}
		limit = n
	}
	items, next, err := s.Store.ListRuns(r.Context(), status, q.Get("cursor"), limit)
	if err != nil {
		writeError(w, r, "List runs failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// RunByIDHandler handles GET /v1/runs/{id} and its sub-resources:
// /events/stream (SSE), /ws, /cancel and /deliveries.
func (s *Server) RunByIDHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	rest := strings.TrimPrefix(path, "/v1/runs/")
	if rest == path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", path)
		return
	}
	parts := strings.Split(strings.TrimSuffix(rest, "/"), "/")
	id := parts[0]
	sub := strings.Join(parts[1:], "/")

	switch sub {
	case "":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		run, err := s.Store.GetRun(r.Context(), id)
		if err != nil {
			writeError(w, r, "Get run failed", err)
			return
		}
		writeJSON(w, http.StatusOK, run)
	case "events/stream":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.streamRunEvents(w, r, id)
	case "ws":
		s.RunWSHandler(w, r, id)
	case "cancel":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.cancelRun(w, r, id)
	case "deliveries":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if _, err := s.Store.GetRun(r.Context(), id); err != nil {
			writeError(w, r, "Get run failed", err)
			return
		}
		items, err := s.Store.ListWebhookDeliveries(r.Context(), id)
		if err != nil {
			writeError(w, r, "List deliveries failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", path)
	}
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request, id string) {
	run, err := s.Store.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, r, "Get run failed", err)
		return
	}
	if run.Status.Terminal() {
		writeProblem(w, http.StatusConflict, "Run already finished", string(run.Status), r.URL.Path)
		return
	}
	if !s.Runner.Cancel(id) {
		// queued or running on another instance
		writeProblem(w, http.StatusConflict, "Run not cancellable here", "run is not executing on this instance", r.URL.Path)
		return
	}
	s.Log.Info("run cancel requested", "run", id)
	writeJSON(w, http.StatusAccepted, map[string]any{"runId": id, "status": "cancelling"})
}

// streamRunEvents sends a snapshot of the run followed by its live events,
// and ends after the terminal event.
func (s *Server) streamRunEvents(w http.ResponseWriter, r *http.Request, id string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	// subscribe before reading the snapshot so no event falls in between
	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)
	run, err := s.Store.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, r, "Get run failed", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	send := func(evt SSEEvent) {
		b, _ := json.Marshal(evt.Data)
		fmt.Fprintf(w, "event: %s\n", evt.Type)
		fmt.Fprintf(w, "data: %s\n\n", b)
		flusher.Flush()
	}
	send(snapshotEvent(run))
	if run.Status.Terminal() {
		return
	}

	notify := r.Context().Done()
	for {
		select {
		case <-notify:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			send(evt)
			if terminalEvent(evt.Type) {
				return
			}
		case <-time.After(15 * time.Second):
			send(SSEEvent{Type: "heartbeat", Data: map[string]any{"runId": id, "ts": time.Now().UTC().Format(time.RFC3339)}})
		}
	}
}

func snapshotEvent(run store.Run) SSEEvent {
	return SSEEvent{Type: "run.snapshot", Data: map[string]any{"run": run.Summary()}}
}

// SolverConfigHandler returns the solver defaults applied to requests.
func (s *Server) SolverConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/solver/config" || r.Method != http.MethodGet {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"defaults":       s.Cfg.Solver,
		"maxGenerations": s.Cfg.Server.MaxGenerations,
	})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	type pinger interface{ Ping(ctx context.Context) error }
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	for name, dep := range map[string]any{"store": s.Store, "broker": s.Broker} {
		if p, ok := dep.(pinger); ok {
			if err := p.Ping(ctx); err != nil {
				writeProblem(w, http.StatusServiceUnavailable, "Not Ready", name+": "+err.Error(), r.URL.Path)
				return
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
