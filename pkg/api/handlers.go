package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"dev/bravebird/ipview-verify/pkg/artifacts"
	"dev/bravebird/ipview-verify/pkg/config"
	"dev/bravebird/ipview-verify/pkg/models"
)

const (
	defaultListLimit    = 50
	defaultPollInterval = 500 * time.Millisecond
	writeWait           = 10 * time.Second
)

// Handlers contains API handlers
type Handlers struct {
	base     config.Config
	runs     RunStore
	executor Executor
	files    artifacts.Fetcher
	hub      *Hub
	limiter  *rateLimiter
	logger   *slog.Logger
	upgrader websocket.Upgrader

	// PollInterval is how often a stream re-reads a run whose events it
	// cannot see, such as runs executed by a Temporal worker.
	PollInterval time.Duration
}

// NewHandlers creates new API handlers. base supplies every setting a run
// request does not override.
func NewHandlers(base config.Config, runs RunStore, executor Executor, files artifacts.Fetcher, hub *Hub, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		base:     base,
		runs:     runs,
		executor: executor,
		files:    files,
		hub:      hub,
		limiter:  newRateLimiter(base.API.RunsPerMinute, base.API.Burst),
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		PollInterval: defaultPollInterval,
	}
}

// Router builds the routed, CORS-enabled handler
func (h *Handlers) Router() http.Handler {
	router := mux.NewRouter()

	// Health check
	router.HandleFunc("/health", h.Health).Methods("GET")

	// API routes
	apiRouter := router.PathPrefix("/api").Subrouter()

	// Runs
	apiRouter.Handle("/runs", h.limiter.middleware(http.HandlerFunc(h.CreateRun))).Methods("POST")
	apiRouter.HandleFunc("/runs", h.ListRuns).Methods("GET")
	apiRouter.HandleFunc("/runs/{id}", h.GetRun).Methods("GET")

	// WebSocket for real-time updates
	apiRouter.HandleFunc("/runs/{id}/stream", h.StreamRun).Methods("GET")

	// Screenshots and result.json
	apiRouter.HandleFunc("/artifacts/{run_id}/{filename}", h.ServeArtifact).Methods("GET")

	c := cors.New(cors.Options{
		// Reflect the caller's origin; "*" is refused on credentialed requests
		AllowOriginFunc:  func(origin string) bool { return true },
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(router)
}

// Health reports liveness
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ==================== Run Handlers ====================

// CreateRun starts a verification run
func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	cfg := applyRequest(h.base, req)
	if err := cfg.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	runID := uuid.New().String()
	err := h.executor.Start(ctx, runID, cfg)
	switch {
	case errors.Is(err, ErrBusy):
		http.Error(w, "Too many runs in flight", http.StatusTooManyRequests)
		return
	case errors.Is(err, ErrShuttingDown):
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	case err != nil:
		h.logger.Error("failed to start run", "run_id", runID, "error", err)
		http.Error(w, "Failed to start run: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h.logger.Info("run accepted", "run_id", runID, "target_url", cfg.TargetURL, "driver", cfg.Browser.Driver)
	respondJSON(w, http.StatusAccepted, models.RunResponse{RunID: runID, Status: models.StatusPending})
}

// ListRuns lists recent runs
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := h.runs.ListRuns(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, runs)
}

// GetRun retrieves a run
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	run, err := h.runs.GetRun(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	respondJSON(w, http.StatusOK, run)
}

// StreamRun streams run events via WebSocket until the result is known
func (h *Handlers) StreamRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := mux.Vars(r)["id"]

	// Subscribe before reading the run so a result published in between is not missed
	events, unsubscribe := h.hub.Subscribe(runID)
	defer unsubscribe()

	run, err := h.runs.GetRun(ctx, runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if run.Status.Terminal() {
		h.send(conn, resultEvent(run))
		return
	}

	// Detect the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			return
		case ev := <-events:
			if err := h.send(conn, ev); err != nil {
				return
			}
			if ev.Type == models.EventResult {
				return
			}
		case <-ticker.C:
			latest := h.progress(r, runID)
			if latest != nil && latest.Status.Terminal() {
				h.send(conn, resultEvent(latest))
				return
			}
		}
	}
}

func (h *Handlers) progress(r *http.Request, runID string) *models.RunResult {
	if pr, ok := h.executor.(ProgressReporter); ok {
		if run, err := pr.Progress(r.Context(), runID); err == nil {
			return run
		}
	}
	run, err := h.runs.GetRun(r.Context(), runID)
	if err != nil {
		h.logger.Warn("failed to poll run", "run_id", runID, "error", err)
		return nil
	}
	return run
}

func (h *Handlers) send(conn *websocket.Conn, ev models.RunEvent) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(models.WSMessage{Type: ev.Type, Payload: ev})
}

func resultEvent(run *models.RunResult) models.RunEvent {
	return models.RunEvent{
		RunID:   run.ID,
		Type:    models.EventResult,
		Status:  run.Status,
		Message: run.Message,
		Result:  run,
		Time:    time.Now(),
	}
}

// ==================== Artifact Handlers ====================

// ServeArtifact serves a screenshot or result.json of a run
func (h *Handlers) ServeArtifact(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	runID, filename := vars["run_id"], vars["filename"]

	data, err := h.files.Fetch(r.Context(), runID, filename)
	switch {
	case errors.Is(err, artifacts.ErrInvalidName):
		http.Error(w, "Invalid artifact name", http.StatusBadRequest)
		return
	case errors.Is(err, artifacts.ErrNotFound):
		http.Error(w, "Artifact not found", http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	contentType := http.DetectContentType(data)
	switch filepath.Ext(filename) {
	case ".png":
		contentType = "image/png"
	case ".json":
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(data)
}

// ==================== Helpers ====================

// applyRequest overlays the non-zero fields of req on base
func applyRequest(base config.Config, req models.RunRequest) config.Config {
	cfg := base
	if req.TargetURL != "" {
		cfg.TargetURL = req.TargetURL
	}
	if req.TimeoutMs != 0 {
		cfg.TimeoutMs = req.TimeoutMs
	}
	if req.TransitionSettleMs != 0 {
		cfg.TransitionSettleMs = req.TransitionSettleMs
	}
	if req.Driver != "" {
		cfg.Browser.Driver = req.Driver
	}
	if req.RoundTrip != nil {
		cfg.Toggle.RoundTrip = *req.RoundTrip
	}
	return cfg
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
