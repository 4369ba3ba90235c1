package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"cinegrid/internal/api"
	"cinegrid/internal/cine"
	"cinegrid/internal/config"
	"cinegrid/internal/logging"
	"cinegrid/internal/slot"
)

const maxRequestBody = 4 << 20

// APIServer exposes the daemon over HTTP.
type APIServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

// NewAPIServer builds the HTTP API around d. It returns nil when no bind
// address is configured.
func NewAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *APIServer {
	if cfg == nil || d == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}
	srv := &APIServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api"),
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.Handler(cfg.Paths.APIToken),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

// Handler returns the routed, authenticated handler.
func (s *APIServer) Handler(token string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/slots", s.handleGrid)
	mux.HandleFunc("GET /api/slots/{id}", s.handleSlot)
	mux.HandleFunc("POST /api/slots/{id}", s.handleAssign)
	mux.HandleFunc("DELETE /api/slots/{id}", s.handleUnassign)
	mux.HandleFunc("POST /api/slots/{id}/play", s.handleSlotPlaying(true))
	mux.HandleFunc("POST /api/slots/{id}/pause", s.handleSlotPlaying(false))
	mux.HandleFunc("POST /api/slots/{id}/step", s.handleStep)
	mux.HandleFunc("POST /api/slots/{id}/retry-preload", s.handleRetryPreload)
	mux.HandleFunc("GET /api/slots/{id}/frame", s.handleFrame)
	mux.HandleFunc("POST /api/load", s.handleLoad)
	mux.HandleFunc("POST /api/play", s.handlePlayAll(true))
	mux.HandleFunc("POST /api/pause", s.handlePlayAll(false))
	mux.HandleFunc("PUT /api/layout", s.handleLayout)
	mux.HandleFunc("GET /api/cache", s.handleCache)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	return s.withRequestID(authMiddleware(token, mux))
}

// Start listens on the configured address until ctx is cancelled or Stop is called.
func (s *APIServer) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr reports the bound address once Start has succeeded.
func (s *APIServer) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down.
func (s *APIServer) Stop() {
	if s == nil || s.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *APIServer) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

func (s *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	payload := api.DaemonStatus{
		Running:       status.Running,
		PID:           status.PID,
		WorkspacePath: status.WorkspacePath,
		LockFilePath:  status.LockFilePath,
		LogPath:       status.LogPath,
		Grid:          api.FromGrid(status.Slots, status.Dim),
		Cache:         api.FromCacheStats(status.Cache, status.Preloads),
		Checks:        api.FromChecks(status.Checks),
	}
	if !status.StartedAt.IsZero() {
		payload.StartedAt = api.FormatTime(status.StartedAt)
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *APIServer) handleGrid(w http.ResponseWriter, _ *http.Request) {
	slots, dim := s.daemon.Orchestrator().Snapshot()
	writeJSON(w, http.StatusOK, api.FromGrid(slots, dim))
}

func (s *APIServer) handleSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := s.slotID(w, r)
	if !ok {
		return
	}
	s.respondSlot(w, r, id)
}

func (s *APIServer) handleAssign(w http.ResponseWriter, r *http.Request) {
	id, ok := s.slotID(w, r)
	if !ok {
		return
	}
	var req api.AssignRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.daemon.Orchestrator().Assign(id, req.Instance); err != nil {
		s.fail(w, r, "assign", err)
		return
	}
	s.respondSlot(w, r, id)
}

func (s *APIServer) handleUnassign(w http.ResponseWriter, r *http.Request) {
	id, ok := s.slotID(w, r)
	if !ok {
		return
	}
	if err := s.daemon.Orchestrator().Unassign(id); err != nil {
		s.fail(w, r, "unassign", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) handleSlotPlaying(playing bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.slotID(w, r)
		if !ok {
			return
		}
		orch := s.daemon.Orchestrator()
		var err error
		if playing {
			err = orch.Play(id)
		} else {
			err = orch.Pause(id)
		}
		if err != nil {
			s.fail(w, r, "set playing", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *APIServer) handleStep(w http.ResponseWriter, r *http.Request) {
	id, ok := s.slotID(w, r)
	if !ok {
		return
	}
	req := api.StepRequest{Delta: 1}
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	if err := s.daemon.Orchestrator().Step(id, req.Delta); err != nil {
		s.fail(w, r, "step", err)
		return
	}
	s.respondSlot(w, r, id)
}

func (s *APIServer) handleRetryPreload(w http.ResponseWriter, r *http.Request) {
	id, ok := s.slotID(w, r)
	if !ok {
		return
	}
	if err := s.daemon.Orchestrator().RetryPreload(id); err != nil {
		s.fail(w, r, "retry preload", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) handleFrame(w http.ResponseWriter, r *http.Request) {
	id, ok := s.slotID(w, r)
	if !ok {
		return
	}
	pic, found := s.daemon.Viewport().Picture(id)
	if !found || pic.Loading || len(pic.Data) == 0 {
		writeError(w, http.StatusNotFound, "no frame has been drawn for this slot", "")
		return
	}
	w.Header().Set("Content-Type", pic.ContentType)
	w.Header().Set("X-Frame-Index", strconv.Itoa(pic.Index))
	w.Header().Set("X-Frame-Source", pic.Source)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pic.Data)
}

func (s *APIServer) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req api.LoadRequest
	if !decodeBody(w, r, &req) {
		return
	}
	orch := s.daemon.Orchestrator()
	if err := orch.LoadAll(req.Instances); err != nil {
		s.fail(w, r, "load", err)
		return
	}
	slots, dim := orch.Snapshot()
	writeJSON(w, http.StatusOK, api.FromGrid(slots, dim))
}

func (s *APIServer) handlePlayAll(playing bool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if playing {
			s.daemon.Orchestrator().PlayAll()
		} else {
			s.daemon.Orchestrator().PauseAll()
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *APIServer) handleLayout(w http.ResponseWriter, r *http.Request) {
	var req api.LayoutRequest
	if !decodeBody(w, r, &req) {
		return
	}
	orch := s.daemon.Orchestrator()
	if err := orch.SetGridLayout(req.Dim); err != nil {
		s.fail(w, r, "set layout", err)
		return
	}
	slots, dim := orch.Snapshot()
	writeJSON(w, http.StatusOK, api.FromGrid(slots, dim))
}

func (s *APIServer) handleCache(w http.ResponseWriter, _ *http.Request) {
	orch := s.daemon.Orchestrator()
	writeJSON(w, http.StatusOK, api.FromCacheStats(orch.CacheStats(), orch.ActivePreloads()))
}

func (s *APIServer) slotID(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.PathValue("id")
	id, err := strconv.Atoi(raw)
	if err != nil || id < 0 || id >= config.MaxSlots {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid slot id %q", raw), cine.Kind(cine.ErrInvalidReassignment))
		return 0, false
	}
	return id, true
}

func (s *APIServer) respondSlot(w http.ResponseWriter, r *http.Request, id int) {
	slots, dim := s.daemon.Orchestrator().Snapshot()
	if id >= dim*dim {
		s.fail(w, r, "lookup", cine.Wrap(cine.ErrInvalidReassignment, "api", "lookup",
			fmt.Sprintf("slot %d outside visible range 0..%d", id, dim*dim-1), nil))
		return
	}
	writeJSON(w, http.StatusOK, api.SlotResponse{Slot: api.FromSlot(slots[id])})
}

func (s *APIServer) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	ctx := r.Context()
	if id, convErr := strconv.Atoi(r.PathValue("id")); convErr == nil {
		ctx = logging.WithSlot(ctx, id)
	}
	logger := logging.WithContext(ctx, s.logger)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logger, "api request failed", "api_request_failed",
			logging.String("operation", op),
			logging.Error(err),
		)
	} else {
		logger.Debug("api request rejected", logging.String("operation", op), logging.Error(err))
	}
	writeError(w, status, err.Error(), errorKind(err))
}

func errorKind(err error) string {
	if errors.Is(err, slot.ErrIllegalTransition) {
		return "illegal_transition"
	}
	return cine.Kind(err)
}

// statusFor maps playback errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, cine.ErrInvalidReassignment),
		errors.Is(err, cine.ErrInvalidInstance),
		errors.Is(err, cine.ErrInvalidLayout):
		return http.StatusBadRequest
	case errors.Is(err, slot.ErrIllegalTransition):
		return http.StatusConflict
	case errors.Is(err, cine.ErrFastPathDownloadFailed),
		errors.Is(err, cine.ErrPreloadFailed),
		errors.Is(err, cine.ErrTransitionFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, kind string) {
	writeJSON(w, status, api.ErrorResponse{Error: message, Kind: kind})
}
