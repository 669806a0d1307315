package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/vincentbai/formshot-agent/internal/agent"
	"github.com/vincentbai/formshot-agent/internal/database"
	"github.com/vincentbai/formshot-agent/internal/htmldoc"
	"github.com/vincentbai/formshot-agent/internal/models"
	"github.com/vincentbai/formshot-agent/internal/snapshot"
	"github.com/vincentbai/formshot-agent/internal/timeago"
)

// PageOpener opens a live page for a URL target.
type PageOpener func(ctx context.Context, pageURL string) (snapshot.Document, error)

type Server struct {
	db      *database.Database
	agent   *agent.Agent
	opener  PageOpener
	logger  *zap.Logger
	address string
	server  *http.Server
	now     func() time.Time

	stampMu sync.Mutex
	last    int64
}

// NewServer wires the HTTP API over a shot store and an agent. opener may be
// nil, in which case only file targets can be attached over HTTP.
func NewServer(db *database.Database, a *agent.Agent, opener PageOpener, logger *zap.Logger, address string) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		db:      db,
		agent:   a,
		opener:  opener,
		logger:  logger,
		address: address,
		now:     time.Now,
	}
}

type attachRequest struct {
	ID   string `json:"id,omitempty"`
	URL  string `json:"url,omitempty"`
	File string `json:"file,omitempty"`
}

type restoreResponse struct {
	*snapshot.Result
	Failures []string `json:"failures,omitempty"`
}

func newRestoreResponse(res *snapshot.Result) restoreResponse {
	out := restoreResponse{Result: res}
	for _, f := range res.Failures {
		out.Failures = append(out.Failures, f.Error())
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// stamp returns a capture time in unix ms that no earlier call returned, so
// two captures in the same millisecond still get distinct keys.
func (s *Server) stamp() int64 {
	s.stampMu.Lock()
	defer s.stampMu.Unlock()
	t := s.now().UnixMilli()
	if t <= s.last {
		t = s.last + 1
	}
	s.last = t
	return t
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok"))
}

func (s *Server) handleListShots(w http.ResponseWriter, request *http.Request) {
	pageURL := request.URL.Query().Get("url")
	if pageURL == "" {
		writeError(w, http.StatusBadRequest, errors.New("url query parameter is required"))
		return
	}
	shots, err := s.db.ListShots(pageURL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	now := s.now()
	for i := range shots {
		shots[i].Age = timeago.FromMillis(shots[i].Time, now)
	}
	writeJSON(w, http.StatusOK, shots)
}

func (s *Server) handleCreateShot(w http.ResponseWriter, request *http.Request) {
	var shot models.Shot
	if err := json.NewDecoder(request.Body).Decode(&shot); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	if shot.Time == 0 {
		shot.Time = s.stamp()
	}
	if err := s.db.ValidateShot(shot); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.db.InsertShot(shot); err != nil {
		s.logger.Error("server: store shot", zap.Error(err))
		http.Error(w, "Failed to store shot", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"time": shot.Time})
}

func shotTime(request *http.Request) (int64, error) {
	raw := chi.URLParam(request, "time")
	t, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid shot time %q", raw)
	}
	return t, nil
}

func (s *Server) handleGetShot(w http.ResponseWriter, request *http.Request) {
	t, err := shotTime(request)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	shot, err := s.db.GetShot(t)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.logger.Error("server: load shot", zap.Int64("time", t), zap.Error(err))
		http.Error(w, "Failed to load shot", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, shot)
}

func (s *Server) handleDeleteShot(w http.ResponseWriter, request *http.Request) {
	t, err := shotTime(request)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err = s.db.DeleteShot(t)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.logger.Error("server: delete shot", zap.Int64("time", t), zap.Error(err))
		http.Error(w, "Failed to delete shot", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListTargets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.agent.Targets())
}

func (s *Server) handleAttachTarget(w http.ResponseWriter, request *http.Request) {
	var req attachRequest
	if err := json.NewDecoder(request.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	if (req.URL == "") == (req.File == "") {
		writeError(w, http.StatusBadRequest, errors.New("exactly one of url or file is required"))
		return
	}

	var (
		info = models.Target{ID: req.ID}
		doc  snapshot.Document
	)
	switch {
	case req.File != "":
		if _, err := os.Stat(req.File); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		file := htmldoc.NewFile(req.File)
		info.Kind, info.URL, doc = "file", file.URL(), file
	default:
		if s.opener == nil {
			writeError(w, http.StatusNotImplemented, errors.New("no browser configured"))
			return
		}
		page, err := s.opener(request.Context(), req.URL)
		if err != nil {
			s.logger.Warn("server: open page", zap.String("url", req.URL), zap.Error(err))
			writeError(w, http.StatusBadGateway, err)
			return
		}
		info.Kind, info.URL, doc = "page", req.URL, page
	}

	id, created := s.agent.Attach(info, doc)
	current, _ := s.agent.Target(id)
	if !created {
		writeJSON(w, http.StatusOK, current)
		return
	}
	writeJSON(w, http.StatusCreated, current)
}

func (s *Server) handleDetachTarget(w http.ResponseWriter, request *http.Request) {
	if !s.agent.Detach(chi.URLParam(request, "id")) {
		writeError(w, http.StatusNotFound, snapshot.ErrNoTarget)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// confirmer maps ?confirm=true to an unconditional yes; otherwise the agent's
// own confirmer decides.
func confirmer(request *http.Request) snapshot.Confirmer {
	if ok, _ := strconv.ParseBool(request.URL.Query().Get("confirm")); ok {
		return snapshot.AlwaysConfirm
	}
	return nil
}

func (s *Server) handleMessage(w http.ResponseWriter, request *http.Request) {
	var msg models.Message
	if err := json.NewDecoder(request.Body).Decode(&msg); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	reply := s.agent.Handle(request.Context(), chi.URLParam(request, "id"), msg, confirmer(request))
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleCaptureTarget(w http.ResponseWriter, request *http.Request) {
	id := chi.URLParam(request, "id")
	data, err := s.agent.Capture(request.Context(), id)
	if errors.Is(err, snapshot.ErrNoTarget) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.logger.Warn("server: capture", zap.String("target", id), zap.Error(err))
		writeError(w, http.StatusBadGateway, err)
		return
	}

	shot := models.Shot{Time: s.stamp(), URL: s.agent.URL(id), Data: data}
	if err := s.db.ValidateShot(shot); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if err := s.db.InsertShot(shot); err != nil {
		s.logger.Error("server: store shot", zap.Error(err))
		http.Error(w, "Failed to store shot", http.StatusInternalServerError)
		return
	}
	origin, _ := database.Origin(shot.URL)
	writeJSON(w, http.StatusCreated, models.ShotSummary{
		Time:       shot.Time,
		URL:        shot.URL,
		Origin:     origin,
		Signature:  snapshot.Signature(data),
		FieldCount: len(data),
	})
}

func (s *Server) handleRestoreTarget(w http.ResponseWriter, request *http.Request) {
	id := chi.URLParam(request, "id")
	t, err := shotTime(request)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	shot, err := s.db.GetShot(t)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.logger.Error("server: load shot", zap.Int64("time", t), zap.Error(err))
		http.Error(w, "Failed to load shot", http.StatusInternalServerError)
		return
	}

	res, err := s.agent.Restore(request.Context(), id, shot.Data, confirmer(request))
	switch {
	case errors.Is(err, snapshot.ErrNoTarget):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, snapshot.ErrDeclined):
		writeJSON(w, http.StatusConflict, newRestoreResponse(res))
	case err != nil:
		s.logger.Warn("server: restore", zap.String("target", id), zap.Error(err))
		writeError(w, http.StatusBadGateway, err)
	default:
		writeJSON(w, http.StatusOK, newRestoreResponse(res))
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, request *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, request.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, request)
		s.logger.Debug("server: request",
			zap.String("method", request.Method),
			zap.String("path", request.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(request.Context())))
	})
}

func (s *Server) setupRoutes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealthz)
	r.Route("/shots", func(r chi.Router) {
		r.Get("/", s.handleListShots)
		r.Post("/", s.handleCreateShot)
		r.Get("/{time}", s.handleGetShot)
		r.Delete("/{time}", s.handleDeleteShot)
	})
	r.Route("/targets", func(r chi.Router) {
		r.Get("/", s.handleListTargets)
		r.Post("/", s.handleAttachTarget)
		r.Delete("/{id}", s.handleDetachTarget)
		r.Post("/{id}/messages", s.handleMessage)
		r.Post("/{id}/shots", s.handleCaptureTarget)
		r.Post("/{id}/restore/{time}", s.handleRestoreTarget)
	})
	return r
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.address,
		Handler:      s.setupRoutes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: time.Minute,
	}

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("server: listening", zap.String("address", s.address))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed to start: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("server: shutting down")
	shutdownContext, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownContext); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	s.logger.Info("server: exited")
	return nil
}
