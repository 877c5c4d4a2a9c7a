package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/nuka-swarm/internal/notify"
	"github.com/nidhogg/nuka-swarm/internal/swarm"
	"github.com/nidhogg/nuka-swarm/internal/task"
	"go.uber.org/zap"
)

// maxAgentsPerRequest bounds POST /swarm/add_agent.
const maxAgentsPerRequest = 100

// AlertHistory exposes recently delivered alerts.
type AlertHistory interface {
	History(limit int) []notify.Record
}

// ArchiveLister reads tasks trimmed from memory.
type ArchiveLister interface {
	ListArchived(ctx context.Context, limit int) ([]task.Task, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	swarm   *swarm.Swarm
	alerts  AlertHistory
	archive ArchiveLister
	logger  *zap.Logger
}

// NewHandler creates a new API handler. alerts and archive may be nil.
func NewHandler(sw *swarm.Swarm, alerts AlertHistory, archive ArchiveLister, logger *zap.Logger) *Handler {
	return &Handler{
		swarm:   sw,
		alerts:  alerts,
		archive: archive,
		logger:  logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/swarm", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Post("/add_task", h.addTask)
		r.Get("/task_status/{id}", h.taskStatus)
		r.Post("/add_agent", h.addAgent)
		r.Delete("/agents/{id}", h.removeAgent)
		r.Get("/state", h.state)
		r.Get("/statistics", h.statistics)
		r.Post("/remove_completed_tasks", h.removeCompleted)
		r.Post("/redistribute_tasks", h.redistribute)
		r.Get("/alerts", h.listAlerts)
		r.Get("/archive", h.listArchive)
	})
	r.Handle("/metrics", h.swarm.Metrics().Handler())

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type addTaskRequest struct {
	Description    string `json:"description"`
	Priority       int    `json:"priority"`
	Specialization string `json:"specialization"`
	Timeout        *int   `json:"timeout"`
}

func (h *Handler) addTask(w http.ResponseWriter, r *http.Request) {
	var req addTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	opts := []swarm.TaskOption{
		swarm.WithPriority(req.Priority),
		swarm.WithSpecialization(req.Specialization),
	}
	if req.Timeout != nil {
		opts = append(opts, swarm.WithTimeout(*req.Timeout))
	}
	id, err := h.swarm.AddTask(r.Context(), req.Description, opts...)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"task_id": id})
}

func (h *Handler) taskStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid task id"})
		return
	}
	t, err := h.swarm.GetTaskStatus(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type addAgentRequest struct {
	Count           int      `json:"count"`
	Specializations []string `json:"specializations"`
}

func (h *Handler) addAgent(w http.ResponseWriter, r *http.Request) {
	var req addAgentRequest
	if err := decodeOptional(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Count == 0 {
		req.Count = 1
	}
	if req.Count < 0 || req.Count > maxAgentsPerRequest {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "count must be between 1 and 100"})
		return
	}

	ids := make([]int, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		id, err := h.swarm.AddAgent(req.Specializations)
		if err != nil {
			h.writeError(w, err)
			return
		}
		ids = append(ids, id)
	}
	writeJSON(w, http.StatusCreated, map[string][]int{"agent_ids": ids})
}

func (h *Handler) removeAgent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid agent id"})
		return
	}
	if err := h.swarm.RemoveAgent(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": id})
}

func (h *Handler) state(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.swarm.State())
}

func (h *Handler) statistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.swarm.Statistics())
}

type removeCompletedRequest struct {
	KeepLast *int `json:"keep_last"`
}

func (h *Handler) removeCompleted(w http.ResponseWriter, r *http.Request) {
	var req removeCompletedRequest
	if err := decodeOptional(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	keep := swarm.DefaultKeepLast
	if req.KeepLast != nil {
		keep = *req.KeepLast
	}
	if keep < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "keep_last must not be negative"})
		return
	}
	n := h.swarm.RemoveCompletedTasks(r.Context(), keep)
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

type redistributeRequest struct {
	Threshold *int `json:"threshold"`
}

func (h *Handler) redistribute(w http.ResponseWriter, r *http.Request) {
	var req redistributeRequest
	if err := decodeOptional(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	threshold := swarm.DefaultRedistributeThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	if threshold < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "threshold must not be negative"})
		return
	}
	n := h.swarm.RedistributeTasks(r.Context(), threshold)
	writeJSON(w, http.StatusOK, map[string]int{"moved": n})
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if h.alerts == nil {
		writeJSON(w, http.StatusOK, []notify.Record{})
		return
	}
	writeJSON(w, http.StatusOK, h.alerts.History(queryInt(r, "limit", 50)))
}

func (h *Handler) listArchive(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "archive not configured"})
		return
	}
	tasks, err := h.archive.ListArchived(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, swarm.ErrInvalidTask):
		status = http.StatusBadRequest
	case errors.Is(err, swarm.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, swarm.ErrClosed):
		status = http.StatusServiceUnavailable
	default:
		h.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// decodeOptional decodes a JSON body, treating an empty body as {}.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func queryInt(r *http.Request, key string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v > 0 {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
