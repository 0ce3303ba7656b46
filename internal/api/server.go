package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"alertcore/internal/alerts"
	"alertcore/internal/config"
	"alertcore/internal/metrics"
	"alertcore/internal/model"
	"alertcore/internal/query"
	"alertcore/internal/storage"
	"alertcore/internal/tagquery"
)

// TenantHeader carries the tenant ids of a request, comma separated for queries.
const TenantHeader = "X-Tenant-ID"

const maxBody = 4 << 20

type Alerts interface {
	FindAlerts(ctx context.Context, tenantIDs []string, criteria *model.AlertsCriteria, pager *model.Pager) (*model.Page[*model.Alert], error)
	FindEvents(ctx context.Context, tenantIDs []string, criteria *model.EventsCriteria, pager *model.Pager) (*model.Page[*model.Event], error)
	GetAlert(ctx context.Context, tenantID, alertID string, thin bool) (*model.Alert, error)
	GetEvent(ctx context.Context, tenantID, eventID string, thin bool) (*model.Event, error)
	Acknowledge(ctx context.Context, tenantID string, alertIDs []string, ackBy, ackNotes string) error
	Resolve(ctx context.Context, tenantID string, alertIDs []string, resolvedBy, resolvedNotes string, resolvedEvalSets [][]model.ConditionEval) error
	AddNote(ctx context.Context, tenantID, alertID, user, text string) error
	AddAlertTags(ctx context.Context, tenantID string, alertIDs []string, tags map[string]string) error
	RemoveAlertTags(ctx context.Context, tenantID string, alertIDs, tags []string) error
	AddEventTags(ctx context.Context, tenantID string, eventIDs []string, tags map[string]string) error
	RemoveEventTags(ctx context.Context, tenantID string, eventIDs, tags []string) error
	DeleteAlerts(ctx context.Context, tenantID string, criteria *model.AlertsCriteria) (int, error)
	DeleteEvents(ctx context.Context, tenantID string, criteria *model.EventsCriteria) (int, error)
	AddEvents(ctx context.Context, events []*model.Event) error
	SendEvents(ctx context.Context, events []*model.Event) error
}

// Engine is the rule engine surface exposed over HTTP.
type Engine interface {
	SendData(ctx context.Context, data []model.Data) error
	LoadedCount() int
}

type Server struct {
	cfg     *config.Manager
	metrics *metrics.Store
	alerts  Alerts
	engine  Engine
	logger  *slog.Logger
	version string
	now     func() time.Time
}

type statusResponse struct {
	Status         string                 `json:"status"`
	Time           string                 `json:"time"`
	Version        string                 `json:"version"`
	ConfigPath     string                 `json:"config_path"`
	Storage        string                 `json:"storage"`
	LoadedTriggers int                    `json:"loaded_triggers"`
	Ingest         ingestStatus           `json:"ingest"`
	Retention      config.RetentionConfig `json:"retention"`
}

type ingestStatus struct {
	Kafka       bool `json:"kafka"`
	StoreEvents bool `json:"store_events"`
}

func NewServer(cfg *config.Manager, a Alerts, engine Engine, metricsStore *metrics.Store, logger *slog.Logger, version string) *Server {
	return &Server{
		cfg:     cfg,
		metrics: metricsStore,
		alerts:  a,
		engine:  engine,
		logger:  logger,
		version: version,
		now:     time.Now,
	}
}

func Start(ctx context.Context, cfg *config.Manager, a Alerts, engine Engine, metricsStore *metrics.Store, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := NewServer(cfg, a, engine, metricsStore, logger, version)

	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) Routes() http.Handler {
	timeout := 30 * time.Second
	if s.cfg != nil {
		timeout = s.cfg.Get().API.Timeout
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Get("/status", s.handleStatus)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/metrics/{tenantId}", s.handleTenantMetrics)
	r.Post("/data", s.handleSendData)

	r.Route("/alerts", func(r chi.Router) {
		r.Get("/", s.handleFindAlerts)
		r.Delete("/", s.handleDeleteAlerts)
		r.Put("/ack", s.handleAck)
		r.Put("/ack/{alertId}", s.handleAck)
		r.Put("/resolve", s.handleResolve)
		r.Put("/resolve/{alertId}", s.handleResolve)
		r.Put("/note/{alertId}", s.handleNote)
		r.Put("/tags", s.handleAddAlertTags)
		r.Delete("/tags", s.handleRemoveAlertTags)
		r.Get("/{alertId}", s.handleGetAlert)
		r.Delete("/{alertId}", s.handleDeleteAlert)
	})
	r.Route("/events", func(r chi.Router) {
		r.Get("/", s.handleFindEvents)
		r.Post("/", s.handleAddEvents)
		r.Post("/data", s.handleSendEvents)
		r.Delete("/", s.handleDeleteEvents)
		r.Put("/tags", s.handleAddEventTags)
		r.Delete("/tags", s.handleRemoveEventTags)
		r.Get("/{eventId}", s.handleGetEvent)
		r.Delete("/{eventId}", s.handleDeleteEvent)
	})
	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       s.now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Storage:    cfg.Storage.Driver,
		Ingest: ingestStatus{
			Kafka:       cfg.Ingest.Kafka.Enabled,
			StoreEvents: cfg.Ingest.StoreEvents,
		},
		Retention: cfg.Retention,
	}
	if s.engine != nil {
		resp.LoadedTriggers = s.engine.LoadedCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	all := s.metrics.GetAll()
	writeJSON(w, http.StatusOK, map[string]any{
		"metrics": all,
		"count":   len(all),
	})
}

func (s *Server) handleTenantMetrics(w http.ResponseWriter, r *http.Request) {
	c, ok := s.metrics.Get(chi.URLParam(r, "tenantId"))
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleFindAlerts(w http.ResponseWriter, r *http.Request) {
	tenants, ok := s.tenants(w, r)
	if !ok {
		return
	}
	criteria, err := alertsCriteria(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	pager, err := pagerOf(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	page, err := s.alerts.FindAlerts(r.Context(), tenants, criteria, pager)
	if err != nil {
		s.fail(w, err)
		return
	}
	writePage(w, page.Items, page.TotalSize)
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	a, err := s.alerts.GetAlert(r.Context(), tenant, chi.URLParam(r, "alertId"), boolParam(r, "thin"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if a == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	ids := idsParam(r, "alertId", "alertIds")
	if err := s.alerts.Acknowledge(r.Context(), tenant, ids, q.Get("ackBy"), q.Get("ackNotes")); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	ids := idsParam(r, "alertId", "alertIds")
	if err := s.alerts.Resolve(r.Context(), tenant, ids, q.Get("resolvedBy"), q.Get("resolvedNotes"), nil); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleNote(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	if err := s.alerts.AddNote(r.Context(), tenant, chi.URLParam(r, "alertId"), q.Get("user"), q.Get("text")); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleAddAlertTags(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	tags, err := tagsParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := s.alerts.AddAlertTags(r.Context(), tenant, csv(r, "alertIds"), tags); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleRemoveAlertTags(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	if err := s.alerts.RemoveAlertTags(r.Context(), tenant, csv(r, "alertIds"), csv(r, "tagNames")); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleDeleteAlerts(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	if len(r.URL.Query()) == 0 {
		s.fail(w, badRequest("at least one criteria parameter is required"))
		return
	}
	criteria, err := alertsCriteria(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	n, err := s.alerts.DeleteAlerts(r.Context(), tenant, criteria)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

func (s *Server) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	criteria := &model.AlertsCriteria{AlertIDs: []string{chi.URLParam(r, "alertId")}}
	n, err := s.alerts.DeleteAlerts(r.Context(), tenant, criteria)
	if err != nil {
		s.fail(w, err)
		return
	}
	if n == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

func (s *Server) handleFindEvents(w http.ResponseWriter, r *http.Request) {
	tenants, ok := s.tenants(w, r)
	if !ok {
		return
	}
	criteria, err := eventsCriteria(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	pager, err := pagerOf(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	page, err := s.alerts.FindEvents(r.Context(), tenants, criteria, pager)
	if err != nil {
		s.fail(w, err)
		return
	}
	writePage(w, page.Items, page.TotalSize)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	ev, err := s.alerts.GetEvent(r.Context(), tenant, chi.URLParam(r, "eventId"), boolParam(r, "thin"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if ev == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleAddEvents(w http.ResponseWriter, r *http.Request) {
	s.receiveEvents(w, r, s.alerts.AddEvents)
}

func (s *Server) handleSendEvents(w http.ResponseWriter, r *http.Request) {
	s.receiveEvents(w, r, s.alerts.SendEvents)
}

func (s *Server) receiveEvents(w http.ResponseWriter, r *http.Request, fn func(context.Context, []*model.Event) error) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	var events []*model.Event
	if err := decodeBody(w, r, &events); err != nil {
		s.fail(w, err)
		return
	}
	now := s.now().UnixMilli()
	for _, ev := range events {
		if ev == nil {
			s.fail(w, badRequest("null event"))
			return
		}
		ev.TenantID = tenant
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		if ev.CTime == 0 {
			ev.CTime = now
		}
		if ev.EventType == "" {
			ev.EventType = model.EventTypeEvent
		}
	}
	if err := fn(r.Context(), events); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"received": len(events)})
}

func (s *Server) handleSendData(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	var data []model.Data
	if err := decodeBody(w, r, &data); err != nil {
		s.fail(w, err)
		return
	}
	for i := range data {
		data[i].TenantID = tenant
		if data[i].ID == "" {
			s.fail(w, badRequest("data id is required"))
			return
		}
	}
	if err := s.engine.SendData(r.Context(), data); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"received": len(data)})
}

func (s *Server) handleAddEventTags(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	tags, err := tagsParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := s.alerts.AddEventTags(r.Context(), tenant, csv(r, "eventIds"), tags); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleRemoveEventTags(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	if err := s.alerts.RemoveEventTags(r.Context(), tenant, csv(r, "eventIds"), csv(r, "tagNames")); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleDeleteEvents(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	if len(r.URL.Query()) == 0 {
		s.fail(w, badRequest("at least one criteria parameter is required"))
		return
	}
	criteria, err := eventsCriteria(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	n, err := s.alerts.DeleteEvents(r.Context(), tenant, criteria)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	criteria := &model.EventsCriteria{EventIDs: []string{chi.URLParam(r, "eventId")}}
	n, err := s.alerts.DeleteEvents(r.Context(), tenant, criteria)
	if err != nil {
		s.fail(w, err)
		return
	}
	if n == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

func (s *Server) tenants(w http.ResponseWriter, r *http.Request) ([]string, bool) {
	var out []string
	for _, t := range strings.Split(r.Header.Get(TenantHeader), ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		s.fail(w, badRequest("missing "+TenantHeader+" header"))
		return nil, false
	}
	return out, true
}

// tenant requires exactly one tenant, as every write is scoped to one.
func (s *Server) tenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenants, ok := s.tenants(w, r)
	if !ok {
		return "", false
	}
	if len(tenants) > 1 {
		s.fail(w, badRequest("exactly one tenant expected"))
		return "", false
	}
	return tenants[0], true
}

var errBadRequest = errors.New("bad request")

type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

func (e *requestError) Unwrap() error { return errBadRequest }

func badRequest(msg string) error { return &requestError{msg: msg} }

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, alerts.ErrInvalidArgument),
		errors.Is(err, query.ErrInvalidArgument),
		errors.Is(err, storage.ErrInvalidPattern),
		errors.Is(err, tagquery.ErrSyntax):
		status = http.StatusBadRequest
	default:
		if s.logger != nil {
			s.logger.Error("api request failed", "err", err)
		}
	}
	writeJSON(w, status, map[string]any{"errorMsg": err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		return badRequest(err.Error())
	}
	if err := json.Unmarshal(body, v); err != nil {
		return badRequest("invalid json: " + err.Error())
	}
	return nil
}

func writePage[T any](w http.ResponseWriter, items []T, total int) {
	if items == nil {
		items = []T{}
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	writeJSON(w, http.StatusOK, items)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
