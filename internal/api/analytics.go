package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/shopilots-chat/internal/analytics"
	"github.com/ashureev/shopilots-chat/internal/domain"
	"github.com/ashureev/shopilots-chat/internal/store"
)

const (
	defaultTopQuestions = 10
	defaultHourlyWindow = 24
	defaultRecentEvents = 100
)

// AnalyticsHandler serves the analytics read endpoints.
type AnalyticsHandler struct {
	agg     *analytics.Aggregator
	archive store.EventStore
}

// NewAnalyticsHandler creates a handler over agg. archive may be nil, in
// which case the archive endpoint reports 503.
func NewAnalyticsHandler(agg *analytics.Aggregator, archive store.EventStore) *AnalyticsHandler {
	return &AnalyticsHandler{agg: agg, archive: archive}
}

// RegisterRoutes registers the analytics routes.
func (h *AnalyticsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/analytics", func(r chi.Router) {
		r.Get("/kpis", h.KPIs)
		r.Get("/top-questions", h.TopQuestions)
		r.Get("/hourly", h.Hourly)
		r.Get("/model-usage", h.ModelUsage)
		r.Get("/categories", h.Categories)
		r.Get("/fallback-reasons", h.FallbackReasons)
		r.Get("/recent", h.Recent)
		r.Get("/session/{id}", h.Session)
		r.Get("/export", h.Export)
		r.Get("/archive", h.Archive)
	})
}

// KPIs returns the headline metrics.
func (h *AnalyticsHandler) KPIs(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.agg.KPIs())
}

// TopQuestions returns the most frequently asked questions.
func (h *AnalyticsHandler) TopQuestions(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", defaultTopQuestions)
	if !ok {
		Error(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	JSON(w, http.StatusOK, h.agg.TopQuestions(limit))
}

// Hourly returns question counts for the trailing hours.
func (h *AnalyticsHandler) Hourly(w http.ResponseWriter, r *http.Request) {
	hours, ok := queryInt(r, "hours", defaultHourlyWindow)
	if !ok {
		Error(w, http.StatusBadRequest, "hours must be an integer")
		return
	}
	JSON(w, http.StatusOK, h.agg.Hourly(hours))
}

// ModelUsage returns answer counts per model.
func (h *AnalyticsHandler) ModelUsage(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.agg.ModelUsage())
}

// Categories returns answer counts per product category.
func (h *AnalyticsHandler) Categories(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.agg.Categories())
}

// FallbackReasons returns fallback counts per reason.
func (h *AnalyticsHandler) FallbackReasons(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.agg.FallbackReasons())
}

// Recent returns the most recent events, oldest first.
func (h *AnalyticsHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", defaultRecentEvents)
	if !ok {
		Error(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	JSON(w, http.StatusOK, h.agg.Recent(limit))
}

// Session returns the summary of one session.
func (h *AnalyticsHandler) Session(w http.ResponseWriter, r *http.Request) {
	summary, ok := h.agg.Session(chi.URLParam(r, "id"))
	if !ok {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	JSON(w, http.StatusOK, summary)
}

// Export writes the event buffer as JSON or CSV.
func (h *AnalyticsHandler) Export(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = analytics.FormatJSON
	}

	body, err := h.agg.Export(format)
	if err != nil {
		if errors.Is(err, analytics.ErrUnsupportedFormat) {
			Error(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("Analytics export failed", "format", format, "error", err)
		Error(w, http.StatusInternalServerError, "export failed")
		return
	}

	if format == analytics.FormatCSV {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="conversations.csv"`)
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, body); err != nil {
		slog.Warn("failed to write export", "error", err)
	}
}

// Archive lists events from the durable archive.
func (h *AnalyticsHandler) Archive(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		Error(w, http.StatusServiceUnavailable, "archive disabled")
		return
	}
	limit, ok := queryInt(r, "limit", store.DefaultListLimit)
	if !ok {
		Error(w, http.StatusBadRequest, "limit must be an integer")
		return
	}

	events, err := h.archive.ListEvents(r.Context(), store.EventFilter{
		SessionID: r.URL.Query().Get("session_id"),
		Limit:     limit,
	})
	if err != nil {
		slog.Error("Failed to list archived events", "error", err)
		Error(w, http.StatusInternalServerError, "failed to read archive")
		return
	}
	if events == nil {
		events = []domain.ConversationEvent{}
	}
	JSON(w, http.StatusOK, events)
}
