// Package http exposes the alert pipeline over HTTP: the geofence webhook,
// status polling, the alert and settings APIs, and the live verdict feed.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/r3tr0m0/Truck-Inspection-System/internal/domain"
	"github.com/r3tr0m0/Truck-Inspection-System/internal/ingest"
	"github.com/r3tr0m0/Truck-Inspection-System/internal/metrics"
	"github.com/r3tr0m0/Truck-Inspection-System/internal/timeutil"
)

const alertListLimit = 100

// AlertAPI is the slice of the store the read/write endpoints use.
type AlertAPI interface {
	ListAlerts(ctx context.Context, limit int) ([]domain.GeofenceAlert, error)
	ListSettings(ctx context.Context) (map[string]string, error)
	UpdateSetting(ctx context.Context, name, value string) error
	Ping(ctx context.Context) error
}

// StatusSource answers task status polls.
type StatusSource interface {
	Status(taskID string) domain.MovingStatus
}

// Ingestor accepts a departure event.
type Ingestor interface {
	Handle(ctx context.Context, ev ingest.Event) (*ingest.Result, error)
}

type Handler struct {
	ingestor Ingestor
	statuses StatusSource
	api      AlertAPI
	hub      *Hub
}

func NewHandler(ingestor Ingestor, statuses StatusSource, api AlertAPI, hub *Hub) *Handler {
	return &Handler{ingestor: ingestor, statuses: statuses, api: api, hub: hub}
}

// Mux wires every route onto a fresh ServeMux.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/geofence-alert", h.handleGeofenceAlert)
	mux.HandleFunc("/movement-status/", h.handleMovementStatus)
	mux.HandleFunc("/api/alerts", h.handleListAlerts)
	mux.HandleFunc("/api/settings", h.handleListSettings)
	mux.HandleFunc("/api/settings/", h.handleUpdateSetting)
	mux.HandleFunc("/api/feed/", h.hub.ServeWS)
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/metrics", metrics.HandleMetrics)
	return mux
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response failed", "error", err)
	}
}

// handleGeofenceAlert accepts POST /geofence-alert and answers 202 with the
// queued task id; the movement check resolves asynchronously.
func (h *Handler) handleGeofenceAlert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	var ev ingest.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	res, err := h.ingestor.Handle(r.Context(), ev)
	switch {
	case err == nil:
	case errors.Is(err, ingest.ErrUnknownYard):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case ev.Validate() != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	default:
		slog.Error("ingest failed", "unit", ev.Unit, "yard", ev.Yard, "error", err)
		writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"task_id":           res.TaskID,
		"unit":              res.Alert.Unit,
		"yard":              res.Alert.Yard,
		"alert_time":        res.Alert.AlertTime.Format(time.RFC3339),
		"inspection_status": res.Alert.InspectionStatus,
		"moving_status":     string(res.Alert.MovingStatus),
		"notify_selected":   res.NotifySelected,
	})
}

// handleMovementStatus answers GET /movement-status/{taskID}.
func (h *Handler) handleMovementStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}

	taskID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/movement-status/"), "/")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "task id required")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"task_id": taskID,
		"status":  string(h.statuses.Status(taskID)),
	})
}

// alertView is the display form of an alert row: Pacific times and
// human-readable measurements.
type alertView struct {
	Unit                   string              `json:"unit"`
	Yard                   string              `json:"yard"`
	AlertTime              string              `json:"alert_time"`
	InspectionDate         string              `json:"inspection_date"`
	InspectionStatus       string              `json:"inspection_status"`
	Shift                  string              `json:"shift"`
	TruckDetails           string              `json:"truck_details"`
	YardCoordinates        string              `json:"yard_coordinates"`
	Supervisors            []domain.Supervisor `json:"supervisors"`
	DistanceAtAlert        string              `json:"distance_at_alert"`
	DistanceAfter10s       string              `json:"distance_after_10s"`
	DistanceAfter30s       string              `json:"distance_after_30s"`
	SpeedAtAlert           string              `json:"speed_at_alert"`
	SpeedAfter10s          string              `json:"speed_after_10s"`
	SpeedAfter30s          string              `json:"speed_after_30s"`
	MovingStatus           string              `json:"moving_status"`
	MovementCheckCompleted bool                `json:"movement_check_completed"`
	EmailSent              bool                `json:"email_sent"`
	EmailSentTime          string              `json:"email_sent_time"`
	AlertToEmailTimeDiff   string              `json:"alert_to_email_time_diff"`
}

func formatMeters(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.0f m", *v)
}

func formatSpeed(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%g km/h", *v)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "N/A"
	}
	return timeutil.FormatPacific(*t)
}

func toView(a domain.GeofenceAlert) alertView {
	supervisors := a.Supervisors
	if supervisors == nil {
		supervisors = []domain.Supervisor{}
	}
	return alertView{
		Unit:                   a.Unit,
		Yard:                   a.Yard,
		AlertTime:              timeutil.FormatPacific(a.AlertTime),
		InspectionDate:         formatOptionalTime(a.InspectionDate),
		InspectionStatus:       a.InspectionStatus,
		Shift:                  a.Shift,
		TruckDetails:           a.TruckDetails,
		YardCoordinates:        a.YardCoordinates,
		Supervisors:            supervisors,
		DistanceAtAlert:        formatMeters(a.DistanceAtAlert),
		DistanceAfter10s:       formatMeters(a.DistanceAfter10s),
		DistanceAfter30s:       formatMeters(a.DistanceAfter30s),
		SpeedAtAlert:           formatSpeed(a.SpeedAtAlert),
		SpeedAfter10s:          formatSpeed(a.SpeedAfter10s),
		SpeedAfter30s:          formatSpeed(a.SpeedAfter30s),
		MovingStatus:           string(a.MovingStatus),
		MovementCheckCompleted: a.MovementCheckCompleted,
		EmailSent:              a.EmailSent,
		EmailSentTime:          formatOptionalTime(a.EmailSentTime),
		AlertToEmailTimeDiff:   a.AlertToEmailTimeDiff,
	}
}

func (h *Handler) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}

	alerts, err := h.api.ListAlerts(r.Context(), alertListLimit)
	if err != nil {
		slog.Error("list alerts failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
		return
	}

	views := make([]alertView, 0, len(alerts))
	for _, a := range alerts {
		views = append(views, toView(a))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleListSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}

	settings, err := h.api.ListSettings(r.Context())
	if err != nil {
		slog.Error("list settings failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// handleUpdateSetting accepts PUT /api/settings/{name} with
// {"value": "..."}.
func (h *Handler) handleUpdateSetting(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "PUT only", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/settings/"), "/")
	if name == "" {
		writeError(w, http.StatusBadRequest, "setting name required")
		return
	}

	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	if err := h.api.UpdateSetting(r.Context(), name, body.Value); err != nil {
		slog.Error("update setting failed", "setting", name, "error", err)
		writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"setting": name, "value": body.Value})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.api.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
