package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/r3tr0m0/Truck-Inspection-System/internal/domain"
	"github.com/r3tr0m0/Truck-Inspection-System/internal/ingest"
)

type fakeIngestor struct {
	res *ingest.Result
	err error
}

func (f *fakeIngestor) Handle(_ context.Context, ev ingest.Event) (*ingest.Result, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

type fakeStatuses struct {
	statuses map[string]domain.MovingStatus
}

func (f *fakeStatuses) Status(taskID string) domain.MovingStatus {
	if s, ok := f.statuses[taskID]; ok {
		return s
	}
	return domain.StatusPending
}

type fakeAPI struct {
	alerts    []domain.GeofenceAlert
	alertsErr error
	settings  map[string]string
	updated   map[string]string
	pingErr   error
}

func (f *fakeAPI) ListAlerts(_ context.Context, _ int) ([]domain.GeofenceAlert, error) {
	return f.alerts, f.alertsErr
}

func (f *fakeAPI) ListSettings(_ context.Context) (map[string]string, error) {
	return f.settings, nil
}

func (f *fakeAPI) UpdateSetting(_ context.Context, name, value string) error {
	if f.updated == nil {
		f.updated = make(map[string]string)
	}
	f.updated[name] = value
	return nil
}

func (f *fakeAPI) Ping(_ context.Context) error { return f.pingErr }

func newTestHandler(ing Ingestor, st StatusSource, api AlertAPI) *Handler {
	if ing == nil {
		ing = &fakeIngestor{}
	}
	if st == nil {
		st = &fakeStatuses{}
	}
	if api == nil {
		api = &fakeAPI{}
	}
	return NewHandler(ing, st, api, NewHub())
}

func TestGeofenceAlertAccepted(t *testing.T) {
	alertTime := time.Date(2024, 12, 13, 15, 30, 0, 0, time.UTC)
	ing := &fakeIngestor{res: &ingest.Result{
		TaskID:         "TRK-204_2024-12-13T15:30:00Z",
		NotifySelected: true,
		Alert: domain.GeofenceAlert{
			Unit:             "TRK-204",
			Yard:             "Delta",
			AlertTime:        alertTime,
			InspectionStatus: "Inspection was not completed ✗",
			MovingStatus:     domain.StatusChecking,
		},
	}}
	h := newTestHandler(ing, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/geofence-alert",
		strings.NewReader(`{"unit":"TRK-204","yard":"Delta"}`))
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["task_id"] != "TRK-204_2024-12-13T15:30:00Z" {
		t.Errorf("task_id = %v", resp["task_id"])
	}
	if resp["moving_status"] != string(domain.StatusChecking) {
		t.Errorf("moving_status = %v", resp["moving_status"])
	}
	if resp["notify_selected"] != true {
		t.Errorf("notify_selected = %v", resp["notify_selected"])
	}
}

func TestGeofenceAlertBadPayload(t *testing.T) {
	h := newTestHandler(nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/geofence-alert", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGeofenceAlertMissingUnit(t *testing.T) {
	h := newTestHandler(nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/geofence-alert", strings.NewReader(`{"yard":"Delta"}`))
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGeofenceAlertUnknownYard(t *testing.T) {
	ing := &fakeIngestor{err: ingest.ErrUnknownYard}
	h := newTestHandler(ing, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/geofence-alert",
		strings.NewReader(`{"unit":"TRK-204","yard":"Atlantis"}`))
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGeofenceAlertStoreDown(t *testing.T) {
	ing := &fakeIngestor{err: errors.New("db down")}
	h := newTestHandler(ing, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/geofence-alert",
		strings.NewReader(`{"unit":"TRK-204","yard":"Delta"}`))
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestMovementStatusPoll(t *testing.T) {
	st := &fakeStatuses{statuses: map[string]domain.MovingStatus{
		"TRK-204_2024-12-13T15:30:00Z": domain.StatusMovingAway,
	}}
	h := newTestHandler(nil, st, nil)

	req := httptest.NewRequest(http.MethodGet, "/movement-status/TRK-204_2024-12-13T15:30:00Z", nil)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["status"] != string(domain.StatusMovingAway) {
		t.Errorf("status = %q, want Moving Away", resp["status"])
	}

	req = httptest.NewRequest(http.MethodGet, "/movement-status/never-seen", nil)
	rec = httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["status"] != string(domain.StatusPending) {
		t.Errorf("unknown task status = %q, want pending", resp["status"])
	}
}

func TestListAlertsFormatting(t *testing.T) {
	dist := 512.4
	speed := 7.0
	sent := time.Date(2024, 12, 13, 15, 32, 0, 0, time.UTC)
	api := &fakeAPI{alerts: []domain.GeofenceAlert{{
		Unit:            "TRK-204",
		Yard:            "Delta",
		AlertTime:       time.Date(2024, 12, 13, 15, 30, 0, 0, time.UTC),
		DistanceAtAlert: &dist,
		SpeedAtAlert:    &speed,
		MovingStatus:    domain.StatusMovingAway,
		EmailSent:       true,
		EmailSentTime:   &sent,
	}}}
	h := newTestHandler(nil, nil, api)

	req := httptest.NewRequest(http.MethodGet, "/api/alerts", nil)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var views []alertView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("got %d views, want 1", len(views))
	}
	v := views[0]
	if v.DistanceAtAlert != "512 m" {
		t.Errorf("distance = %q, want \"512 m\"", v.DistanceAtAlert)
	}
	if v.SpeedAtAlert != "7 km/h" {
		t.Errorf("speed = %q, want \"7 km/h\"", v.SpeedAtAlert)
	}
	if v.DistanceAfter10s != "N/A" {
		t.Errorf("missing distance = %q, want N/A", v.DistanceAfter10s)
	}
	if !strings.Contains(v.AlertTime, "December 13, 2024") {
		t.Errorf("alert time should render in Pacific display form, got %q", v.AlertTime)
	}
	if v.InspectionDate != "N/A" {
		t.Errorf("nil inspection date = %q, want N/A", v.InspectionDate)
	}
}

func TestUpdateSetting(t *testing.T) {
	api := &fakeAPI{}
	h := newTestHandler(nil, nil, api)

	req := httptest.NewRequest(http.MethodPut, "/api/settings/check_movement_before_email",
		strings.NewReader(`{"value":"true"}`))
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	if api.updated["check_movement_before_email"] != "true" {
		t.Errorf("setting not persisted: %v", api.updated)
	}
}

func TestHealth(t *testing.T) {
	h := newTestHandler(nil, nil, &fakeAPI{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	h = newTestHandler(nil, nil, &fakeAPI{pingErr: errors.New("down")})
	rec = httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
