// Package ingest turns a geofence departure event into a stored alert row
// and a queued movement check. The HTTP webhook and the Kafka intake both
// run the same pipeline.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/r3tr0m0/Truck-Inspection-System/internal/domain"
	"github.com/r3tr0m0/Truck-Inspection-System/internal/inspection"
	"github.com/r3tr0m0/Truck-Inspection-System/internal/metrics"
	"github.com/r3tr0m0/Truck-Inspection-System/internal/timeutil"
)

// Event is one geofence departure signal. A zero AlertTime means "now".
type Event struct {
	Unit      string    `json:"unit"`
	Yard      string    `json:"yard"`
	AlertTime time.Time `json:"alert_time"`
}

func (e Event) Validate() error {
	if e.Unit == "" {
		return fmt.Errorf("unit is required")
	}
	if e.Yard == "" {
		return fmt.Errorf("yard is required")
	}
	return nil
}

// Result is what the caller gets back once the event is accepted.
type Result struct {
	TaskID         string
	NotifySelected bool
	Alert          domain.GeofenceAlert
}

type AlertStore interface {
	InsertAlert(ctx context.Context, a *domain.GeofenceAlert) error
	SettingFloat(ctx context.Context, name string, fallback float64) float64
}

type DedupLedger interface {
	ShouldNotify(ctx context.Context, unit string, inspection, alert time.Time) bool
}

type YardDirectory interface {
	Coordinates(yard string) domain.Coordinates
	Supervisors(yard string) []domain.Supervisor
}

type InspectionSource interface {
	RecentCompletion(unit string) *time.Time
}

type PositionFetcher interface {
	TruckPosition(unit string) domain.Position
}

type CheckQueue interface {
	Enqueue(unit, yard string, yardCoords domain.Coordinates, alertTime time.Time) string
}

type Ingestor struct {
	store       AlertStore
	ledger      DedupLedger
	yards       YardDirectory
	inspections InspectionSource
	telemetry   PositionFetcher
	queue       CheckQueue
}

func New(store AlertStore, ledger DedupLedger, yards YardDirectory, inspections InspectionSource, telemetry PositionFetcher, queue CheckQueue) *Ingestor {
	return &Ingestor{
		store:       store,
		ledger:      ledger,
		yards:       yards,
		inspections: inspections,
		telemetry:   telemetry,
		queue:       queue,
	}
}

// ErrUnknownYard marks events whose yard has no known coordinates; callers
// map it to a client error rather than a server failure.
var ErrUnknownYard = fmt.Errorf("unknown yard")

// Handle gathers the alert context, records the ledger decision, stores the
// initial row, and queues the movement check.
func (i *Ingestor) Handle(ctx context.Context, ev Event) (*Result, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	metrics.AlertsReceived.Add(1)

	alertTime := timeutil.ToUTC(ev.AlertTime)
	if ev.AlertTime.IsZero() {
		alertTime = time.Now().UTC()
	}

	yardCoords := i.yards.Coordinates(ev.Yard)
	if !yardCoords.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownYard, ev.Yard)
	}

	pos := i.telemetry.TruckPosition(ev.Unit)
	inspDate := i.inspections.RecentCompletion(ev.Unit)
	period := i.store.SettingFloat(ctx, "inspection_period_hours", inspection.DefaultPeriodHours)
	inspStatus, _ := inspection.Status(inspDate, alertTime, period)

	var inspTime time.Time
	if inspDate != nil {
		inspTime = *inspDate
	}
	notify := i.ledger.ShouldNotify(ctx, ev.Unit, inspTime, alertTime)

	alert := domain.GeofenceAlert{
		Unit:             ev.Unit,
		Yard:             ev.Yard,
		AlertTime:        alertTime,
		InspectionDate:   inspDate,
		InspectionStatus: inspStatus,
		Shift:            timeutil.Shift(alertTime),
		TruckDetails:     pos.Location,
		YardCoordinates:  fmt.Sprintf("%.6f,%.6f", yardCoords.Lat, yardCoords.Lon),
		Supervisors:      i.yards.Supervisors(ev.Yard),
		MovingStatus:     domain.StatusChecking,
	}
	if err := i.store.InsertAlert(ctx, &alert); err != nil {
		return nil, fmt.Errorf("store alert: %w", err)
	}

	taskID := i.queue.Enqueue(ev.Unit, ev.Yard, yardCoords, alertTime)
	slog.Info("geofence alert ingested",
		"unit", ev.Unit,
		"yard", ev.Yard,
		"task", taskID,
		"notify_selected", notify,
		"inspection_status", inspStatus,
	)
	return &Result{TaskID: taskID, NotifySelected: notify, Alert: alert}, nil
}
