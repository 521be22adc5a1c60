package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/r3tr0m0/Truck-Inspection-System/internal/domain"
)

// Postgres owns the connection pool for the alert tables. Every method
// acquires, uses, and releases a connection within one call; nothing holds
// a connection across the worker's sampling waits.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create db pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	s.pool.Close()
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Pool exposes the underlying pool for collaborators that need their own
// transactions (the tracking ledger).
func (s *Postgres) Pool() *pgxpool.Pool {
	return s.pool
}

// InsertAlert records a departure event at ingestion time. Measurement and
// email fields stay at their defaults until the worker finalizes them.
func (s *Postgres) InsertAlert(ctx context.Context, a *domain.GeofenceAlert) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO geofence_alerts (
			unit, yard, alert_time, inspection_date, inspection_status, shift,
			truck_details, yard_coordinates, supervisors,
			movement_check_completed, moving_status, email_sent, email_sent_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE, $10, FALSE, NULL)
	`,
		a.Unit, a.Yard, a.AlertTime, a.InspectionDate, a.InspectionStatus, a.Shift,
		a.TruckDetails, a.YardCoordinates, domain.EncodeSupervisors(a.Supervisors),
		string(domain.StatusChecking),
	)
	if err != nil {
		return fmt.Errorf("insert geofence alert: %w", err)
	}
	return nil
}

// CheckContext is what the worker needs to know about an alert row before
// sampling: who to notify and whether the ledger selected this occurrence.
type CheckContext struct {
	Yard             string
	InspectionDate   *time.Time
	InspectionStatus string
	Supervisors      []domain.Supervisor
	AlertCounter     *int // nil when the unit has no tracking record
}

// LoadCheckContext reads the alert row joined with the unit's current
// ledger counter.
func (s *Postgres) LoadCheckContext(ctx context.Context, unit string, alertTime time.Time) (*CheckContext, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT ga.yard, ga.inspection_date, ga.inspection_status, ga.supervisors,
		       uat.alert_counter
		FROM geofence_alerts ga
		LEFT JOIN unit_alert_tracking uat ON ga.unit = uat.unit_id
		WHERE ga.unit = $1 AND ga.alert_time = $2
	`, unit, alertTime)

	var (
		cc          CheckContext
		supervisors string
	)
	err := row.Scan(&cc.Yard, &cc.InspectionDate, &cc.InspectionStatus, &supervisors, &cc.AlertCounter)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("no alert row for %s at %s", unit, alertTime.Format(time.RFC3339))
	}
	if err != nil {
		return nil, fmt.Errorf("load check context: %w", err)
	}
	cc.Supervisors = domain.DecodeSupervisors(supervisors)
	return &cc, nil
}

// FinalizeMovementCheck writes the six raw measurements and the verdict,
// and marks the check completed. Runs unconditionally, including on the
// worker's error path with zeroed measurements.
func (s *Postgres) FinalizeMovementCheck(
	ctx context.Context,
	unit string,
	alertTime time.Time,
	status domain.MovingStatus,
	distances [3]float64,
	speeds [3]string,
) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE geofence_alerts
		SET moving_status            = $3,
		    distance_at_alert        = $4,
		    distance_after_10s       = $5,
		    distance_after_30s       = $6,
		    speed_at_alert           = $7,
		    speed_after_10s          = $8,
		    speed_after_30s          = $9,
		    movement_check_completed = TRUE
		WHERE unit = $1 AND alert_time = $2
	`,
		unit, alertTime, string(status),
		nullableDistance(distances[0]), nullableDistance(distances[1]), nullableDistance(distances[2]),
		nullableSpeed(speeds[0]), nullableSpeed(speeds[1]), nullableSpeed(speeds[2]),
	)
	if err != nil {
		return fmt.Errorf("finalize movement check: %w", err)
	}
	return nil
}

// UpdateEmailStatus records the notification outcome on the alert row. The
// alert-to-email interval is derived in SQL so it stays consistent with the
// stored alert_time.
func (s *Postgres) UpdateEmailStatus(ctx context.Context, unit string, alertTime time.Time, success bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE geofence_alerts
		SET email_sent      = $3,
		    email_sent_time = CASE WHEN $3 THEN NOW() AT TIME ZONE 'UTC' ELSE NULL END,
		    alert_to_email_time_diff = CASE
		        WHEN $3 THEN age(NOW() AT TIME ZONE 'UTC', alert_time)::text
		        ELSE NULL
		    END
		WHERE unit = $1 AND alert_time = $2
	`, unit, alertTime, success)
	if err != nil {
		return fmt.Errorf("update email status: %w", err)
	}
	return nil
}

// ListAlerts returns the most recent alert rows, newest first.
func (s *Postgres) ListAlerts(ctx context.Context, limit int) ([]domain.GeofenceAlert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT unit, yard, alert_time, inspection_date, inspection_status,
		       shift, truck_details, yard_coordinates, supervisors,
		       distance_at_alert, distance_after_10s, distance_after_30s,
		       speed_at_alert, speed_after_10s, speed_after_30s,
		       moving_status, movement_check_completed, email_sent,
		       email_sent_time, COALESCE(alert_to_email_time_diff, '')
		FROM geofence_alerts
		ORDER BY alert_time DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []domain.GeofenceAlert
	for rows.Next() {
		var (
			a           domain.GeofenceAlert
			supervisors string
			status      string
		)
		err := rows.Scan(
			&a.Unit, &a.Yard, &a.AlertTime, &a.InspectionDate, &a.InspectionStatus,
			&a.Shift, &a.TruckDetails, &a.YardCoordinates, &supervisors,
			&a.DistanceAtAlert, &a.DistanceAfter10s, &a.DistanceAfter30s,
			&a.SpeedAtAlert, &a.SpeedAfter10s, &a.SpeedAfter30s,
			&status, &a.MovementCheckCompleted, &a.EmailSent,
			&a.EmailSentTime, &a.AlertToEmailTimeDiff,
		)
		if err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		a.Supervisors = domain.DecodeSupervisors(supervisors)
		a.MovingStatus = domain.MovingStatus(status)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// Setting reads one app setting, applying the stored type. Numeric settings
// are validated as numbers but returned as their canonical string form;
// callers needing the value use SettingFloat.
func (s *Postgres) Setting(ctx context.Context, name, fallback string) string {
	row := s.pool.QueryRow(ctx,
		`SELECT setting_value, setting_type FROM app_settings WHERE setting_name = $1`, name)

	var value, settingType string
	if err := row.Scan(&value, &settingType); err != nil {
		return fallback
	}
	return value
}

// SettingFloat reads a numeric setting, falling back on missing or
// non-numeric values.
func (s *Postgres) SettingFloat(ctx context.Context, name string, fallback float64) float64 {
	v := s.Setting(ctx, name, "")
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fallback
	}
	return f
}

// UpdateSetting writes a setting value.
func (s *Postgres) UpdateSetting(ctx context.Context, name, value string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE app_settings SET setting_value = $2 WHERE setting_name = $1`, name, value)
	if err != nil {
		return fmt.Errorf("update setting %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("unknown setting %s", name)
	}
	return nil
}

// ListSettings returns all app settings as name -> value.
func (s *Postgres) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT setting_name, setting_value FROM app_settings`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		out[name] = value
	}
	return out, rows.Err()
}

// SupervisorEmails returns the selected supervisor addresses for a yard.
func (s *Postgres) SupervisorEmails(ctx context.Context, yard string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT supervisor_email
		FROM yard_supervisors
		WHERE yard_name = $1
		  AND is_selected = TRUE
		  AND supervisor_email IS NOT NULL
	`, yard)
	if err != nil {
		return nil, fmt.Errorf("supervisor emails for %s: %w", yard, err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}

// nullableDistance maps the 0 sentinel to NULL so the table distinguishes
// "no reading" from a real measurement.
func nullableDistance(d float64) *float64 {
	if d == 0 {
		return nil
	}
	return &d
}

// nullableSpeed parses "<n> km/h" or a bare number; unparseable readings
// store as NULL.
func nullableSpeed(s string) *float64 {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) == 0 {
		return nil
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return nil
	}
	return &v
}
