package tracking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/r3tr0m0/Truck-Inspection-System/internal/domain"
)

// Ledger applies Decide against unit_alert_tracking atomically. The row
// lock serializes concurrent departures for the same unit so two triggers
// in quick succession cannot both see counter 0 and double-notify.
type Ledger struct {
	pool *pgxpool.Pool
}

func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// ShouldNotify reports whether this alert occurrence warrants notification,
// updating the unit's tracking record as a side effect of the same
// transaction.
//
// Any failure (connection, malformed row, commit) fails open to true:
// over-notifying beats silently suppressing a safety alert.
func (l *Ledger) ShouldNotify(ctx context.Context, unit string, inspection, alert time.Time) bool {
	notify, err := l.shouldNotify(ctx, unit, inspection, alert)
	if err != nil {
		slog.Error("alert tracking failed, failing open to notify",
			"unit", unit,
			"error", err,
		)
		return true
	}
	return notify
}

func (l *Ledger) shouldNotify(ctx context.Context, unit string, inspection, alert time.Time) (bool, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	existing, err := lockRecord(ctx, tx, unit)
	if err != nil {
		return false, err
	}

	d := Decide(existing, unit, inspection, alert)

	if d.Create {
		_, err = tx.Exec(ctx, `
			INSERT INTO unit_alert_tracking
				(unit_id, current_inspection_time, first_alert_timestamp, alert_counter)
			VALUES ($1, $2, $3, $4)
		`, d.Record.UnitID, d.Record.CurrentInspectionTime, d.Record.FirstAlertTimestamp, d.Record.AlertCounter)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE unit_alert_tracking
			SET current_inspection_time = $2,
			    first_alert_timestamp   = $3,
			    alert_counter           = $4
			WHERE unit_id = $1
		`, d.Record.UnitID, d.Record.CurrentInspectionTime, d.Record.FirstAlertTimestamp, d.Record.AlertCounter)
	}
	if err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}

	slog.Info("alert tracking decided",
		"unit", unit,
		"notify", d.Notify,
		"counter", d.Record.AlertCounter,
	)
	return d.Notify, nil
}

func lockRecord(ctx context.Context, tx pgx.Tx, unit string) (*domain.TrackingRecord, error) {
	row := tx.QueryRow(ctx, `
		SELECT unit_id, current_inspection_time, first_alert_timestamp, alert_counter
		FROM unit_alert_tracking
		WHERE unit_id = $1
		FOR UPDATE
	`, unit)

	var rec domain.TrackingRecord
	err := row.Scan(&rec.UnitID, &rec.CurrentInspectionTime, &rec.FirstAlertTimestamp, &rec.AlertCounter)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
