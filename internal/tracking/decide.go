// Package tracking implements the per-unit alert ledger: the stateful
// record that decides whether a geofence departure warrants a fresh
// notification or falls inside an earlier alert's cooldown window.
package tracking

import (
	"time"

	"github.com/r3tr0m0/Truck-Inspection-System/internal/domain"
	"github.com/r3tr0m0/Truck-Inspection-System/internal/timeutil"
)

// CooldownWindow is how long repeated alerts for the same outstanding
// inspection stay suppressed before notifying again.
const CooldownWindow = 8 * time.Hour

// Decision is the outcome of evaluating one alert against the ledger.
type Decision struct {
	Notify bool
	Create bool // insert a new record rather than update
	Record domain.TrackingRecord
}

// Decide evaluates a departure alert for a unit against its existing
// tracking record (nil when the unit has never alerted). The returned
// Record is the ledger state that must be persisted, in the same
// transaction that read the existing one.
//
// Branches, in precedence order:
//   - no record: create with counter 1, notify
//   - same inspection, cooldown elapsed: reset counter and window, notify
//   - same inspection, inside cooldown: increment counter, suppress
//   - inspection changed: reset everything, notify
func Decide(existing *domain.TrackingRecord, unit string, inspection, alert time.Time) Decision {
	inspection = timeutil.ToUTC(inspection)
	alert = timeutil.ToUTC(alert)

	if existing == nil {
		return Decision{
			Notify: true,
			Create: true,
			Record: domain.TrackingRecord{
				UnitID:                unit,
				CurrentInspectionTime: inspection,
				FirstAlertTimestamp:   alert,
				AlertCounter:          1,
			},
		}
	}

	stored := timeutil.ToUTC(existing.CurrentInspectionTime)
	firstAlert := timeutil.ToUTC(existing.FirstAlertTimestamp)

	if stored.Equal(inspection) {
		if alert.Sub(firstAlert) > CooldownWindow {
			return Decision{
				Notify: true,
				Record: domain.TrackingRecord{
					UnitID:                unit,
					CurrentInspectionTime: stored,
					FirstAlertTimestamp:   alert,
					AlertCounter:          1,
				},
			}
		}
		return Decision{
			Notify: false,
			Record: domain.TrackingRecord{
				UnitID:                unit,
				CurrentInspectionTime: stored,
				FirstAlertTimestamp:   firstAlert,
				AlertCounter:          existing.AlertCounter + 1,
			},
		}
	}

	return Decision{
		Notify: true,
		Record: domain.TrackingRecord{
			UnitID:                unit,
			CurrentInspectionTime: inspection,
			FirstAlertTimestamp:   alert,
			AlertCounter:          1,
		},
	}
}
