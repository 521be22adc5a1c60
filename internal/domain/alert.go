package domain

import (
	"encoding/json"
	"math"
	"time"
)

// MovingStatus is the verdict of a movement check.
type MovingStatus string

const (
	StatusChecking   MovingStatus = "Checking movement..."
	StatusPending    MovingStatus = "pending"
	StatusMovingAway MovingStatus = "Moving Away"
	StatusStationary MovingStatus = "Stationary"
	StatusNoData     MovingStatus = "No Data Found"
	StatusCheckError MovingStatus = "Error checking movement"
)

// Coordinates is a WGS84 lat/lon pair. Missing readings are NaN.
type Coordinates struct {
	Lat float64
	Lon float64
}

// Valid reports whether both components carry a real reading.
func (c Coordinates) Valid() bool {
	return !math.IsNaN(c.Lat) && !math.IsNaN(c.Lon)
}

// NoCoordinates marks a position the telemetry provider could not supply.
func NoCoordinates() Coordinates {
	return Coordinates{Lat: math.NaN(), Lon: math.NaN()}
}

// Position is one telemetry reading for a unit. Speed is the provider's
// display string ("<n> km/h"); empty means no reading.
type Position struct {
	Coords   Coordinates
	Location string
	Speed    string
}

// GeofenceAlert is one row of geofence_alerts. (Unit, AlertTime) is the
// natural key; the worker finalizes the measurement and email fields exactly
// once after insertion.
type GeofenceAlert struct {
	Unit             string
	Yard             string
	AlertTime        time.Time
	InspectionDate   *time.Time
	InspectionStatus string
	Shift            string
	TruckDetails     string
	YardCoordinates  string
	Supervisors      []Supervisor

	DistanceAtAlert  *float64
	DistanceAfter10s *float64
	DistanceAfter30s *float64
	SpeedAtAlert     *float64
	SpeedAfter10s    *float64
	SpeedAfter30s    *float64

	MovingStatus           MovingStatus
	MovementCheckCompleted bool
	EmailSent              bool
	EmailSentTime          *time.Time
	AlertToEmailTimeDiff   string
}

// TrackingRecord is one row of unit_alert_tracking, the per-unit ledger
// state behind notification dedup.
type TrackingRecord struct {
	UnitID                string
	CurrentInspectionTime time.Time
	FirstAlertTimestamp   time.Time
	AlertCounter          int
}

// Supervisor is one entry of a yard's supervisor directory.
type Supervisor struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// EncodeSupervisors serializes a supervisor list for the text column.
func EncodeSupervisors(sups []Supervisor) string {
	if len(sups) == 0 {
		return "[]"
	}
	b, err := json.Marshal(sups)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// DecodeSupervisors parses a serialized supervisor list. Unparseable input
// yields an empty list rather than an error: rows written before the codec
// existed must not break alert listing.
func DecodeSupervisors(s string) []Supervisor {
	if s == "" || s == "None" {
		return nil
	}
	var sups []Supervisor
	if err := json.Unmarshal([]byte(s), &sups); err != nil {
		return nil
	}
	return sups
}
