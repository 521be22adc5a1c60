// Package movement classifies a vehicle's post-departure trajectory from
// three noisy (distance, speed) samples taken at 0s, +10s, and +30s.
package movement

import (
	"math"
	"strconv"
	"strings"

	"github.com/r3tr0m0/Truck-Inspection-System/internal/domain"
)

// Classification thresholds. A reading above SpeedMovingKmh on any sample is
// conclusive on its own; the distance delta catches slow rollouts the speed
// feed misses.
const (
	SpeedMovingKmh     = 15.0
	SpeedStationaryKmh = 5.0
	DistanceDeltaM     = 10.0
	MinValidReadings   = 2
)

// Classify maps three distance samples (meters, 0 means unavailable) and
// three speed samples (either a bare number or "<n> km/h", empty means
// unavailable) to a movement verdict.
//
// Ambiguous data that passes neither the moving-away nor the stationary
// checks defaults to Moving Away: a missed departure defeats the safety
// purpose, a spurious alert does not.
func Classify(distances [3]float64, speeds [3]string) domain.MovingStatus {
	parsedSpeeds := make([]*float64, 3)
	for i, s := range speeds {
		parsedSpeeds[i] = parseSpeed(s)
	}
	parsedDistances := make([]*float64, 3)
	for i, d := range distances {
		parsedDistances[i] = parseDistance(d)
	}

	if allNilOrZero(parsedSpeeds) && allNilOrZero(parsedDistances) {
		return domain.StatusNoData
	}

	validSpeeds := compact(parsedSpeeds)
	validDistances := compact(parsedDistances)

	if len(validSpeeds) < MinValidReadings && len(validDistances) < MinValidReadings {
		return domain.StatusNoData
	}

	if isMovingAway(validSpeeds, validDistances) {
		return domain.StatusMovingAway
	}
	if isStationary(validSpeeds, validDistances) {
		return domain.StatusStationary
	}
	if len(validSpeeds) > 0 || len(validDistances) > 0 {
		return domain.StatusMovingAway
	}
	return domain.StatusNoData
}

func isMovingAway(speeds, distances []float64) bool {
	for _, s := range speeds {
		if s > SpeedMovingKmh {
			return true
		}
	}
	if len(distances) >= 2 {
		if distances[len(distances)-1]-distances[0] > DistanceDeltaM {
			return true
		}
	}
	if len(speeds) >= 2 {
		last := speeds[len(speeds)-1]
		if last > speeds[0] && last > SpeedStationaryKmh {
			return true
		}
	}
	return false
}

func isStationary(speeds, distances []float64) bool {
	if len(speeds) > 0 {
		low := true
		for _, s := range speeds {
			if s > SpeedStationaryKmh {
				low = false
				break
			}
		}
		if low {
			return true
		}
	}
	if len(distances) >= 2 {
		min, max := distances[0], distances[0]
		for _, d := range distances[1:] {
			if d < min {
				min = d
			}
			if d > max {
				max = d
			}
		}
		if max-min < DistanceDeltaM {
			return true
		}

		// Identical readings rounded to centimeter precision mean a parked
		// vehicle reporting the same fix repeatedly.
		first := math.Round(distances[0]*100) / 100
		identical := true
		for _, d := range distances[1:] {
			if math.Round(d*100)/100 != first {
				identical = false
				break
			}
		}
		if identical {
			return true
		}
	}
	return false
}

// parseSpeed accepts "7", "7.5", or "7 km/h". Anything else is a missing
// reading.
func parseSpeed(s string) *float64 {
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

// parseDistance treats zero and NaN as the "unavailable" sentinel, not a
// real zero-meter reading.
func parseDistance(d float64) *float64 {
	if d == 0 || math.IsNaN(d) {
		return nil
	}
	return &d
}

func allNilOrZero(vals []*float64) bool {
	for _, v := range vals {
		if v != nil && *v != 0 {
			return false
		}
	}
	return true
}

func compact(vals []*float64) []float64 {
	out := make([]float64, 0, len(vals))
	for _, v := range vals {
		if v != nil {
			out = append(out, *v)
		}
	}
	return out
}
