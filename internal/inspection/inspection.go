// Package inspection resolves a unit's most recent pre-trip inspection and
// judges whether it is recent enough to cover a departure.
package inspection

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/r3tr0m0/Truck-Inspection-System/internal/timeutil"
)

// DefaultPeriodHours is the validity window when the inspection_period_hours
// setting is absent.
const DefaultPeriodHours = 24

// Status renders the human-readable inspection state shown on alerts and
// emails, plus the validity flag the notification gate uses.
func Status(completionDate *time.Time, alertTime time.Time, periodHours float64) (string, bool) {
	if completionDate == nil {
		return "Inspection was not completed ✗", false
	}

	elapsed := alertTime.Sub(*completionDate)
	if elapsed < 0 {
		elapsed = -elapsed
	}

	if elapsed.Hours() <= periodHours {
		return fmt.Sprintf("Inspection done %s ago ✅", timeutil.DescribeElapsed(elapsed)), true
	}
	return fmt.Sprintf("Inspection done but more than %d hours ago ❌", int(periodHours)), false
}

// Client fetches the latest trip inspection from the DRM API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// RecentCompletion returns the unit's latest inspection completion time, or
// nil when no inspection is on record or the lookup fails. Lookup failures
// are deliberately indistinguishable from "no inspection": both must alert.
func (c *Client) RecentCompletion(unit string) *time.Time {
	if unit == "" || c.baseURL == "" {
		return nil
	}

	q := url.Values{}
	q.Set("unit", unit)
	resp, err := c.httpClient.Get(c.baseURL + "?" + q.Encode())
	if err != nil {
		slog.Error("inspection lookup failed", "unit", unit, "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Error("inspection lookup failed", "unit", unit, "status", resp.StatusCode)
		return nil
	}

	var records []struct {
		CompletionDate string `json:"Completion Date"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		slog.Error("inspection response unparseable", "unit", unit, "error", err)
		return nil
	}
	if len(records) == 0 || records[0].CompletionDate == "" {
		slog.Warn("no inspection on record", "unit", unit)
		return nil
	}

	t, err := timeutil.ParseUTC(records[0].CompletionDate)
	if err != nil {
		slog.Error("inspection completion date unparseable",
			"unit", unit,
			"value", records[0].CompletionDate,
			"error", err,
		)
		return nil
	}
	return &t
}
