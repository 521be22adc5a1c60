// Package yards looks up yard coordinates and the supervisor directory
// from the facilities API.
package yards

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/r3tr0m0/Truck-Inspection-System/internal/domain"
)

type Client struct {
	yardURL       string
	supervisorURL string
	httpClient    *http.Client
}

func NewClient(yardURL, supervisorURL string) *Client {
	return &Client{
		yardURL:       yardURL,
		supervisorURL: supervisorURL,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Coordinates returns a yard's reference point, or missing coordinates when
// the lookup fails. A failed lookup does not block the alert; it only makes
// the distance samples read as unavailable.
func (c *Client) Coordinates(yard string) domain.Coordinates {
	if yard == "" || c.yardURL == "" {
		return domain.NoCoordinates()
	}

	q := url.Values{}
	q.Set("yard", yard)
	resp, err := c.httpClient.Get(c.yardURL + "?" + q.Encode())
	if err != nil {
		slog.Error("yard lookup failed", "yard", yard, "error", err)
		return domain.NoCoordinates()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Error("yard lookup failed", "yard", yard, "status", resp.StatusCode)
		return domain.NoCoordinates()
	}

	var records []struct {
		Latitude  float64 `json:"Latitude"`
		Longitude float64 `json:"Longitude"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		slog.Error("yard response unparseable", "yard", yard, "error", err)
		return domain.NoCoordinates()
	}
	if len(records) == 0 {
		slog.Warn("no coordinates for yard", "yard", yard)
		return domain.NoCoordinates()
	}

	return domain.Coordinates{Lat: records[0].Latitude, Lon: records[0].Longitude}
}

// Supervisors returns the supervisors assigned to a yard; empty on any
// failure.
func (c *Client) Supervisors(yard string) []domain.Supervisor {
	if yard == "" || c.supervisorURL == "" {
		return nil
	}

	q := url.Values{}
	q.Set("yard", yard)
	resp, err := c.httpClient.Get(c.supervisorURL + "?" + q.Encode())
	if err != nil {
		slog.Error("supervisor lookup failed", "yard", yard, "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Error("supervisor lookup failed", "yard", yard, "status", resp.StatusCode)
		return nil
	}

	var records []struct {
		Name  string `json:"Name"`
		Email string `json:"Email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		slog.Error("supervisor response unparseable", "yard", yard, "error", err)
		return nil
	}

	sups := make([]domain.Supervisor, 0, len(records))
	for _, r := range records {
		sups = append(sups, domain.Supervisor{Name: r.Name, Email: r.Email})
	}
	return sups
}
