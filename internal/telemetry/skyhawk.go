// Package telemetry talks to the Skyhawk fleet-tracking API: bearer-token
// auth, asset lookup by unit name, and the latest GPS message within a
// short lookback window.
package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/r3tr0m0/Truck-Inspection-System/internal/domain"
)

// LabelUnavailable is the location text recorded when the provider cannot
// supply a fix. It flows into truck_details on the alert row.
const LabelUnavailable = "Geofence Alert Triggered - Could Not Fetch Skyhawk Data"

// messageLookback bounds how stale a GPS message may be and still count as
// the current position.
const messageLookback = 45 * time.Second

type SkyhawkClient struct {
	baseURL   string
	companyID string
	username  string
	password  string

	httpClient *http.Client

	mu    sync.Mutex
	token string
}

func NewSkyhawkClient(baseURL, companyID, username, password string) *SkyhawkClient {
	return &SkyhawkClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		companyID:  companyID,
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// TruckPosition returns the unit's latest position and speed. Every failure
// mode degrades to a no-data Position rather than an error: the movement
// pipeline treats missing readings as data, not as faults.
func (c *SkyhawkClient) TruckPosition(unit string) domain.Position {
	noData := domain.Position{Coords: domain.NoCoordinates(), Location: LabelUnavailable}

	token, err := c.authToken()
	if err != nil {
		slog.Error("skyhawk auth failed", "unit", unit, "error", err)
		return noData
	}

	assetID, err := c.findAsset(token, unit)
	if err != nil {
		slog.Warn("skyhawk asset lookup failed", "unit", unit, "error", err)
		return noData
	}

	msg, err := c.latestMessage(token, assetID)
	if err != nil {
		slog.Warn("skyhawk message fetch failed", "unit", unit, "error", err)
		return noData
	}

	pos := domain.Position{
		Coords:   domain.Coordinates{Lat: msg.GPS.Latitude, Lon: msg.GPS.Longitude},
		Location: msg.GPS.Location,
	}
	if pos.Location == "" {
		pos.Location = "Location data unavailable"
	}
	if msg.GPS.Speed != 0 {
		pos.Speed = fmt.Sprintf("%g km/h", msg.GPS.Speed)
	} else {
		pos.Speed = "0 km/h"
	}

	slog.Info("skyhawk position",
		"unit", unit,
		"lat", pos.Coords.Lat,
		"lon", pos.Coords.Lon,
		"speed", pos.Speed,
	)
	return pos
}

func (c *SkyhawkClient) authToken() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" {
		return c.token, nil
	}

	body, _ := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})
	resp, err := c.httpClient.Post(c.baseURL+"/auth", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read auth response: %w", err)
	}

	// The API returns the token as a bare quoted string.
	token := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if token == "" {
		return "", fmt.Errorf("empty token in auth response")
	}
	c.token = token
	return token, nil
}

// invalidateToken forces re-auth on the next call.
func (c *SkyhawkClient) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

type asset struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (c *SkyhawkClient) findAsset(token, unit string) (string, error) {
	u := fmt.Sprintf("%s/companies/%s/assets", c.baseURL, c.companyID)

	var assets []asset
	if err := c.getJSON(token, u, &assets); err != nil {
		return "", err
	}

	for _, a := range assets {
		if a.Name == unit {
			return a.ID, nil
		}
	}
	return "", fmt.Errorf("unit %q not in asset list", unit)
}

type gpsReading struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Location  string  `json:"location"`
	Speed     float64 `json:"speed"`
}

type message struct {
	ID        string     `json:"id"`
	Timestamp string     `json:"timestamp"`
	GPS       gpsReading `json:"gps"`
}

func (c *SkyhawkClient) latestMessage(token, assetID string) (*message, error) {
	now := time.Now().UTC()
	from := now.Add(-messageLookback)

	const stamp = "20060102T150405.000Z"
	q := url.Values{}
	q.Set("from", from.Format(stamp))
	q.Set("to", now.Format(stamp))

	u := fmt.Sprintf("%s/companies/%s/assets/%s/messages?%s", c.baseURL, c.companyID, assetID, q.Encode())

	var byAsset map[string][]message
	if err := c.getJSON(token, u, &byAsset); err != nil {
		return nil, err
	}

	msgs := byAsset[assetID]
	if len(msgs) == 0 {
		return nil, fmt.Errorf("no recent messages for asset %s", assetID)
	}
	return &msgs[0], nil
}

func (c *SkyhawkClient) getJSON(token, u string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.invalidateToken()
		return fmt.Errorf("token rejected (status 401)")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d from %s", resp.StatusCode, u)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", u, err)
	}
	return nil
}
