package inspection

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestStatus(t *testing.T) {
	alert := time.Date(2024, 11, 11, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		completion *time.Time
		period     float64
		wantValid  bool
		wantSubstr string
	}{
		{
			name:       "no inspection on record",
			completion: nil,
			period:     24,
			wantValid:  false,
			wantSubstr: "was not completed",
		},
		{
			name:       "recent inspection",
			completion: tp(alert.Add(-2 * time.Hour)),
			period:     24,
			wantValid:  true,
			wantSubstr: "2 hours",
		},
		{
			name:       "stale inspection",
			completion: tp(alert.Add(-30 * time.Hour)),
			period:     24,
			wantValid:  false,
			wantSubstr: "more than 24 hours ago",
		},
		{
			name:       "boundary is inclusive",
			completion: tp(alert.Add(-24 * time.Hour)),
			period:     24,
			wantValid:  true,
			wantSubstr: "24 hours",
		},
		{
			name:       "custom shorter period",
			completion: tp(alert.Add(-10 * time.Hour)),
			period:     8,
			wantValid:  false,
			wantSubstr: "more than 8 hours ago",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, valid := Status(tt.completion, alert, tt.period)
			if valid != tt.wantValid {
				t.Errorf("valid = %v, want %v (%q)", valid, tt.wantValid, text)
			}
			if !strings.Contains(text, tt.wantSubstr) {
				t.Errorf("text %q does not contain %q", text, tt.wantSubstr)
			}
		})
	}
}

func TestRecentCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("unit") {
		case "T100":
			json.NewEncoder(w).Encode([]map[string]string{
				{"Completion Date": "2024-11-11T06:00:00Z"},
			})
		case "T200":
			json.NewEncoder(w).Encode([]map[string]string{})
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)

	if got := c.RecentCompletion("T100"); got == nil {
		t.Error("want completion time for T100")
	} else if want := time.Date(2024, 11, 11, 6, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}

	if got := c.RecentCompletion("T200"); got != nil {
		t.Errorf("want nil for empty record list, got %v", got)
	}
	if got := c.RecentCompletion("T300"); got != nil {
		t.Errorf("want nil on server error, got %v", got)
	}
	if got := c.RecentCompletion(""); got != nil {
		t.Errorf("want nil for empty unit, got %v", got)
	}
}

func tp(t time.Time) *time.Time { return &t }
