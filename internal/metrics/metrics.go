package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	AlertsReceived  atomic.Int64
	ChecksCompleted atomic.Int64
	CheckErrors     atomic.Int64
	EmailsSent      atomic.Int64
	EmailFailures   atomic.Int64
)

func HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "yardwatch_alerts_received_total %d\n", AlertsReceived.Load())
	fmt.Fprintf(w, "yardwatch_checks_completed_total %d\n", ChecksCompleted.Load())
	fmt.Fprintf(w, "yardwatch_check_errors_total %d\n", CheckErrors.Load())
	fmt.Fprintf(w, "yardwatch_emails_sent_total %d\n", EmailsSent.Load())
	fmt.Fprintf(w, "yardwatch_email_failures_total %d\n", EmailFailures.Load())
}
