// Package worker runs the asynchronous movement verification pipeline: a
// single loop pops queued geofence departures, samples the unit's telemetry
// three times, classifies the trajectory, and drives the notification and
// persistence steps.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/r3tr0m0/Truck-Inspection-System/internal/domain"
	"github.com/r3tr0m0/Truck-Inspection-System/internal/geo"
	"github.com/r3tr0m0/Truck-Inspection-System/internal/metrics"
	"github.com/r3tr0m0/Truck-Inspection-System/internal/movement"
	"github.com/r3tr0m0/Truck-Inspection-System/internal/store"
)

// Sampling cadence: first reading immediately, second after 10s, third at
// 30s total. One task therefore occupies the loop for at least 30 seconds.
const (
	FirstSampleDelay  = 10 * time.Second
	SecondSampleDelay = 20 * time.Second

	idleWait = time.Second
)

// AlertStore is the slice of the Postgres store the checker uses.
type AlertStore interface {
	LoadCheckContext(ctx context.Context, unit string, alertTime time.Time) (*store.CheckContext, error)
	FinalizeMovementCheck(ctx context.Context, unit string, alertTime time.Time, status domain.MovingStatus, distances [3]float64, speeds [3]string) error
	UpdateEmailStatus(ctx context.Context, unit string, alertTime time.Time, success bool) error
	Setting(ctx context.Context, name, fallback string) string
}

// Notifier sends the missing-inspection alert and reports overall success.
type Notifier interface {
	SendInspectionAlert(ctx context.Context, unit, yard string, inspectionDate *time.Time) bool
}

// PositionFetcher supplies one telemetry reading per call.
type PositionFetcher interface {
	TruckPosition(unit string) domain.Position
}

// FeedPublisher pushes resolved verdicts to connected dashboard clients.
type FeedPublisher interface {
	PublishVerdict(unit string, status domain.MovingStatus, alertTime time.Time)
}

// Task is one queued movement verification for a single departure event.
type Task struct {
	Unit       string
	Yard       string
	YardCoords domain.Coordinates
	AlertTime  time.Time
}

func (t Task) ID() string {
	return fmt.Sprintf("%s_%s", t.Unit, t.AlertTime.UTC().Format(time.RFC3339))
}

// Checker owns the task queue and the status registry. Construct with New
// and run the loop with Run; Enqueue and Status are safe for concurrent use.
type Checker struct {
	store     AlertStore
	notifier  Notifier
	telemetry PositionFetcher
	cache     *store.Redis
	feed      FeedPublisher

	firstDelay  time.Duration
	secondDelay time.Duration
	idle        time.Duration

	mu     sync.Mutex
	queue  []Task
	status map[string]domain.MovingStatus
}

func New(alerts AlertStore, notifier Notifier, telemetry PositionFetcher, cache *store.Redis, feed FeedPublisher) *Checker {
	return &Checker{
		store:       alerts,
		notifier:    notifier,
		telemetry:   telemetry,
		cache:       cache,
		feed:        feed,
		firstDelay:  FirstSampleDelay,
		secondDelay: SecondSampleDelay,
		idle:        idleWait,
		status:      make(map[string]domain.MovingStatus),
	}
}

// Enqueue registers a task as pending and returns its id immediately. It
// never blocks on the worker loop.
func (c *Checker) Enqueue(unit, yard string, yardCoords domain.Coordinates, alertTime time.Time) string {
	t := Task{Unit: unit, Yard: yard, YardCoords: yardCoords, AlertTime: alertTime.UTC()}
	id := t.ID()

	c.mu.Lock()
	c.queue = append(c.queue, t)
	c.status[id] = domain.StatusPending
	c.mu.Unlock()

	slog.Info("movement check queued", "unit", unit, "yard", yard, "task", id)
	return id
}

// Status returns the last known state for a task id, or "pending" for ids
// the registry has not seen. Entries are kept for the process lifetime.
func (c *Checker) Status(taskID string) domain.MovingStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.status[taskID]; ok {
		return s
	}
	return domain.StatusPending
}

func (c *Checker) setStatus(taskID string, s domain.MovingStatus) {
	c.mu.Lock()
	c.status[taskID] = s
	c.mu.Unlock()
}

func (c *Checker) pop() (Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return Task{}, false
	}
	t := c.queue[0]
	c.queue = c.queue[1:]
	return t, true
}

// Run processes tasks strictly one at a time until ctx is cancelled. A task
// interrupted mid-sampling still resolves through the error path so its
// registry entry never stays pending.
func (c *Checker) Run(ctx context.Context) {
	slog.Info("movement check worker started")
	for {
		t, ok := c.pop()
		if !ok {
			select {
			case <-ctx.Done():
				slog.Info("movement check worker stopped")
				return
			case <-time.After(c.idle):
			}
			continue
		}
		c.processOne(ctx, t)
	}
}

func (c *Checker) processOne(ctx context.Context, t Task) {
	logger := slog.With("unit", t.Unit, "task", t.ID())
	logger.Info("movement check started", "yard", t.Yard)

	verdict := domain.StatusCheckError
	var (
		distances [3]float64
		speeds    [3]string
	)

	cc, err := c.store.LoadCheckContext(ctx, t.Unit, t.AlertTime)
	if err != nil {
		logger.Error("load check context failed", "error", err)
	}

	gate := cc != nil && shouldEmail(cc)

	// check_movement_before_email=true defers the notification until the
	// verdict is in, and only a Moving Away verdict releases it. The
	// default notifies immediately, before any sampling.
	checkFirst := c.store.Setting(ctx, "check_movement_before_email", "false") == "true"

	emailAttempted := false
	emailSuccess := false
	if gate && !checkFirst {
		emailAttempted = true
		emailSuccess = c.notifier.SendInspectionAlert(ctx, t.Unit, cc.Yard, cc.InspectionDate)
	}

	if cc != nil {
		if err := c.sample(ctx, t, &distances, &speeds); err != nil {
			logger.Warn("sampling interrupted", "error", err)
			distances, speeds = [3]float64{}, [3]string{}
		} else {
			verdict = movement.Classify(distances, speeds)
		}
	}

	// The finalize write must land even when the loop is shutting down,
	// otherwise the row stays "Checking movement..." forever.
	finCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()

	if err := c.store.FinalizeMovementCheck(finCtx, t.Unit, t.AlertTime, verdict, distances, speeds); err != nil {
		logger.Error("persist movement check failed", "error", err)
	}

	if gate && checkFirst && verdict == domain.StatusMovingAway {
		emailAttempted = true
		emailSuccess = c.notifier.SendInspectionAlert(finCtx, t.Unit, cc.Yard, cc.InspectionDate)
	}

	if emailAttempted {
		if emailSuccess {
			metrics.EmailsSent.Add(1)
		} else {
			metrics.EmailFailures.Add(1)
		}
		if err := c.store.UpdateEmailStatus(finCtx, t.Unit, t.AlertTime, emailSuccess); err != nil {
			logger.Error("persist email status failed", "error", err)
		}
	}

	if verdict == domain.StatusCheckError {
		metrics.CheckErrors.Add(1)
	} else {
		metrics.ChecksCompleted.Add(1)
	}

	if err := c.cache.PublishVerdict(finCtx, t.Unit, t.Yard, verdict, t.AlertTime); err != nil {
		logger.Warn("publish verdict failed", "error", err)
	}
	if c.feed != nil {
		c.feed.PublishVerdict(t.Unit, verdict, t.AlertTime)
	}

	// Last action: resolve the registry entry.
	c.setStatus(t.ID(), verdict)
	logger.Info("movement check resolved", "verdict", string(verdict), "email_sent", emailSuccess)
}

// sample collects the three timed readings. Telemetry failures yield NaN
// coordinates and empty speed, which flow into the classifier as missing
// data rather than failing the task.
func (c *Checker) sample(ctx context.Context, t Task, distances *[3]float64, speeds *[3]string) error {
	delays := [3]time.Duration{0, c.firstDelay, c.secondDelay}
	for i, delay := range delays {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		pos := c.telemetry.TruckPosition(t.Unit)
		dist := geo.DistanceMeters(t.YardCoords, pos.Coords)
		distances[i] = dist
		speeds[i] = pos.Speed

		if err := c.cache.RecordSample(ctx, t.Unit, t.Yard, pos.Coords, pos.Speed, dist, time.Now()); err != nil {
			slog.Warn("cache sample failed", "unit", t.Unit, "error", err)
		}
	}
	return nil
}

// shouldEmail gates notification on the ledger having selected this
// occurrence (first alert of the window) and the inspection being invalid.
func shouldEmail(cc *store.CheckContext) bool {
	if cc.AlertCounter == nil || *cc.AlertCounter != 1 {
		return false
	}
	return !strings.Contains(cc.InspectionStatus, "✅")
}
