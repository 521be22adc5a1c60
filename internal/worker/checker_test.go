package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/r3tr0m0/Truck-Inspection-System/internal/domain"
	"github.com/r3tr0m0/Truck-Inspection-System/internal/store"
)

const metersPerDegreeLat = 111194.93

// unitNorth places a point the given number of meters due north of origin.
func unitNorth(origin domain.Coordinates, meters float64) domain.Coordinates {
	return domain.Coordinates{Lat: origin.Lat + meters/metersPerDegreeLat, Lon: origin.Lon}
}

type finalizeCall struct {
	verdict   domain.MovingStatus
	distances [3]float64
	speeds    [3]string
}

type fakeStore struct {
	mu sync.Mutex

	cc    *store.CheckContext
	ccErr error

	settings map[string]string

	finalized   *finalizeCall
	emailStatus *bool
}

func (f *fakeStore) LoadCheckContext(_ context.Context, _ string, _ time.Time) (*store.CheckContext, error) {
	if f.ccErr != nil {
		return nil, f.ccErr
	}
	return f.cc, nil
}

func (f *fakeStore) FinalizeMovementCheck(_ context.Context, _ string, _ time.Time, status domain.MovingStatus, distances [3]float64, speeds [3]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized = &finalizeCall{verdict: status, distances: distances, speeds: speeds}
	return nil
}

func (f *fakeStore) UpdateEmailStatus(_ context.Context, _ string, _ time.Time, success bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emailStatus = &success
	return nil
}

func (f *fakeStore) Setting(_ context.Context, name, fallback string) string {
	if v, ok := f.settings[name]; ok {
		return v
	}
	return fallback
}

type fakeNotifier struct {
	mu      sync.Mutex
	calls   int
	succeed bool
}

func (n *fakeNotifier) SendInspectionAlert(_ context.Context, _, _ string, _ *time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	return n.succeed
}

func (n *fakeNotifier) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

// fakeTelemetry replays a fixed sequence of readings, then repeats the last.
type fakeTelemetry struct {
	mu        sync.Mutex
	positions []domain.Position
	calls     int
}

func (t *fakeTelemetry) TruckPosition(_ string) domain.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.calls
	if i >= len(t.positions) {
		i = len(t.positions) - 1
	}
	t.calls++
	return t.positions[i]
}

func counter(n int) *int { return &n }

func invalidInspectionContext(yard string) *store.CheckContext {
	return &store.CheckContext{
		Yard:             yard,
		InspectionStatus: "Inspection was not completed ✗",
		AlertCounter:     counter(1),
	}
}

func checkFirstSettings() map[string]string {
	return map[string]string{"check_movement_before_email": "true"}
}

func newTestChecker(s *fakeStore, n *fakeNotifier, t *fakeTelemetry) *Checker {
	c := New(s, n, t, nil, nil)
	c.firstDelay = time.Millisecond
	c.secondDelay = time.Millisecond
	c.idle = time.Millisecond
	return c
}

func TestMovingAwayScenario(t *testing.T) {
	yard := domain.Coordinates{Lat: 49.0, Lon: -123.0}
	fs := &fakeStore{cc: invalidInspectionContext("Delta"), settings: checkFirstSettings()}
	fn := &fakeNotifier{succeed: true}
	ft := &fakeTelemetry{positions: []domain.Position{
		{Coords: unitNorth(yard, 500), Speed: "5 km/h"},
		{Coords: unitNorth(yard, 520), Speed: "6 km/h"},
		{Coords: unitNorth(yard, 560), Speed: "7 km/h"},
	}}

	c := newTestChecker(fs, fn, ft)
	task := Task{Unit: "T100", Yard: "Delta", YardCoords: yard, AlertTime: time.Now().UTC()}
	c.processOne(context.Background(), task)

	if fs.finalized == nil {
		t.Fatal("movement check was not persisted")
	}
	if fs.finalized.verdict != domain.StatusMovingAway {
		t.Fatalf("verdict = %q, want Moving Away", fs.finalized.verdict)
	}
	growth := fs.finalized.distances[2] - fs.finalized.distances[0]
	if growth < 50 || growth > 70 {
		t.Errorf("distance growth = %.1fm, want ~60m", growth)
	}
	if fn.callCount() != 1 {
		t.Errorf("notifier calls = %d, want 1", fn.callCount())
	}
	if fs.emailStatus == nil || !*fs.emailStatus {
		t.Error("email outcome should be persisted as success")
	}
	if got := c.Status(task.ID()); got != domain.StatusMovingAway {
		t.Errorf("registry status = %q, want Moving Away", got)
	}
}

func TestStationaryScenario(t *testing.T) {
	yard := domain.Coordinates{Lat: 49.0, Lon: -123.0}
	fs := &fakeStore{cc: invalidInspectionContext("Delta"), settings: checkFirstSettings()}
	fn := &fakeNotifier{succeed: true}
	ft := &fakeTelemetry{positions: []domain.Position{
		{Coords: unitNorth(yard, 100), Speed: "0 km/h"},
		{Coords: unitNorth(yard, 100), Speed: "0 km/h"},
		{Coords: unitNorth(yard, 101), Speed: "0 km/h"},
	}}

	c := newTestChecker(fs, fn, ft)
	task := Task{Unit: "T101", Yard: "Delta", YardCoords: yard, AlertTime: time.Now().UTC()}
	c.processOne(context.Background(), task)

	if fs.finalized == nil || fs.finalized.verdict != domain.StatusStationary {
		t.Fatalf("finalized = %+v, want Stationary verdict", fs.finalized)
	}
	if fn.callCount() != 0 {
		t.Errorf("deferred notification must stay gated on Moving Away, got %d calls", fn.callCount())
	}
	if fs.emailStatus != nil {
		t.Error("email status should stay untouched when no send was attempted")
	}
}

func TestNoDataScenario(t *testing.T) {
	fs := &fakeStore{cc: invalidInspectionContext("Delta"), settings: checkFirstSettings()}
	fn := &fakeNotifier{succeed: true}
	ft := &fakeTelemetry{positions: []domain.Position{
		{Coords: domain.NoCoordinates()},
	}}

	c := newTestChecker(fs, fn, ft)
	task := Task{Unit: "T102", Yard: "Delta", YardCoords: domain.Coordinates{Lat: 49.0, Lon: -123.0}, AlertTime: time.Now().UTC()}
	c.processOne(context.Background(), task)

	if fs.finalized == nil || fs.finalized.verdict != domain.StatusNoData {
		t.Fatalf("finalized = %+v, want No Data Found verdict", fs.finalized)
	}
	if fn.callCount() != 0 {
		t.Errorf("no notification may be attempted without data, got %d calls", fn.callCount())
	}
	if got := c.Status(task.ID()); got != domain.StatusNoData {
		t.Errorf("registry status = %q, want No Data Found", got)
	}
}

func TestContextLoadFailureResolvesToError(t *testing.T) {
	fs := &fakeStore{ccErr: errors.New("db down")}
	fn := &fakeNotifier{}
	ft := &fakeTelemetry{positions: []domain.Position{{Coords: domain.NoCoordinates()}}}

	c := newTestChecker(fs, fn, ft)
	task := Task{Unit: "T103", Yard: "Delta", AlertTime: time.Now().UTC()}
	c.processOne(context.Background(), task)

	if fs.finalized == nil {
		t.Fatal("error path must still persist the check")
	}
	if fs.finalized.verdict != domain.StatusCheckError {
		t.Fatalf("verdict = %q, want error sentinel", fs.finalized.verdict)
	}
	if fs.finalized.distances != [3]float64{} {
		t.Errorf("error path should persist zeroed measurements, got %v", fs.finalized.distances)
	}
	if got := c.Status(task.ID()); got != domain.StatusCheckError {
		t.Errorf("registry status = %q, want error sentinel", got)
	}
	if fn.callCount() != 0 {
		t.Error("no notification without a loaded context")
	}
}

func TestDefaultSettingEmailsBeforeCheck(t *testing.T) {
	yard := domain.Coordinates{Lat: 49.0, Lon: -123.0}
	fs := &fakeStore{cc: invalidInspectionContext("Delta")}
	fn := &fakeNotifier{succeed: true}
	ft := &fakeTelemetry{positions: []domain.Position{
		{Coords: unitNorth(yard, 100), Speed: "0 km/h"},
	}}

	c := newTestChecker(fs, fn, ft)
	task := Task{Unit: "T104", Yard: "Delta", YardCoords: yard, AlertTime: time.Now().UTC()}
	c.processOne(context.Background(), task)

	// With check_movement_before_email unset, the notification goes out
	// immediately; the Stationary verdict must not claw it back.
	if fn.callCount() != 1 {
		t.Fatalf("notifier calls = %d, want 1", fn.callCount())
	}
	if fs.finalized == nil || fs.finalized.verdict != domain.StatusStationary {
		t.Fatalf("finalized = %+v, want Stationary verdict", fs.finalized)
	}
	if fs.emailStatus == nil || !*fs.emailStatus {
		t.Error("email outcome should be persisted as success")
	}
}

func TestCheckFirstDefersEmailUntilVerdict(t *testing.T) {
	fs := &fakeStore{
		cc:       invalidInspectionContext("Delta"),
		settings: checkFirstSettings(),
	}
	fn := &fakeNotifier{succeed: true}
	ft := &fakeTelemetry{positions: []domain.Position{
		{Coords: domain.NoCoordinates()},
	}}

	c := newTestChecker(fs, fn, ft)
	task := Task{Unit: "T108", Yard: "Delta", AlertTime: time.Now().UTC()}
	c.processOne(context.Background(), task)

	if fn.callCount() != 0 {
		t.Fatalf("notifier calls = %d, want 0 without a Moving Away verdict", fn.callCount())
	}
	if fs.finalized == nil || fs.finalized.verdict != domain.StatusNoData {
		t.Fatalf("finalized = %+v, want No Data Found verdict", fs.finalized)
	}
	if fs.emailStatus != nil {
		t.Error("email status should stay untouched when no send was attempted")
	}
}

func TestRepeatOccurrenceSuppressed(t *testing.T) {
	cc := invalidInspectionContext("Delta")
	cc.AlertCounter = counter(2)
	fs := &fakeStore{cc: cc}
	fn := &fakeNotifier{succeed: true}
	yard := domain.Coordinates{Lat: 49.0, Lon: -123.0}
	ft := &fakeTelemetry{positions: []domain.Position{
		{Coords: unitNorth(yard, 500), Speed: "20 km/h"},
	}}

	c := newTestChecker(fs, fn, ft)
	c.processOne(context.Background(), Task{Unit: "T105", Yard: "Delta", YardCoords: yard, AlertTime: time.Now().UTC()})

	if fs.finalized == nil || fs.finalized.verdict != domain.StatusMovingAway {
		t.Fatalf("finalized = %+v, want Moving Away verdict", fs.finalized)
	}
	if fn.callCount() != 0 {
		t.Errorf("repeat occurrence within the window must not notify, got %d calls", fn.callCount())
	}
}

func TestValidInspectionSuppressesEmail(t *testing.T) {
	cc := invalidInspectionContext("Delta")
	cc.InspectionStatus = "Inspection done 2 hours, 5 minutes ago ✅"
	fs := &fakeStore{cc: cc}
	fn := &fakeNotifier{succeed: true}
	yard := domain.Coordinates{Lat: 49.0, Lon: -123.0}
	ft := &fakeTelemetry{positions: []domain.Position{
		{Coords: unitNorth(yard, 500), Speed: "20 km/h"},
	}}

	c := newTestChecker(fs, fn, ft)
	c.processOne(context.Background(), Task{Unit: "T106", Yard: "Delta", YardCoords: yard, AlertTime: time.Now().UTC()})

	if fn.callCount() != 0 {
		t.Errorf("valid inspection must not notify, got %d calls", fn.callCount())
	}
}

func TestEnqueueRunAndPoll(t *testing.T) {
	yard := domain.Coordinates{Lat: 49.0, Lon: -123.0}
	fs := &fakeStore{cc: invalidInspectionContext("Delta")}
	fn := &fakeNotifier{succeed: true}
	ft := &fakeTelemetry{positions: []domain.Position{
		{Coords: unitNorth(yard, 500), Speed: "20 km/h"},
	}}

	c := newTestChecker(fs, fn, ft)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	id := c.Enqueue("T107", "Delta", yard, time.Now().UTC())
	if got := c.Status(id); got != domain.StatusPending && got != domain.StatusMovingAway {
		t.Fatalf("status immediately after enqueue = %q", got)
	}

	deadline := time.After(2 * time.Second)
	for c.Status(id) == domain.StatusPending {
		select {
		case <-deadline:
			t.Fatal("task never left pending")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if got := c.Status(id); got != domain.StatusMovingAway {
		t.Fatalf("status = %q, want Moving Away", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker loop did not stop on cancel")
	}
}

func TestStatusUnknownTaskIsPending(t *testing.T) {
	c := newTestChecker(&fakeStore{}, &fakeNotifier{}, &fakeTelemetry{positions: []domain.Position{{}}})
	if got := c.Status("nope"); got != domain.StatusPending {
		t.Fatalf("unknown task status = %q, want pending", got)
	}
}
