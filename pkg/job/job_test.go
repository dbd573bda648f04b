package job

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/netman-network/netman/internal/testutil"
	"github.com/netman-network/netman/pkg/artifact"
	"github.com/netman-network/netman/pkg/conn"
	"github.com/netman-network/netman/pkg/inventory"
	"github.com/netman-network/netman/pkg/jobstore"
	"github.com/netman-network/netman/pkg/progress"
	"github.com/netman-network/netman/pkg/util"
)

type harness struct {
	inv       *inventory.Inventory
	dialer    *testutil.FakeDialer
	conns     *conn.Manager
	store     *jobstore.Store
	bus       *progress.Bus
	artifacts *artifact.Store
	sched     *Scheduler
	mgr       *Manager
}

func newHarness(t *testing.T, devices []inventory.Device, dialer *testutil.FakeDialer) *harness {
	t.Helper()

	inv, err := inventory.New(devices)
	if err != nil {
		t.Fatalf("inventory: %v", err)
	}
	if dialer == nil {
		dialer = &testutil.FakeDialer{}
	}
	conns := conn.NewManagerWithDialers(dialer, dialer, nil, nil)

	store, err := jobstore.Open(context.Background(), filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("jobstore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	artifacts, err := artifact.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("artifact store: %v", err)
	}

	bus := progress.NewBus(4096)
	sched := NewScheduler(conns, artifacts, store, bus, inv, time.Second, time.Second)
	mgr := NewManager(inv, conns, store, bus, sched)

	return &harness{inv: inv, dialer: dialer, conns: conns, store: store,
		bus: bus, artifacts: artifacts, sched: sched, mgr: mgr}
}

func testDevices(n int) []inventory.Device {
	out := make([]inventory.Device, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, inventory.Device{
			ID:       "dev-" + string(rune('1'+i)),
			Name:     "zwe-r" + string(rune('1'+i)),
			Host:     "10.0.0." + string(rune('1'+i)),
			Username: "u",
			Password: "p",
		})
	}
	return out
}

// waitTerminal subscribes before creating the job would be racy, so it
// relies on the replay buffer: terminal events stay replayable.
func waitTerminal(t *testing.T, h *harness, jobID string) Snapshot {
	t.Helper()
	sub, cancel := h.mgr.Subscribe(jobID)
	defer cancel()

	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-sub:
			if !ok || ev.Kind == progress.KindTerminal {
				snap, err := h.mgr.Get(context.Background(), jobID)
				if err != nil {
					t.Fatalf("Get after terminal: %v", err)
				}
				return snap
			}
		case <-deadline:
			t.Fatal("job did not reach a terminal state")
		}
	}
}

func TestSingleDeviceHappyPath(t *testing.T) {
	h := newHarness(t, testDevices(1), nil)
	ctx := context.Background()

	id, err := h.mgr.Create(ctx, CreateRequest{
		DeviceIDs: []string{"dev-1"},
		Commands:  []string{"show ospf neighbor"},
		BatchSize: 2, // clamps to 1 for a single device
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	snap := waitTerminal(t, h, id)
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed (error=%q)", snap.Status, snap.Error)
	}
	if snap.BatchSize != 1 {
		t.Errorf("batch size = %d, want 1", snap.BatchSize)
	}
	if snap.ProgressPercent != 100 || snap.CompletedDevices != 1 || snap.FailedDevices != 0 {
		t.Errorf("progress = %d%% (%d/%d)", snap.ProgressPercent, snap.CompletedDevices, snap.FailedDevices)
	}

	ds := snap.Devices["dev-1"]
	if ds.Status != DeviceCompleted {
		t.Errorf("device status = %s", ds.Status)
	}
	if ds.Commands[0].Status != CommandSuccess {
		t.Errorf("command status = %s", ds.Commands[0].Status)
	}

	// Artifact pair exists.
	files, err := h.artifacts.List(artifact.FolderText, "zwe-r1")
	if err != nil || len(files) != 1 {
		t.Fatalf("artifacts = %d, err %v; want 1", len(files), err)
	}

	// Durable result row exists.
	results, err := h.store.Results(ctx, id)
	if err != nil || len(results) != 1 || results[0].Status != string(CommandSuccess) {
		t.Fatalf("results = %+v, err %v", results, err)
	}

	if h.conns.LiveCount() != 0 {
		t.Errorf("%d sessions left open", h.conns.LiveCount())
	}
}

func TestUnreachableDeviceFailsAloneJobCompletes(t *testing.T) {
	dialer := &testutil.FakeDialer{FailHosts: map[string]bool{"10.0.0.2": true}}
	h := newHarness(t, testDevices(2), dialer)
	ctx := context.Background()

	id, err := h.mgr.Create(ctx, CreateRequest{
		DeviceIDs: []string{"dev-1", "dev-2"},
		Commands:  []string{"show version"},
		BatchSize: 2,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	snap := waitTerminal(t, h, id)
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", snap.Status)
	}
	if snap.CompletedDevices != 1 || snap.FailedDevices != 1 || snap.ProgressPercent != 100 {
		t.Errorf("progress = %d completed, %d failed, %d%%",
			snap.CompletedDevices, snap.FailedDevices, snap.ProgressPercent)
	}
	if snap.Devices["dev-2"].Status != DeviceConnectFailed {
		t.Errorf("dev-2 status = %s", snap.Devices["dev-2"].Status)
	}

	// The unreachable device's commands are failed in the store.
	results, _ := h.store.Results(ctx, id)
	var failedRows int
	for _, r := range results {
		if r.DeviceID == "dev-2" {
			if r.Status != string(CommandFailed) || r.Error != "connection failed" {
				t.Errorf("dev-2 row = %s / %q", r.Status, r.Error)
			}
			failedRows++
		}
	}
	if failedRows != 1 {
		t.Errorf("dev-2 rows = %d, want 1", failedRows)
	}
}

func TestAllConnectionsFailedJobFails(t *testing.T) {
	dialer := &testutil.FakeDialer{FailHosts: map[string]bool{"10.0.0.1": true, "10.0.0.2": true}}
	h := newHarness(t, testDevices(2), dialer)

	id, err := h.mgr.Create(context.Background(), CreateRequest{
		DeviceIDs: []string{"dev-1", "dev-2"},
		Commands:  []string{"show version"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	snap := waitTerminal(t, h, id)
	if snap.Status != StatusFailed {
		t.Errorf("status = %s, want failed", snap.Status)
	}
	if snap.Error == "" {
		t.Error("failed job carries no error")
	}
}

// stopSleeper cancels the job the first time the scheduler pauses,
// simulating a stop request arriving mid rate-limit sleep.
type stopSleeper struct {
	stop func()
}

func (s *stopSleeper) Sleep(d time.Duration, cancel <-chan struct{}) bool {
	s.stop()
	return false
}

func TestStopDuringRateLimitSleep(t *testing.T) {
	h := newHarness(t, testDevices(4), nil)
	ctx := context.Background()

	// The scheduler can reach the sleep before Create returns, so the
	// sleeper waits for the id on a channel.
	idCh := make(chan string, 1)
	h.sched.SetSleeper(&stopSleeper{stop: func() {
		if err := h.mgr.Stop(ctx, <-idCh); err != nil {
			t.Errorf("Stop: %v", err)
		}
	}})

	jobID, err := h.mgr.Create(ctx, CreateRequest{
		DeviceIDs:      []string{"dev-1", "dev-2", "dev-3", "dev-4"},
		Commands:       []string{"show version"},
		BatchSize:      2,
		DevicesPerHour: 4,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	idCh <- jobID

	snap := waitTerminal(t, h, jobID)
	if snap.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", snap.Status)
	}

	// First batch finished; second never started.
	for _, id := range []string{"dev-1", "dev-2"} {
		if snap.Devices[id].Status != DeviceCompleted {
			t.Errorf("%s = %s, want completed", id, snap.Devices[id].Status)
		}
	}
	for _, id := range []string{"dev-3", "dev-4"} {
		if snap.Devices[id].Status != DevicePending {
			t.Errorf("%s = %s, want pending", id, snap.Devices[id].Status)
		}
	}
	if h.conns.LiveCount() != 0 {
		t.Errorf("%d sessions left open", h.conns.LiveCount())
	}
}

func TestRateLimitDelayBetweenBatches(t *testing.T) {
	h := newHarness(t, testDevices(4), nil)
	clock := &testutil.FakeClock{}
	h.sched.SetSleeper(clock)

	id, err := h.mgr.Create(context.Background(), CreateRequest{
		DeviceIDs:      []string{"dev-1", "dev-2", "dev-3", "dev-4"},
		Commands:       []string{"show version"},
		BatchSize:      2,
		DevicesPerHour: 4,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	snap := waitTerminal(t, h, id)
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %s", snap.Status)
	}

	// delay = (2/4)*3600 = 1800s, once between the two batches.
	slept := clock.Slept()
	if len(slept) != 1 {
		t.Fatalf("slept %d times, want 1", len(slept))
	}
	if slept[0] != 1800*time.Second {
		t.Errorf("slept %s, want 30m0s", slept[0])
	}
}

func TestCommandsRunSequentiallyPerDevice(t *testing.T) {
	h := newHarness(t, testDevices(1), nil)
	commands := []string{"show version", "show ospf neighbor", "show ospf database router"}

	id, err := h.mgr.Create(context.Background(), CreateRequest{
		DeviceIDs: []string{"dev-1"},
		Commands:  commands,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	waitTerminal(t, h, id)

	sessions := h.dialer.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d", len(sessions))
	}
	log := sessions[0].SendLog()
	if len(log) != len(commands) {
		t.Fatalf("sent %d commands, want %d", len(log), len(commands))
	}
	for i, cmd := range commands {
		if log[i] != cmd {
			t.Errorf("command %d = %q, want %q", i, log[i], cmd)
		}
	}
}

func TestFailedCommandDoesNotAbortDevice(t *testing.T) {
	dialer := &testutil.FakeDialer{}
	h := newHarness(t, testDevices(1), dialer)

	id, err := h.mgr.Create(context.Background(), CreateRequest{
		DeviceIDs: []string{"dev-1"},
		Commands:  []string{"show version", "show version"}, // duplicate collides in the artifact store
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	snap := waitTerminal(t, h, id)
	ds := snap.Devices["dev-1"]

	// Both commands ran; the second failed persisting (same filename,
	// same second) or succeeded if the clock ticked over. Either way the
	// device reached a terminal state and both results were recorded.
	if len(h.dialer.Sessions()[0].SendLog()) != 2 {
		t.Errorf("sent %d commands, want 2", len(h.dialer.Sessions()[0].SendLog()))
	}
	if ds.Status != DeviceCompleted && ds.Status != DeviceFailed {
		t.Errorf("device status = %s", ds.Status)
	}
	results, _ := h.store.Results(context.Background(), id)
	if len(results) != 2 {
		t.Errorf("results = %d, want 2", len(results))
	}
}

func TestDisconnectingPublishedForUnreachableDevice(t *testing.T) {
	dialer := &testutil.FakeDialer{FailHosts: map[string]bool{"10.0.0.2": true}}
	h := newHarness(t, testDevices(2), dialer)

	id, err := h.mgr.Create(context.Background(), CreateRequest{
		DeviceIDs: []string{"dev-1", "dev-2"},
		Commands:  []string{"show version"},
		BatchSize: 2,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	waitTerminal(t, h, id)

	// The replay buffer still holds the full event history.
	sub, cancel := h.mgr.Subscribe(id)
	defer cancel()

	disconnecting := map[string]bool{}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				t.Fatal("stream closed before terminal event")
			}
			if ev.Kind == progress.KindDeviceStatus && ev.DeviceStatus == string(DeviceDisconnecting) {
				disconnecting[ev.DeviceID] = true
			}
			if ev.Kind == progress.KindTerminal {
				for _, dev := range []string{"dev-1", "dev-2"} {
					if !disconnecting[dev] {
						t.Errorf("no disconnecting event for %s", dev)
					}
				}
				return
			}
		case <-deadline:
			t.Fatal("terminal event not replayed")
		}
	}
}

func TestValidationRejectsBadRequests(t *testing.T) {
	h := newHarness(t, testDevices(2), nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  CreateRequest
	}{
		{"no devices", CreateRequest{Commands: []string{"show version"}}},
		{"no commands", CreateRequest{DeviceIDs: []string{"dev-1"}}},
		{"unknown device", CreateRequest{DeviceIDs: []string{"ghost"}, Commands: []string{"show version"}}},
		{"blank command", CreateRequest{DeviceIDs: []string{"dev-1"}, Commands: []string{"  "}}},
		{"bad mode", CreateRequest{DeviceIDs: []string{"dev-1"}, Commands: []string{"show version"}, ConnectionMode: "warp"}},
	}
	for _, tt := range tests {
		if _, err := h.mgr.Create(ctx, tt.req); !errors.Is(err, util.ErrValidation) {
			t.Errorf("%s: err = %v, want ErrValidation", tt.name, err)
		}
	}
}

func TestDuplicateDeviceIDsCollapse(t *testing.T) {
	h := newHarness(t, testDevices(2), nil)

	id, err := h.mgr.Create(context.Background(), CreateRequest{
		DeviceIDs: []string{"dev-1", "dev-2", "dev-1", "dev-1"},
		Commands:  []string{"show version"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	snap := waitTerminal(t, h, id)
	if snap.TotalDevices != 2 {
		t.Errorf("total devices = %d, want 2", snap.TotalDevices)
	}
	if h.dialer.Dials() != 2 {
		t.Errorf("dials = %d, want 2", h.dialer.Dials())
	}
}

func TestClampBatchSize(t *testing.T) {
	tests := []struct {
		requested, n, want int
	}{
		{1, 10, 2},
		{0, 10, 2},
		{5, 10, 5},
		{100, 10, 10},
		{100, 200, 50},
		{2, 1, 1},
		{10, 1, 1},
	}
	for _, tt := range tests {
		if got := ClampBatchSize(tt.requested, tt.n); got != tt.want {
			t.Errorf("ClampBatchSize(%d, %d) = %d, want %d", tt.requested, tt.n, got, tt.want)
		}
	}
}

func TestPercent(t *testing.T) {
	tests := []struct{ done, total, want int }{
		{0, 0, 0},
		{0, 4, 0},
		{1, 3, 33},
		{2, 3, 67},
		{4, 4, 100},
	}
	for _, tt := range tests {
		if got := Percent(tt.done, tt.total); got != tt.want {
			t.Errorf("Percent(%d, %d) = %d, want %d", tt.done, tt.total, got, tt.want)
		}
	}
}

func TestSequentialModeUsesOneWorker(t *testing.T) {
	h := newHarness(t, testDevices(3), nil)

	id, err := h.mgr.Create(context.Background(), CreateRequest{
		DeviceIDs:      []string{"dev-1", "dev-2", "dev-3"},
		Commands:       []string{"show version"},
		BatchSize:      3,
		ConnectionMode: ModeSequential,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	snap := waitTerminal(t, h, id)
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %s", snap.Status)
	}
	if snap.Mode != ModeSequential {
		t.Errorf("mode = %s", snap.Mode)
	}
	if snap.CompletedDevices != 3 {
		t.Errorf("completed = %d", snap.CompletedDevices)
	}
}

func TestGetUnknownJob(t *testing.T) {
	h := newHarness(t, testDevices(1), nil)
	if _, err := h.mgr.Get(context.Background(), "missing"); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestLatestTracksNewestJob(t *testing.T) {
	h := newHarness(t, testDevices(1), nil)
	ctx := context.Background()

	first, err := h.mgr.Create(ctx, CreateRequest{DeviceIDs: []string{"dev-1"}, Commands: []string{"show version"}})
	if err != nil {
		t.Fatal(err)
	}
	waitTerminal(t, h, first)

	second, err := h.mgr.Create(ctx, CreateRequest{DeviceIDs: []string{"dev-1"}, Commands: []string{"show ospf neighbor"}})
	if err != nil {
		t.Fatal(err)
	}
	waitTerminal(t, h, second)

	latest, err := h.mgr.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.ID != second {
		t.Errorf("latest = %s, want %s", latest.ID, second)
	}
}
