package job

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/netman-network/netman/pkg/conn"
	"github.com/netman-network/netman/pkg/inventory"
	"github.com/netman-network/netman/pkg/jobstore"
	"github.com/netman-network/netman/pkg/metrics"
	"github.com/netman-network/netman/pkg/progress"
	"github.com/netman-network/netman/pkg/util"
)

// Manager is the public entry point for jobs: create, query, stop. It owns
// the in-memory job table and hands execution to the scheduler.
type Manager struct {
	inv   *inventory.Inventory
	conns *conn.Manager
	store *jobstore.Store
	bus   *progress.Bus
	sched *Scheduler

	mu     sync.Mutex
	jobs   map[string]*Job
	latest string
}

// NewManager builds a job manager around an already-wired scheduler.
func NewManager(inv *inventory.Inventory, conns *conn.Manager, store *jobstore.Store, bus *progress.Bus, sched *Scheduler) *Manager {
	return &Manager{
		inv:   inv,
		conns: conns,
		store: store,
		bus:   bus,
		sched: sched,
		jobs:  make(map[string]*Job),
	}
}

// Create validates the request, persists the pending job, and hands it to
// the scheduler on its own goroutine. Returns the job id immediately.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (string, error) {
	deviceIDs, commands, batchSize, mode, err := req.normalize(m.inv)
	if err != nil {
		return "", err
	}

	j := newJob(uuid.NewString(), deviceIDs, commands, batchSize, req.DevicesPerHour, mode)

	err = m.store.CreateJob(ctx, jobstore.JobRecord{
		ID:             j.ID,
		Status:         string(StatusPending),
		Commands:       commands,
		DeviceIDs:      deviceIDs,
		BatchSize:      batchSize,
		Parallel:       mode == ModeParallel,
		DevicesPerHour: req.DevicesPerHour,
		TotalDevices:   len(deviceIDs),
		CreatedAt:      j.CreatedAt,
	})
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.jobs[j.ID] = j
	m.latest = j.ID
	m.mu.Unlock()

	metrics.JobsStarted.Inc()
	util.WithJob(j.ID).Infof("job created: %d devices, %d commands, batch %d (%s)",
		len(deviceIDs), len(commands), batchSize, mode)

	go m.sched.Run(context.WithoutCancel(ctx), j)
	return j.ID, nil
}

// Get returns a snapshot of a job. Live jobs come from memory; jobs from
// earlier runs are rehydrated from the store without device detail.
func (m *Manager) Get(ctx context.Context, jobID string) (Snapshot, error) {
	m.mu.Lock()
	j, ok := m.jobs[jobID]
	m.mu.Unlock()
	if ok {
		return j.Snapshot(), nil
	}

	rec, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return Snapshot{}, err
	}
	return snapshotFromRecord(rec), nil
}

// Latest returns the most recently created job.
func (m *Manager) Latest(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	id := m.latest
	m.mu.Unlock()
	if id != "" {
		return m.Get(ctx, id)
	}

	rec, err := m.store.LatestJob(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return snapshotFromRecord(rec), nil
}

// Results returns the persisted command results for a job.
func (m *Manager) Results(ctx context.Context, jobID string) ([]jobstore.CommandResult, error) {
	if _, err := m.Get(ctx, jobID); err != nil {
		return nil, err
	}
	return m.store.Results(ctx, jobID)
}

// Stop requests cancellation. The scheduler honours it at the next batch
// boundary or mid-sleep; devices currently connected are disconnected now
// to unblock any in-flight reads.
func (m *Manager) Stop(ctx context.Context, jobID string) error {
	m.mu.Lock()
	j, ok := m.jobs[jobID]
	m.mu.Unlock()
	if !ok {
		if _, err := m.store.GetJob(ctx, jobID); err != nil {
			return err
		}
		return fmt.Errorf("job %s is not running: %w", jobID, util.ErrValidation)
	}

	j.mu.Lock()
	if j.Status.Terminal() {
		status := j.Status
		j.mu.Unlock()
		return fmt.Errorf("job %s already %s: %w", jobID, status, util.ErrValidation)
	}
	j.Status = StatusStopping
	var connectedIDs []string
	for id, d := range j.Devices {
		if d.Status == DeviceConnected || d.Status == DeviceExecuting {
			connectedIDs = append(connectedIDs, id)
		}
	}
	j.mu.Unlock()

	j.RequestCancel()
	if err := m.store.UpdateStatus(ctx, jobID, string(StatusStopping), ""); err != nil {
		util.WithJob(jobID).WithError(err).Error("persisting stopping status")
	}
	m.bus.Publish(jobID, progress.Event{
		Kind:      progress.KindJobStatus,
		JobStatus: string(StatusStopping),
		Message:   "stop requested",
		Total:     len(j.DeviceIDs),
	})

	// Closing the sessions unblocks any Send stuck in a read.
	for _, id := range connectedIDs {
		m.conns.Disconnect(id)
	}
	util.WithJob(jobID).Info("stop requested")
	return nil
}

// Subscribe attaches to the job's progress stream.
func (m *Manager) Subscribe(jobID string) (progress.Subscriber, func()) {
	return m.bus.Subscribe(jobID)
}

// snapshotFromRecord rebuilds the coarse view of a stored job. Per-device
// state is not persisted, so only aggregates survive a restart.
func snapshotFromRecord(rec *jobstore.JobRecord) Snapshot {
	mode := ModeSequential
	if rec.Parallel {
		mode = ModeParallel
	}
	s := Snapshot{
		ID:               rec.ID,
		Status:           Status(rec.Status),
		DeviceIDs:        rec.DeviceIDs,
		Commands:         rec.Commands,
		BatchSize:        rec.BatchSize,
		DevicesPerHour:   rec.DevicesPerHour,
		Mode:             mode,
		CreatedAt:        rec.CreatedAt,
		StartedAt:        rec.StartedAt,
		EndedAt:          rec.FinishedAt,
		Error:            rec.Error,
		TotalDevices:     rec.TotalDevices,
		CompletedDevices: rec.CompletedDevices,
		FailedDevices:    rec.FailedDevices,
		ProgressPercent:  rec.ProgressPercent,
		Devices:          map[string]DeviceJobState{},
	}
	return s
}
