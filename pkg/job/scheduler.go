package job

import (
	"context"
	"sync"
	"time"

	"github.com/netman-network/netman/pkg/artifact"
	"github.com/netman-network/netman/pkg/conn"
	"github.com/netman-network/netman/pkg/inventory"
	"github.com/netman-network/netman/pkg/jobstore"
	"github.com/netman-network/netman/pkg/metrics"
	"github.com/netman-network/netman/pkg/progress"
	"github.com/netman-network/netman/pkg/util"
)

// Sleeper is the scheduler's rate-limit pause. Sleep returns false when
// the cancel channel fires before the duration elapses. Tests inject a
// fake to avoid real waiting.
type Sleeper interface {
	Sleep(d time.Duration, cancel <-chan struct{}) bool
}

type realSleeper struct{}

func (realSleeper) Sleep(d time.Duration, cancel <-chan struct{}) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-cancel:
		return false
	}
}

// Scheduler walks a job through its batches: connect in parallel, execute
// commands per device, disconnect, pause for the rate limit, repeat. It is
// the only writer of job state while the job is live.
type Scheduler struct {
	conns     *conn.Manager
	artifacts *artifact.Store
	store     *jobstore.Store
	bus       *progress.Bus
	inv       *inventory.Inventory

	connectTimeout time.Duration
	readTimeout    time.Duration
	sleeper        Sleeper
}

// NewScheduler wires a scheduler. readTimeout is the default command read
// timeout; long-output commands get their own windows.
func NewScheduler(conns *conn.Manager, artifacts *artifact.Store, store *jobstore.Store, bus *progress.Bus, inv *inventory.Inventory, connectTimeout, readTimeout time.Duration) *Scheduler {
	return &Scheduler{
		conns:          conns,
		artifacts:      artifacts,
		store:          store,
		bus:            bus,
		inv:            inv,
		connectTimeout: connectTimeout,
		readTimeout:    readTimeout,
		sleeper:        realSleeper{},
	}
}

// SetSleeper replaces the rate-limit sleeper (tests).
func (s *Scheduler) SetSleeper(sl Sleeper) { s.sleeper = sl }

// Run drives the job to a terminal state. Blocking; callers run it on its
// own goroutine.
func (s *Scheduler) Run(ctx context.Context, j *Job) {
	log := util.WithJob(j.ID)

	j.mu.Lock()
	for _, id := range j.DeviceIDs {
		d, err := s.inv.Get(id)
		if err != nil {
			// Validation rejects unknown ids; this only trips if the
			// inventory changed between create and run.
			j.mu.Unlock()
			s.finish(ctx, j, StatusFailed, "device "+id+" disappeared from inventory")
			return
		}
		ds := &DeviceJobState{
			DeviceID:      id,
			DeviceName:    d.Name,
			Country:       d.Country,
			Status:        DevicePending,
			TotalCommands: len(j.Commands),
			Commands:      make([]CommandState, len(j.Commands)),
		}
		for i, cmd := range j.Commands {
			ds.Commands[i] = CommandState{Command: cmd, Status: CommandPending}
		}
		j.Devices[id] = ds
	}
	j.StartedAt = time.Now().UTC()
	j.mu.Unlock()

	if err := s.store.MarkStarted(ctx, j.ID, j.StartedAt); err != nil {
		log.WithError(err).Error("recording job start")
	}
	s.setJobStatus(ctx, j, StatusConnecting)

	batches := partition(j.DeviceIDs, j.BatchSize)
	delay := rateDelay(j.BatchSize, j.DevicesPerHour)

	for bi, batch := range batches {
		if j.CancelRequested() {
			s.finish(ctx, j, StatusCancelled, "")
			return
		}

		log.Infof("batch %d/%d: %d devices", bi+1, len(batches), len(batch))
		connected := s.connectBatch(ctx, j, batch)

		if len(connected) > 0 && s.status(j) == StatusConnecting {
			s.setJobStatus(ctx, j, StatusRunning)
		}

		s.executeBatch(ctx, j, connected)
		s.disconnectBatch(ctx, j, batch)
		s.publishProgress(ctx, j)

		if delay > 0 && bi < len(batches)-1 {
			log.Infof("rate limit: sleeping %s before next batch", delay)
			if !s.sleeper.Sleep(delay, j.cancelChan()) {
				s.finish(ctx, j, StatusCancelled, "")
				return
			}
		}
	}

	completed, failed := s.counters(j)
	if completed == 0 && failed == len(j.DeviceIDs) && s.allConnectFailed(j) {
		s.finish(ctx, j, StatusFailed, "all device connections failed")
		return
	}
	s.finish(ctx, j, StatusCompleted, "")
}

// connectBatch dials every device in the batch and returns the ids that
// came up. Worker count follows the connection mode.
func (s *Scheduler) connectBatch(ctx context.Context, j *Job, batch []string) []string {
	workers := j.BatchSize
	if j.Mode == ModeSequential {
		workers = 1
	}

	var (
		mu        sync.Mutex
		connected []string
	)
	s.forEach(batch, workers, func(id string) {
		d, err := s.inv.Get(id)
		if err != nil {
			s.failDeviceConnect(ctx, j, id, err.Error())
			return
		}

		s.setDeviceStatus(ctx, j, id, DeviceConnecting, "")
		mode, err := s.conns.Connect(d, s.connectTimeout)
		if err != nil {
			util.WithDevice(d.Name).WithError(err).Warn("connect failed")
			s.failDeviceConnect(ctx, j, id, err.Error())
			return
		}

		j.mu.Lock()
		j.Devices[id].ConnectionType = string(mode)
		j.mu.Unlock()
		s.setDeviceStatus(ctx, j, id, DeviceConnected, "")

		mu.Lock()
		connected = append(connected, id)
		mu.Unlock()
	})

	// Preserve batch order for the execute phase.
	isUp := make(map[string]bool, len(connected))
	for _, id := range connected {
		isUp[id] = true
	}
	ordered := connected[:0]
	for _, id := range batch {
		if isUp[id] {
			ordered = append(ordered, id)
		}
	}
	return ordered
}

// failDeviceConnect marks the device connection_failed and records every
// command as failed in the store: a device that never came up runs nothing.
func (s *Scheduler) failDeviceConnect(ctx context.Context, j *Job, id, reason string) {
	j.mu.Lock()
	ds := j.Devices[id]
	ds.Error = reason
	for i := range ds.Commands {
		ds.Commands[i].Status = CommandFailed
		ds.Commands[i].Error = "connection failed"
	}
	name := ds.DeviceName
	j.mu.Unlock()

	for _, cmd := range j.Commands {
		err := s.store.AppendResult(ctx, jobstore.CommandResult{
			JobID:      j.ID,
			DeviceID:   id,
			DeviceName: name,
			Command:    cmd,
			Status:     string(CommandFailed),
			Error:      "connection failed",
			CreatedAt:  time.Now().UTC(),
		})
		if err != nil {
			util.WithJob(j.ID).WithError(err).Error("recording connect failure")
		}
	}
	s.setDeviceStatus(ctx, j, id, DeviceConnectFailed, reason)
}

// executeBatch runs the command list on every connected device. Commands
// on one device run sequentially to preserve prompt state; devices run in
// parallel up to the worker count.
func (s *Scheduler) executeBatch(ctx context.Context, j *Job, connected []string) {
	workers := j.BatchSize
	if j.Mode == ModeSequential {
		workers = 1
	}

	s.forEach(connected, workers, func(id string) {
		s.setDeviceStatus(ctx, j, id, DeviceExecuting, "")
		for idx := range j.Commands {
			s.executeCommand(ctx, j, id, idx)
		}

		j.mu.Lock()
		ds := j.Devices[id]
		done := ds.CompletedCommands == ds.TotalCommands
		j.mu.Unlock()
		if done {
			s.setDeviceStatus(ctx, j, id, DeviceCompleted, "")
		} else {
			s.setDeviceStatus(ctx, j, id, DeviceFailed, "one or more commands failed")
		}
	})
}

// disconnectBatch closes every session in the batch, connected or not.
// Disconnect is idempotent so failed devices are harmless.
func (s *Scheduler) disconnectBatch(ctx context.Context, j *Job, batch []string) {
	for _, id := range batch {
		// Every device in the batch gets a disconnecting event, including
		// ones that never connected: watchers see the full lifecycle.
		s.publishDevice(ctx, j, id, DeviceDisconnecting, "")
		s.conns.Disconnect(id)

		// Terminal device event with the settled status.
		j.mu.Lock()
		final := j.Devices[id].Status
		errMsg := j.Devices[id].Error
		j.mu.Unlock()
		s.publishDevice(ctx, j, id, final, errMsg)
	}
}

// forEach runs fn over items with at most workers goroutines.
func (s *Scheduler) forEach(items []string, workers int, fn func(string)) {
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for _, item := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(it string) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(it)
		}(item)
	}
	wg.Wait()
}

func (s *Scheduler) status(j *Job) Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Status
}

func (s *Scheduler) counters(j *Job) (completed, failed int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return countLocked(j)
}

func (s *Scheduler) allConnectFailed(j *Job) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, d := range j.Devices {
		if d.Status != DeviceConnectFailed {
			return false
		}
	}
	return len(j.Devices) > 0
}

// setJobStatus persists and publishes a non-terminal job transition.
func (s *Scheduler) setJobStatus(ctx context.Context, j *Job, status Status) {
	j.mu.Lock()
	if j.Status.Terminal() {
		j.mu.Unlock()
		return
	}
	j.Status = status
	j.mu.Unlock()

	if err := s.store.UpdateStatus(ctx, j.ID, string(status), ""); err != nil {
		util.WithJob(j.ID).WithError(err).Error("persisting job status")
	}
	completed, failed := s.counters(j)
	s.bus.Publish(j.ID, progress.Event{
		Kind:            progress.KindJobStatus,
		JobStatus:       string(status),
		Completed:       completed,
		Failed:          failed,
		Total:           len(j.DeviceIDs),
		ProgressPercent: Percent(completed+failed, len(j.DeviceIDs)),
	})
}

// finish drives the job to its terminal state exactly once.
func (s *Scheduler) finish(ctx context.Context, j *Job, status Status, errMsg string) {
	j.mu.Lock()
	if j.Status.Terminal() {
		j.mu.Unlock()
		return
	}
	j.Status = status
	j.Error = errMsg
	j.EndedAt = time.Now().UTC()
	j.mu.Unlock()

	// Leave nothing open regardless of how we got here.
	for _, id := range j.DeviceIDs {
		s.conns.Disconnect(id)
	}

	completed, failed := s.counters(j)
	if err := s.store.SetProgress(ctx, j.ID, completed, failed, Percent(completed+failed, len(j.DeviceIDs))); err != nil {
		util.WithJob(j.ID).WithError(err).Error("persisting final progress")
	}
	if err := s.store.UpdateStatus(ctx, j.ID, string(status), errMsg); err != nil {
		util.WithJob(j.ID).WithError(err).Error("persisting terminal status")
	}
	metrics.JobsFinished.WithLabelValues(string(status)).Inc()
	util.WithJob(j.ID).Infof("job %s (%d completed, %d failed)", status, completed, failed)

	s.bus.Publish(j.ID, progress.Event{
		Kind:            progress.KindTerminal,
		JobStatus:       string(status),
		Message:         errMsg,
		Completed:       completed,
		Failed:          failed,
		Total:           len(j.DeviceIDs),
		ProgressPercent: Percent(completed+failed, len(j.DeviceIDs)),
	})
}

// setDeviceStatus records and publishes a device transition.
func (s *Scheduler) setDeviceStatus(ctx context.Context, j *Job, id string, status DeviceStatus, errMsg string) {
	j.mu.Lock()
	ds := j.Devices[id]
	ds.Status = status
	if errMsg != "" {
		ds.Error = errMsg
	}
	j.mu.Unlock()

	s.publishDevice(ctx, j, id, status, errMsg)
	s.persistProgress(ctx, j)
}

// publishDevice emits a device_status event without mutating state.
func (s *Scheduler) publishDevice(ctx context.Context, j *Job, id string, status DeviceStatus, errMsg string) {
	j.mu.Lock()
	name := j.Devices[id].DeviceName
	j.mu.Unlock()
	completed, failed := s.counters(j)

	s.bus.Publish(j.ID, progress.Event{
		Kind:            progress.KindDeviceStatus,
		DeviceID:        id,
		DeviceName:      name,
		DeviceStatus:    string(status),
		Message:         errMsg,
		Completed:       completed,
		Failed:          failed,
		Total:           len(j.DeviceIDs),
		ProgressPercent: Percent(completed+failed, len(j.DeviceIDs)),
	})
}

func (s *Scheduler) persistProgress(ctx context.Context, j *Job) {
	completed, failed := s.counters(j)
	pct := Percent(completed+failed, len(j.DeviceIDs))
	if err := s.store.SetProgress(ctx, j.ID, completed, failed, pct); err != nil {
		util.WithJob(j.ID).WithError(err).Error("persisting progress")
	}
}

func (s *Scheduler) publishProgress(ctx context.Context, j *Job) {
	s.persistProgress(ctx, j)
	completed, failed := s.counters(j)
	s.bus.Publish(j.ID, progress.Event{
		Kind:            progress.KindJobStatus,
		JobStatus:       string(s.status(j)),
		Completed:       completed,
		Failed:          failed,
		Total:           len(j.DeviceIDs),
		ProgressPercent: Percent(completed+failed, len(j.DeviceIDs)),
	})
}

// partition splits ids into ordered batches of at most size.
func partition(ids []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}

// rateDelay is the inter-batch pause for a devices-per-hour budget.
func rateDelay(batchSize, devicesPerHour int) time.Duration {
	if devicesPerHour <= 0 {
		return 0
	}
	return time.Duration(float64(batchSize)/float64(devicesPerHour)*3600) * time.Second
}
