// Package job owns the automation job lifecycle: creation and validation,
// batch scheduling with bounded parallelism and rate limiting, per-device
// command execution, and cancellation.
package job

import (
	"math"
	"sync"
	"time"
)

// Status is the job lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConnecting Status = "connecting"
	StatusRunning    Status = "running"
	StatusStopping   Status = "stopping"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether a job in this status can never change again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// DeviceStatus is the per-device state within a job.
type DeviceStatus string

const (
	DevicePending       DeviceStatus = "pending"
	DeviceConnecting    DeviceStatus = "connecting"
	DeviceConnected     DeviceStatus = "connected"
	DeviceExecuting     DeviceStatus = "executing"
	DeviceDisconnecting DeviceStatus = "disconnecting"
	DeviceCompleted     DeviceStatus = "completed"
	DeviceConnectFailed DeviceStatus = "connection_failed"
	DeviceFailed        DeviceStatus = "failed"
)

// CommandStatus is the per-command state within a device.
type CommandStatus string

const (
	CommandPending CommandStatus = "pending"
	CommandRunning CommandStatus = "running"
	CommandSuccess CommandStatus = "success"
	CommandFailed  CommandStatus = "failed"
)

// ConnectionMode selects the connect/execute worker count within a batch.
type ConnectionMode string

const (
	ModeParallel   ConnectionMode = "parallel"
	ModeSequential ConnectionMode = "sequential"
)

// CommandState tracks one command on one device.
type CommandState struct {
	Command     string        `json:"command"`
	Status      CommandStatus `json:"status"`
	ExecutionMS int64         `json:"execution_ms"`
	OutputBytes int           `json:"output_bytes"`
	Error       string        `json:"error,omitempty"`
}

// DeviceJobState tracks one device's progress through a job.
type DeviceJobState struct {
	DeviceID          string         `json:"device_id"`
	DeviceName        string         `json:"device_name"`
	Country           string         `json:"country"`
	Status            DeviceStatus   `json:"status"`
	ConnectionType    string         `json:"connection_type,omitempty"` // "real" or "jumphosted"
	CompletedCommands int            `json:"completed_commands"`
	TotalCommands     int            `json:"total_commands"`
	Commands          []CommandState `json:"commands"`
	Error             string         `json:"error,omitempty"`
}

// Job is the in-memory lifecycle record. The scheduler is the only writer
// while the job is live; readers take snapshots.
type Job struct {
	mu sync.Mutex

	ID             string
	Status         Status
	DeviceIDs      []string
	Commands       []string
	BatchSize      int
	DevicesPerHour int
	Mode           ConnectionMode
	CreatedAt      time.Time
	StartedAt      time.Time
	EndedAt        time.Time
	Error          string

	Devices map[string]*DeviceJobState

	cancelOnce sync.Once
	cancelCh   chan struct{}
}

func newJob(id string, deviceIDs, commands []string, batchSize, devicesPerHour int, mode ConnectionMode) *Job {
	j := &Job{
		ID:             id,
		Status:         StatusPending,
		DeviceIDs:      deviceIDs,
		Commands:       commands,
		BatchSize:      batchSize,
		DevicesPerHour: devicesPerHour,
		Mode:           mode,
		CreatedAt:      time.Now().UTC(),
		Devices:        make(map[string]*DeviceJobState, len(deviceIDs)),
		cancelCh:       make(chan struct{}),
	}
	return j
}

// RequestCancel flips the cancel flag. Safe to call more than once.
func (j *Job) RequestCancel() {
	j.cancelOnce.Do(func() { close(j.cancelCh) })
}

// CancelRequested reports whether a stop has been requested.
func (j *Job) CancelRequested() bool {
	select {
	case <-j.cancelCh:
		return true
	default:
		return false
	}
}

// cancelChan exposes the channel for cancellable sleeps.
func (j *Job) cancelChan() <-chan struct{} { return j.cancelCh }

// Snapshot is a read-only copy of a job's state.
type Snapshot struct {
	ID               string                    `json:"job_id"`
	Status           Status                    `json:"status"`
	DeviceIDs        []string                  `json:"device_ids"`
	Commands         []string                  `json:"commands"`
	BatchSize        int                       `json:"batch_size"`
	DevicesPerHour   int                       `json:"devices_per_hour"`
	Mode             ConnectionMode            `json:"connection_mode"`
	CreatedAt        time.Time                 `json:"created_at"`
	StartedAt        *time.Time                `json:"started_at,omitempty"`
	EndedAt          *time.Time                `json:"ended_at,omitempty"`
	Error            string                    `json:"error,omitempty"`
	TotalDevices     int                       `json:"total_devices"`
	CompletedDevices int                       `json:"completed_devices"`
	FailedDevices    int                       `json:"failed_devices"`
	ProgressPercent  int                       `json:"progress_percent"`
	Devices          map[string]DeviceJobState `json:"devices"`
	CancelRequested  bool                      `json:"cancel_requested"`
}

// Snapshot copies the job state under the lock.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	s := Snapshot{
		ID:              j.ID,
		Status:          j.Status,
		DeviceIDs:       append([]string(nil), j.DeviceIDs...),
		Commands:        append([]string(nil), j.Commands...),
		BatchSize:       j.BatchSize,
		DevicesPerHour:  j.DevicesPerHour,
		Mode:            j.Mode,
		CreatedAt:       j.CreatedAt,
		Error:           j.Error,
		TotalDevices:    len(j.DeviceIDs),
		Devices:         make(map[string]DeviceJobState, len(j.Devices)),
		CancelRequested: j.CancelRequested(),
	}
	if !j.StartedAt.IsZero() {
		t := j.StartedAt
		s.StartedAt = &t
	}
	if !j.EndedAt.IsZero() {
		t := j.EndedAt
		s.EndedAt = &t
	}
	for id, d := range j.Devices {
		cp := *d
		cp.Commands = append([]CommandState(nil), d.Commands...)
		s.Devices[id] = cp
	}
	s.CompletedDevices, s.FailedDevices = countLocked(j)
	s.ProgressPercent = Percent(s.CompletedDevices+s.FailedDevices, s.TotalDevices)
	return s
}

// countLocked tallies terminal device states. Caller holds j.mu.
func countLocked(j *Job) (completed, failed int) {
	for _, d := range j.Devices {
		switch d.Status {
		case DeviceCompleted:
			completed++
		case DeviceConnectFailed, DeviceFailed:
			failed++
		}
	}
	return completed, failed
}

// Percent computes round(100 * done / total), 0 when total is 0.
func Percent(done, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(done) / float64(total)))
}

// ClampBatchSize applies the [2, min(50, n)] clamp. A single-device job
// degenerates to batch size 1.
func ClampBatchSize(requested, n int) int {
	if n <= 1 {
		return 1
	}
	max := 50
	if n < max {
		max = n
	}
	switch {
	case requested < 2:
		return 2
	case requested > max:
		return max
	default:
		return requested
	}
}
