package job

import (
	"context"
	"strings"
	"time"

	"github.com/netman-network/netman/pkg/artifact"
	"github.com/netman-network/netman/pkg/conn"
	"github.com/netman-network/netman/pkg/jobstore"
	"github.com/netman-network/netman/pkg/metrics"
	"github.com/netman-network/netman/pkg/progress"
	"github.com/netman-network/netman/pkg/util"
)

// executeCommand runs one command on an open session: publish running,
// send, persist the artifact and result row, publish the outcome. A
// failure is recorded and swallowed so later commands on the device still
// run. Session ownership stays with the scheduler.
func (s *Scheduler) executeCommand(ctx context.Context, j *Job, deviceID string, idx int) {
	j.mu.Lock()
	ds := j.Devices[deviceID]
	cs := &ds.Commands[idx]
	cs.Status = CommandRunning
	command := cs.Command
	deviceName := ds.DeviceName
	j.mu.Unlock()

	s.publishCommand(j, deviceID, deviceName, command, CommandRunning, 0, "")

	log := util.WithCommand(deviceName, command)
	start := time.Now()
	output, err := s.conns.Send(deviceID, command, conn.CommandTimeout(command, s.readTimeout))
	elapsed := time.Since(start)
	ms := elapsed.Milliseconds()

	if err != nil {
		log.WithError(err).Warn("command failed")
		metrics.CommandsExecuted.WithLabelValues(string(CommandFailed)).Inc()
		s.recordCommand(ctx, j, deviceID, idx, CommandFailed, "", "", ms, 0, err.Error())
		return
	}

	ts := time.Now().UTC()
	textPath, jsonPath, werr := s.artifacts.Write(deviceName, command, output, artifact.JSONPayload{
		Command:         command,
		DeviceID:        deviceID,
		DeviceName:      deviceName,
		Timestamp:       ts,
		ExecutionTimeMS: ms,
		Parsed:          parsedFields(command, output),
		RawOutput:       output,
	}, ts)
	if werr != nil {
		// Output was produced but could not be kept; the command counts as
		// failed so the collection run is honest about missing artifacts.
		log.WithError(werr).Error("persisting artifact")
		metrics.CommandsExecuted.WithLabelValues(string(CommandFailed)).Inc()
		s.recordCommand(ctx, j, deviceID, idx, CommandFailed, "", "", ms, len(output), werr.Error())
		return
	}

	log.Infof("ok (%d bytes, %dms)", len(output), ms)
	metrics.CommandsExecuted.WithLabelValues(string(CommandSuccess)).Inc()
	s.recordCommand(ctx, j, deviceID, idx, CommandSuccess, textPath, jsonPath, ms, len(output), "")
}

// recordCommand updates in-memory state, appends the durable result row,
// and publishes the command outcome.
func (s *Scheduler) recordCommand(ctx context.Context, j *Job, deviceID string, idx int, status CommandStatus, textPath, jsonPath string, ms int64, outputBytes int, errMsg string) {
	j.mu.Lock()
	ds := j.Devices[deviceID]
	cs := &ds.Commands[idx]
	cs.Status = status
	cs.ExecutionMS = ms
	cs.OutputBytes = outputBytes
	cs.Error = errMsg
	if status == CommandSuccess {
		ds.CompletedCommands++
	}
	command := cs.Command
	deviceName := ds.DeviceName
	j.mu.Unlock()

	err := s.store.AppendResult(ctx, jobstore.CommandResult{
		JobID:           j.ID,
		DeviceID:        deviceID,
		DeviceName:      deviceName,
		Command:         command,
		Status:          string(status),
		TextPath:        textPath,
		JSONPath:        jsonPath,
		Error:           errMsg,
		ExecutionTimeMS: ms,
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		util.WithJob(j.ID).WithError(err).Error("persisting command result")
	}

	s.publishCommand(j, deviceID, deviceName, command, status, ms, errMsg)
}

func (s *Scheduler) publishCommand(j *Job, deviceID, deviceName, command string, status CommandStatus, ms int64, errMsg string) {
	completed, failed := s.counters(j)
	s.bus.Publish(j.ID, progress.Event{
		Kind:            progress.KindCommandStatus,
		DeviceID:        deviceID,
		DeviceName:      deviceName,
		Command:         command,
		CommandStatus:   string(status),
		Message:         errMsg,
		Completed:       completed,
		Failed:          failed,
		Total:           len(j.DeviceIDs),
		ProgressPercent: Percent(completed+failed, len(j.DeviceIDs)),
		Metadata:        commandMeta(ms),
	})
}

// parsedFields derives the small summary stored in the JSON sidecar.
// Cheap line scans only; real parsing belongs to the topology builder.
func parsedFields(command, output string) map[string]any {
	switch artifact.KindOf(util.SanitizeCommand(command)) {
	case artifact.KindOSPFNeighbor:
		full := 0
		for _, line := range strings.Split(output, "\n") {
			if strings.Contains(line, "FULL") {
				full++
			}
		}
		return map[string]any{"full_neighbors": full}
	case artifact.KindOSPFDatabase, artifact.KindOSPFDatabaseRouter, artifact.KindOSPFDatabaseNetwork:
		return map[string]any{"lsa_count": strings.Count(output, "Link State ID:")}
	default:
		return nil
	}
}

func commandMeta(ms int64) map[string]string {
	if ms <= 0 {
		return nil
	}
	return map[string]string{"execution_ms": time.Duration(ms * int64(time.Millisecond)).String()}
}
