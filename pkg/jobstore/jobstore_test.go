package jobstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/netman-network/netman/pkg/util"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newRecord(id string, created time.Time) JobRecord {
	return JobRecord{
		ID:             id,
		Status:         "pending",
		Commands:       []string{"show ospf neighbor", "show ospf database router"},
		DeviceIDs:      []string{"dev-1", "dev-2"},
		BatchSize:      2,
		Parallel:       true,
		DevicesPerHour: 0,
		TotalDevices:   2,
		CreatedAt:      created,
	}
}

func TestCreateAndGetJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if err := s.CreateJob(ctx, newRecord("job-1", created)); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	got, err := s.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != "pending" {
		t.Errorf("status = %q, want pending", got.Status)
	}
	if len(got.Commands) != 2 || got.Commands[0] != "show ospf neighbor" {
		t.Errorf("commands = %v", got.Commands)
	}
	if len(got.DeviceIDs) != 2 {
		t.Errorf("device ids = %v", got.DeviceIDs)
	}
	if got.StartedAt != nil || got.FinishedAt != nil {
		t.Error("fresh job has start or finish time set")
	}
}

func TestGetJobNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetJob(context.Background(), "nope"); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.CreateJob(ctx, newRecord("job-1", time.Now())); err != nil {
		t.Fatal(err)
	}

	for _, status := range []string{"connecting", "running"} {
		if err := s.UpdateStatus(ctx, "job-1", status, ""); err != nil {
			t.Fatalf("UpdateStatus(%s): %v", status, err)
		}
		got, _ := s.GetJob(ctx, "job-1")
		if got.FinishedAt != nil {
			t.Errorf("non-terminal status %s set finished_at", status)
		}
	}

	if err := s.UpdateStatus(ctx, "job-1", "completed", ""); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetJob(ctx, "job-1")
	if got.Status != "completed" {
		t.Errorf("status = %q", got.Status)
	}
	if got.FinishedAt == nil {
		t.Error("terminal status did not set finished_at")
	}
}

func TestUpdateStatusKeepsEarlierError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.CreateJob(ctx, newRecord("job-1", time.Now())); err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateStatus(ctx, "job-1", "failed", "all connections failed"); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateStatus(ctx, "job-1", "failed", ""); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetJob(ctx, "job-1")
	if got.Error != "all connections failed" {
		t.Errorf("error = %q, want preserved message", got.Error)
	}
}

func TestSetProgress(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.CreateJob(ctx, newRecord("job-1", time.Now())); err != nil {
		t.Fatal(err)
	}

	if err := s.SetProgress(ctx, "job-1", 1, 1, 50); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetJob(ctx, "job-1")
	if got.CompletedDevices != 1 || got.FailedDevices != 1 || got.ProgressPercent != 50 {
		t.Errorf("progress = %d/%d %d%%", got.CompletedDevices, got.FailedDevices, got.ProgressPercent)
	}

	if err := s.SetProgress(ctx, "missing", 0, 0, 0); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("SetProgress(missing) err = %v, want ErrNotFound", err)
	}
}

func TestResultsOrdered(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.CreateJob(ctx, newRecord("job-1", time.Now())); err != nil {
		t.Fatal(err)
	}

	commands := []string{"show ospf neighbor", "show ospf database router", "show ospf interface brief"}
	for _, cmd := range commands {
		err := s.AppendResult(ctx, CommandResult{
			JobID:      "job-1",
			DeviceID:   "dev-1",
			DeviceName: "r1",
			Command:    cmd,
			Status:     "success",
			CreatedAt:  time.Now(),
		})
		if err != nil {
			t.Fatalf("AppendResult: %v", err)
		}
	}

	results, err := s.Results(ctx, "job-1")
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if len(results) != len(commands) {
		t.Fatalf("got %d results, want %d", len(results), len(commands))
	}
	for i, r := range results {
		if r.Command != commands[i] {
			t.Errorf("result %d command = %q, want %q", i, r.Command, commands[i])
		}
	}
}

func TestLatestJobAndJobsSince(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"job-a", "job-b", "job-c"} {
		if err := s.CreateJob(ctx, newRecord(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatal(err)
		}
	}

	latest, err := s.LatestJob(ctx)
	if err != nil {
		t.Fatalf("LatestJob: %v", err)
	}
	if latest.ID != "job-c" {
		t.Errorf("latest = %q, want job-c", latest.ID)
	}

	since, err := s.JobsSince(ctx, base.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("JobsSince: %v", err)
	}
	if len(since) != 2 {
		t.Fatalf("JobsSince len = %d, want 2", len(since))
	}
	if since[0].ID != "job-c" || since[1].ID != "job-b" {
		t.Errorf("JobsSince order = %s, %s", since[0].ID, since[1].ID)
	}
}

func TestLatestJobEmpty(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.LatestJob(context.Background()); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFailUnfinished(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for id, status := range map[string]string{
		"job-running":   "running",
		"job-pending":   "pending",
		"job-completed": "completed",
		"job-cancelled": "cancelled",
	} {
		if err := s.CreateJob(ctx, newRecord(id, time.Now())); err != nil {
			t.Fatal(err)
		}
		if status != "pending" {
			if err := s.UpdateStatus(ctx, id, status, ""); err != nil {
				t.Fatal(err)
			}
		}
	}

	n, err := s.FailUnfinished(ctx, "orchestrator restart")
	if err != nil {
		t.Fatalf("FailUnfinished: %v", err)
	}
	if n != 2 {
		t.Errorf("swept %d jobs, want 2", n)
	}

	for _, id := range []string{"job-running", "job-pending"} {
		got, _ := s.GetJob(ctx, id)
		if got.Status != "failed" || got.Error != "orchestrator restart" {
			t.Errorf("%s = %s / %q, want failed / orchestrator restart", id, got.Status, got.Error)
		}
		if got.FinishedAt == nil {
			t.Errorf("%s has no finished_at after sweep", id)
		}
	}
	got, _ := s.GetJob(ctx, "job-completed")
	if got.Status != "completed" {
		t.Errorf("terminal job was swept: %s", got.Status)
	}

	n, err = s.FailUnfinished(ctx, "orchestrator restart")
	if err != nil || n != 0 {
		t.Errorf("second sweep = %d, %v; want 0, nil", n, err)
	}
}
