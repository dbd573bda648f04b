// Package api assembles the orchestrator and exposes its operations as a
// transport-agnostic service. An HTTP or WebSocket layer, if added, is an
// adapter over this type; the CLI uses it directly.
package api

import (
	"context"
	"path/filepath"

	"github.com/netman-network/netman/pkg/artifact"
	"github.com/netman-network/netman/pkg/config"
	"github.com/netman-network/netman/pkg/conn"
	"github.com/netman-network/netman/pkg/inventory"
	"github.com/netman-network/netman/pkg/job"
	"github.com/netman-network/netman/pkg/jobstore"
	"github.com/netman-network/netman/pkg/jumphost"
	"github.com/netman-network/netman/pkg/progress"
	"github.com/netman-network/netman/pkg/secrets"
	"github.com/netman-network/netman/pkg/topology"
	"github.com/netman-network/netman/pkg/util"
)

// Service owns every subsystem of the orchestrator.
type Service struct {
	cfg       *config.Config
	secrets   *secrets.Store
	inventory *inventory.Inventory
	jumphost  *jumphost.Store
	conns     *conn.Manager
	artifacts *artifact.Store
	jobs      *jobstore.Store
	bus       *progress.Bus
	manager   *job.Manager
	topoStore *topology.Store
	builder   *topology.Builder
}

// New wires the orchestrator from configuration. Jobs left non-terminal
// by a previous process are force-failed: the orchestrator never resumes
// work across restarts.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	if err := util.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, err
	}

	sec, err := secrets.Open(cfg.EncryptionKeyPath)
	if err != nil {
		return nil, err
	}
	inv, err := inventory.Load(cfg.InventoryPath)
	if err != nil {
		return nil, err
	}
	jh, err := jumphost.NewStore(cfg.JumphostConfigPath, sec)
	if err != nil {
		return nil, err
	}
	artifacts, err := artifact.NewStore(cfg.DataRoot)
	if err != nil {
		return nil, err
	}
	jobs, err := jobstore.Open(ctx, filepath.Join(cfg.DataRoot, "jobs.db"))
	if err != nil {
		return nil, err
	}
	if _, err := jobs.FailUnfinished(ctx, "orchestrator restart"); err != nil {
		return nil, err
	}
	topoStore, err := topology.OpenStore(ctx,
		filepath.Join(cfg.DataRoot, "topology.db"),
		filepath.Join(cfg.DataRoot, "topology_snapshots"))
	if err != nil {
		return nil, err
	}

	conns := conn.NewManager(sec, jh)
	bus := progress.NewBus(cfg.ProgressBusBuffer)
	sched := job.NewScheduler(conns, artifacts, jobs, bus, inv, cfg.ConnectTimeout(), cfg.ReadTimeout())
	manager := job.NewManager(inv, conns, jobs, bus, sched)

	return &Service{
		cfg:       cfg,
		secrets:   sec,
		inventory: inv,
		jumphost:  jh,
		conns:     conns,
		artifacts: artifacts,
		jobs:      jobs,
		bus:       bus,
		manager:   manager,
		topoStore: topoStore,
		builder:   topology.NewBuilder(artifacts, inv, topoStore),
	}, nil
}

// Close releases the durable stores and any live sessions.
func (s *Service) Close() error {
	s.conns.DisconnectAll()
	s.topoStore.Close()
	return s.jobs.Close()
}

// Inventory exposes the read-only device set.
func (s *Service) Inventory() *inventory.Inventory { return s.inventory }

// Secrets exposes the credential store for the creds subcommands.
func (s *Service) Secrets() *secrets.Store { return s.secrets }

// JobsCreate validates and starts a job, returning its id immediately.
func (s *Service) JobsCreate(ctx context.Context, req job.CreateRequest) (string, error) {
	return s.manager.Create(ctx, req)
}

// JobsGet returns a snapshot of one job.
func (s *Service) JobsGet(ctx context.Context, jobID string) (job.Snapshot, error) {
	return s.manager.Get(ctx, jobID)
}

// JobsLatest returns the most recently created job.
func (s *Service) JobsLatest(ctx context.Context) (job.Snapshot, error) {
	return s.manager.Latest(ctx)
}

// StopResult reports what a stop request did.
type StopResult struct {
	Stopped             bool     `json:"stopped"`
	DisconnectedDevices []string `json:"disconnected_device_ids"`
}

// JobsStop requests cancellation of a running job.
func (s *Service) JobsStop(ctx context.Context, jobID string) (StopResult, error) {
	before, err := s.manager.Get(ctx, jobID)
	if err != nil {
		return StopResult{}, err
	}
	var connected []string
	for id, d := range before.Devices {
		if d.Status == job.DeviceConnected || d.Status == job.DeviceExecuting {
			connected = append(connected, id)
		}
	}
	if err := s.manager.Stop(ctx, jobID); err != nil {
		return StopResult{}, err
	}
	return StopResult{Stopped: true, DisconnectedDevices: connected}, nil
}

// JobsResults returns the durable per-command results for a job.
func (s *Service) JobsResults(ctx context.Context, jobID string) ([]jobstore.CommandResult, error) {
	return s.manager.Results(ctx, jobID)
}

// JobsSubscribe attaches to a job's progress stream.
func (s *Service) JobsSubscribe(jobID string) (progress.Subscriber, func()) {
	return s.manager.Subscribe(jobID)
}

// FilesList lists stored artifacts, optionally filtered by device name.
func (s *Service) FilesList(folder artifact.Folder, deviceFilter string) ([]artifact.FileInfo, error) {
	return s.artifacts.List(folder, deviceFilter)
}

// FileRead returns one artifact's content. The name must be a bare
// filename: traversal and absolute paths are rejected before any
// filesystem access.
func (s *Service) FileRead(folder artifact.Folder, name string) ([]byte, error) {
	return s.artifacts.Read(folder, name)
}

// TopologyBuild derives and persists a fresh topology from the latest
// artifacts.
func (s *Service) TopologyBuild(ctx context.Context) (*topology.Snapshot, error) {
	return s.builder.Build(ctx)
}

// TopologyLatest returns the last persisted topology snapshot.
func (s *Service) TopologyLatest() (*topology.Snapshot, error) {
	return s.topoStore.Latest()
}

// JumphostGet returns the jumphost config with the password redacted.
func (s *Service) JumphostGet() jumphost.Config {
	return s.jumphost.Get()
}

// JumphostSet validates, live-probes, and persists a jumphost config.
// The stored config is untouched when the probe fails.
func (s *Service) JumphostSet(cfg jumphost.Config) error {
	return s.jumphost.Set(cfg, conn.ProbeJumphost)
}

// JumphostProbe tests a config without saving it.
func (s *Service) JumphostProbe(cfg jumphost.Config) error {
	return conn.ProbeJumphost(cfg)
}
