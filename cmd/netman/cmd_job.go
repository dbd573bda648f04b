package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/netman-network/netman/pkg/api"
	"github.com/netman-network/netman/pkg/cli"
	"github.com/netman-network/netman/pkg/job"
	"github.com/netman-network/netman/pkg/progress"
	"github.com/netman-network/netman/pkg/util"
)

// defaultCollectionCommands is the OSPF discovery set used when no
// --command is given. It matches what the topology builder consumes.
var defaultCollectionCommands = []string{
	"show ospf neighbor",
	"show ospf database",
	"show ospf database router",
	"show ospf database network",
	"show ospf interface brief",
	"show running-config router ospf",
}

func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Run and inspect command collection jobs",
	}
	cmd.AddCommand(
		newJobStartCmd(),
		newJobStatusCmd(),
		newJobStopCmd(),
		newJobWatchCmd(),
		newJobResultsCmd(),
	)
	return cmd
}

func newJobStartCmd() *cobra.Command {
	var (
		devices        string
		allDevices     bool
		commands       []string
		batchSize      int
		devicesPerHour int
		sequential     bool
		watch          bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a collection job",
		Long: `Start a job that connects to the selected devices and runs the given
commands, storing the output under the data root.

Devices are given by inventory id or name. Without --command, the OSPF
discovery command set is used.

  netman job start --devices zwe-r1,zwe-r2
  netman job start --all --command "show version" --batch-size 5
  netman job start --devices zwe-r1 --devices-per-hour 20 --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			ids, err := resolveDeviceIDs(svc, devices, allDevices)
			if err != nil {
				return err
			}
			cmds := commands
			if len(cmds) == 0 {
				cmds = defaultCollectionCommands
			}

			mode := job.ModeParallel
			if sequential {
				mode = job.ModeSequential
			}
			jobID, err := svc.JobsCreate(cmd.Context(), job.CreateRequest{
				DeviceIDs:      ids,
				Commands:       cmds,
				BatchSize:      batchSize,
				DevicesPerHour: devicesPerHour,
				ConnectionMode: mode,
			})
			if err != nil {
				return err
			}

			fmt.Printf("job %s started: %d devices, %d commands\n", jobID, len(ids), len(cmds))
			if watch {
				return watchJob(svc, jobID)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&devices, "devices", "d", "", "comma-separated device ids or names")
	cmd.Flags().BoolVar(&allDevices, "all", false, "run against every inventory device")
	cmd.Flags().StringArrayVarP(&commands, "command", "c", nil, "command to run (repeatable)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "devices per batch (clamped to [2, min(50, devices)])")
	cmd.Flags().IntVar(&devicesPerHour, "devices-per-hour", 0, "rate limit; 0 disables the inter-batch delay")
	cmd.Flags().BoolVar(&sequential, "sequential", false, "connect to devices one at a time within a batch")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "stream progress until the job finishes")

	return cmd
}

// resolveDeviceIDs maps --devices tokens (ids or names) to inventory ids.
func resolveDeviceIDs(svc *api.Service, devices string, all bool) ([]string, error) {
	inv := svc.Inventory()
	if all {
		var ids []string
		for _, d := range inv.All() {
			ids = append(ids, d.ID)
		}
		if len(ids) == 0 {
			return nil, util.NewValidationError("inventory is empty")
		}
		return ids, nil
	}

	tokens := util.SplitCommaSeparated(devices)
	if len(tokens) == 0 {
		return nil, util.NewValidationError("no devices selected: use --devices or --all")
	}
	var ids []string
	for _, tok := range tokens {
		if d, err := inv.Get(tok); err == nil {
			ids = append(ids, d.ID)
			continue
		}
		d, err := inv.GetByName(tok)
		if err != nil {
			return nil, fmt.Errorf("device %q not in inventory: %w", tok, util.ErrNotFound)
		}
		ids = append(ids, d.ID)
	}
	return ids, nil
}

func newJobStatusCmd() *cobra.Command {
	var (
		latest     bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show job status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			var snap job.Snapshot
			switch {
			case len(args) == 1:
				snap, err = svc.JobsGet(cmd.Context(), args[0])
			case latest, len(args) == 0:
				snap, err = svc.JobsLatest(cmd.Context())
			}
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(snap)
			}
			printJobStatus(snap)
			return nil
		},
	}

	cmd.Flags().BoolVar(&latest, "latest", false, "show the most recent job (default when no id given)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "JSON output")
	return cmd
}

func printJobStatus(snap job.Snapshot) {
	fmt.Printf("job %s\n", snap.ID)
	fmt.Printf("  status:    %s\n", colorJobStatus(snap.Status))
	fmt.Printf("  progress:  %d%% (%d completed, %d failed of %d devices)\n",
		snap.ProgressPercent, snap.CompletedDevices, snap.FailedDevices, snap.TotalDevices)
	fmt.Printf("  batch:     %d (%s)\n", snap.BatchSize, snap.Mode)
	if snap.DevicesPerHour > 0 {
		fmt.Printf("  rate:      %d devices/hour\n", snap.DevicesPerHour)
	}
	if snap.StartedAt != nil {
		fmt.Printf("  started:   %s\n", snap.StartedAt.Local().Format(time.DateTime))
	}
	if snap.EndedAt != nil && snap.StartedAt != nil {
		duration := snap.EndedAt.Sub(*snap.StartedAt).Round(time.Second)
		fmt.Printf("  finished:  %s (took %s)\n", snap.EndedAt.Local().Format(time.DateTime), duration)
	}
	if snap.Error != "" {
		fmt.Printf("  error:     %s\n", cli.Red(snap.Error))
	}

	if len(snap.Devices) == 0 {
		return
	}
	fmt.Println()

	ids := make([]string, 0, len(snap.Devices))
	for id := range snap.Devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	t := cli.NewTable("DEVICE", "STATUS", "COMMANDS", "ERROR").WithPrefix("  ")
	for _, id := range ids {
		d := snap.Devices[id]
		t.Row(d.DeviceName,
			colorDeviceStatus(d.Status),
			fmt.Sprintf("%d/%d", d.CompletedCommands, d.TotalCommands),
			d.Error)
	}
	t.Flush()
}

func newJobStopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop <job-id>",
		Short: "Request cancellation of a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			res, err := svc.JobsStop(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("stop requested for job %s (%d sessions disconnected)\n",
				args[0], len(res.DisconnectedDevices))
			return nil
		},
	}
	return cmd
}

func newJobWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [job-id]",
		Short: "Stream job progress events",
		Long: `Stream a job's progress events until it reaches a terminal state.
Attaching mid-job first replays the buffered history, then tails live
events. Without an id, the most recent job is watched.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			jobID := ""
			if len(args) == 1 {
				jobID = args[0]
			} else {
				snap, err := svc.JobsLatest(cmd.Context())
				if err != nil {
					return err
				}
				jobID = snap.ID
			}
			return watchJob(svc, jobID)
		},
	}
	return cmd
}

func watchJob(svc *api.Service, jobID string) error {
	sub, cancel := svc.JobsSubscribe(jobID)
	defer cancel()

	for ev := range sub {
		fmt.Println(formatEvent(ev))
	}
	return nil
}

// formatEvent renders one progress event as a log line.
func formatEvent(ev progress.Event) string {
	ts := ev.Timestamp.Local().Format("15:04:05")
	line := ""
	switch ev.Kind {
	case progress.KindJobStatus:
		line = fmt.Sprintf("job %s, %d%% (%d ok, %d failed of %d)",
			ev.JobStatus, ev.ProgressPercent, ev.Completed, ev.Failed, ev.Total)
	case progress.KindDeviceStatus:
		line = fmt.Sprintf("%s %s", ev.DeviceName, colorDeviceStatus(job.DeviceStatus(ev.DeviceStatus)))
	case progress.KindCommandStatus:
		line = fmt.Sprintf("%s $ %s: %s", ev.DeviceName, ev.Command, colorCommandStatus(ev.CommandStatus))
	case progress.KindTerminal:
		line = fmt.Sprintf("job finished: %s, %d%%", colorJobStatus(job.Status(ev.JobStatus)), ev.ProgressPercent)
	default:
		line = ev.Message
	}
	if ev.Message != "" && ev.Kind != progress.KindLog {
		line += " (" + ev.Message + ")"
	}
	if ev.Lagged {
		line += cli.Yellow(" [events dropped]")
	}
	return fmt.Sprintf("%s  %s", cli.Dim(ts), line)
}

func newJobResultsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "results <job-id>",
		Short: "Show per-command results for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			results, err := svc.JobsResults(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(results)
			}
			if len(results) == 0 {
				fmt.Println("no results recorded")
				return nil
			}

			t := cli.NewTable("DEVICE", "COMMAND", "STATUS", "TIME", "ERROR")
			for _, r := range results {
				t.Row(r.DeviceName, r.Command,
					colorCommandStatus(r.Status),
					fmt.Sprintf("%dms", r.ExecutionTimeMS),
					r.Error)
			}
			t.Flush()
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "JSON output")
	return cmd
}

func colorJobStatus(s job.Status) string {
	switch s {
	case job.StatusCompleted:
		return cli.Green(string(s))
	case job.StatusFailed, job.StatusCancelled:
		return cli.Red(string(s))
	case job.StatusStopping:
		return cli.Yellow(string(s))
	default:
		return string(s)
	}
}

func colorDeviceStatus(s job.DeviceStatus) string {
	switch s {
	case job.DeviceCompleted:
		return cli.Green(string(s))
	case job.DeviceFailed, job.DeviceConnectFailed:
		return cli.Red(string(s))
	case job.DeviceExecuting, job.DeviceConnecting:
		return cli.Yellow(string(s))
	default:
		return string(s)
	}
}

func colorCommandStatus(s string) string {
	switch job.CommandStatus(s) {
	case job.CommandSuccess:
		return cli.Green(s)
	case job.CommandFailed:
		return cli.Red(s)
	case job.CommandRunning:
		return cli.Yellow(s)
	default:
		return s
	}
}
