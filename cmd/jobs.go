package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/kozaktomas/photo-jobs/internal/client"
	"github.com/kozaktomas/photo-jobs/internal/jobs"
	"github.com/kozaktomas/photo-jobs/internal/queue"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and control the job queues of a running server",
	Long: `Inspect and control the job queues of a running server.

Queues: metadataExtraction, thumbnailGeneration, smartSearch, faceDetection,
facialRecognition, duplicateDetection. Use "all" to address every queue.

Examples:
  photo-jobs jobs status
  photo-jobs jobs start smartSearch --force
  photo-jobs jobs pause all
  photo-jobs jobs wait --timeout 10m`,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status [queue...]",
	Short: "Show queue state and task counts",
	RunE:  runJobsStatus,
}

var jobsWaitCmd = &cobra.Command{
	Use:   "wait [queue...]",
	Short: "Wait until the queues have nothing waiting or running",
	Long: `Wait until the queues have nothing waiting or running.

Queues are checked in pipeline order so work fanned out to a downstream
queue is seen before the upstream queue reports drained.`,
	RunE: runJobsWait,
}

var jobCommandHelp = map[jobs.JobCommand]string{
	jobs.CommandStart:       "Queue every asset missing the queue's attribute (all assets with --force)",
	jobs.CommandPause:       "Stop handing out waiting tasks; running tasks finish",
	jobs.CommandResume:      "Resume a paused queue",
	jobs.CommandEmpty:       "Remove waiting tasks",
	jobs.CommandClearFailed: "Remove failed tasks",
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsStatusCmd, jobsWaitCmd)

	jobsStatusCmd.Flags().Bool("json", false, "Output as JSON")

	jobsWaitCmd.Flags().Duration("timeout", 0, "Give up after this long (0 = wait forever)")
	jobsWaitCmd.Flags().Duration("interval", time.Second, "Polling interval")

	for _, command := range jobs.Commands {
		c := &cobra.Command{
			Use:   string(command) + " <queue|all>",
			Short: jobCommandHelp[command],
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runJobCommand(cmd, command, args)
			},
		}
		if command == jobs.CommandStart {
			c.Flags().Bool("force", false, "Re-derive the attribute for every asset")
		}
		jobsCmd.AddCommand(c)
	}
}

// resolveJobNames returns every queue for no arguments or "all".
func resolveJobNames(args []string) ([]jobs.JobName, error) {
	if len(args) == 0 || (len(args) == 1 && args[0] == "all") {
		return jobs.Names, nil
	}
	names := make([]jobs.JobName, 0, len(args))
	for _, arg := range args {
		name, err := jobs.ParseJobName(arg)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

func runJobCommand(cmd *cobra.Command, command jobs.JobCommand, args []string) error {
	names, err := resolveJobNames(args)
	if err != nil {
		return err
	}
	force := false
	if command == jobs.CommandStart {
		force = mustGetBool(cmd, "force")
	}

	c, err := newAPIClient()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	var failed int
	for _, name := range names {
		status, err := c.Command(ctx, name, command, force)
		if err != nil {
			fmt.Printf("%-20s %s failed: %v\n", name, command, err)
			failed++
			continue
		}
		fmt.Printf("%-20s %s ok (%s)\n", name, command, describeStatus(status))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d commands failed", failed, len(names))
	}
	return nil
}

func stateLabel(s jobs.QueueStatus) string {
	switch {
	case s.RuntimeState.IsPaused:
		return "paused"
	case s.RuntimeState.IsActive:
		return "active"
	}
	return "idle"
}

func describeStatus(s jobs.QueueStatus) string {
	return fmt.Sprintf("%s, %d waiting, %d active, %d failed", stateLabel(s), s.Counts.Waiting, s.Counts.Active, s.Counts.Failed)
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	names, err := resolveJobNames(args)
	if err != nil {
		return err
	}
	c, err := newAPIClient()
	if err != nil {
		return err
	}

	all, err := c.Jobs(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get job status: %w", err)
	}

	if mustGetBool(cmd, "json") {
		selected := make(map[jobs.JobName]jobs.QueueStatus, len(names))
		for _, name := range names {
			selected[name] = all[name]
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(selected)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "QUEUE\tSTATE\tWAITING\tACTIVE\tCOMPLETED\tFAILED\tDELAYED")
	for _, name := range names {
		s := all[name]
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n", name, stateLabel(s),
			s.Counts.Waiting, s.Counts.Active, s.Counts.Completed, s.Counts.Failed, s.Counts.Delayed)
	}
	return w.Flush()
}

// sumCounts adds up the counts of the listed queues.
func sumCounts(all map[jobs.JobName]jobs.QueueStatus, names []jobs.JobName) queue.Counts {
	var total queue.Counts
	for _, name := range names {
		c := all[name].Counts
		total.Waiting += c.Waiting
		total.Active += c.Active
		total.Completed += c.Completed
		total.Failed += c.Failed
		total.Delayed += c.Delayed
	}
	return total
}

// firstBusy returns the first queue, in the given order, that is not drained.
func firstBusy(all map[jobs.JobName]jobs.QueueStatus, names []jobs.JobName) (jobs.JobName, bool) {
	for _, name := range names {
		if !all[name].Counts.Drained() {
			return name, true
		}
	}
	return "", false
}

func runJobsWait(cmd *cobra.Command, args []string) error {
	names, err := resolveJobNames(args)
	if err != nil {
		return err
	}
	timeout := mustGetDuration(cmd, "timeout")
	interval := mustGetDuration(cmd, "interval")
	if interval <= 0 {
		return errors.New("--interval must be positive")
	}

	c, err := newAPIClient()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return waitForDrain(ctx, c, names, interval)
}

func waitForDrain(ctx context.Context, c *client.Client, names []jobs.JobName, interval time.Duration) error {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("Processing"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("tasks"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	baseline := -1
	for {
		all, err := c.Jobs(ctx)
		if err != nil {
			return fmt.Errorf("failed to get job status: %w", err)
		}

		total := sumCounts(all, names)
		finished := total.Completed + total.Failed
		if baseline < 0 {
			baseline = finished
		}
		done := max(finished-baseline, 0)
		pending := total.Waiting + total.Active + total.Delayed
		if done+pending > 0 {
			bar.ChangeMax(done + pending)
			_ = bar.Set(done)
		}

		busy, ok := firstBusy(all, names)
		if !ok {
			_ = bar.Finish()
			fmt.Printf("\nAll queues drained (%d processed, %d failed in total)\n", done, total.Failed)
			return nil
		}
		bar.Describe(fmt.Sprintf("Processing %s", busy))

		select {
		case <-ctx.Done():
			fmt.Println()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %s still busy", jobs.ErrQueueDrainTimeout, busy)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
