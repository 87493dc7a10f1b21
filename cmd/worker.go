package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kozaktomas/photo-jobs/internal/config"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run job workers without the API",
	Long: `Run job workers against the shared Redis queue.

Requires QUEUE_BACKEND=redis. Per-queue concurrency is read from
JOB_CONCURRENCY_<QUEUE> (e.g. JOB_CONCURRENCY_SMARTSEARCH=4) and falls back
to JOB_CONCURRENCY. Use --concurrency to override the fallback.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().Int("concurrency", 0, "Workers per queue without an explicit JOB_CONCURRENCY_<QUEUE> (0 = from environment)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if !cfg.Queue.UsesRedis() {
		return errors.New("worker requires QUEUE_BACKEND=redis; the in-memory queue only runs inside serve")
	}
	if n := mustGetInt(cmd, "concurrency"); n > 0 {
		cfg.Jobs.DefaultConcurrency = n
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Println("Workers running, press Ctrl+C to stop")
	a.runWorkers(ctx)

	fmt.Println("\nShutting down...")
	a.saveHNSWIndexes(context.Background())
	return nil
}
