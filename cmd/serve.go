package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kozaktomas/photo-jobs/internal/config"
	"github.com/kozaktomas/photo-jobs/internal/web"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Start the Photo Jobs API server.

The server accepts uploads, exposes queue status and commands, and streams
job events. With the in-memory queue the workers always run inside the
server. With QUEUE_BACKEND=redis they can be disabled with --workers=false
and run separately via "photo-jobs worker".`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Bool("workers", true, "Run job workers inside the server")
	serveCmd.Flags().StringSlice("allowed-origin", nil, "Additional CORS origin (repeatable)")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return port, host
}

func allowedOrigins(cmd *cobra.Command) []string {
	origins := mustGetStringSlice(cmd, "allowed-origin")
	for _, o := range strings.Split(os.Getenv("WEB_ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	port, host := resolveServeHostPort(cmd)

	workers := mustGetBool(cmd, "workers")
	if !workers && !cfg.Queue.UsesRedis() {
		fmt.Println("Warning: the in-memory queue cannot be shared, running workers in the server")
		workers = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	server := web.NewServer(web.Services{
		Repo:     a.repo,
		Storage:  a.files,
		Pipeline: a.pipeline,
		System:   a.system,
		ML:       a.ml,
	}, web.Options{
		Host:           host,
		Port:           port,
		AllowedOrigins: allowedOrigins(cmd),
	})

	var wg sync.WaitGroup
	if workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.runWorkers(ctx)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
		cancel()
		wg.Wait()
		a.saveHNSWIndexes(shutdownCtx)
	}()

	fmt.Printf("Starting Photo Jobs API on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		cancel()
		wg.Wait()
		return fmt.Errorf("starting server: %w", err)
	}
	// Start returns as soon as the listener closes; let the workers and index save finish.
	<-shutdownDone
	return nil
}
