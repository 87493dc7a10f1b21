package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kozaktomas/photo-jobs/internal/client"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const defaultServerURL = "http://localhost:8080"

var (
	captureDir string
	serverURL  string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "photo-jobs",
	Short: "Background job pipeline for a self-hosted photo library",
	Long: `Photo Jobs stores uploaded photos and derives their attributes in the
background: EXIF metadata, preview renditions, smart search embeddings,
faces, people and duplicate groups.

Run "serve" to start the API with in-process workers, "worker" to add
workers against a shared Redis queue, and "jobs" to control the queues
of a running server.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&captureDir, "capture", "", "Directory to save API responses for testing")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Photo Jobs server URL (default $PHOTO_JOBS_URL or "+defaultServerURL+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default $LOG_LEVEL or info)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json (default $LOG_FORMAT or text)")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
	configureLogging()
}

func configureLogging() {
	level := firstNonEmpty(logLevel, os.Getenv("LOG_LEVEL"), "info")
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: unknown log level %q, using info\n", level)
		parsed = logrus.InfoLevel
	}
	logrus.SetLevel(parsed)

	if strings.EqualFold(firstNonEmpty(logFormat, os.Getenv("LOG_FORMAT")), "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// newAPIClient connects to the server named by --server or PHOTO_JOBS_URL.
func newAPIClient() (*client.Client, error) {
	c, err := client.NewWithCapture(firstNonEmpty(serverURL, os.Getenv("PHOTO_JOBS_URL"), defaultServerURL), captureDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}
	return c, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
