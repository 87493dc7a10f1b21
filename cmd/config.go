package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change the server's system configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the live system configuration as YAML",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configApplyCmd = &cobra.Command{
	Use:   "apply <file.yaml>",
	Short: "Overlay a YAML file on the live system configuration",
	Long: `Overlay a YAML file on the live system configuration.

Only the keys present in the file change. Example file:

  machineLearning:
    clip:
      enabled: false`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigApply,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configApplyCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	c, err := newAPIClient()
	if err != nil {
		return err
	}
	cfg, err := c.SystemConfig(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get system config: %w", err)
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode system config: %w", err)
	}
	fmt.Print(string(out))
	return nil
}

func runConfigApply(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	c, err := newAPIClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	cfg, err := c.SystemConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to get system config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", args[0], err)
	}

	updated, err := c.UpdateSystemConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to update system config: %w", err)
	}
	fmt.Printf("System config updated (smart search: %v, duplicates: %v, faces: %v)\n",
		updated.SmartSearchEnabled(), updated.DuplicateDetectionEnabled(), updated.FacialRecognitionEnabled())
	return nil
}
