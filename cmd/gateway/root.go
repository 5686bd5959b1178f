package main

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "IoT telemetry aggregation and anomaly alerting gateway",
	Long: `The gateway ingests device readings over HTTP, Kafka or a built-in simulator,
keeps rolling statistics per device metric, raises deduplicated alerts and
streams live snapshots to dashboards over WebSocket.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".", "directory containing config.yaml")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
