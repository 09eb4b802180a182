// Package main is the operator CLI for the traffic analytics console.
//
// Offline commands (jobname, vectors) need no AWS access. The others load
// the same environment configuration as the Lambdas.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fpang/traffic-console/internal/config"
	"github.com/fpang/traffic-console/internal/lambdaboot"
	"github.com/fpang/traffic-console/internal/logging"
)

// CLI flags
var (
	outputFlag  string
	verboseFlag bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "traffic-cli",
		Short: "Operate the traffic analytics console",
		Long: `traffic-cli submits uploaded videos for processing, prints the reconciled
status table, and converts direction vector files.

Examples:
  traffic-cli videos
  traffic-cli submit client_upload/video1.mp4 --client acme
  traffic-cli status --client acme
  traffic-cli jobname video1.mp4 --version 1.2.29
  traffic-cli vectors encode vectors.json > vectors.txt
  traffic-cli vectors decode vectors.txt`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Init()
			if verboseFlag {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}
	root.PersistentFlags().StringVarP(&outputFlag, "output", "o", "table", "output format: table or json")
	root.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newJobNameCmd(),
		newVectorsCmd(),
		newVideosCmd(),
		newSubmitCmd(),
		newStatusCmd(),
		newJobsCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the environment configuration.
func loadConfig(ctx context.Context) (config.Config, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.RequireBuckets(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// connect wires the AWS-backed components.
func connect(ctx context.Context, cfg config.Config) (*lambdaboot.Components, error) {
	clients, err := lambdaboot.InitAWS(ctx, cfg.Region)
	if err != nil {
		return nil, err
	}
	return lambdaboot.Build(ctx, clients, cfg)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

func wantJSON() bool {
	return outputFlag == "json"
}
