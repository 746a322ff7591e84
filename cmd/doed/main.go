// Package main is the doed command: a model discrimination daemon and the
// offline tools that share its configuration format.
//
//	doed serve --http-addr :8080 --grpc-addr :50051 --store sqlite:doe.db
//	doed run --config campaign.yaml
//	doed score --config campaign.yaml --design 0.5 --design 0.9
package main

import (
	"os"

	"github.com/GoSim-25-26J-441/doe-core/pkg/logger"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	logger.SetDefault(logger.NewText("info", os.Stderr))

	if err := buildRootCmd().Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "doed",
		Short:        "Design experiments that tell rival models apart",
		Version:      version,
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		buildServeCmd(),
		buildRunCmd(),
		buildScoreCmd(),
	)
	return rootCmd
}
