package cmd

import (
	"github.com/spf13/cobra"

	"github.com/armadaproject/goldensignals/internal/common/app"
	"github.com/armadaproject/goldensignals/internal/common/logging"
	"github.com/armadaproject/goldensignals/internal/goldensignals"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the workload until interrupted",
		RunE:  runGoldenSignals,
	}
	return cmd
}

func runGoldenSignals(_ *cobra.Command, _ []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	if err := logging.ConfigureLogging(config.Logging); err != nil {
		return err
	}
	ctx, stop := app.CreateContextWithShutdown()
	defer stop()
	return goldensignals.Run(ctx, config)
}
