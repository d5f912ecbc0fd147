package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/armadaproject/goldensignals/internal/common"
	commonconfig "github.com/armadaproject/goldensignals/internal/common/config"
	"github.com/armadaproject/goldensignals/internal/goldensignals/configuration"
)

const (
	CustomConfigLocation string = "config"
	DefaultConfigPath    string = "./config/goldensignals"
	EnvPrefix            string = "GOLDENSIGNALS"
)

func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "goldensignals",
		SilenceUsage: true,
		Short:        "Synthetic workload that reports the four golden signals",
	}

	cmd.PersistentFlags().StringSlice(
		CustomConfigLocation,
		[]string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)")
	cmd.PersistentFlags().String(
		"defaultConfig",
		DefaultConfigPath,
		"Directory holding the default config.yaml")
	common.BindCommandlineArguments(cmd.PersistentFlags())

	cmd.AddCommand(
		runCmd(),
		validateCmd(),
	)

	return cmd
}

func loadConfig() (configuration.Configuration, error) {
	var config configuration.Configuration
	userSpecifiedConfigs := viper.GetStringSlice(CustomConfigLocation)

	err := common.LoadConfig(&config, viper.GetString("defaultConfig"), userSpecifiedConfigs, EnvPrefix, configuration.ExemplarPolicyHookFunc())
	if err != nil {
		return config, err
	}

	err = config.Validate()
	if err != nil {
		commonconfig.LogValidationErrors(err)
	}
	return config, err
}
