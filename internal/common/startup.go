package common

import (
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	commonconfig "github.com/armadaproject/goldensignals/internal/common/config"
)

// LoadConfig populates config from, in increasing order of precedence, the config.yaml found in defaultPath,
// each file in overrides and any environment variable named <envPrefix>_<SECTION>_<KEY>.
func LoadConfig(config interface{}, defaultPath string, overrides []string, envPrefix string, hooks ...mapstructure.DecodeHookFunc) error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(defaultPath)
	if err := viper.ReadInConfig(); err != nil {
		return errors.WithMessagef(err, "failed to read default config from %s", defaultPath)
	}
	log.Debugf("Read default config from %s", viper.ConfigFileUsed())

	for _, path := range overrides {
		viper.SetConfigFile(path)
		if err := viper.MergeInConfig(); err != nil {
			return errors.WithMessagef(err, "failed to merge config from %s", path)
		}
		log.Infof("Merged config from %s", path)
	}

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()

	if err := viper.Unmarshal(config, commonconfig.DecoderOption(hooks...)); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// BindCommandlineArguments makes every flag in flags visible to viper under the flag's own name.
func BindCommandlineArguments(flags *pflag.FlagSet) {
	if err := viper.BindPFlags(flags); err != nil {
		log.Error(err)
	}
}
