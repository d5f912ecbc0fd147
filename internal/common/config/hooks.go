package config

import (
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// CustomHooks are the decode hooks every application config is unmarshalled with.
// Durations may be written as "750ms" and string lists as comma separated values.
var CustomHooks = []mapstructure.DecodeHookFunc{
	mapstructure.StringToTimeDurationHookFunc(),
	mapstructure.StringToSliceHookFunc(","),
}

// DecoderOption combines CustomHooks with any application specific hooks into a single viper option.
func DecoderOption(extra ...mapstructure.DecodeHookFunc) viper.DecoderConfigOption {
	hooks := make([]mapstructure.DecodeHookFunc, 0, len(CustomHooks)+len(extra))
	hooks = append(hooks, CustomHooks...)
	hooks = append(hooks, extra...)
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(hooks...))
}
