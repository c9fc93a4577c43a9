package cfg

import (
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

func hookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		s := data.(string)
		switch t {
		case reflect.TypeOf(ByteSize(0)):
			if s == "" {
				return ByteSize(0), nil
			}
			return ParseByteSize(s)
		default:
			return data, nil
		}
	}
}

// DecodeHook converts the string forms used in flags and the config file
// into their typed fields.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		hookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	)
}

// Unmarshal resolves the viper instance (defaults, config file, bound
// flags) into a Config. Weakly typed input is needed because values bound
// from pflag types outside viper's native set (uint64, duration) arrive as
// strings.
func Unmarshal(v *viper.Viper) (Config, error) {
	c := Config{Tuning: DefaultTuning()}
	// A configured ladder replaces the default one; decoding into the
	// pre-filled slice would only overwrite its leading rounds.
	if v.IsSet("tuning.ladder") {
		c.Tuning.Ladder = nil
	}
	err := v.Unmarshal(&c,
		viper.DecodeHook(DecodeHook()),
		func(dc *mapstructure.DecoderConfig) { dc.WeaklyTypedInput = true },
	)
	return c, err
}

// SetDefaults seeds v with the stock values so a bare config file or flag
// set resolves to a complete configuration.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("threads", DefaultThreads())
	v.SetDefault("queue-cap", DefaultQueueCap)
	v.SetDefault("temp-ttl", DefaultTempTTL)

	t := DefaultTuning()
	v.SetDefault("tuning.scan-threshold", t.ScanThreshold)
	v.SetDefault("tuning.gentle-expiry", t.GentleExpiry)
	v.SetDefault("tuning.mid-threshold", t.MidThreshold)
	v.SetDefault("tuning.mid-expiry", t.MidExpiry)
	v.SetDefault("tuning.critical-threshold", t.CriticalThreshold)
	v.SetDefault("tuning.aggressive-threshold", t.AggressiveThreshold)
	v.SetDefault("tuning.target-low", t.TargetLow)
	v.SetDefault("tuning.target-high", t.TargetHigh)
	v.SetDefault("tuning.reprobe-stride", t.ReprobeStride)
}
