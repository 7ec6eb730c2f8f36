package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "IMPORTER"

// loadConfig fills every flag which was not given on the command line.
// Environment variables (IMPORTER_<FLAG>) take precedence over the config file.
func loadConfig(cmd *cobra.Command) error {
	if rootArgs.envFile != "" {
		if err := godotenv.Load(rootArgs.envFile); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
	}

	v := newViper()
	if err := bindFlags(cmd.Flags(), v); err != nil {
		return err
	}

	if rootArgs.configFile == "" {
		return nil
	}

	v.SetConfigFile(rootArgs.configFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return bindFlags(cmd.Flags(), v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func bindFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	var errs []error

	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed || !v.IsSet(f.Name) {
			return
		}

		for _, value := range configValues(v.Get(f.Name)) {
			if err := fs.Set(f.Name, value); err != nil {
				errs = append(errs, fmt.Errorf("invalid value for %s: %w", f.Name, err))
			}
		}
	})

	return errors.Join(errs...)
}

func configValues(value any) []string {
	switch v := value.(type) {
	case []any:
		values := make([]string, 0, len(v))
		for _, item := range v {
			values = append(values, fmt.Sprint(item))
		}

		return values
	case []string:
		return v
	default:
		return []string{fmt.Sprint(v)}
	}
}
