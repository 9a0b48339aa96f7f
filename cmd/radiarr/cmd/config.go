package cmd

import (
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/radiarr/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing radiarr configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

Redirect the output to a file to create a configuration template:

  radiarr config dump > .radiarr.yaml

Environment variables use the RADIARR_ prefix and underscores for nesting.
Example: session.lease_timeout -> RADIARR_SESSION_LEASE_TIMEOUT`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a config struct to a map keyed by mapstructure tags,
// formatting durations and byte sizes the way they are written in files.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		switch v := field.Interface().(type) {
		case time.Duration:
			result[key] = v.String()
		case config.ByteSize:
			result[key] = v.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = v
			}
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, _ []string) error {
	v := viper.New()
	config.SetDefaults(v)
	cfg, err := config.FromViper(v)
	if err != nil {
		return fmt.Errorf("loading defaults: %w", err)
	}
	return writeConfig(cmd.OutOrStdout(), cfg)
}

func writeConfig(w io.Writer, cfg *config.Config) error {
	data, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Fprintln(w, "# radiarr configuration file")
	fmt.Fprintln(w, "#")
	fmt.Fprintln(w, "# All values shown below are defaults.")
	fmt.Fprintln(w, "# Duration format: 30s, 5m, 1h")
	fmt.Fprintln(w, "# Size format: 16KB, 1MB")
	fmt.Fprintln(w, "# session.sweep_schedule accepts cron expressions and descriptors (@every 30s)")
	fmt.Fprintln(w)
	_, err = w.Write(data)
	return err
}
