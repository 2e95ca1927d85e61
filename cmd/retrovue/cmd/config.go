package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/retrovue/retrovue/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

Redirect the output to create a configuration template:

  retrovue config dump > retrovue.yaml

Configuration can be set via:
  - Config file (retrovue.yaml in ., /etc/retrovue)
  - Environment variables (RETROVUE_SERVER_PORT, RETROVUE_DATABASE_DSN, ...)
  - Command-line flags (for some options)

Environment variables use the RETROVUE_ prefix and underscores for
nesting: server.port -> RETROVUE_SERVER_PORT.`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}

	yamlData, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Println("# retrovue Configuration File")
	fmt.Println("# ===========================")
	fmt.Println("#")
	fmt.Println("# All values shown below are defaults.")
	fmt.Println("# Duration format: 30s, 5m, 1h")
	fmt.Println("#")
	fmt.Println("# Environment variable overrides use the RETROVUE_ prefix:")
	fmt.Println("#   RETROVUE_SERVER_HOST, RETROVUE_SERVER_PORT")
	fmt.Println("#   RETROVUE_DATABASE_DRIVER, RETROVUE_DATABASE_DSN")
	fmt.Println("#   RETROVUE_STORAGE_BASE_DIR, RETROVUE_LOGGING_LEVEL")
	fmt.Println("#")
	fmt.Println("")
	fmt.Print(string(yamlData))
	return nil
}

// toMap converts a config struct to a map keyed by mapstructure tags, with
// durations rendered in their string form.
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
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}
