package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ppm/src/config"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage ppm configuration",
	Long: `Manage ppm configuration settings.

Examples:
  ppm config get tokenizer.default_model
  ppm config set prompt.include_weights false
  ppm config set tokenizer.cache redis
  ppm config list`,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get an effective configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := effectiveSettings()
		if err != nil {
			return err
		}
		if !v.IsSet(args[0]) {
			return fmt.Errorf("key '%s' not found", args[0])
		}
		fmt.Fprintln(cmd.OutOrStdout(), v.Get(args[0]))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value in the config file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configFilePath()
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		previous, readErr := os.ReadFile(path)

		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if readErr == nil {
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
		}
		v.Set(args[0], parseValue(args[1]))

		if err := v.WriteConfigAs(path); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}

		// reject values the settings loader cannot use
		if _, err := config.LoadSettings(path); err != nil {
			if readErr == nil {
				_ = os.WriteFile(path, previous, 0644)
			} else {
				_ = os.Remove(path)
			}
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", args[0], args[1])
		fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", path)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List effective configuration values",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := effectiveSettings()
		if err != nil {
			return err
		}

		flattened := flattenMap("", v.AllSettings())
		keys := make([]string, 0, len(flattened))
		for k := range flattened {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		w := cmd.OutOrStdout()
		for _, key := range keys {
			fmt.Fprintf(w, "%s = %v\n", key, flattened[key])
		}
		fmt.Fprintf(w, "\nConfig file: %s\n", configFilePath())
		return nil
	},
}

func configFilePath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.GetConfigFile()
}

// effectiveSettings loads the resolved settings, overrides included, into
// a viper instance for key lookups.
func effectiveSettings() (*viper.Viper, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(settings); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("toml")
	if err := v.ReadConfig(&buf); err != nil {
		return nil, err
	}
	return v, nil
}

func parseValue(s string) interface{} {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// flattenMap flattens a nested map into dot-notation keys
func flattenMap(prefix string, m map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{})

	for key, value := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}

		switch v := value.(type) {
		case map[string]interface{}:
			for k, val := range flattenMap(fullKey, v) {
				result[k] = val
			}
		case []interface{}:
			items := make([]string, 0, len(v))
			for _, item := range v {
				items = append(items, fmt.Sprintf("%v", item))
			}
			result[fullKey] = strings.Join(items, ", ")
		default:
			result[fullKey] = value
		}
	}

	return result
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configListCmd)
}
