package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/psychoinformatics-de/hirni/internal/config"
)

// flattenSettings turns nested viper settings into dotted keys.
func flattenSettings(prefix string, in map[string]interface{}, out map[string]string) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]interface{}:
			flattenSettings(key, val, out)
		case []interface{}:
			parts := make([]string, len(val))
			for i, p := range val {
				parts[i] = fmt.Sprint(p)
			}
			out[key] = strings.Join(parts, ", ")
		case []string:
			out[key] = strings.Join(val, ", ")
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}

func printConfigList(w io.Writer, cfg map[string]string) {
	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintln(w, "Configuration:")
	for _, k := range keys {
		fmt.Fprintf(w, "  %s = %s\n", k, cfg[k])
	}
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show effective configuration",
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the effective configuration of the dataset",
	Run: func(cmd *cobra.Command, args []string) {
		requireDataset()
		cfg := make(map[string]string)
		flattenSettings("", config.AllSettings(), cfg)
		if jsonOutput {
			outputJSON(cfg)
			return
		}
		printConfigList(cmd.OutOrStdout(), cfg)
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Print one configuration value",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		requireDataset()
		key := args[0]
		value := config.GetString(key)
		if list := config.GetStringSlice(key); len(list) > 1 {
			value = strings.Join(list, ", ")
		}
		if jsonOutput {
			outputJSON(map[string]string{"key": key, "value": value})
			return
		}
		fmt.Fprintln(cmd.OutOrStdout(), value)
	},
}

func init() {
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configGetCmd)
	rootCmd.AddCommand(configCmd)
}
