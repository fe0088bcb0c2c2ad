/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/friendsincode/grimnir_tv/internal/db"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Inspect and seed operator settings",
}

var settingsSeedCmd = &cobra.Command{
	Use:   "seed <file.yaml>",
	Short: "Upsert settings from a YAML map",
	Long: `Upsert every key of a flat YAML map into the settings table.

Example file:
  no_repeat_minutes: 240
  ident_interval_minutes: 10
  default_resolution: 1920x1080
  rtmp_enabled: true
  output_rtmp_url: rtmp://live.example.net/app/streamkey`,
	Args: cobra.ExactArgs(1),
	RunE: runSettingsSeed,
}

var settingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print every stored setting",
	Args:  cobra.NoArgs,
	RunE:  runSettingsList,
}

func init() {
	settingsCmd.AddCommand(settingsSeedCmd)
	settingsCmd.AddCommand(settingsListCmd)
	rootCmd.AddCommand(settingsCmd)
}

// parseSeed decodes a flat YAML map. Scalars are stored as their text form;
// nested values are rejected.
func parseSeed(r io.Reader) (map[string]string, error) {
	var raw map[string]any
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		if err == io.EOF {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("decode settings yaml: %w", err)
	}

	out := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case nil:
			out[key] = ""
		case string:
			out[key] = v
		case bool:
			out[key] = strconv.FormatBool(v)
		case int:
			out[key] = strconv.Itoa(v)
		case float64:
			out[key] = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			return nil, fmt.Errorf("setting %q: unsupported value of type %T", key, value)
		}
	}
	return out, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func runSettingsSeed(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()

	values, err := parseSeed(f)
	if err != nil {
		return err
	}

	database, st, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close(database)

	ctx := context.Background()
	for _, key := range sortedKeys(values) {
		if err := st.UpsertSetting(ctx, key, values[key]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", key, values[key])
	}
	logger.Info().Int("count", len(values)).Str("file", args[0]).Msg("settings seeded")
	return nil
}

func runSettingsList(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	database, st, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close(database)

	values, err := st.AllSettings(context.Background())
	if err != nil {
		return err
	}
	for _, key := range sortedKeys(values) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", key, values[key])
	}
	return nil
}
