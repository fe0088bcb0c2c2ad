/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/grimnir_tv/internal/db"
	"github.com/friendsincode/grimnir_tv/internal/encoder"
	"github.com/friendsincode/grimnir_tv/internal/media"
	"github.com/friendsincode/grimnir_tv/internal/models"
)

var (
	probeSave bool
	scanJSON  bool
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Detect a hardware H.264 encoder",
	Args:  cobra.NoArgs,
	RunE:  runProbe,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Compare the media root with the catalog",
	Long: `Report video files under the media root that have no catalog row and
catalog rows whose file is missing. Nothing is modified.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	probeCmd.Flags().BoolVar(&probeSave, "save", false, "Store the detected encoder as gpu_encoder")
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "Print the full result as JSON")
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(scanCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	name, err := encoder.ProbeHost(ctx, cfg.FFmpegBin)
	if err != nil {
		return fmt.Errorf("probe encoders: %w", err)
	}
	if name == "" {
		fmt.Fprintf(cmd.OutOrStdout(), "no hardware encoder found, using %s\n", encoder.SoftwareEncoder)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), name)

	if !probeSave {
		return nil
	}
	database, st, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close(database)
	return st.UpsertSetting(ctx, models.SettingGPUEncoder, name)
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	database, _, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close(database)

	scanner := media.NewScanner(database, media.NewFilesystemStorage(cfg.MediaRoot), logger)
	result, err := scanner.Scan(context.Background())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if scanJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	for _, path := range result.Orphans {
		fmt.Fprintf(out, "orphan  %s\n", path)
	}
	for _, v := range result.Missing {
		fmt.Fprintf(out, "missing #%d %s\n", v.ID, v.Path)
	}
	fmt.Fprintf(out, "%d files, %d orphans, %d missing, %d errors, %.1fs\n",
		result.TotalFiles, len(result.Orphans), len(result.Missing), result.Errors, result.Duration.Seconds())
	return nil
}
