package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/subsidy-pipeline/constants"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/export"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/repository"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the review workbook from the configured database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		out, _ := cmd.Flags().GetString("out")
		onlyAdmin, _ := cmd.Flags().GetBool("admin-only")
		limit, _ := cmd.Flags().GetInt("limit")

		store, err := repository.OpenStore(cmd.Context(), cfg.Database, logger)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		b, err := export.NewService(store, logger).ExportReviewXLSX(cmd.Context(), onlyAdmin, limit)
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, b, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%d bytes)\n", out, len(b))
		return nil
	},
}

var dbHealthCmd = &cobra.Command{
	Use:   "dbhealth",
	Short: "Ping the configured database and print job counts per status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		store, err := repository.OpenStore(cmd.Context(), cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("DB health: FAIL (%w)", err)
		}
		defer func() { _ = store.Close() }()

		if err := repository.HealthCheck(cmd.Context(), store.Conn().DB(), cfg.Database.DialTimeout, logger); err != nil {
			return fmt.Errorf("DB health: FAIL (%w)", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "DB health: OK")

		all, err := store.ListJobs(cmd.Context(), repository.JobFilter{})
		if err != nil {
			return err
		}
		counts := map[constants.JobStatus]int{}
		for _, j := range all {
			counts[j.Status]++
		}
		fmt.Fprintf(cmd.OutOrStdout(), "jobs: %d\n", len(all))
		for _, st := range []constants.JobStatus{
			constants.JobStatusQueued,
			constants.JobStatusProcessing,
			constants.JobStatusCompleted,
			constants.JobStatusFailed,
			constants.JobStatusCanceled,
		} {
			fmt.Fprintf(cmd.OutOrStdout(), "- %s: %d\n", st, counts[st])
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().String("out", "review.xlsx", "output path")
	exportCmd.Flags().Bool("admin-only", false, "only records that need admin review")
	exportCmd.Flags().Int("limit", 0, "maximum records (0 = all)")

	rootCmd.AddCommand(exportCmd, dbHealthCmd)
}
