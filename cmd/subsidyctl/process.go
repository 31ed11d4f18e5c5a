package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/subsidy-pipeline/constants"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/app"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/jobs"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/repository"
)

type processOutput struct {
	Job    any `json:"job"`
	Record any `json:"record,omitempty"`
	QA     any `json:"qa,omitempty"`
}

var processCmd = &cobra.Command{
	Use:   "process <document-ref>",
	Short: "Run one document through extraction, normalization and QA locally",
	Long: `Process runs the full pipeline in this process against an in-memory store,
using the configured extraction capability, and prints the job, the
normalized record and its QA result.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		a, err := app.New(ctx, cfg, logger, app.WithStore(repository.NewMemoryStore()))
		if err != nil {
			return err
		}
		defer a.Close()

		kind, _ := cmd.Flags().GetString("kind")
		if kind == "" {
			kind = string(constants.MapExtToKind(filepath.Ext(args[0])))
		}
		id, err := a.Jobs.Enqueue(ctx, jobs.EnqueueRequest{
			DocumentRef: args[0],
			Kind:        constants.DocumentKind(kind),
			MaxAttempts: 1,
		})
		if err != nil {
			return err
		}
		events, unsubscribe := a.Jobs.Subscribe(id)
		defer unsubscribe()

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- a.Scheduler().Run(runCtx) }()
		defer func() {
			cancel()
			<-done
		}()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev := <-events:
				if !ev.Status.Terminal() {
					continue
				}
				return printProcessResult(cmd, a, id)
			}
		}
	},
}

func printProcessResult(cmd *cobra.Command, a *app.App, id uuid.UUID) error {
	ctx := cmd.Context()
	j, err := a.Jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	out := processOutput{Job: j}
	if recID, err := uuid.Parse(j.ResultRef); err == nil {
		if rec, err := a.Store.GetRecord(ctx, recID); err == nil {
			out.Record = rec
		}
		if res, err := a.Store.GetQA(ctx, recID); err == nil {
			out.QA = res
		}
	}
	if err := printJSON(cmd.OutOrStdout(), out); err != nil {
		return err
	}
	if j.Status != constants.JobStatusCompleted && j.LastError != nil {
		return fmt.Errorf("job %s: %s: %s", j.Status, j.LastError.Code, j.LastError.Message)
	}
	return nil
}

func init() {
	processCmd.Flags().String("kind", "", "document kind (default: from extension)")
	rootCmd.AddCommand(processCmd)
}
