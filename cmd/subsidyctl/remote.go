package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/joseph-ayodele/subsidy-pipeline/constants"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/jobs"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/server"
)

// withClient dials subsidyd and closes the connection after fn.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *server.Client) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	conn, err := grpc.NewClient(viper.GetString("addr"), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial %s: %w", viper.GetString("addr"), err)
	}
	defer func() { _ = conn.Close() }()
	return fn(ctx, server.NewClient(conn))
}

func jobID(arg string) (uuid.UUID, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("job id %q: %w", arg, err)
	}
	return id, nil
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <document-ref>",
	Short: "Queue a document for processing on subsidyd",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		if kind == "" {
			kind = string(constants.MapExtToKind(filepath.Ext(args[0])))
		}
		priority, _ := cmd.Flags().GetString("priority")
		maxAttempts, _ := cmd.Flags().GetInt("max-attempts")
		size, _ := cmd.Flags().GetInt64("size")
		if size == 0 {
			if st, err := os.Stat(args[0]); err == nil {
				size = st.Size()
			}
		}
		return withClient(cmd, func(ctx context.Context, c *server.Client) error {
			id, err := c.Enqueue(ctx, jobs.EnqueueRequest{
				DocumentRef: args[0],
				Kind:        constants.DocumentKind(kind),
				SizeBytes:   size,
				Priority:    constants.Priority(priority),
				MaxAttempts: maxAttempts,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Print a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := jobID(args[0])
		if err != nil {
			return err
		}
		return withClient(cmd, func(ctx context.Context, c *server.Client) error {
			j, err := c.Get(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), j)
		})
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Request cancellation of a queued or running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := jobID(args[0])
		if err != nil {
			return err
		}
		return withClient(cmd, func(ctx context.Context, c *server.Client) error {
			j, err := c.Cancel(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), j)
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Stream a job's status until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := jobID(args[0])
		if err != nil {
			return err
		}
		var last *entity.ProcessingJob
		err = withClient(cmd, func(ctx context.Context, c *server.Client) error {
			return c.Watch(ctx, id, func(j *entity.ProcessingJob) {
				last = j
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%3d%%\tattempt %d/%d\n",
					j.UpdatedAt.Format("15:04:05"), j.Status, j.Progress, j.Attempts, j.MaxAttempts)
			})
		})
		if err != nil {
			return err
		}
		if last != nil && last.Status == constants.JobStatusFailed && last.LastError != nil {
			return fmt.Errorf("job failed: %s: %s", last.LastError.Code, last.LastError.Message)
		}
		return nil
	},
}

func init() {
	enqueueCmd.Flags().String("kind", "", "document kind: text, html, pdf, spreadsheet, word (default: from extension)")
	enqueueCmd.Flags().String("priority", "", "low, medium or high")
	enqueueCmd.Flags().Int("max-attempts", 0, "attempt budget (default from server config)")
	enqueueCmd.Flags().Int64("size", 0, "declared size in bytes (default: stat the local file)")

	rootCmd.AddCommand(enqueueCmd, statusCmd, cancelCmd, watchCmd)
}
