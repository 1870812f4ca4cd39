package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ArticlesPodcast/internal/app"
	"ArticlesPodcast/internal/domain"
	"ArticlesPodcast/internal/files"
)

func newAddCommand(opts *rootOptions) *cobra.Command {
	var (
		title   string
		process bool
	)
	cmd := &cobra.Command{
		Use:     "add <url>",
		Short:   "Queue an article URL",
		Args:    cobra.ExactArgs(1),
		Example: `articlespodcast add https://arxiv.org/abs/1706.03762 --process`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.Application) error {
				item, err := a.Intake.Add(ctx, args[0], title)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued %s\n", item.ID)
				if !process {
					return nil
				}
				return processAndReport(ctx, cmd.OutOrStdout(), a, item)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title shown until extraction finds one")
	cmd.Flags().BoolVar(&process, "process", false, "process the item right away")
	return cmd
}

func newShareCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "share [text]",
		Short: "Queue the first link found in shared text (stdin when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := strings.Join(args, " ")
			if payload == "" {
				raw, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				payload = string(raw)
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.Application) error {
				item, err := a.Intake.Share(ctx, payload)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued %s %q\n", item.ID, item.Title)
				return nil
			})
		},
	}
}

func newListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued articles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.Application) error {
				items, err := a.Queue.List(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(items) == 0 {
					fmt.Fprintln(out, "queue is empty")
					return nil
				}
				for _, item := range items {
					fmt.Fprintf(out, "%-36s  %-20s  %s\n", item.ID, statusLabel(item), item.Title)
				}
				return nil
			})
		},
	}
}

func newShowCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one article",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.Application) error {
				item, err := a.Queue.Get(ctx, args[0])
				if err != nil {
					return err
				}
				printItem(cmd.OutOrStdout(), a.Files, item)
				return nil
			})
		},
	}
}

func newRetryCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Retry a failed article",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.Application) error {
				item, err := a.Queue.Retry(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", item.ID, statusLabel(item))
				return nil
			})
		},
	}
}

func newDeleteCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete an article and its audio",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.Application) error {
				if err := a.Queue.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func newMoveCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "move <id>...",
		Short: "Reorder the queue; listed ids come first, in the given order",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.Application) error {
				items, err := a.Queue.List(ctx)
				if err != nil {
					return err
				}
				return a.Queue.Move(ctx, moveOrder(args, items))
			})
		},
	}
}

func newProcessCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Reset interrupted items and process every pending article",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.Application) error {
				n, err := a.Queue.ProcessPending(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "processed %d item(s)\n", n)
				return err
			})
		},
	}
}

func newRecoverNextCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recover-next",
		Short: "Run one background unit within the configured budget",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.Application) error {
				ctx, cancel := context.WithTimeout(ctx, a.Config().Background.Budget)
				defer cancel()
				picked, err := a.Orchestrator.RecoverNext(ctx)
				if err != nil {
					return err
				}
				if !picked {
					fmt.Fprintln(cmd.OutOrStdout(), "nothing pending")
				}
				return nil
			})
		},
	}
}

func newWorkerCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run background recovery on the configured cron schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.Application) error {
				return a.RunWorker(ctx)
			})
		},
	}
}

func processAndReport(ctx context.Context, out io.Writer, a *app.Application, item domain.WorkItem) error {
	if err := a.Orchestrator.ProcessItem(ctx, item); err != nil {
		return err
	}
	item, err := a.Queue.Get(ctx, item.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %s\n", item.ID, statusLabel(item))
	if item.ErrorMessage != nil {
		fmt.Fprintf(out, "  %s\n", *item.ErrorMessage)
	}
	return nil
}

// moveOrder puts ids first and keeps every other item in its current order.
func moveOrder(ids []string, items []domain.WorkItem) []string {
	seen := make(map[string]bool, len(ids))
	order := make([]string, 0, len(items))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			order = append(order, id)
		}
	}
	for _, item := range items {
		if !seen[item.ID] {
			order = append(order, item.ID)
		}
	}
	return order
}

func statusLabel(item domain.WorkItem) string {
	label := item.State.DisplayName()
	if item.State == domain.StateGeneratingAudio && item.TotalParagraphs != nil {
		label = fmt.Sprintf("%s %.0f%%", label, item.GenerationProgress()*100)
	}
	return label
}

func printItem(out io.Writer, fm *files.Manager, item domain.WorkItem) {
	fmt.Fprintf(out, "id:       %s\n", item.ID)
	fmt.Fprintf(out, "title:    %s\n", item.Title)
	fmt.Fprintf(out, "url:      %s\n", item.URL)
	fmt.Fprintf(out, "state:    %s\n", statusLabel(item))
	if item.Author != nil {
		fmt.Fprintf(out, "author:   %s\n", *item.Author)
	}
	if item.WordCount != nil {
		fmt.Fprintf(out, "words:    %d\n", *item.WordCount)
	}
	if item.AudioFilePath != nil {
		fmt.Fprintf(out, "audio:    %s\n", fm.Resolve(*item.AudioFilePath))
	}
	if item.AudioDurationSeconds != nil {
		d := time.Duration(*item.AudioDurationSeconds * float64(time.Second)).Round(time.Second)
		fmt.Fprintf(out, "duration: %s\n", d)
	}
	if item.PlaybackPosition > 0 {
		fmt.Fprintf(out, "position: %.1fs at %.2gx\n", item.PlaybackPosition, item.PlaybackRate)
	}
	if item.ErrorMessage != nil {
		fmt.Fprintf(out, "error:    %s (retries: %d)\n", *item.ErrorMessage, item.RetryCount)
	}
}
