package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ArticlesPodcast/internal/app"
	"ArticlesPodcast/internal/files"
)

func newStorageCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Show disk usage of generated audio and models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(_ context.Context, a *app.Application) error {
				audioBytes, err := a.Files.TotalStorageUsed()
				if err != nil {
					return err
				}
				modelBytes, err := a.Files.ModelStorageUsed()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "data:   %s\n", a.Files.Root())
				fmt.Fprintf(out, "audio:  %s\n", files.FormatBytes(audioBytes))
				fmt.Fprintf(out, "models: %s\n", files.FormatBytes(modelBytes))
				return nil
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every article and its audio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.Application) error {
				items, err := a.Queue.List(ctx)
				if err != nil {
					return err
				}
				for _, item := range items {
					if err := a.Queue.Delete(ctx, item.ID); err != nil {
						return err
					}
				}
				stray, err := a.Files.DeleteAll()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d article(s), %d stray audio file(s)\n", len(items), stray)
				return nil
			})
		},
	})

	return cmd
}

func newModelCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Manage the neural speech model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show whether the model is installed and the runtime reachable",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd, opts, func(ctx context.Context, a *app.Application) error {
					out := cmd.OutOrStdout()
					info, err := os.Stat(a.ModelPath())
					switch {
					case errors.Is(err, os.ErrNotExist):
						fmt.Fprintf(out, "model:   not installed (%s)\n", a.ModelPath())
					case err != nil:
						return err
					default:
						fmt.Fprintf(out, "model:   %s (%s)\n", a.ModelPath(), files.FormatBytes(info.Size()))
					}
					if err := a.Neural.LoadModel(ctx); err != nil {
						fmt.Fprintf(out, "engine:  unavailable: %v\n", err)
					} else {
						fmt.Fprintln(out, "engine:  ready")
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "download",
			Short: "Download the neural model into the data directory",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd, opts, func(ctx context.Context, a *app.Application) error {
					out := cmd.ErrOrStderr()
					last := -10
					n, err := a.DownloadModel(ctx, func(written, total int64) {
						if total <= 0 {
							return
						}
						if pct := int(written * 100 / total); pct/10 != last/10 {
							last = pct
							fmt.Fprintf(out, "\r%3d%% of %s", pct, files.FormatBytes(total))
						}
					})
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "\ninstalled %s (%s)\n", a.ModelPath(), files.FormatBytes(n))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "delete",
			Short: "Remove the neural model file",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd, opts, func(_ context.Context, a *app.Application) error {
					return a.DeleteModel()
				})
			},
		},
	)

	return cmd
}
