package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"ArticlesPodcast/internal/app"
)

func newSettingsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change user settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.Application) error {
				all, err := a.Settings.All(ctx)
				if err != nil {
					return err
				}
				for _, k := range a.Settings.Keys() {
					fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", k, all[k])
				}
				return nil
			})
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print one setting",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, opts, func(ctx context.Context, a *app.Application) error {
					v, err := a.Settings.Get(ctx, args[0])
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), v)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:     "set <key> <value>",
			Short:   "Change one setting",
			Args:    cobra.ExactArgs(2),
			Example: `articlespodcast settings set ttsEngine kokoro`,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, opts, func(ctx context.Context, a *app.Application) error {
					return a.Settings.Set(ctx, args[0], args[1])
				})
			},
		},
	)

	return cmd
}

func newVoicesCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List voices of every engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(_ context.Context, a *app.Application) error {
				out := cmd.OutOrStdout()
				for _, e := range a.Engines.Engines() {
					fmt.Fprintf(out, "%s:\n", e.Kind())
					for _, v := range e.AvailableVoices() {
						fmt.Fprintf(out, "  %-12s %-20s %s\n", v.ID, v.Name, v.Language)
					}
				}
				return nil
			})
		},
	}
}
