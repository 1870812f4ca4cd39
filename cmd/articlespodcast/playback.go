package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"ArticlesPodcast/internal/app"
)

func newPlayCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "play <id>",
		Short: "Mark an article as playing and print its audio file and resume position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.Application) error {
				item, err := a.Queue.StartPlayback(ctx, args[0])
				if err != nil {
					return err
				}
				if item.AudioFilePath == nil {
					return fmt.Errorf("item %s has no audio file", item.ID)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%.1f\t%.2g\n", a.Files.Resolve(*item.AudioFilePath), item.PlaybackPosition, item.PlaybackRate)
				return nil
			})
		},
	}
}

func newPlayedCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "played <id>",
		Short: "Mark an article as listened to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.Application) error {
				deleted, err := a.Queue.FinishPlayback(ctx, args[0])
				if err != nil {
					return err
				}
				if deleted {
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %s after listening\n", args[0])
				}
				return nil
			})
		},
	}
}

func newPositionCommand(opts *rootOptions) *cobra.Command {
	var rate float64
	cmd := &cobra.Command{
		Use:   "position <id> <seconds>",
		Short: "Save the playback position",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid position %q: %w", args[1], err)
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.Application) error {
				return a.Queue.SavePosition(ctx, args[0], pos, rate)
			})
		},
	}
	cmd.Flags().Float64Var(&rate, "rate", 1.0, "playback rate")
	return cmd
}
