package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/chunkidx/model"
)

func newWatchCmd(a *app) *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Attach chunks as they appear in the cache directory",
		Long: `Attach every cached chunk, then keep watching the cache directory and
attach chunks written into it (for example by another process running
locate) until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m, closeFn, err := a.newManager(ctx, false)
			if err != nil {
				return err
			}
			defer closeFn()

			out := cmd.OutOrStdout()
			ids, err := m.AttachCached(ctx, model.ProjectID(project))
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintf(out, "attached %s\n", id)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "watching %s\n", m.CacheDir())

			err = m.Watch(ctx, model.ProjectID(project), func(id model.ChunkID, err error) {
				if err != nil {
					fmt.Fprintf(out, "failed %s: %v\n", id, err)
					return
				}
				fmt.Fprintf(out, "attached %s\n", id)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&project, "project", "cli", "Project id")

	return cmd
}
