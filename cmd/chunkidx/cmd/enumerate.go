package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/chunkidx/model"
)

func newEnumerateCmd(a *app) *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "enumerate HASH_HEX",
		Short: "Find the first cached chunk containing a content hash",
		Long: `Attach every chunk in the cache directory and print the global hash id
of the given content hash, or "null" if no chunk contains it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := hex.DecodeString(args[0])
			if err != nil {
				return fmt.Errorf("hash: %w", err)
			}

			m, closeFn, err := a.newManager(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closeFn()

			if _, err := m.AttachCached(cmd.Context(), model.ProjectID(project)); err != nil {
				return err
			}
			id, err := m.TryEnumerateContentHash(cmd.Context(), hash)
			if err != nil {
				return err
			}
			if id.IsNull() {
				fmt.Fprintln(cmd.OutOrStdout(), "null")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", uint64(id), id)
			return nil
		},
	}

	cmd.Flags().StringVar(&project, "project", "cli", "Project id")

	return cmd
}
