package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hupe1980/chunkidx/blobstore"
	"github.com/hupe1980/chunkidx/locator"
	"github.com/hupe1980/chunkidx/model"
)

func newPublishCmd(a *app) *cobra.Command {
	var entries []string

	cmd := &cobra.Command{
		Use:   "publish FILE",
		Short: "Upload a chunk to the remote store and register it in the catalog",
		Long: `Upload a chunk file to the configured remote store under its canonical
name and register it in the catalog for the given order entries. An entry
without a version (kind:name) matches every version of the dependency.`,
		Example: `  chunkidx publish chunk-00007.sidx --entry maven:guava:33.0`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			keys := make([]string, 0, len(entries))
			for _, s := range entries {
				e, err := model.ParseOrderEntry(s)
				if err != nil {
					return err
				}
				keys = append(keys, e.Key())
			}

			info, err := inspectFile(cmd, args[0])
			if err != nil {
				return err
			}
			remote, err := openRemote(ctx, a.cfg.Remote.URL)
			if err != nil {
				return err
			}
			cats, err := a.openCatalog(ctx, remote)
			if err != nil {
				return err
			}

			cand := locator.Candidate{
				ChunkID: model.ChunkID(info.ChunkID),
				Digest:  info.Digest,
				Size:    info.Size,
			}
			if err := upload(ctx, remote, args[0], cand.BlobName()); err != nil {
				return err
			}
			if err := cats.publish(ctx, cand, keys...); err != nil {
				return fmt.Errorf("register in catalog: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s\t%d bytes\t%s\n", cand.BlobName(), cand.Size, cand.Digest)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&entries, "entry", nil, "Order entry kind:name:version (repeatable)")
	_ = cmd.MarkFlagRequired("entry")

	return cmd
}

// upload streams a local file into store. The blob only becomes visible
// once fully written.
func upload(ctx context.Context, store blobstore.BlobStore, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := store.Create(ctx, name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Abort()
		return fmt.Errorf("upload %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	return nil
}

