package cmd

import (
	"fmt"
	"io"
	"sort"
	"sync"

	gojson "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/hupe1980/chunkidx/locator"
	"github.com/hupe1980/chunkidx/model"
)

// progressWriter prints progress reports, skipping repeats of the same
// percentage.
type progressWriter struct {
	mu   sync.Mutex
	w    io.Writer
	last int
}

func (p *progressWriter) ReportProgress(fraction float64, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pct := int(fraction * 100)
	if pct == p.last {
		return
	}
	p.last = pct
	fmt.Fprintf(p.w, "[%3d%%] %s\n", pct, message)
}

func (p *progressWriter) IsCancelled() bool { return false }

func newLocateCmd(a *app) *cobra.Command {
	var (
		project    string
		entries    []string
		jsonOutput bool
		quiet      bool
	)

	cmd := &cobra.Command{
		Use:   "locate",
		Short: "Discover, download and attach the chunks of a project's dependencies",
		Long: `Resolve order entries (kind:name:version) through the configured
catalog, download the matching chunks from the remote store into the cache
directory and attach them. Per-chunk failures are reported, not fatal.`,
		Example: `  chunkidx locate --project app --entry maven:guava:33.0 --entry npm:react:18.2.0`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var order []model.OrderEntry
			for _, s := range entries {
				e, err := model.ParseOrderEntry(s)
				if err != nil {
					return err
				}
				order = append(order, e)
			}

			m, closeFn, err := a.newManager(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer closeFn()

			var progress locator.Progress = locator.NopProgress{}
			if !quiet && !jsonOutput {
				progress = &progressWriter{w: cmd.ErrOrStderr(), last: -1}
			}
			res, err := m.LocateIndexes(cmd.Context(), model.ProjectID(project), order, progress)
			if res == nil {
				return err
			}
			if jsonOutput {
				enc := gojson.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(res); encErr != nil {
					return encErr
				}
			} else {
				printResult(cmd.OutOrStdout(), res)
			}
			if err != nil {
				return err
			}
			if len(res.Failures) > 0 {
				return fmt.Errorf("%d chunk(s) failed", len(res.Failures))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&project, "project", "default", "Project id")
	cmd.Flags().StringArrayVar(&entries, "entry", nil, "Order entry kind:name:version (repeatable)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not report progress")
	_ = cmd.MarkFlagRequired("entry")

	return cmd
}

func printResult(w io.Writer, res *locator.Result) {
	fmt.Fprintf(w, "request %s (project %s)\n", res.RequestID, res.Project)
	ids := make([]model.ChunkID, 0, len(res.States))
	for id := range res.States {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fmt.Fprintf(w, "  %-12s %s\n", id, res.States[id])
	}
	for _, f := range res.Failures {
		fmt.Fprintf(w, "  %s failed: %s\n", f.ChunkID, f.Reason)
	}
}
