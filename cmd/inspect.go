package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/pharmacy-density/internal/fetcher"
	"github.com/sells-group/pharmacy-density/internal/pipeline"
	"github.com/sells-group/pharmacy-density/internal/registry"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Load the configured inputs and report what was read",
	Long:  "Resolves and parses the business registry, section shapefile and census table without joining them, to check column mappings and data quality.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent:  cfg.Fetch.UserAgent,
			Timeout:    time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
			MaxRetries: cfg.Fetch.MaxRetries,
		})
		in, err := pipeline.New(cfg, nil, f).Load(cmd.Context())
		if err != nil {
			return err
		}
		formatInputs(os.Stdout, in, cfg.Filter.Keyword)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

// formatInputs writes per-dataset counts to w.
func formatInputs(out io.Writer, in *pipeline.Inputs, keyword string) {
	pharmacies := registry.FilterPharmacies(in.Businesses.Records, keyword)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Registry rows:\t%d\n", in.Businesses.Rows)
	_, _ = fmt.Fprintf(w, "  Bad coordinates:\t%d\n", in.Businesses.BadCoordinates)
	_, _ = fmt.Fprintf(w, "  Pharmacies (%q):\t%d\n", keyword, len(pharmacies))
	_, _ = fmt.Fprintf(w, "Sections:\t%d\n", len(in.Layer.Sections))
	_, _ = fmt.Fprintf(w, "  Skipped:\t%d\n", in.Layer.Skipped)
	_, _ = fmt.Fprintf(w, "  Closed rings:\t%d\n", in.Layer.ClosedRings)
	if in.Layer.Prj != nil {
		_, _ = fmt.Fprintf(w, "  CRS:\t%s\n", in.Layer.Prj.CRS)
	} else {
		_, _ = fmt.Fprintln(w, "  CRS:\tunknown (no .prj)")
	}
	_, _ = fmt.Fprintf(w, "Census rows:\t%d\n", len(in.Census.Rows))
	_, _ = fmt.Fprintf(w, "  Skipped:\t%d\n", in.Census.Skipped)
	_, _ = fmt.Fprintf(w, "  Null values:\t%d\n", in.Census.Nulls)
	_ = w.Flush()
}
