package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pharmacy-density/internal/classify"
	"github.com/sells-group/pharmacy-density/internal/fetcher"
	"github.com/sells-group/pharmacy-density/internal/pipeline"
)

var (
	runNoRender bool
	runCSV      string
	runShp      string
	runJSON     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the density analysis end to end",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
		}

		var pal *classify.Palette
		if cfg.Classify.PalettePath != "" {
			if pal, err = classify.LoadPalette(cfg.Classify.PalettePath); err != nil {
				return err
			}
		}

		f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent:  cfg.Fetch.UserAgent,
			Timeout:    time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
			MaxRetries: cfg.Fetch.MaxRetries,
		})

		result, err := pipeline.New(cfg, st, f).Run(ctx)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		var files []string
		if !runNoRender {
			if files, err = pipeline.Render(result, cfg.Render, pal); err != nil {
				return eris.Wrap(err, "render")
			}
		}
		if runCSV != "" {
			if err := writeCSVFile(runCSV, result); err != nil {
				return err
			}
			files = append(files, runCSV)
		}
		if runShp != "" {
			if err := pipeline.WriteShapefile(runShp, result); err != nil {
				return eris.Wrap(err, "export shapefile")
			}
			files = append(files, runShp)
		}

		zap.L().Info("analysis complete",
			zap.String("run_id", result.Run.ID),
			zap.Int("sections", result.Run.Sections),
			zap.Strings("files", files),
		)

		if runJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result.Run)
		}
		formatRunSummary(os.Stdout, result, files)
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runNoRender, "no-render", false, "skip map and scatter rendering")
	runCmd.Flags().StringVar(&runCSV, "csv", "", "write the per-section table to this CSV path")
	runCmd.Flags().StringVar(&runShp, "shp", "", "write the classified sections to this shapefile path")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the run summary as JSON")
	rootCmd.AddCommand(runCmd)
}

func writeCSVFile(path string, result *pipeline.Result) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "create dir for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create %s", path)
	}
	if err := pipeline.WriteCSV(f, result); err != nil {
		_ = f.Close()
		return err
	}
	return eris.Wrapf(f.Close(), "close %s", path)
}

// formatRunSummary writes counts, class breaks and correlations to w.
func formatRunSummary(out io.Writer, result *pipeline.Result, files []string) {
	r := result.Run
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if r.ID != "" {
		_, _ = fmt.Fprintf(w, "Run:\t%s\n", r.ID)
	}
	_, _ = fmt.Fprintf(w, "Businesses:\t%d\n", r.Businesses)
	_, _ = fmt.Fprintf(w, "Pharmacies (%q):\t%d\n", r.Keyword, r.Pharmacies)
	_, _ = fmt.Fprintf(w, "Matched to a section:\t%d\n", r.Matched)
	_, _ = fmt.Fprintf(w, "Sections (%s join):\t%d\n", r.JoinPolicy, r.Sections)
	_, _ = fmt.Fprintf(w, "Sections with census:\t%d\n", r.CensusMatched)
	_, _ = fmt.Fprintf(w, "CRS:\t%s -> %s\n", r.SourceCRS, r.TargetCRS)
	if result.XBreaks.N > 0 {
		_, _ = fmt.Fprintf(w, "Breaks %s:\t%.4g | %.4g\n", result.XField, result.XBreaks.Edges[0], result.XBreaks.Edges[1])
	}
	if result.YBreaks.N > 0 {
		_, _ = fmt.Fprintf(w, "Breaks %s:\t%.4g | %.4g\n", result.YField, result.YBreaks.Edges[0], result.YBreaks.Edges[1])
	}

	names := make([]string, 0, len(r.Correlations))
	for name := range r.Correlations {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		_, _ = fmt.Fprintf(w, "r(pharmacies_per_km2, %s):\t%.3f\n", name, r.Correlations[name])
	}
	for _, f := range files {
		_, _ = fmt.Fprintf(w, "Wrote:\t%s\n", f)
	}
	_ = w.Flush()
}
