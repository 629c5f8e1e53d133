package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pharmacy-density/internal/fetcher"
	"github.com/sells-group/pharmacy-density/internal/pipeline"
)

var (
	exportCSV string
	exportShp string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Run the analysis and export the classified sections without rendering",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if exportCSV == "" && exportShp == "" {
			return eris.New("export: set --csv and/or --shp")
		}

		f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent:  cfg.Fetch.UserAgent,
			Timeout:    time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
			MaxRetries: cfg.Fetch.MaxRetries,
		})
		result, err := pipeline.New(cfg, nil, f).Run(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		if exportCSV != "" {
			if err := writeCSVFile(exportCSV, result); err != nil {
				return err
			}
		}
		if exportShp != "" {
			if err := pipeline.WriteShapefile(exportShp, result); err != nil {
				return eris.Wrap(err, "export shapefile")
			}
		}

		zap.L().Info("export complete",
			zap.Int("sections", len(result.Sections)),
			zap.String("csv", exportCSV),
			zap.String("shp", exportShp),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportCSV, "csv", "", "CSV output path")
	exportCmd.Flags().StringVar(&exportShp, "shp", "", "shapefile output path")
	rootCmd.AddCommand(exportCmd)
}
