package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"fundrag/internal/service"
)

var buildIndexCmd = &cobra.Command{
	Use:   "build-index",
	Short: "Rebuild the vector index from the holdings and trades tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, cfgPath, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		logger.Debug().Str("config", cfgPath).Msg("config loaded")

		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger, false)
		if err != nil {
			return err
		}
		defer a.close()

		report, err := runBuild(cmd, a.buildJob())
		if err != nil {
			return err
		}
		a.metrics.IndexedDocs.Set(float64(report.Manifest.Count))
		printBuildReport(report, cfg.VectorStore.Type)
		return nil
	},
}

// runBuild executes a build job behind a progress bar on stderr.
func runBuild(cmd *cobra.Command, job *service.BuildJob) (service.BuildReport, error) {
	var bar *progressbar.ProgressBar
	report, err := job.Run(cmd.Context(),
		func(total int) { bar = newProgressBar(int64(total), "Embedding documents") },
		func(done int) {
			if bar != nil {
				_ = bar.Set(done)
			}
		},
	)
	if bar != nil {
		if err != nil {
			_ = bar.Exit()
		} else {
			_ = bar.Finish()
		}
	}
	return report, err
}

func newProgressBar(total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(
		total,
		progressbar.OptionSetWidth(50),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("docs"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func printBuildReport(report service.BuildReport, store string) {
	green := color.New(color.FgGreen, color.Bold).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	m := report.Manifest
	fmt.Printf("%s %s\n", green("✓"), "Index built")
	fmt.Printf("  build:     %s\n", cyan(m.BuildID))
	fmt.Printf("  store:     %s\n", store)
	fmt.Printf("  model:     %s (dim %d)\n", m.EmbeddingModel, m.Dimension)
	fmt.Printf("  documents: %d\n", m.Count)

	tables := make([]string, 0, len(report.Rows))
	for t := range report.Rows {
		tables = append(tables, t)
	}
	for t := range report.Summaries {
		if _, ok := report.Rows[t]; !ok {
			tables = append(tables, t)
		}
	}
	sort.Strings(tables)
	for _, t := range tables {
		fmt.Printf("  %-10s %d rows, %d group summaries\n", t+":", report.Rows[t], report.Summaries[t])
	}
}
