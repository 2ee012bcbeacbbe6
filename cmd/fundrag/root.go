package main

import (
	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"fundrag/internal/config"
	"fundrag/internal/observability"
)

var (
	cfgFile string
	verbose bool
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "fundrag",
	Short: "Answer questions about fund holdings and trades",
	Long: `fundrag answers natural-language questions about fund holdings and trades.
Exact count questions are computed from the tables directly; everything else is
answered by a language model restricted to the most similar indexed records.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			color.NoColor = true
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default ./fundrag.yaml or ~/.config/fundrag/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(buildIndexCmd, serveCmd, askCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() (*config.AppConfig, string, error) {
	if cfgFile == "" {
		return config.LoadDefault()
	}
	cfg, err := config.Load(cfgFile)
	return cfg, cfgFile, err
}

func newLogger(cfg *config.AppConfig) zerolog.Logger {
	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	return observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Log.Format,
	})
}
