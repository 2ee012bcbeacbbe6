package main

import (
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"fundrag/internal/domain"
	"fundrag/internal/tui"
	"fundrag/internal/vectorstore"
)

var (
	ephemeral   bool
	showContext bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question once, or start the interactive session when none is given",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		ctx := cmd.Context()

		a, err := newApp(ctx, cfg, logger, ephemeral)
		if err != nil {
			return err
		}
		defer a.close()

		var m domain.Manifest
		if ephemeral {
			report, err := runBuild(cmd, a.buildJob())
			if err != nil {
				return err
			}
			m = report.Manifest
			a.metrics.IndexedDocs.Set(float64(m.Count))
		} else {
			m, err = a.loadIndex(ctx)
			if errors.Is(err, vectorstore.ErrNoIndex) {
				return fmt.Errorf("no index found, run build-index or pass --ephemeral: %w", err)
			}
			if err != nil {
				return err
			}
		}

		svc, err := a.ragService()
		if err != nil {
			return err
		}

		if len(args) == 0 {
			header := fmt.Sprintf("fundrag · %d docs · %s", m.Count, m.EmbeddingModel)
			p := tea.NewProgram(tui.New(svc, header, cfg.LLM.Timeout), tea.WithAltScreen())
			_, err := p.Run()
			return err
		}

		ans, err := svc.Answer(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		printAnswer(ans)
		return nil
	},
}

func init() {
	askCmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "build an in-memory index from the tables before asking")
	askCmd.Flags().BoolVar(&showContext, "show-context", false, "print the retrieved evidence with its distances")
}

func printAnswer(ans domain.Answer) {
	faint := color.New(color.Faint).SprintFunc()
	switch ans.Path {
	case domain.PathFallback:
		color.New(color.FgYellow).Println(ans.Text)
	default:
		color.New(color.FgGreen).Println(ans.Text)
	}
	fmt.Println(faint("path: " + string(ans.Path)))

	if !showContext || len(ans.Context) == 0 {
		return
	}
	fmt.Println()
	for i, r := range ans.Context {
		fmt.Printf("%s %s\n", color.CyanString("[%d] %.4f", i+1, r.Distance), r.Document.Text)
	}
}
