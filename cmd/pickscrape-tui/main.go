package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	zone "github.com/lrstanley/bubblezone"
	"github.com/spf13/cobra"

	"github.com/adityalohuni/pickscrape/internal/config"
)

func main() {
	var configPath string
	root := &cobra.Command{
		Use:           "pickscrape-tui",
		Short:         "Watch and drive a running pickscrape daemon",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(*cobra.Command, []string) error {
			settings, err := config.LoadOrCreate(configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			zone.NewGlobal()
			m := newModel(settings)
			m.syncLayout()
			m.syncViewportContent()
			_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion()).Run()
			return err
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "config file (default ~/.config/pickscrape/config.toml)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
