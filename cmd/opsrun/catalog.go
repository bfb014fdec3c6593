package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/opsagent/orchestrator/internal/config"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List the configured responders and their tools",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		catalog, err := config.LoadCatalog(cfg.Catalog.Path)
		if err != nil {
			return err
		}
		bold := color.New(color.Bold)
		for _, r := range catalog.Responders() {
			bold.Printf("%s", r.Title)
			fmt.Printf(" (%s)\n  %s\n", r.Capability, r.Description)
			if len(r.Tools) > 0 {
				fmt.Printf("  tools: %s\n", strings.Join(r.Tools, ", "))
			}
		}
		return nil
	},
}
