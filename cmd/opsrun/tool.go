package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/opsagent/orchestrator/internal/tools"
)

var toolCmd = &cobra.Command{
	Use:   "tool [name] [json-args]",
	Short: "List the responder tools, or run one directly",
	Example: `  opsrun tool
  opsrun tool check_azure_service_health '{"service":"ADF"}'`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry := tools.Default()
		if len(args) == 0 {
			for _, name := range registry.Names() {
				fmt.Printf("%s\n  %s\n", color.CyanString(name), registry.Get(name).Description())
			}
			return nil
		}

		t := registry.Get(args[0])
		if t == nil {
			return fmt.Errorf("unknown tool %q", args[0])
		}
		input := "{}"
		if len(args) == 2 {
			input = args[1]
		}
		out, err := t.Execute(cmd.Context(), input)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}
