package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/opsagent/orchestrator/internal/config"
	"github.com/opsagent/orchestrator/internal/plan"
	"github.com/opsagent/orchestrator/internal/server"
	"github.com/opsagent/orchestrator/internal/streaming"
	"github.com/opsagent/orchestrator/internal/workflows"
)

var (
	askNoReview bool
	askTrace    bool
	askQuiet    bool
	askTimeout  time.Duration
	askProvider string
)

var askCmd = &cobra.Command{
	Use:   "ask <query>",
	Short: "Answer one query",
	Example: `  opsrun ask "Are there open incidents for ADF and is the service healthy?"
  opsrun ask --trace --no-review "Show failed pipeline runs from the last day"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askNoReview, "no-review", false, "Skip the completeness review")
	askCmd.Flags().BoolVar(&askTrace, "trace", false, "Print the execution trace after the answer")
	askCmd.Flags().BoolVarP(&askQuiet, "quiet", "q", false, "Do not print progress notices")
	askCmd.Flags().DurationVar(&askTimeout, "timeout", 5*time.Minute, "Give up after this long")
	askCmd.Flags().StringVar(&askProvider, "provider", "", "Override capability.provider (http or openai)")
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if askProvider != "" {
		cfg.Capability.Provider = askProvider
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if askNoReview {
		cfg.Orchestration.ReviewEnabled = false
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	catalog, err := config.LoadCatalog(cfg.Catalog.Path)
	if err != nil {
		return err
	}
	port, _, err := server.NewPort(cfg.Capability, catalog, logger)
	if err != nil {
		return err
	}

	bus := streaming.NewBus(logger, streaming.WithBacklog(cfg.Streaming.MaxBacklog))
	orch := workflows.NewOrchestrator(bus, port, catalog, workflows.Options{
		ReviewEnabled:  cfg.Orchestration.ReviewEnabled,
		MaxConcurrency: cfg.Orchestration.MaxConcurrency,
	}, logger)

	ctx, cancel := context.WithTimeout(cmd.Context(), askTimeout)
	defer cancel()

	const sessionID = "cli"
	var wg sync.WaitGroup
	if !askQuiet {
		consumer := bus.Open(sessionID)
		wg.Add(1)
		go func() {
			defer wg.Done()
			printNotices(ctx, consumer)
		}()
	}

	res := orch.Run(ctx, sessionID, strings.Join(args, " "), nil)
	wg.Wait()

	fmt.Println()
	fmt.Println(res.Text)
	if askTrace {
		printTrace(catalog, res)
	}
	return nil
}

func printNotices(ctx context.Context, c *streaming.Consumer) {
	for {
		n, ok := c.Next(ctx)
		if !ok {
			return
		}
		printNotice(n)
	}
}

func printNotice(n streaming.Notice) {
	dim := color.New(color.Faint)
	switch n.Type {
	case streaming.NoticeToolCall, streaming.NoticeToolResult:
		dim.Printf("    %s\n", n.Message)
	default:
		dim.Printf("  %s\n", n.Message)
	}
}

func printTrace(catalog *plan.Catalog, res workflows.Result) {
	fmt.Println()
	color.New(color.Bold).Printf("Trace: branch=%s steps=%d retries=%d duration=%s\n",
		res.Branch, res.Trace.Len(), res.Retries, res.Duration.Round(time.Millisecond))
	for _, g := range res.Trace.Groups {
		for _, r := range g.Results {
			if r.Failed() {
				printStatus("✗", fmt.Sprintf("step %d %s: %v", g.Step, catalog.Title(r.Capability), r.Err), color.FgRed)
				continue
			}
			printStatus("✓", fmt.Sprintf("step %d %s: %s", g.Step, catalog.Title(r.Capability), r.Question), color.FgGreen)
		}
	}
}
