package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/medsterhq/medster/internal/agent/config"
	"github.com/medsterhq/medster/internal/agent/core"
	"github.com/medsterhq/medster/internal/agent/telemetry"
	"github.com/medsterhq/medster/internal/fhir"
	srv "github.com/medsterhq/medster/internal/server"
	"github.com/medsterhq/medster/internal/tools"
)

func main() {
	var root = &cobra.Command{Use: "medster"}

	var serveAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if serveAddr != "" {
				cfg.Server.Address = serveAddr
			}
			return srv.Run(cfg)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")

	var showReport bool
	var query = &cobra.Command{
		Use:   "query [question]",
		Short: "Answer one clinical question and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}

			store, err := fhir.NewStore(cfg.Data.FHIRDir)
			if err != nil {
				return fmt.Errorf("opening FHIR store: %w", err)
			}
			var mcp *tools.MCPClient
			if cfg.MCP.ServerURL != "" {
				mcp = tools.NewMCPClient(cfg.MCP.ServerURL, cfg.MCP.APIKey, log.New(os.Stderr, "[MCP] ", log.LstdFlags))
			}
			registry, err := tools.DefaultRegistry(store, mcp, log.New(os.Stderr, "[TOOLS] ", log.LstdFlags))
			if err != nil {
				return fmt.Errorf("building tool registry: %w", err)
			}
			provider, err := core.NewLLMProvider(cfg.LLM)
			if err != nil {
				return fmt.Errorf("building LLM provider: %w", err)
			}

			tele := telemetry.NewTelemetry(cfg.Telemetry)
			agent := core.NewAgent(cfg, provider, registry, tele, log.New(os.Stderr, "[AGENT] ", log.LstdFlags))

			res := agent.Run(context.Background(), strings.Join(args, " "))
			fmt.Println(res.Answer)
			if showReport {
				fmt.Fprintln(os.Stderr, tele.GetPerformanceReport())
			}
			tele.Shutdown()
			return nil
		},
	}
	query.Flags().BoolVar(&showReport, "report", false, "print telemetry report to stderr")

	root.AddCommand(serve, query)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
