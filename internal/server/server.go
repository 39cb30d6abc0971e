package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/medsterhq/medster/internal/agent/config"
	"github.com/medsterhq/medster/internal/agent/core"
	"github.com/medsterhq/medster/internal/agent/telemetry"
	"github.com/medsterhq/medster/internal/docstore"
	"github.com/medsterhq/medster/internal/fhir"
	"github.com/medsterhq/medster/internal/tools"
)

// Run builds the full agent pipeline from cfg and serves the HTTP API
// until the listener fails.
func Run(cfg *config.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()

	store, err := fhir.NewStore(cfg.Data.FHIRDir)
	if err != nil {
		return fmt.Errorf("opening FHIR store: %w", err)
	}

	var mcp *tools.MCPClient
	if cfg.MCP.ServerURL != "" {
		mcp = tools.NewMCPClient(cfg.MCP.ServerURL, cfg.MCP.APIKey, log.New(log.Writer(), "[MCP] ", log.LstdFlags))
	}

	registry, err := tools.DefaultRegistry(store, mcp, log.New(log.Writer(), "[TOOLS] ", log.LstdFlags))
	if err != nil {
		return fmt.Errorf("building tool registry: %w", err)
	}

	provider, err := core.NewLLMProvider(cfg.LLM)
	if err != nil {
		return fmt.Errorf("building LLM provider: %w", err)
	}

	runs, err := docstore.NewRunRepository(ctx, docstore.RepoType(cfg.Storage.Type), docstore.RedisConfig{
		Host:     cfg.Storage.Redis.Host,
		Port:     cfg.Storage.Redis.Port,
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
		Timeout:  cfg.Storage.Redis.Timeout,
	})
	if err != nil {
		return fmt.Errorf("building run repository: %w", err)
	}

	tele := telemetry.NewTelemetry(cfg.Telemetry)
	agent := core.NewAgent(cfg, provider, registry, tele, log.New(log.Writer(), "[AGENT] ", log.LstdFlags))

	api := e.Group("/api")
	ch := &ChatHandler{Agent: agent, Runs: runs, Telemetry: tele, Logger: baseLogger}
	ch.Register(api)

	addr := cfg.Server.Address
	if addr == "" {
		addr = ":8080"
	}
	return e.Start(addr)
}
