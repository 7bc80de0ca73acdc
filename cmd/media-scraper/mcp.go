package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ngo-platform/media-scraper/pkg/mcp"
)

// runMcpServer handles the mcp-server subcommand
func runMcpServer(args []string) {
	fs := flag.NewFlagSet("mcp-server", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	transport := fs.String("transport", "", "Transport type (stdio, sse); overrides mcp.transport")
	port := fs.Int("port", 0, "HTTP port for sse transport; overrides mcp.port")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: media-scraper mcp-server [options]

Start an MCP (Model Context Protocol) server for AI tool integration.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Start with stdio transport
  media-scraper mcp-server -config config.yaml

  # Start with SSE transport on port 8090
  media-scraper mcp-server -config config.yaml -transport sse -port 8090

Available MCP Tools:
  scrape_page      Discover and validate media on a page
  import_media     Start a background import of selected candidates
  bulk_import      Import raw image URLs into the uploads area
  get_job_status   Check an import job
  list_jobs        List import jobs
  cancel_job       Cancel a running import job
  list_media       Search the media library
  reconcile_media  Clean up rows with missing files
`)
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doMcpServer(*configFile, *transport, *port, *logLevel, os.Stderr))
}

// doMcpServer runs the MCP server until its transport closes.
// Logs go to stderr since stdio transport owns stdout.
func doMcpServer(configPath, transport string, port int, logLevel string, stderr io.Writer) int {
	log := setupLogger(logLevel, stderr)

	appCfg, err := loadAndValidateConfig(configPath, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}
	if transport != "" {
		appCfg.MCP.Transport = transport
	}
	if port > 0 {
		appCfg.MCP.Port = port
	}

	ctx, cancel := signalContext(log)
	defer cancel()
	comps, err := buildComponents(ctx, appCfg, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error initializing components: %v\n", err)
		return 1
	}
	defer comps.Close()

	server, err := mcp.NewServer(&mcp.ServerConfig{
		Scraper:        comps.scraper,
		Importer:       comps.importer,
		Reconciler:     comps.reconciler,
		Catalog:        comps.catalog,
		DefaultFilters: appCfg.Scrape.DefaultFilters,
		ImportConfig:   appCfg.Import,
		Transport:      appCfg.MCP.Transport,
		Port:           appCfg.MCP.Port,
		Logger:         log,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error creating MCP server: %v\n", err)
		return 1
	}
	defer server.Shutdown(context.Background())

	log.Infof("Starting MCP server (transport: %s)", appCfg.MCP.Transport)
	if err := server.Run(); err != nil {
		fmt.Fprintf(stderr, "MCP server error: %v\n", err)
		return 1
	}
	return 0
}
