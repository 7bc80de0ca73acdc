package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/ngo-platform/media-scraper/pkg/api"
	"github.com/ngo-platform/media-scraper/pkg/config"
	applog "github.com/ngo-platform/media-scraper/pkg/log"
	"github.com/ngo-platform/media-scraper/pkg/models"
	"github.com/ngo-platform/media-scraper/pkg/watch"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "scrape":
		runScrape(os.Args[2:])
	case "import":
		runImport(os.Args[2:])
	case "reconcile":
		runReconcile(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "mcp-server":
		runMcpServer(os.Args[2:])
	case "version":
		fmt.Printf("media-scraper %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `media-scraper - Media scrape and import pipeline

Usage:
  media-scraper <command> [options]

Commands:
  serve       Run the HTTP API
  scrape      Discover and validate media on a page
  import      Import selected media from a JSON request file
  reconcile   Remove catalog rows with missing files and report orphans
  watch       Reconcile on a schedule
  validate    Validate configuration file
  mcp-server  Start MCP server for AI tool integration
  version     Show version info

Run 'media-scraper <command> -h' for command-specific help.`)
}

// loadConfig reads a YAML config over the built-in defaults
func loadConfig(path string) (*config.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := config.NewAppConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// loadAndValidateConfig loads the config file, validates it, and logs warnings.
func loadAndValidateConfig(configFile string, log *logrus.Logger) (*config.AppConfig, error) {
	log.Infof("Loading configuration from %s", configFile)
	appCfg, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}
	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		return nil, err
	}
	return appCfg, nil
}

// setupLogger builds the process logger, writing to out
func setupLogger(logLevelStr string, out io.Writer) *logrus.Logger {
	logger, err := applog.New(logLevelStr, out)
	if err != nil {
		logger, _ = applog.New("info", out)
		logger.Warnf("Invalid log level '%s', using default 'info'. Error: %v", logLevelStr, err)
	}
	return logger
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// runServe handles the serve subcommand
func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	listen := fs.String("listen", "", "Listen address (overrides server.listen)")
	withWatch := fs.Bool("watch", false, "Also run scheduled reconciliation in the background")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	pprofAddr := fs.String("pprof", "", "pprof address, e.g. localhost:6060 (disabled by default)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: media-scraper serve [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	log := setupLogger(*logLevel, os.Stderr)
	appCfg, err := loadAndValidateConfig(*configFile, log)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	if *listen != "" {
		appCfg.Server.Listen = *listen
	}
	startPprof(*pprofAddr, log)

	ctx, cancel := signalContext(log)
	defer cancel()

	comps, err := buildComponents(ctx, appCfg, log)
	if err != nil {
		log.Fatalf("Failed to initialize components: %v", err)
	}
	defer comps.Close()

	if *withWatch {
		scheduler := watch.NewScheduler(comps.reconciler, appCfg.Reconcile, applog.Component(log, "watch"))
		go func() {
			if err := scheduler.Run(ctx); err != nil {
				log.Errorf("Reconcile watcher stopped: %v", err)
			}
		}()
	}

	server := api.NewServer(appCfg.Server, api.Deps{
		Scraper:          comps.scraper,
		Importer:         comps.importer,
		Reconciler:       comps.reconciler,
		Catalog:          comps.catalog,
		Blobs:            comps.blobs,
		Settings:         comps.settings,
		DefaultFilters:   appCfg.Scrape.DefaultFilters,
		CategoryDefaults: comps.persister.CategoryDefaults(),
	}, applog.Component(log, "api"))

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Listen() }()

	select {
	case err := <-serveErr:
		if err != nil {
			log.Errorf("HTTP server failed: %v", err)
		}
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Failed to shut down HTTP server: %v", err)
		}
	}
	log.Info("Server stopped")
}

// startPprof starts the pprof HTTP server if addr is non-empty.
func startPprof(addr string, log *logrus.Logger) {
	if addr == "" {
		return
	}
	go func() {
		log.Infof("Starting pprof server at http://%s/debug/pprof/", addr)
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.Errorf("pprof server error: %v", err)
		}
	}()
}

// runScrape handles the scrape subcommand
func runScrape(args []string) {
	fs := flag.NewFlagSet("scrape", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	pageURL := fs.String("url", "", "Page URL to scrape (required)")
	filters := fs.String("filters", "", `JSON filter overrides, e.g. '{"formats":["jpg"],"includeVideos":true}'`)
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: media-scraper scrape -url <page> [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *pageURL == "" {
		fmt.Fprintln(os.Stderr, "Error: -url is required")
		fs.Usage()
		os.Exit(1)
	}

	os.Exit(doScrape(*configFile, *pageURL, *filters, *logLevel, os.Stdout, os.Stderr))
}

// doScrape prints the scrape result as JSON. Returns the exit code.
func doScrape(configPath, pageURL, filterJSON, logLevel string, stdout, stderr io.Writer) int {
	log := setupLogger(logLevel, stderr)
	appCfg, err := loadAndValidateConfig(configPath, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	filters, err := appCfg.Scrape.DefaultFilters.WithOverrides([]byte(filterJSON))
	if err != nil {
		fmt.Fprintf(stderr, "Error: invalid filters: %v\n", err)
		return 1
	}

	ctx, cancel := signalContext(log)
	defer cancel()
	comps, err := buildComponents(ctx, appCfg, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer comps.Close()

	result, err := comps.scraper.Scrape(ctx, pageURL, filters)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := writeJSON(stdout, result); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// runImport handles the import subcommand
func runImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	requestFile := fs.String("file", "-", "JSON request file ('-' for stdin)")
	bulk := fs.Bool("bulk", false, "Treat the file as a bulk request ({\"images\": [...]})")
	category := fs.String("category", "", "Target category (overrides the request's category)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: media-scraper import [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  media-scraper scrape -url https://example.org/gallery > found.json\n")
		fmt.Fprintf(os.Stderr, "  media-scraper import -file selection.json -category events\n")
		fmt.Fprintf(os.Stderr, "  media-scraper import -bulk -file images.json\n")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doImport(*configFile, *requestFile, *category, *bulk, *logLevel, os.Stdin, os.Stdout, os.Stderr))
}

// doImport runs one import batch and prints its report. Returns the exit code.
func doImport(configPath, requestFile, category string, bulk bool, logLevel string, stdin io.Reader, stdout, stderr io.Writer) int {
	log := setupLogger(logLevel, stderr)

	var data []byte
	var err error
	if requestFile == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(requestFile)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: read request: %v\n", err)
		return 1
	}

	var importReq models.ImportRequest
	var bulkReq models.BulkImportRequest
	if bulk {
		err = json.Unmarshal(data, &bulkReq)
	} else {
		err = json.Unmarshal(data, &importReq)
		if category != "" {
			importReq.Category = category
		}
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: parse request: %v\n", err)
		return 1
	}

	appCfg, err := loadAndValidateConfig(configPath, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := signalContext(log)
	defer cancel()
	comps, err := buildComponents(ctx, appCfg, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer comps.Close()

	var report *models.ImportReport
	if bulk {
		report, err = comps.importer.BulkImport(ctx, bulkReq)
	} else {
		report, err = comps.importer.Import(ctx, importReq)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := writeJSON(stdout, report); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if report.TotalImported == 0 {
		return 2
	}
	return 0
}

// runReconcile handles the reconcile subcommand
func runReconcile(args []string) {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	removeOrphans := fs.Bool("remove-orphans", false, "Also delete orphaned files (overrides reconcile.remove_orphan_files)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: media-scraper reconcile [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doReconcile(*configFile, *removeOrphans, *logLevel, os.Stdout, os.Stderr))
}

// doReconcile runs one reconciliation and prints its report. Returns the exit code.
func doReconcile(configPath string, removeOrphans bool, logLevel string, stdout, stderr io.Writer) int {
	log := setupLogger(logLevel, stderr)
	appCfg, err := loadAndValidateConfig(configPath, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if removeOrphans {
		appCfg.Reconcile.RemoveOrphanFiles = true
	}

	ctx, cancel := signalContext(log)
	defer cancel()
	comps, err := buildComponents(ctx, appCfg, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer comps.Close()

	report, err := comps.reconciler.Run(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := writeJSON(stdout, report); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// runWatch handles the watch subcommand
func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	interval := fs.String("interval", "", "Reconcile interval (e.g., 30m, 6h, 1d); overrides reconcile.interval")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: media-scraper watch [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  media-scraper watch --interval 12h\n")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	log := setupLogger(*logLevel, os.Stderr)
	appCfg, err := loadAndValidateConfig(*configFile, log)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	if *interval != "" {
		d, err := watch.ParseInterval(*interval)
		if err != nil {
			log.Fatalf("Invalid -interval: %v", err)
		}
		appCfg.Reconcile.Interval = d
	}

	ctx, cancel := signalContext(log)
	defer cancel()
	comps, err := buildComponents(ctx, appCfg, log)
	if err != nil {
		log.Fatalf("Failed to initialize components: %v", err)
	}
	defer comps.Close()

	scheduler := watch.NewScheduler(comps.reconciler, appCfg.Reconcile, applog.Component(log, "watch"))
	if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("Watch stopped: %v", err)
	}
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: media-scraper validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(*configFile, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "OK: storage driver '%s'\n", appCfg.Storage.Driver)
	fmt.Fprintf(stdout, "OK: catalog driver '%s'\n", appCfg.Catalog.Driver)
	fmt.Fprintf(stdout, "OK: default category '%s'\n", config.GetEffectiveCategory("", appCfg.Import))
	fmt.Fprintf(stdout, "OK: reconcile every %s\n", watch.FormatInterval(appCfg.Reconcile.Interval))

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}
