// Package main is the entry point for tandem, which runs the web server and
// the subscriber side by side and stops them together.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/dshills/tandem/internal/app"
	"github.com/dshills/tandem/internal/config"
	"github.com/dshills/tandem/internal/config/loader"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type options struct {
	configPath string
	overrides  map[string]any
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	cfg, err := config.Load(config.Options{
		Path:      opts.configPath,
		Overrides: opts.overrides,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
		return app.ExitConfig
	}

	logger := app.NewLogger(app.LoggerConfig{
		Level:  app.ParseLogLevel(cfg.Logging.Level),
		Format: cfg.Logging.Format,
		Output: os.Stderr,
		Prefix: "tandem",
	})
	defer func() { _ = logger.Sync() }()

	application, err := app.New(app.Options{
		Config: cfg,
		Logger: logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		return app.ExitFailure
	}

	return application.Run(context.Background())
}

func parseFlags() options {
	var configPath string
	var logLevel, logFormat, statusAddr, shutdownTimeout string
	var showVersion bool
	var showHelp bool

	defaultPath := loader.GetEnvOrDefault("TANDEM_CONFIG", "")

	flag.StringVar(&configPath, "config", defaultPath, "Path to configuration file (.toml, .yaml)")
	flag.StringVar(&configPath, "c", defaultPath, "Path to configuration file (shorthand)")
	flag.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&logFormat, "log-format", "", "Log format (console, json)")
	flag.StringVar(&statusAddr, "status-addr", "", "Serve /healthz, /readyz and /status on this address")
	flag.StringVar(&shutdownTimeout, "shutdown-timeout", "", "Time children get to exit before being killed (e.g. 10s)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")
	flag.BoolVar(&showHelp, "help", false, "Show help message")
	flag.BoolVar(&showHelp, "h", false, "Show help message (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Tandem - run the web server and subscriber together\n\n")
		fmt.Fprintf(os.Stderr, "Usage: tandem [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment:\n")
		fmt.Fprintf(os.Stderr, "  TANDEM_CONFIG               Default for -config\n")
		fmt.Fprintf(os.Stderr, "  TANDEM_<SECTION>_<KEY>      Override any setting, e.g. TANDEM_SHUTDOWN_TIMEOUT=20s\n")
		fmt.Fprintf(os.Stderr, "  TANDEM_<CHILD>_ENV_<NAME>   Set a child variable, e.g. TANDEM_SERVER_ENV_WEB_CONCURRENCY=4\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  tandem                      Run with built-in defaults and ./.env\n")
		fmt.Fprintf(os.Stderr, "  tandem -c tandem.toml       Run with a config file\n")
		fmt.Fprintf(os.Stderr, "  tandem -status-addr :8081   Also serve health endpoints\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("Tandem %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	if flag.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "Error: unexpected arguments: %v\n", flag.Args())
		flag.Usage()
		os.Exit(app.ExitConfig)
	}

	// Only flags given on the command line override lower layers.
	paths := map[string]string{
		"log-level":        "logging.level",
		"log-format":       "logging.format",
		"status-addr":      "status.addr",
		"shutdown-timeout": "shutdown.timeout",
	}
	overrides := make(map[string]any)
	flag.Visit(func(f *flag.Flag) {
		if path, ok := paths[f.Name]; ok {
			overrides[path] = f.Value.String()
		}
	})

	return options{configPath: configPath, overrides: overrides}
}
