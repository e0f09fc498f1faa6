package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"dircrawler/internal/config"
	"dircrawler/internal/logging"
)

type cli struct {
	Config   string `help:"Path to the YAML configuration file. Defaults apply when it does not exist." default:"dircrawler.yaml" type:"path"`
	EnvFile  string `help:"Optional .env file loaded before the configuration." default:".env" type:"path"`
	Progress bool   `help:"Show a progress spinner on stderr."`

	Crawl  crawlCmd  `cmd:"" help:"Walk the search-results pages and write the listing table."`
	Enrich enrichCmd `cmd:"" help:"Visit every detail URL from a listing table and write contact rows."`
	Run    runCmd    `cmd:"" help:"Crawl the listing, then enrich the discovered companies."`
}

func main() {
	var flags cli
	kctx := kong.Parse(&flags,
		kong.Name("dircrawler"),
		kong.Description("Business directory crawler: listing pagination and contact extraction."),
		kong.UsageOnError(),
	)

	if err := loadEnvFile(flags.EnvFile); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load env file: %v\n", err)
		os.Exit(1)
	}

	cfg, err := loadConfig(flags.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a := &app{ctx: ctx, cfg: cfg, logger: logger, progress: flags.Progress}
	if err := kctx.Run(a); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("interrupted")
		} else {
			logger.Error("dircrawler stopped with error", "command", kctx.Command(), "error", err)
		}
		cancel()
		os.Exit(1)
	}
}

// loadEnvFile loads path into the process environment. A missing file is not
// an error; existing variables are never overwritten.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// loadConfig reads path, or falls back to the defaults (plus environment
// overrides) when the file does not exist.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return config.Load(path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	return config.LoadFromReader(strings.NewReader(""))
}
