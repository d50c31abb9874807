package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dvloznov/statement-analytics/internal/analytics"
	"github.com/dvloznov/statement-analytics/internal/config"
	"github.com/dvloznov/statement-analytics/internal/logger"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// A missing .env file is fine; the environment may be set another way.
	_ = godotenv.Load()

	switch os.Args[1] {
	case "ingest":
		runIngest()
	case "analyze":
		runAnalyze()
	case "train":
		runTrain()
	case "add-mapping":
		runAddMapping()
	case "model-info":
		runModelInfo()
	case "suggest":
		runSuggest()
	case "sync-notion":
		runSyncNotion()
	case "migrate":
		runMigrate()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Statement Analytics CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  ingest        Run the pipeline over a statement document JSON file")
	fmt.Println("  analyze       Print the analytics report for a date range")
	fmt.Println("  train         Retrain the category model from the ledger")
	fmt.Println("  add-mapping   Add a keyword to category mapping")
	fmt.Println("  model-info    Show the state of the category model")
	fmt.Println("  suggest       Ask Gemini to categorize uncategorized descriptions")
	fmt.Println("  sync-notion   Push the categorized ledger to a Notion database")
	fmt.Println("  migrate       Apply the BigQuery ledger schema migrations")
	fmt.Println("  help          Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// command holds what every subcommand needs once its flags are parsed.
type command struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *config.Config
	log    zerolog.Logger
}

// newFlagSet creates a subcommand flag set with the shared -config flag.
func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to the YAML config file (or set CONFIG_FILE env)")
	return fs, configPath
}

// start parses the subcommand flags and loads the configuration.
func start(fs *flag.FlagSet, configPath *string, timeout time.Duration) *command {
	fs.Parse(os.Args[2:])

	cfg, err := config.Load(logger.WithContext(context.Background(), logger.Nop()), *configPath)
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// Logs go to stderr so command output on stdout can be piped.
	log := logger.NewWithLevel(cfg.Log.Level).
		Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Str("command", fs.Name()).Logger()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return &command{ctx: logger.WithContext(ctx, log), cancel: cancel, cfg: cfg, log: log}
}

// dateRange parses -start-date and -end-date values or exits.
func (c *command) dateRange(start, end string) analytics.DateRange {
	r, err := analytics.ParseDateRange(start, end)
	if err != nil {
		c.log.Fatal().Err(err).Msg("Invalid date range, expected YYYY-MM-DD")
	}
	return r
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encoding output: %v\n", err)
		os.Exit(1)
	}
}
