package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dvloznov/statement-analytics/internal/analytics"
	"github.com/dvloznov/statement-analytics/internal/app"
	"github.com/dvloznov/statement-analytics/internal/categorize"
	"github.com/dvloznov/statement-analytics/internal/domain"
	"github.com/dvloznov/statement-analytics/internal/gcsuploader"
	infra "github.com/dvloznov/statement-analytics/internal/infra/bigquery"
	"github.com/dvloznov/statement-analytics/internal/notionsync"
	"github.com/dvloznov/statement-analytics/internal/pipeline"
	"github.com/dvloznov/statement-analytics/internal/suggest"
)

// readStatement loads a statement document from a local path, a gs:// URI,
// or stdin for "-". It also returns the raw bytes for archiving.
func readStatement(ctx context.Context, path string) (domain.StatementDocument, []byte, error) {
	var data []byte
	var err error
	filename := ""
	switch {
	case path == "-":
		data, err = io.ReadAll(os.Stdin)
	case strings.HasPrefix(path, "gs://"):
		data, err = gcsuploader.FetchFromGCS(ctx, path)
		filename = gcsuploader.ExtractFilenameFromGCSURI(path)
	default:
		data, err = os.ReadFile(path)
		filename = filepath.Base(path)
	}
	if err != nil {
		return domain.StatementDocument{}, nil, fmt.Errorf("readStatement: %w", err)
	}

	var doc domain.StatementDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return domain.StatementDocument{}, nil, fmt.Errorf("readStatement: parsing %s: %w", path, err)
	}
	if doc.Filename == "" {
		doc.Filename = strings.TrimSuffix(filename, ".json")
	}
	return doc, data, nil
}

// archiveStatement copies the source document into the upload bucket, if
// one is configured. Failures are logged and ingestion continues.
func (c *command) archiveStatement(source string, doc domain.StatementDocument, data []byte) {
	archive, err := app.OpenArchive(c.ctx, c.cfg)
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to open upload archive")
		return
	}
	if archive == nil {
		return
	}
	defer archive.Close()

	filename := doc.Filename
	if filename == "" {
		filename = "statement"
	}
	object := gcsuploader.ObjectName("statements", doc.ID, filename+".json", time.Now())

	uri := "gs://" + c.cfg.GCP.Bucket + "/" + object
	if source == "-" || strings.HasPrefix(source, "gs://") {
		err = archive.Upload(c.ctx, object, data, "application/json")
	} else {
		uri, err = archive.UploadFile(c.ctx, object, source)
	}
	if err != nil {
		c.log.Warn().Err(err).Str("object", object).Msg("Failed to archive statement")
		return
	}
	c.log.Info().Str("uri", uri).Msg("Archived statement")
}

func printTransactions(txs []domain.Transaction) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "DATE\tDESCRIPTION\tDEBITS\tCREDITS\tBALANCE\tCATEGORY\t")
	for _, tx := range txs {
		date := tx.DayKey()
		if date == "" {
			date = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
			date, tx.Description,
			tx.Debits.StringFixed(2), tx.Credits.StringFixed(2), tx.Balance.StringFixed(2),
			tx.Category)
	}
	w.Flush()
}

func runIngest() {
	fs, configPath := newFlagSet("ingest")
	file := fs.String("file", "", "Statement document JSON: local path, gs:// URI, or - for stdin (required)")
	persist := fs.Bool("persist", false, "Store the document in MongoDB and write the ledger to BigQuery")
	useML := fs.Bool("use-ml", false, "Fall back to the trained model for rows no rule matches")
	asJSON := fs.Bool("json", false, "Print the result as JSON")
	c := start(fs, configPath, 5*time.Minute)
	defer c.cancel()

	if *file == "" {
		c.log.Fatal().Msg("Error: --file is required")
	}

	doc, data, err := readStatement(c.ctx, *file)
	if err != nil {
		c.log.Fatal().Err(err).Msg("Failed to read statement")
	}

	var ledger infra.LedgerRepository
	var mappings categorize.MappingStore
	if *persist {
		repo, err := app.OpenLedger(c.ctx, c.cfg)
		if err != nil {
			c.log.Fatal().Err(err).Msg("Failed to create ledger repository")
		}
		defer repo.Close()
		ledger, mappings = repo, repo

		stmts, closeStatements, err := app.OpenStatements(c.ctx, c.cfg)
		if err != nil {
			c.log.Fatal().Err(err).Msg("Failed to connect to statement store")
		}
		defer closeStatements()

		id, err := stmts.InsertDocument(c.ctx, doc)
		if err != nil {
			c.log.Fatal().Err(err).Msg("Failed to store statement")
		}
		doc.ID = id
		c.log.Info().Str("statement_id", id).Msg("Stored statement document")
		c.archiveStatement(*file, doc, data)
	}

	categorizer, closeArtifacts, err := app.NewCategorizer(c.ctx, c.cfg, mappings)
	if err != nil {
		c.log.Fatal().Err(err).Msg("Failed to create categorizer")
	}
	defer closeArtifacts()

	deps := app.PipelineDeps(c.cfg, categorizer, ledger)
	deps.Classify.UseML = *useML

	res, err := pipeline.RunStatement(c.ctx, doc, deps)
	if err != nil {
		c.log.Fatal().Err(err).Msg("Ingestion failed")
	}

	if *asJSON {
		printJSON(res)
		return
	}
	printTransactions(res.Transactions)
	fmt.Printf("\n%d transactions, %d skipped fragments", len(res.Transactions), len(res.Warnings))
	if res.RunID != "" {
		fmt.Printf(", pipeline run %s", res.RunID)
	}
	fmt.Println()
}

func runAnalyze() {
	fs, configPath := newFlagSet("analyze")
	startDate := fs.String("start-date", "", "Start date in YYYY-MM-DD format")
	endDate := fs.String("end-date", "", "End date in YYYY-MM-DD format")
	file := fs.String("file", "", "Analyze a statement document JSON file instead of the ledger")
	summaryOnly := fs.Bool("summary", false, "Print only the category summary")
	c := start(fs, configPath, 2*time.Minute)
	defer c.cancel()

	r := c.dateRange(*startDate, *endDate)

	var txs []domain.Transaction
	var hasBalance bool
	if *file != "" {
		doc, _, err := readStatement(c.ctx, *file)
		if err != nil {
			c.log.Fatal().Err(err).Msg("Failed to read statement")
		}
		categorizer, closeArtifacts, err := app.NewCategorizer(c.ctx, c.cfg, nil)
		if err != nil {
			c.log.Fatal().Err(err).Msg("Failed to create categorizer")
		}
		defer closeArtifacts()

		res, err := pipeline.RunStatement(c.ctx, doc, app.PipelineDeps(c.cfg, categorizer, nil))
		if err != nil {
			c.log.Fatal().Err(err).Msg("Pipeline failed")
		}
		txs, hasBalance = res.Transactions, res.HasBalance
	} else {
		repo, err := app.OpenLedger(c.ctx, c.cfg)
		if err != nil {
			c.log.Fatal().Err(err).Msg("Failed to create ledger repository")
		}
		defer repo.Close()

		rows, err := repo.QueryTransactions(c.ctx, r.Start, r.End)
		if err != nil {
			c.log.Fatal().Err(err).Msg("Failed to query transactions")
		}
		txs = infra.Transactions(rows)
		hasBalance = analytics.HasBalance(txs)
	}

	report := app.Engine(c.cfg).Report(txs, hasBalance, r)
	if *summaryOnly {
		printJSON(report.Summary)
		return
	}
	printJSON(report)
}

func runTrain() {
	fs, configPath := newFlagSet("train")
	seed := fs.Int64("seed", categorize.DefaultSeed, "Random seed of the validation split")
	c := start(fs, configPath, 10*time.Minute)
	defer c.cancel()

	repo, err := app.OpenLedger(c.ctx, c.cfg)
	if err != nil {
		c.log.Fatal().Err(err).Msg("Failed to create ledger repository")
	}
	defer repo.Close()

	categorizer, closeArtifacts, err := app.NewCategorizer(c.ctx, c.cfg, repo)
	if err != nil {
		c.log.Fatal().Err(err).Msg("Failed to create categorizer")
	}
	defer closeArtifacts()

	rows, err := repo.QueryTransactions(c.ctx, nil, nil)
	if err != nil {
		c.log.Fatal().Err(err).Msg("Failed to query transactions")
	}

	report, err := categorizer.Train(c.ctx, infra.Transactions(rows), categorize.TrainOptions{Seed: *seed})
	if err != nil {
		c.log.Fatal().Err(err).Msg("Training failed")
	}
	printJSON(report)
}

func runAddMapping() {
	fs, configPath := newFlagSet("add-mapping")
	term := fs.String("term", "", "Keyword matched against descriptions (required)")
	category := fs.String("category", "", "Category name (required)")
	categoryType := fs.String("type", "", "Category type, e.g. \"Necessary Expenses\" (required)")
	c := start(fs, configPath, time.Minute)
	defer c.cancel()

	ct, err := domain.ParseCategoryType(*categoryType)
	if err != nil {
		c.log.Fatal().Err(err).Msg("Invalid --type")
	}
	m := domain.CategoryMapping{Term: *term, Category: *category, CategoryType: ct}
	if err := m.Validate(); err != nil {
		c.log.Fatal().Err(err).Msg("Invalid mapping")
	}

	repo, err := app.OpenLedger(c.ctx, c.cfg)
	if err != nil {
		c.log.Fatal().Err(err).Msg("Failed to create ledger repository")
	}
	defer repo.Close()

	categorizer, closeArtifacts, err := app.NewCategorizer(c.ctx, c.cfg, repo)
	if err != nil {
		c.log.Fatal().Err(err).Msg("Failed to create categorizer")
	}
	defer closeArtifacts()

	if err := categorizer.AddMapping(c.ctx, m); err != nil {
		c.log.Fatal().Err(err).Msg("Failed to add mapping")
	}
	fmt.Printf("Added mapping %q -> %s (%s)\n", m.Term, m.Category, m.CategoryType)
}

func runModelInfo() {
	fs, configPath := newFlagSet("model-info")
	c := start(fs, configPath, time.Minute)
	defer c.cancel()

	categorizer, closeArtifacts, err := app.NewCategorizer(c.ctx, c.cfg, nil)
	if err != nil {
		c.log.Fatal().Err(err).Msg("Failed to create categorizer")
	}
	defer closeArtifacts()

	printJSON(categorizer.ModelInfo(c.ctx))
}

func runSuggest() {
	fs, configPath := newFlagSet("suggest")
	startDate := fs.String("start-date", "", "Start date in YYYY-MM-DD format")
	endDate := fs.String("end-date", "", "End date in YYYY-MM-DD format")
	limit := fs.Int("limit", suggest.MaxBatch, "Maximum number of descriptions to ask about")
	c := start(fs, configPath, 5*time.Minute)
	defer c.cancel()

	r := c.dateRange(*startDate, *endDate)

	repo, err := app.OpenLedger(c.ctx, c.cfg)
	if err != nil {
		c.log.Fatal().Err(err).Msg("Failed to create ledger repository")
	}
	defer repo.Close()

	categorizer, closeArtifacts, err := app.NewCategorizer(c.ctx, c.cfg, repo)
	if err != nil {
		c.log.Fatal().Err(err).Msg("Failed to create categorizer")
	}
	defer closeArtifacts()

	suggester, err := app.Suggester(c.ctx, c.cfg)
	if err != nil {
		c.log.Fatal().Err(err).Msg("Failed to create Gemini client")
	}

	rows, err := repo.QueryTransactions(c.ctx, r.Start, r.End)
	if err != nil {
		c.log.Fatal().Err(err).Msg("Failed to query transactions")
	}
	descriptions := suggest.Uncategorized(infra.Transactions(rows))
	if *limit > 0 && len(descriptions) > *limit {
		descriptions = descriptions[:*limit]
	}
	if len(descriptions) == 0 {
		fmt.Println("No uncategorized transactions.")
		return
	}

	suggestions, err := suggester.Suggest(c.ctx, descriptions, categorizer.Rules().Categories())
	if err != nil {
		c.log.Fatal().Err(err).Msg("Suggestion failed")
	}
	printJSON(suggestions)
	fmt.Fprintln(os.Stderr, "Review the suggestions and apply them with 'cli add-mapping'.")
}

func runSyncNotion() {
	fs, configPath := newFlagSet("sync-notion")
	startDate := fs.String("start-date", "", "Start date in YYYY-MM-DD format")
	endDate := fs.String("end-date", "", "End date in YYYY-MM-DD format")
	notionToken := fs.String("notion-token", "", "Notion API token (or set NOTION_TOKEN env)")
	notionDBID := fs.String("notion-db-id", "", "Notion database ID (or set NOTION_DB_ID env)")
	dryRun := fs.Bool("dry-run", false, "Dry run mode - preview changes without syncing")
	prune := fs.Bool("prune", false, "Archive pages in the range whose transaction left the ledger")
	c := start(fs, configPath, 10*time.Minute)
	defer c.cancel()

	if *notionToken == "" {
		*notionToken = c.cfg.Notion.Token
	}
	if *notionDBID == "" {
		*notionDBID = c.cfg.Notion.DatabaseID
	}
	if *notionToken == "" {
		c.log.Fatal().Msg("Error: --notion-token is required")
	}
	if *notionDBID == "" {
		c.log.Fatal().Msg("Error: --notion-db-id is required")
	}
	r := c.dateRange(*startDate, *endDate)

	repo, err := app.OpenLedger(c.ctx, c.cfg)
	if err != nil {
		c.log.Fatal().Err(err).Msg("Failed to create ledger repository")
	}
	defer repo.Close()

	res, err := notionsync.SyncLedger(c.ctx, repo, notionsync.NewNotionClient(*notionToken), *notionDBID, notionsync.Options{
		Start:  r.Start,
		End:    r.End,
		DryRun: *dryRun,
		Prune:  *prune,
	})
	if err != nil {
		c.log.Fatal().Err(err).Msg("Sync failed")
	}
	printJSON(res)
}

func runMigrate() {
	fs, configPath := newFlagSet("migrate")
	appliedBy := fs.String("applied-by", "migrate-cli", "Name recorded in schema_migrations")
	c := start(fs, configPath, 5*time.Minute)
	defer c.cancel()

	repo, err := app.OpenLedger(c.ctx, c.cfg)
	if err != nil {
		c.log.Fatal().Err(err).Msg("Failed to create ledger repository")
	}
	defer repo.Close()

	n, err := repo.Migrate(c.ctx, *appliedBy)
	if err != nil {
		c.log.Fatal().Err(err).Int("applied", n).Msg("Migration failed")
	}
	if n == 0 {
		fmt.Println("No new migrations to apply. Dataset is up to date.")
		return
	}
	fmt.Printf("Successfully applied %d migration(s)\n", n)
}
