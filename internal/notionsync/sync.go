// Package notionsync exports the categorized ledger to a Notion database.
package notionsync

import (
	"context"
	"fmt"
	"time"

	infra "github.com/dvloznov/statement-analytics/internal/infra/bigquery"
	"github.com/dvloznov/statement-analytics/internal/logger"
	"github.com/jomei/notionapi"
)

// pageSize is the Notion maximum for database queries.
const pageSize = 100

// LedgerReader reads persisted ledger rows.
type LedgerReader interface {
	QueryTransactions(ctx context.Context, start, end *time.Time) ([]*infra.TransactionRow, error)
}

// Options configures a sync run.
type Options struct {
	Start *time.Time
	End   *time.Time
	// DryRun logs the planned changes without calling Notion for writes.
	DryRun bool
	// Prune archives pages in the range whose transaction is no longer in
	// the ledger.
	Prune bool
}

// Result counts what a sync did, or would do on a dry run.
type Result struct {
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
	Archived int `json:"archived"`
	Failed   int `json:"failed"`
}

// SyncLedger pushes ledger rows in the range to the Notion database.
// Pages are matched by Transaction ID: new rows are created, rows whose
// category changed are updated and the rest are skipped. Individual page
// failures are logged and counted; only reads fail the sync.
func SyncLedger(ctx context.Context, ledger LedgerReader, notion NotionService, databaseID string, opts Options) (*Result, error) {
	log := logger.FromContext(ctx).With().Bool("dry_run", opts.DryRun).Logger()

	rows, err := ledger.QueryTransactions(ctx, opts.Start, opts.End)
	if err != nil {
		return nil, fmt.Errorf("SyncLedger: query ledger: %w", err)
	}
	log.Info().Int("transaction_count", len(rows)).Msg("Retrieved ledger rows")

	pages, err := queryAllPages(ctx, notion, databaseID)
	if err != nil {
		return nil, fmt.Errorf("SyncLedger: %w", err)
	}
	log.Info().Int("notion_page_count", len(pages)).Msg("Retrieved existing Notion pages")

	existing := make(map[string]notionapi.Page, len(pages))
	for _, p := range pages {
		if id := pageTransactionID(p); id != "" {
			existing[id] = p
		}
	}

	res := &Result{}
	inLedger := make(map[string]bool, len(rows))
	for _, row := range rows {
		inLedger[row.TransactionID] = true
		txLog := log.With().Str("transaction_id", row.TransactionID).Logger()

		page, found := existing[row.TransactionID]
		switch {
		case found && pageCategory(page) == row.Category:
			res.Skipped++
		case found:
			if opts.DryRun {
				txLog.Info().Str("page_id", string(page.ID)).Msg("[DRY RUN] Would update Notion page")
				res.Updated++
				continue
			}
			if _, err := notion.UpdatePage(ctx, string(page.ID), TransactionProperties(row)); err != nil {
				txLog.Warn().Err(err).Str("page_id", string(page.ID)).Msg("Failed to update Notion page")
				res.Failed++
				continue
			}
			res.Updated++
		default:
			if opts.DryRun {
				txLog.Info().Msg("[DRY RUN] Would create Notion page")
				res.Created++
				continue
			}
			if _, err := notion.CreatePage(ctx, databaseID, TransactionProperties(row)); err != nil {
				txLog.Warn().Err(err).Msg("Failed to create Notion page")
				res.Failed++
				continue
			}
			res.Created++
		}
	}

	if opts.Prune {
		for id, page := range existing {
			if inLedger[id] || !inRange(pageDate(page), opts.Start, opts.End) {
				continue
			}
			if opts.DryRun {
				log.Info().Str("transaction_id", id).Msg("[DRY RUN] Would archive stale Notion page")
				res.Archived++
				continue
			}
			if err := notion.ArchivePage(ctx, string(page.ID)); err != nil {
				log.Warn().Err(err).Str("transaction_id", id).Msg("Failed to archive stale Notion page")
				res.Failed++
				continue
			}
			res.Archived++
		}
	}

	log.Info().
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("skipped", res.Skipped).
		Int("archived", res.Archived).
		Int("failed", res.Failed).
		Msg("Ledger sync completed")
	return res, nil
}

// inRange reports whether d lies within the optional bounds. Undated pages
// only match an unbounded range.
func inRange(d, start, end *time.Time) bool {
	if start == nil && end == nil {
		return true
	}
	if d == nil {
		return false
	}
	if start != nil && d.Before(*start) {
		return false
	}
	if end != nil && d.After(*end) {
		return false
	}
	return true
}

func queryAllPages(ctx context.Context, notion NotionService, databaseID string) ([]notionapi.Page, error) {
	var all []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{PageSize: pageSize}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := notion.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryAllPages: %w", err)
		}
		all = append(all, resp.Results...)

		if !resp.HasMore {
			return all, nil
		}
		cursor = resp.NextCursor
	}
}
