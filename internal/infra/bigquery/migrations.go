package bigquery

import (
	"context"
	"crypto/sha256"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/statement-analytics/internal/logger"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

const schemaMigrationsTable = "schema_migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// migrationFile matches 0001_name.sql.
var migrationFile = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

// Migration is one versioned DDL script.
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	// Checksum covers the file before placeholder substitution, so the same
	// script applied to another dataset keeps its checksum.
	Checksum string
}

// AppliedMigration is a row of the schema_migrations table.
type AppliedMigration struct {
	Version   int64               `bigquery:"version"`
	Name      string              `bigquery:"name"`
	AppliedAt time.Time           `bigquery:"applied_at"`
	Checksum  bigquery.NullString `bigquery:"checksum"`
	AppliedBy bigquery.NullString `bigquery:"applied_by"`
}

// Migrations returns the embedded ledger schema migrations for ds.
func Migrations(ds Dataset) ([]Migration, error) {
	sub, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("Migrations: %w", err)
	}
	return ReadMigrations(sub, ds)
}

// ReadMigrations reads migration scripts from the root of fsys, sorted by
// version. Files not named like 0001_name.sql are skipped. {{PROJECT_ID}} and
// {{DATASET_ID}} are replaced with ds.
func ReadMigrations(fsys fs.FS, ds Dataset) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("ReadMigrations: %w", err)
	}

	var migrations []Migration
	seen := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := migrationFile.FindStringSubmatch(entry.Name())
		if matches == nil {
			continue
		}
		version, _ := strconv.Atoi(matches[1])
		if prev, ok := seen[version]; ok {
			return nil, fmt.Errorf("ReadMigrations: version %04d used by %s and %s", version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		content, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("ReadMigrations: reading %s: %w", entry.Name(), err)
		}

		sql := strings.ReplaceAll(string(content), "{{PROJECT_ID}}", ds.ProjectID)
		sql = strings.ReplaceAll(sql, "{{DATASET_ID}}", ds.DatasetID)

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     matches[2],
			Filename: entry.Name(),
			SQL:      sql,
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// Pending returns the migrations whose version is not in applied. A changed
// checksum for an applied version is an error: applied scripts are immutable.
func Pending(migrations []Migration, applied []AppliedMigration) ([]Migration, error) {
	done := make(map[int]AppliedMigration, len(applied))
	for _, a := range applied {
		done[int(a.Version)] = a
	}

	var pending []Migration
	for _, m := range migrations {
		a, ok := done[m.Version]
		if !ok {
			pending = append(pending, m)
			continue
		}
		if a.Checksum.Valid && a.Checksum.StringVal != m.Checksum {
			return nil, fmt.Errorf("Pending: migration %04d_%s changed after it was applied", m.Version, m.Name)
		}
	}
	return pending, nil
}

// MigrateWithClient applies pending migrations in version order and records
// each one in schema_migrations. It returns the number applied.
func MigrateWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, migrations []Migration, appliedBy string) (int, error) {
	log := logger.FromContext(ctx)

	applied, err := appliedMigrations(ctx, client, ds)
	if err != nil {
		return 0, fmt.Errorf("MigrateWithClient: %w", err)
	}
	pending, err := Pending(migrations, applied)
	if err != nil {
		return 0, fmt.Errorf("MigrateWithClient: %w", err)
	}
	log.Info().
		Int("applied", len(applied)).
		Int("pending", len(pending)).
		Msg("Checked schema migrations")

	for i, m := range pending {
		mlog := log.With().Int("version", m.Version).Str("name", m.Name).Logger()
		mlog.Info().Msg("Applying migration")

		if err := runQuery(ctx, client.Query(m.SQL)); err != nil {
			return i, fmt.Errorf("MigrateWithClient: %04d_%s: %w", m.Version, m.Name, err)
		}
		if err := recordMigration(ctx, client, ds, m, appliedBy); err != nil {
			return i, fmt.Errorf("MigrateWithClient: recording %04d_%s: %w", m.Version, m.Name, err)
		}
	}
	return len(pending), nil
}

// appliedMigrations reads schema_migrations. A missing table means nothing
// has been applied yet.
func appliedMigrations(ctx context.Context, client *bigquery.Client, ds Dataset) ([]AppliedMigration, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM %s
		ORDER BY version ASC
	`, ds.table(schemaMigrationsTable)))

	it, err := q.Read(ctx)
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("appliedMigrations: %w", err)
	}

	var applied []AppliedMigration
	for {
		var row AppliedMigration
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("appliedMigrations: iterating results: %w", err)
		}
		applied = append(applied, row)
	}
	return applied, nil
}

func recordMigration(ctx context.Context, client *bigquery.Client, ds Dataset, m Migration, appliedBy string) error {
	q := client.Query(fmt.Sprintf(`
		INSERT INTO %s (version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`, ds.table(schemaMigrationsTable)))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "version", Value: m.Version},
		{Name: "name", Value: m.Name},
		{Name: "checksum", Value: m.Checksum},
		{Name: "applied_by", Value: appliedBy},
	}
	return runQuery(ctx, q)
}

// Migrate applies the embedded ledger schema to the repository's dataset.
func (r *BigQueryRepository) Migrate(ctx context.Context, appliedBy string) (int, error) {
	migrations, err := Migrations(r.ds)
	if err != nil {
		return 0, err
	}
	return MigrateWithClient(ctx, r.client, r.ds, migrations, appliedBy)
}
