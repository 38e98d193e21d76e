package ingest

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kbukum/sdtmforge/config"
	"github.com/kbukum/sdtmforge/errors"
	"github.com/kbukum/sdtmforge/logger"
	"github.com/kbukum/sdtmforge/pipeline"
)

// stagingSchema is where upstream EDC exports land.
const stagingSchema = "staging"

// PostgresIngestor discovers staging tables in a Postgres database. One
// staging table maps to one domain; the target code is the upper-cased
// table name.
type PostgresIngestor struct {
	pool *pgxpool.Pool
	sel  selection
	log  *logger.Logger
}

// NewPostgresIngestor connects a pool to the given DSN and verifies it is
// reachable within the configured ping timeout.
func NewPostgresIngestor(ctx context.Context, dsn string, pgCfg config.PostgresConfig, domains []string, log *logger.Logger) (*PostgresIngestor, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.SourceUnavailable(dsn, err)
	}
	poolCfg.MaxConns = int32(pgCfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.SourceUnavailable(dsn, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pgCfg.PingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errors.SourceUnavailable(dsn, err)
	}

	return &PostgresIngestor{
		pool: pool,
		sel:  newSelection(domains),
		log:  log.WithComponent("ingest"),
	}, nil
}

// Close releases the connection pool.
func (p *PostgresIngestor) Close() { p.pool.Close() }

// Discover implements Ingestor.
func (p *PostgresIngestor) Discover(ctx context.Context) ([]pipeline.DomainUnit, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = $1 AND table_type = 'BASE TABLE'`, stagingSchema)
	if err != nil {
		return nil, errors.SourceUnavailable(stagingSchema, err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.SourceUnavailable(stagingSchema, err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.SourceUnavailable(stagingSchema, err)
	}
	sort.Strings(tables)

	var units []pipeline.DomainUnit
	for _, name := range tables {
		domain := strings.ToUpper(name)
		if !p.sel.matches(domain) {
			continue
		}

		table, err := p.readTable(ctx, name)
		if err != nil {
			return nil, err
		}

		units = append(units, pipeline.DomainUnit{
			SourceID:    stagingSchema + "." + name,
			Domain:      domain,
			RecordCount: table.RowCount(),
			Columns:     append([]string(nil), table.Columns...),
			Raw:         table,
		})
		p.log.Debug("discovered staging table", logger.Fields(
			logger.FieldDomain, domain,
			"table", name,
			"records", table.RowCount(),
		))
	}

	if len(units) == 0 {
		return nil, errors.NoMatchingFiles(stagingSchema, p.sel.list())
	}
	return units, nil
}

// readTable loads one staging table into a column-ordered Table. All cells
// come back as text; typing is the transformer's concern.
func (p *PostgresIngestor) readTable(ctx context.Context, name string) (*pipeline.Table, error) {
	// Identifier from information_schema, quoted to be safe.
	query := fmt.Sprintf(`SELECT * FROM %q.%q`, stagingSchema, name)
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.SourceUnavailable(stagingSchema+"."+name, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = strings.ToUpper(f.Name)
	}
	table := pipeline.NewTable(columns...)

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, errors.SourceUnavailable(stagingSchema+"."+name, err)
		}
		row := make([]string, len(columns))
		for i, v := range values {
			if v != nil {
				row[i] = fmt.Sprintf("%v", v)
			}
		}
		if err := table.AppendRow(row); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.SourceUnavailable(stagingSchema+"."+name, err)
	}
	return table, nil
}
