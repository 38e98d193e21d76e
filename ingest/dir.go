package ingest

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kbukum/sdtmforge/errors"
	"github.com/kbukum/sdtmforge/logger"
	"github.com/kbukum/sdtmforge/pipeline"
)

// DirIngestor discovers CSV extracts in a source directory. The target
// domain code is derived from the file name (ae.csv -> AE).
type DirIngestor struct {
	dir string
	sel selection
	log *logger.Logger
}

// NewDirIngestor creates a directory ingestor over dir, restricted to the
// given domain selection (empty selects everything).
func NewDirIngestor(dir string, domains []string, log *logger.Logger) *DirIngestor {
	return &DirIngestor{
		dir: dir,
		sel: newSelection(domains),
		log: log.WithComponent("ingest"),
	}
}

// Discover implements Ingestor.
func (d *DirIngestor) Discover(ctx context.Context) ([]pipeline.DomainUnit, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, errors.SourceUnavailable(d.dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var units []pipeline.DomainUnit
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		domain := strings.ToUpper(strings.TrimSuffix(name, filepath.Ext(name)))
		if !d.sel.matches(domain) {
			continue
		}

		table, err := d.readCSV(filepath.Join(d.dir, name))
		if err != nil {
			return nil, errors.SourceUnavailable(filepath.Join(d.dir, name), err)
		}

		units = append(units, pipeline.DomainUnit{
			SourceID:    name,
			Domain:      domain,
			RecordCount: table.RowCount(),
			Columns:     append([]string(nil), table.Columns...),
			Raw:         table,
		})
		d.log.Debug("discovered source", logger.Fields(
			logger.FieldDomain, domain,
			"source", name,
			"records", table.RowCount(),
		))
	}

	if len(units) == 0 {
		return nil, errors.NoMatchingFiles(d.dir, d.sel.list())
	}
	return units, nil
}

// readCSV loads one extract. The first record is the header; short rows
// are padded so the table stays rectangular.
func (d *DirIngestor) readCSV(path string) (*pipeline.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return pipeline.NewTable(), nil
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(h)
	}
	table := pipeline.NewTable(header...)

	for _, rec := range records[1:] {
		row := make([]string, len(header))
		for i := range header {
			if i < len(rec) {
				row[i] = rec[i]
			}
		}
		if err := table.AppendRow(row); err != nil {
			return nil, err
		}
	}
	return table, nil
}

func (s selection) list() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s))
	for d := range s {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
