// Package graphload records run lineage in a graph store: which run
// produced which domain datasets, and which source columns fed which
// target variables.
package graphload

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kbukum/sdtmforge/errors"
	"github.com/kbukum/sdtmforge/logger"
	"github.com/kbukum/sdtmforge/mapgen"
)

// Outcome summarizes one lineage load.
type Outcome struct {
	NodesCreated int `yaml:"nodes_created" json:"nodes_created"`
	RelsCreated  int `yaml:"rels_created" json:"rels_created"`
}

// DomainLineage is the per-domain input to a load.
type DomainLineage struct {
	Domain   string
	SourceID string
	Rows     int
	Spec     mapgen.Spec
}

// Loader writes lineage into a graph store.
type Loader interface {
	Load(ctx context.Context, runID, studyID string, domains []DomainLineage) (Outcome, error)
	Close(ctx context.Context) error
}

// Neo4jLoader implements Loader over the bolt protocol.
type Neo4jLoader struct {
	driver   neo4j.DriverWithContext
	database string
	log      *logger.Logger
}

// NewNeo4jLoader connects and verifies the store is reachable.
func NewNeo4jLoader(ctx context.Context, uri, username, password, database string, log *logger.Logger) (*Neo4jLoader, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, errors.LoadFailed(fmt.Errorf("create graph driver: %w", err))
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, errors.LoadFailed(fmt.Errorf("graph store unreachable: %w", err))
	}
	return &Neo4jLoader{
		driver:   driver,
		database: database,
		log:      log.WithComponent("graphload"),
	}, nil
}

// Load merges the run, study, domain, and variable lineage in one write
// transaction, so a failed load leaves nothing behind.
func (l *Neo4jLoader) Load(ctx context.Context, runID, studyID string, domains []DomainLineage) (Outcome, error) {
	session := l.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: l.database,
	})
	defer func() { _ = session.Close(ctx) }()

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		outcome := Outcome{}

		if err := l.mergeRun(ctx, tx, runID, studyID, &outcome); err != nil {
			return nil, err
		}
		for _, d := range domains {
			if err := l.mergeDomain(ctx, tx, runID, studyID, d, &outcome); err != nil {
				return nil, err
			}
		}
		return outcome, nil
	})
	if err != nil {
		return Outcome{}, errors.LoadFailed(err)
	}

	outcome := result.(Outcome)
	l.log.Info("lineage loaded", logger.Fields(
		"run_id", runID,
		"nodes", outcome.NodesCreated,
		"rels", outcome.RelsCreated,
	))
	return outcome, nil
}

func (l *Neo4jLoader) mergeRun(ctx context.Context, tx neo4j.ManagedTransaction, runID, studyID string, outcome *Outcome) error {
	res, err := tx.Run(ctx, `
		MERGE (s:Study {id: $study})
		MERGE (r:Run {id: $run})
		MERGE (r)-[:STANDARDIZES]->(s)
		`, map[string]any{"study": studyID, "run": runID})
	if err != nil {
		return fmt.Errorf("merge run node: %w", err)
	}
	return consume(ctx, res, outcome)
}

func (l *Neo4jLoader) mergeDomain(ctx context.Context, tx neo4j.ManagedTransaction, runID, studyID string, d DomainLineage, outcome *Outcome) error {
	res, err := tx.Run(ctx, `
		MATCH (r:Run {id: $run})
		MERGE (d:Domain {code: $domain, study: $study})
		SET d.source = $source, d.rows = $rows
		MERGE (r)-[:PRODUCED]->(d)
		`, map[string]any{
		"run": runID, "study": studyID,
		"domain": d.Domain, "source": d.SourceID, "rows": d.Rows,
	})
	if err != nil {
		return fmt.Errorf("merge domain %s: %w", d.Domain, err)
	}
	if err := consume(ctx, res, outcome); err != nil {
		return err
	}

	for _, rule := range d.Spec.Rules {
		res, err := tx.Run(ctx, `
			MATCH (d:Domain {code: $domain, study: $study})
			MERGE (v:Variable {name: $target, domain: $domain, study: $study})
			MERGE (d)-[:HAS_VARIABLE]->(v)
			FOREACH (_ IN CASE WHEN $source <> '' THEN [1] ELSE [] END |
				MERGE (c:SourceColumn {name: $source, domain: $domain, study: $study})
				MERGE (c)-[m:MAPPED_TO]->(v)
				SET m.op = $op
			)
			`, map[string]any{
			"domain": d.Domain, "study": studyID,
			"target": rule.Target, "source": rule.Source, "op": rule.Op,
		})
		if err != nil {
			return fmt.Errorf("merge variable %s.%s: %w", d.Domain, rule.Target, err)
		}
		if err := consume(ctx, res, outcome); err != nil {
			return err
		}
	}
	return nil
}

// consume drains a result and folds its counters into the outcome.
func consume(ctx context.Context, res neo4j.ResultWithContext, outcome *Outcome) error {
	summary, err := res.Consume(ctx)
	if err != nil {
		return err
	}
	counters := summary.Counters()
	outcome.NodesCreated += counters.NodesCreated()
	outcome.RelsCreated += counters.RelationshipsCreated()
	return nil
}

// Close releases the driver.
func (l *Neo4jLoader) Close(ctx context.Context) error {
	return l.driver.Close(ctx)
}
