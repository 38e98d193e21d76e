package pipeline

// DomainUnit is one source dataset selected for the run: one extract mapped
// to one standardized target domain. Units are created by the ingest stage
// and read-only afterward; later stages record outcomes through
// StageResults, never by mutating the unit.
type DomainUnit struct {
	// SourceID identifies the extract (file name or staging table).
	SourceID string `yaml:"source_id" json:"source_id"`
	// Domain is the target domain code (e.g. DM, AE, VS, LB).
	Domain string `yaml:"domain" json:"domain"`
	// RecordCount is the number of raw records discovered.
	RecordCount int `yaml:"record_count" json:"record_count"`
	// Columns is the discovered source column list, in source order.
	Columns []string `yaml:"columns" json:"columns"`
	// Raw holds the loaded source records. Shared read-only across
	// concurrent node invocations.
	Raw *Table `yaml:"raw" json:"-"`
}
