package pipeline

// Stage names, in the fixed execution order.
const (
	StageIngest           = "ingest"
	StageValidateRaw      = "validate-raw"
	StageGenerateMappings = "generate-mappings"
	StageCheckpoint       = "checkpoint"
	StageTransform        = "transform"
	StageValidateOutput   = "validate-output"
	StageGenerateCode     = "generate-code"
	StageLoadGraphStore   = "load-graph-store"
	StageUploadObjects    = "upload-objects"
	StageReport           = "report"
)

// FannedChain returns the per-domain stages in prerequisite order. A
// domain's result for chain[i] may only be written once its result for
// chain[i-1] exists and is ok.
func FannedChain() []string {
	return []string{
		StageValidateRaw,
		StageGenerateMappings,
		StageTransform,
		StageValidateOutput,
		StageGenerateCode,
	}
}
