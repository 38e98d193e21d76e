// Package pipeline holds the shared run state and its merge discipline.
//
// PipelineState is the only channel through which stages communicate: node
// bodies read immutable Snapshots and return StageResult patches, and the
// executor applies those patches one at a time through State.Apply. Within
// one stage, patches for different domains commute; within one domain,
// stage order is enforced by the prerequisite chain. A patch that violates
// the discipline (unknown domain, missing prerequisite, overwrite) is a
// programming error and fails the run.
package pipeline
