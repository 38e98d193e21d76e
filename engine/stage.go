package engine

import (
	"context"

	"github.com/kbukum/sdtmforge/pipeline"
)

// Kind tells the executor how a stage is driven.
type Kind int

const (
	// Scalar stages run once for the whole run.
	Scalar Kind = iota
	// Fanned stages run once per eligible domain, concurrently.
	Fanned
)

func (k Kind) String() string {
	if k == Fanned {
		return "fanned"
	}
	return "scalar"
}

// FailureMode is the continuation policy applied when a stage invocation
// fails.
type FailureMode int

const (
	// FailFatal aborts the run (ingest: no source means nothing to do).
	FailFatal FailureMode = iota
	// FailIsolate marks the domain failed and lets its siblings proceed.
	FailIsolate
	// FailSoft records a degraded outcome and continues (integrations).
	FailSoft
	// FailGate aborts every stage after the gate (checkpoint).
	FailGate
)

// Node is the uniform contract every stage body implements. A node reads
// the snapshot (and its domain unit when fanned), performs its work through
// external collaborators, and reports its outcome as a StageResult patch.
// It never mutates pipeline state directly; that is what makes concurrent
// fan-out safe without locks on the aggregate.
type Node interface {
	Stage() string
	Run(ctx context.Context, view *pipeline.Snapshot, unit *pipeline.DomainUnit) pipeline.StageResult
}

// NodeFunc adapts a function to the Node interface.
func NodeFunc(stage string, fn func(ctx context.Context, view *pipeline.Snapshot, unit *pipeline.DomainUnit) pipeline.StageResult) Node {
	return &funcNode{stage: stage, fn: fn}
}

type funcNode struct {
	stage string
	fn    func(ctx context.Context, view *pipeline.Snapshot, unit *pipeline.DomainUnit) pipeline.StageResult
}

func (n *funcNode) Stage() string { return n.stage }

func (n *funcNode) Run(ctx context.Context, view *pipeline.Snapshot, unit *pipeline.DomainUnit) pipeline.StageResult {
	return n.fn(ctx, view, unit)
}

// GateFunc is the body of the checkpoint stage. Unlike nodes it receives
// the mutable state: the gate must open, persist, and finalize the
// checkpoint record. It runs inline on the merge goroutine, so the access
// is still single-threaded.
type GateFunc func(ctx context.Context, state *pipeline.State) error

// ReportFunc is the body of the terminal report stage. It receives the
// terminal error of the run (nil when the run completed).
type ReportFunc func(ctx context.Context, state *pipeline.State, terminal error) pipeline.StageResult

// InstallFunc lets a scalar stage install its payload into the state after
// a successful run (ingest installing the domain units).
type InstallFunc func(state *pipeline.State, res pipeline.StageResult) error

// Stage is a tagged stage descriptor. Exactly one of Node, Gate, or Report
// is set, matching the stage's role in the fixed sequence.
type Stage struct {
	Name string
	Kind Kind
	Mode FailureMode
	// Always stages still run after the run has aborted (report).
	Always bool

	Node    Node
	Install InstallFunc
	Gate    GateFunc
	Report  ReportFunc
}
