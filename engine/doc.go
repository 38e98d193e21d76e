// Package engine executes the fixed stage graph of a run.
//
// The stage list is static and declared with tagged descriptors: scalar
// stages run inline, fanned stages fan out one node invocation per domain
// under the run's concurrency cap and fan back in through the single-
// threaded merge loop. The executor owns the continuation policy: per-
// domain failures are isolated, integration failures degrade the report,
// and checkpoint or invariant failures abort everything except stages
// marked Always.
package engine
