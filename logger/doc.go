// Package logger provides structured, leveled logging on top of zerolog.
//
// Every component receives a tagged sub-logger via WithComponent, and run
// execution attaches the run identifier via WithRun so all stage output is
// correlatable to one run.
package logger
