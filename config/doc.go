// Package config defines the RunConfig for one pipeline run and the
// loader that assembles it from YAML, .env, and environment variables.
//
// RunConfig is the only configuration channel in the repository: clients
// and stages receive it (or a slice of it) at construction and never read
// ambient process state.
package config
