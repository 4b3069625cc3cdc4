// Package domain holds the pipeline-execution domain model: workspaces,
// datasets, experiments with draft pipelines, hooks, immutable runs over
// pipeline snapshots, execution contexts, and run artifacts.
//
// Nothing in this package performs I/O. Persistence lives behind the
// repositories in internal/repo; execution behavior lives under
// internal/execution.
package domain
