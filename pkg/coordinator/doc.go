// Package coordinator implements the coordinator's task state machine
// (C5): task submission and validation, run materialization, the
// container-token gating rules a central-compute child task must pass,
// run-patch handling, and the background result data-lifecycle cleanup
// job.
//
// Coordinator holds no cluster-coordination state of its own — every
// decision is re-derived from the Store on each call, the same "DB is
// truth" discipline pkg/dataframe follows: a façade over a store,
// handing off to a background loop for periodic work, with no Raft or
// other consensus layer underneath it. The relational database is the
// sole source of truth for a single coordinator instance; multi-replica
// coordinator fan-out is an explicit non-goal.
package coordinator
