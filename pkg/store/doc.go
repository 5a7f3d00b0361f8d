// Package store implements the coordinator's relational persistence
// layer: organizations, collaborations, studies, nodes, sessions,
// dataframes, tasks and runs, backed by PostgreSQL via pgx and sqlx, with
// goose-managed migrations embedded in the binary.
//
// The Store interface is the seam the coordinator and dataframe
// orchestrator code against; PostgresStore is its only production
// implementation. AcquireLock/ReleaseLock implement the DatabaseLock
// application-level mutex for cross-process critical sections; Open runs
// the schema migrations without taking it.
package store
