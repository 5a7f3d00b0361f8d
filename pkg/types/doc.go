/*
Package types defines the core data structures shared by the coordinator
and the node agent.

This package contains the domain model for federated task execution:
organizations, collaborations, studies, nodes, sessions, dataframes, tasks
and runs. These types are used by the store, the coordinator, the
dataframe orchestrator, the socket dispatcher and the node agent for state
management and wire serialization.

# Core Types

Organization hierarchy:
 - Organization: owns a public key and zero or more Nodes
 - Collaboration: a set of Organizations that run joint computations
 - Study: an optional narrowing of a Collaboration to a subset of its
 organizations
 - Node: a single data-holding site for exactly one (Organization,
 Collaboration) pair

Session pipeline:
 - Session: a mutable per-collaboration workspace
 - Dataframe: a named tabular artifact produced by a session-modifying
 task and materialized as Parquet on every node that holds it

Task execution:
 - Task: a unit of submitted work, fanning out to one Run per
 participating organization
 - DBRef: one database or dataframe reference inside a task's argument
 slot
 - Run: one organization's container execution of a Task
 - RunStatus / TaskStatus: disjoint lifecycle enums (see
 DeriveTaskStatus, DataframeReady)

All types are plain structs serialized as JSON over the wire; the
relational store maps them to table columns, keeping only nested values
(task databases, node config_kv, dataframe columns) as jsonb. Derived
fields such as Task status or
Dataframe readiness are computed from child rows, never stored.
*/
package types
