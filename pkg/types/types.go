// Package types defines the domain entities shared by the coordinator and
// the node agent: organizations, collaborations, sessions, dataframes,
// tasks and runs, and the status enums that drive their lifecycles.
package types

import "time"

// Organization owns zero or more Users and Nodes and holds the public key
// used by every other organization to encrypt payloads addressed to it.
type Organization struct {
	ID string
	Name string
	PublicKey string // PEM, base64-framed for transport
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Collaboration is a set of organizations that have agreed to run joint
// computations together.
type Collaboration struct {
	ID string
	Name string
	Encrypted bool
	SessionRestrictToSameImage bool
	OrganizationIDs []string
	CreatedAt time.Time
}

// Study narrows a Collaboration to a subset of its organizations.
type Study struct {
	ID string
	CollaborationID string
	Name string
	OrganizationIDs []string
}

// NodeStatus is the connectivity state the coordinator tracks for a Node.
type NodeStatus string

const (
	NodeStatusOnline NodeStatus = "online"
	NodeStatusOffline NodeStatus = "offline"
)

// Node is a single data-holding site belonging to exactly one
// (Organization, Collaboration) pair.
type Node struct {
	ID string
	OrganizationID string
	CollaborationID string
	APIKeyHash string // never store the raw key
	Status NodeStatus
	ConfigKV map[string]string
	LastSeenAt time.Time
	CreatedAt time.Time
}

// SessionScope controls which users may see a Session's dataframes.
type SessionScope string

const (
	SessionScopeOwn SessionScope = "own"
	SessionScopeOrganization SessionScope = "organization"
	SessionScopeCollaboration SessionScope = "collaboration"
	SessionScopeGlobal SessionScope = "global"
)

// Session is a mutable, per-collaboration workspace holding the sequence of
// dataframes produced by data-extraction and preprocessing tasks.
type Session struct {
	ID string
	Name string
	CollaborationID string
	StudyID string // empty if not narrowed to a study
	OwnerUserID string
	Scope SessionScope
	CreatedAt time.Time
	LastUsedAt time.Time
}

// DataframeColumn describes one column of a Dataframe as reported by the
// node that produced it.
type DataframeColumn struct {
	Name string
	DType string
	NodeID string
}

// Dataframe is a per-session named tabular artifact, materialized as a
// Parquet file on each node that holds it.
type Dataframe struct {
	ID string
	Handle string
	SessionID string
	LastSessionTaskID string // empty until a task has targeted this handle
	Columns []DataframeColumn
	CreatedAt time.Time
}

// ActionType is the kind of work an algorithm container performs.
type ActionType string

const (
	ActionDataExtraction ActionType = "data_extraction"
	ActionPreprocessing ActionType = "preprocessing"
	ActionFederatedCompute ActionType = "federated_compute"
	ActionCentralCompute ActionType = "central_compute"
	ActionPostProcessing ActionType = "post_processing"
)

// IsSessionModifying reports whether an action produces or updates a
// Dataframe, as opposed to only reading one.
func (a ActionType) IsSessionModifying() bool {
	return a == ActionDataExtraction || a == ActionPreprocessing
}

// DBRefType distinguishes a raw data source from a prior dataframe.
type DBRefType string

const (
	DBRefSource DBRefType = "source"
	DBRefDataframe DBRefType = "dataframe"
)

// DBRef is one entry of a task's argument slot; a slot may hold more than
// one DBRef (multi-database arguments).
type DBRef struct {
	Type DBRefType
	Label string // set when Type == DBRefSource
	DataframeID string // set when Type == DBRefDataframe
	Position int // index of the argument slot this ref belongs to
}

// Task is a unit of user-submitted work; it fans out to one Run per
// participating organization.
type Task struct {
	ID string
	Name string
	Image string
	Action ActionType
	CollaborationID string
	SessionID string
	StudyID string
	JobID int64
	ParentTaskID string
	DependsOnTaskID string
	InitOrgID string
	InitUserID string
	AlgorithmStoreID string
	Databases [][]DBRef // one slice per argument slot
	DataframeID string // set only if this task builds a dataframe
	CreatedAt time.Time
}

// OrgInput is one target organization's independently encrypted input
// ciphertext for a task submission; a Task fans out to one Run per
// OrgInput.
type OrgInput struct {
	OrganizationID string
	Input string // encrypted, base64-framed
}

// RunStatus is the lifecycle state of a single organization's execution of
// a Task.
type RunStatus string

const (
	RunPending RunStatus = "pending"
	RunInitializing RunStatus = "initializing"
	RunActive RunStatus = "active"
	RunCompleted RunStatus = "completed"
	RunFailed RunStatus = "failed"
	RunStartFailed RunStatus = "start failed"
	RunNonExistingDockerImage RunStatus = "non-existing docker image"
	RunCrashed RunStatus = "crashed"
	RunKilledByUser RunStatus = "killed by user"
	RunNotAllowed RunStatus = "not allowed"
	RunUnknownError RunStatus = "unknown error"
	RunDataframeNotFound RunStatus = "dataframe not found"
	RunDependedOnFailedTask RunStatus = "depended on failed task"
	RunUnexpectedOutput RunStatus = "unexpected output"
)

// failedRunStatuses backs IsFailed; kept as a set literal so the
// derivation reads the same way states it.
var failedRunStatuses = map[RunStatus]bool{
	RunFailed: true,
	RunCrashed: true,
	RunKilledByUser: true,
	RunNotAllowed: true,
	RunUnknownError: true,
	RunStartFailed: true,
	RunNonExistingDockerImage: true,
	RunUnexpectedOutput: true,
	RunDataframeNotFound: true,
	RunDependedOnFailedTask: true,
}

// IsFailed reports whether the status belongs to the "failed" subset of
// terminal statuses.
func (s RunStatus) IsFailed() bool { return failedRunStatuses[s] }

// IsFinished reports whether the status is terminal (failed ∪ {completed}).
func (s RunStatus) IsFinished() bool { return s == RunCompleted || s.IsFailed() }

// IsAlive reports whether the status is one of {pending, initializing, active}.
func (s RunStatus) IsAlive() bool {
	return s == RunPending || s == RunInitializing || s == RunActive
}

// Run is one organization's slice of a Task: an actual container execution
// on that organization's node.
type Run struct {
	ID string
	TaskID string
	OrganizationID string
	Input string // encrypted, base64-framed
	Result string // encrypted, base64-framed, or a blob UUID
	Log string
	Action ActionType
	Status RunStatus
	AssignedAt time.Time
	StartedAt time.Time
	FinishedAt time.Time
	CleanupAt time.Time
	BlobStorageUsed bool
	CreatedAt time.Time
}

// TaskStatus is derived from a Task's Runs; it is never stored.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskInitializing TaskStatus = "initializing"
	TaskActive TaskStatus = "active"
	TaskCompleted TaskStatus = "completed"
	TaskFailed TaskStatus = "failed"
)

// DeriveTaskStatus computes Task.status from its Runs : failed
// if any run failed; else active if any active; else initializing if any
// initializing; else pending if any pending; else completed.
func DeriveTaskStatus(runs []*Run) TaskStatus {
	if len(runs) == 0 {
		return TaskPending
	}
	var anyActive, anyInitializing, anyPending bool
	for _, r := range runs {
		switch {
		case r.Status.IsFailed():
			return TaskFailed
		case r.Status == RunActive:
			anyActive = true
		case r.Status == RunInitializing:
			anyInitializing = true
		case r.Status == RunPending:
			anyPending = true
		}
	}
	switch {
	case anyActive:
		return TaskActive
	case anyInitializing:
		return TaskInitializing
	case anyPending:
		return TaskPending
	default:
		return TaskCompleted
	}
}

// DataframeReady computes Dataframe.ready : true iff
// LastSessionTaskID is set and every run of that task has a finished status.
func DataframeReady(df *Dataframe, runsOfLastTask []*Run) bool {
	if df.LastSessionTaskID == "" {
		return false
	}
	if len(runsOfLastTask) == 0 {
		return false
	}
	for _, r := range runsOfLastTask {
		if !r.Status.IsFinished() {
			return false
		}
	}
	return true
}
