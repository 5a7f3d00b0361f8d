// Package store implements the coordinator's relational storage layer:
// the Store interface over Organization/Collaboration/Study/Node/
// Session/Dataframe/Task/Run, job_id allocation, and the DatabaseLock
// application-level mutex.
package store

import (
	"context"
	"time"

	"github.com/vantage6/vantage6-sub004/pkg/types"
)

// Store is the coordinator's persistence boundary. PostgresStore is the
// only production implementation; the interface exists so the
// coordinator and dataframe orchestrator packages can be tested against
// an in-memory fake.
type Store interface {
	// Organizations
	CreateOrganization(ctx context.Context, org *types.Organization) error
	GetOrganization(ctx context.Context, id string) (*types.Organization, error)
	UpdateOrganization(ctx context.Context, org *types.Organization) error

	// Collaborations
	CreateCollaboration(ctx context.Context, collab *types.Collaboration) error
	GetCollaboration(ctx context.Context, id string) (*types.Collaboration, error)

	// Studies
	CreateStudy(ctx context.Context, study *types.Study) error
	GetStudy(ctx context.Context, id string) (*types.Study, error)

	// Nodes
	CreateNode(ctx context.Context, node *types.Node) error
	GetNode(ctx context.Context, id string) (*types.Node, error)
	GetNodeByAPIKeyHash(ctx context.Context, apiKeyHash string) (*types.Node, error)
	GetNodeByOrgAndCollaboration(ctx context.Context, orgID, collabID string) (*types.Node, error)
	ListNodesByCollaboration(ctx context.Context, collabID string) ([]*types.Node, error)
	UpdateNode(ctx context.Context, node *types.Node) error

	// Sessions
	CreateSession(ctx context.Context, session *types.Session) error
	GetSession(ctx context.Context, id string) (*types.Session, error)
	DeleteSession(ctx context.Context, id string) error

	// Dataframes
	CreateDataframe(ctx context.Context, df *types.Dataframe) error
	GetDataframe(ctx context.Context, id string) (*types.Dataframe, error)
	GetDataframeByHandle(ctx context.Context, sessionID, handle string) (*types.Dataframe, error)
	ListDataframesBySession(ctx context.Context, sessionID string) ([]*types.Dataframe, error)
	UpdateDataframe(ctx context.Context, df *types.Dataframe) error
	DeleteDataframe(ctx context.Context, id string) error

	// Tasks
	CreateTask(ctx context.Context, task *types.Task) error
	GetTask(ctx context.Context, id string) (*types.Task, error)
	ListTasksByJobID(ctx context.Context, jobID int64) ([]*types.Task, error)
	ListChildTasks(ctx context.Context, parentTaskID string) ([]*types.Task, error)
	ListTasksBySession(ctx context.Context, sessionID string) ([]*types.Task, error)

	// NextJobID allocates a new monotonically increasing job_id. Values are
	// unique but can have gaps.
	NextJobID(ctx context.Context) (int64, error)

	// Runs
	CreateRun(ctx context.Context, run *types.Run) error
	GetRun(ctx context.Context, id string) (*types.Run, error)
	ListRunsByTask(ctx context.Context, taskID string) ([]*types.Run, error)
	UpdateRun(ctx context.Context, run *types.Run) error

	// ListRuns answers GET /run's filterable, paginated listing: task_id/node_id/status are optional equality filters, node_id
	// is resolved through the node's (organization_id, collaboration_id)
	// pair since a Run only records the organization it belongs to. It
	// returns the page and the total number of matching rows (for the
	// total-count response header).
	ListRuns(ctx context.Context, filter RunFilter) ([]*types.Run, int, error)

	// ListRunsForCleanup returns completed Runs whose finished_at is
	// older than cutoff and that have not yet been cleaned up
	// (cleanup_at is zero), for the coordinator's background result
	// data-lifecycle job.
	ListRunsForCleanup(ctx context.Context, cutoff time.Time) ([]*types.Run, error)

	// DatabaseLock
	AcquireLock(ctx context.Context, name, processID string, timeout time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name, processID string) error

	// Ping verifies the storage connection is reachable, for the
	// coordinator's /health endpoint.
	Ping(ctx context.Context) error

	Close() error
}

// RunFilter narrows ListRuns. Zero-value fields are not filtered on;
// Limit <= 0 means unbounded.
type RunFilter struct {
	TaskID string
	NodeID string
	Status string
	Limit int
	Offset int
}
