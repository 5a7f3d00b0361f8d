package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	vterrors "github.com/vantage6/vantage6-sub004/pkg/errors"
	"github.com/vantage6/vantage6-sub004/pkg/types"
)

// PostgresStore implements Store against a PostgreSQL database via
// jackc/pgx's database/sql driver, queried with jmoiron/sqlx.
type PostgresStore struct {
	db *sqlx.DB
}

// Open connects to dsn, runs pending migrations, and returns a ready
// PostgresStore.
func Open(dsn string) (*PostgresStore, error) {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open connection: %w", err)
	}
	if err := Migrate(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return &PostgresStore{db: sqlx.NewDb(sqlDB, "pgx")}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

// Ping verifies the database connection is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// organizationRow/collaborationRow/... mirror their types.* struct but
// with sqlx `db` tags and jsonb columns as raw []byte, since types.*
// structs are shared with the wire-serialization layer and should not
// carry storage-specific tags.

type organizationRow struct {
	ID string `db:"id"`
	Name string `db:"name"`
	PublicKey string `db:"public_key"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r organizationRow) toType() *types.Organization {
	return &types.Organization{ID: r.ID, Name: r.Name, PublicKey: r.PublicKey, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
}

func (s *PostgresStore) CreateOrganization(ctx context.Context, org *types.Organization) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organizations (id, name, public_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, org.ID, org.Name, org.PublicKey, org.CreatedAt, org.UpdatedAt)
	return err
}

func (s *PostgresStore) GetOrganization(ctx context.Context, id string) (*types.Organization, error) {
	var row organizationRow
	if err := s.db.GetContext(ctx, &row, `SELECT id, name, public_key, created_at, updated_at FROM organizations WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("store: get organization %s: %w", id, err)
	}
	return row.toType(), nil
}

func (s *PostgresStore) UpdateOrganization(ctx context.Context, org *types.Organization) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE organizations SET name = $2, public_key = $3, updated_at = now() WHERE id = $1
	`, org.ID, org.Name, org.PublicKey)
	return err
}

type collaborationRow struct {
	ID string `db:"id"`
	Name string `db:"name"`
	Encrypted bool `db:"encrypted"`
	SessionRestrictToSameImage bool `db:"session_restrict_to_same_image"`
	OrganizationIDs []string `db:"organization_ids"`
	CreatedAt time.Time `db:"created_at"`
}

func (r collaborationRow) toType() *types.Collaboration {
	return &types.Collaboration{
		ID: r.ID,
		Name: r.Name,
		Encrypted: r.Encrypted,
		SessionRestrictToSameImage: r.SessionRestrictToSameImage,
		OrganizationIDs: r.OrganizationIDs,
		CreatedAt: r.CreatedAt,
	}
}

func (s *PostgresStore) CreateCollaboration(ctx context.Context, c *types.Collaboration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collaborations (id, name, encrypted, session_restrict_to_same_image, organization_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.Name, c.Encrypted, c.SessionRestrictToSameImage, pqStringArray(c.OrganizationIDs), c.CreatedAt)
	return err
}

func (s *PostgresStore) GetCollaboration(ctx context.Context, id string) (*types.Collaboration, error) {
	var row collaborationRow
	if err := s.db.GetContext(ctx, &row, `
		SELECT id, name, encrypted, session_restrict_to_same_image, organization_ids, created_at
		FROM collaborations WHERE id = $1
	`, id); err != nil {
		return nil, fmt.Errorf("store: get collaboration %s: %w", id, err)
	}
	return row.toType(), nil
}

type studyRow struct {
	ID string `db:"id"`
	CollaborationID string `db:"collaboration_id"`
	Name string `db:"name"`
	OrganizationIDs []string `db:"organization_ids"`
}

func (r studyRow) toType() *types.Study {
	return &types.Study{ID: r.ID, CollaborationID: r.CollaborationID, Name: r.Name, OrganizationIDs: r.OrganizationIDs}
}

func (s *PostgresStore) CreateStudy(ctx context.Context, st *types.Study) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO studies (id, collaboration_id, name, organization_ids) VALUES ($1, $2, $3, $4)
	`, st.ID, st.CollaborationID, st.Name, pqStringArray(st.OrganizationIDs))
	return err
}

func (s *PostgresStore) GetStudy(ctx context.Context, id string) (*types.Study, error) {
	var row studyRow
	if err := s.db.GetContext(ctx, &row, `SELECT id, collaboration_id, name, organization_ids FROM studies WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("store: get study %s: %w", id, err)
	}
	return row.toType(), nil
}

type nodeRow struct {
	ID string `db:"id"`
	OrganizationID string `db:"organization_id"`
	CollaborationID string `db:"collaboration_id"`
	APIKeyHash string `db:"api_key_hash"`
	Status string `db:"status"`
	ConfigKV map[string]string `db:"-"`
	ConfigKVRaw []byte `db:"config_kv"`
	LastSeenAt sql.NullTime `db:"last_seen_at"`
	CreatedAt time.Time `db:"created_at"`
}

func (r nodeRow) toType() (*types.Node, error) {
	configKV := map[string]string{}
	if len(r.ConfigKVRaw) > 0 {
		if err := json.Unmarshal(r.ConfigKVRaw, &configKV); err != nil {
			return nil, fmt.Errorf("store: unmarshal node config_kv: %w", err)
		}
	}
	return &types.Node{
		ID: r.ID,
		OrganizationID: r.OrganizationID,
		CollaborationID: r.CollaborationID,
		APIKeyHash: r.APIKeyHash,
		Status: types.NodeStatus(r.Status),
		ConfigKV: configKV,
		LastSeenAt: r.LastSeenAt.Time,
		CreatedAt: r.CreatedAt,
	}, nil
}

func (s *PostgresStore) CreateNode(ctx context.Context, n *types.Node) error {
	configKV, err := json.Marshal(n.ConfigKV)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO nodes (id, organization_id, collaboration_id, api_key_hash, status, config_kv, last_seen_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, n.ID, n.OrganizationID, n.CollaborationID, n.APIKeyHash, string(n.Status), configKV, nullTime(n.LastSeenAt), n.CreatedAt)
	return err
}

func (s *PostgresStore) GetNode(ctx context.Context, id string) (*types.Node, error) {
	var row nodeRow
	if err := s.db.GetContext(ctx, &row, `
		SELECT id, organization_id, collaboration_id, api_key_hash, status, config_kv, last_seen_at, created_at
		FROM nodes WHERE id = $1
	`, id); err != nil {
		return nil, fmt.Errorf("store: get node %s: %w", id, err)
	}
	return row.toType()
}

func (s *PostgresStore) GetNodeByAPIKeyHash(ctx context.Context, apiKeyHash string) (*types.Node, error) {
	var row nodeRow
	if err := s.db.GetContext(ctx, &row, `
		SELECT id, organization_id, collaboration_id, api_key_hash, status, config_kv, last_seen_at, created_at
		FROM nodes WHERE api_key_hash = $1
	`, apiKeyHash); err != nil {
		return nil, fmt.Errorf("store: get node by api key: %w", err)
	}
	return row.toType()
}

func (s *PostgresStore) GetNodeByOrgAndCollaboration(ctx context.Context, orgID, collabID string) (*types.Node, error) {
	var row nodeRow
	if err := s.db.GetContext(ctx, &row, `
		SELECT id, organization_id, collaboration_id, api_key_hash, status, config_kv, last_seen_at, created_at
		FROM nodes WHERE organization_id = $1 AND collaboration_id = $2
	`, orgID, collabID); err != nil {
		return nil, fmt.Errorf("store: get node for org %s collaboration %s: %w", orgID, collabID, err)
	}
	return row.toType()
}

func (s *PostgresStore) ListNodesByCollaboration(ctx context.Context, collabID string) ([]*types.Node, error) {
	var rows []nodeRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, organization_id, collaboration_id, api_key_hash, status, config_kv, last_seen_at, created_at
		FROM nodes WHERE collaboration_id = $1
	`, collabID); err != nil {
		return nil, fmt.Errorf("store: list nodes for collaboration %s: %w", collabID, err)
	}
	nodes := make([]*types.Node, 0, len(rows))
	for _, row := range rows {
		n, err := row.toType()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func (s *PostgresStore) UpdateNode(ctx context.Context, n *types.Node) error {
	configKV, err := json.Marshal(n.ConfigKV)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE nodes SET status = $2, config_kv = $3, last_seen_at = $4 WHERE id = $1
	`, n.ID, string(n.Status), configKV, nullTime(n.LastSeenAt))
	return err
}

type sessionRow struct {
	ID string `db:"id"`
	Name string `db:"name"`
	CollaborationID string `db:"collaboration_id"`
	StudyID sql.NullString `db:"study_id"`
	OwnerUserID string `db:"owner_user_id"`
	Scope string `db:"scope"`
	CreatedAt time.Time `db:"created_at"`
	LastUsedAt time.Time `db:"last_used_at"`
}

func (r sessionRow) toType() *types.Session {
	return &types.Session{
		ID: r.ID,
		Name: r.Name,
		CollaborationID: r.CollaborationID,
		StudyID: r.StudyID.String,
		OwnerUserID: r.OwnerUserID,
		Scope: types.SessionScope(r.Scope),
		CreatedAt: r.CreatedAt,
		LastUsedAt: r.LastUsedAt,
	}
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess *types.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, collaboration_id, study_id, owner_user_id, scope, created_at, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, sess.ID, sess.Name, sess.CollaborationID, nullString(sess.StudyID), sess.OwnerUserID, string(sess.Scope), sess.CreatedAt, sess.LastUsedAt)
	return err
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*types.Session, error) {
	var row sessionRow
	if err := s.db.GetContext(ctx, &row, `
		SELECT id, name, collaboration_id, study_id, owner_user_id, scope, created_at, last_used_at
		FROM sessions WHERE id = $1
	`, id); err != nil {
		return nil, fmt.Errorf("store: get session %s: %w", id, err)
	}
	return row.toType(), nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

type dataframeRow struct {
	ID string `db:"id"`
	Handle string `db:"handle"`
	SessionID string `db:"session_id"`
	LastSessionTaskID sql.NullString `db:"last_session_task_id"`
	ColumnsRaw []byte `db:"columns"`
	CreatedAt time.Time `db:"created_at"`
}

func (r dataframeRow) toType() (*types.Dataframe, error) {
	var columns []types.DataframeColumn
	if len(r.ColumnsRaw) > 0 {
		if err := json.Unmarshal(r.ColumnsRaw, &columns); err != nil {
			return nil, fmt.Errorf("store: unmarshal dataframe columns: %w", err)
		}
	}
	return &types.Dataframe{
		ID: r.ID,
		Handle: r.Handle,
		SessionID: r.SessionID,
		LastSessionTaskID: r.LastSessionTaskID.String,
		Columns: columns,
		CreatedAt: r.CreatedAt,
	}, nil
}

func (s *PostgresStore) CreateDataframe(ctx context.Context, df *types.Dataframe) error {
	columns, err := json.Marshal(df.Columns)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dataframes (id, handle, session_id, last_session_task_id, columns, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, df.ID, df.Handle, df.SessionID, nullString(df.LastSessionTaskID), columns, df.CreatedAt)
	return err
}

func (s *PostgresStore) GetDataframe(ctx context.Context, id string) (*types.Dataframe, error) {
	var row dataframeRow
	if err := s.db.GetContext(ctx, &row, `
		SELECT id, handle, session_id, last_session_task_id, columns, created_at FROM dataframes WHERE id = $1
	`, id); err != nil {
		return nil, fmt.Errorf("store: get dataframe %s: %w", id, err)
	}
	return row.toType()
}

func (s *PostgresStore) GetDataframeByHandle(ctx context.Context, sessionID, handle string) (*types.Dataframe, error) {
	var row dataframeRow
	if err := s.db.GetContext(ctx, &row, `
		SELECT id, handle, session_id, last_session_task_id, columns, created_at
		FROM dataframes WHERE session_id = $1 AND handle = $2
	`, sessionID, handle); err != nil {
		return nil, fmt.Errorf("%w: session %s handle %s", vterrors.ErrDataframeNotFound, sessionID, handle)
	}
	return row.toType()
}

func (s *PostgresStore) ListDataframesBySession(ctx context.Context, sessionID string) ([]*types.Dataframe, error) {
	var rows []dataframeRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, handle, session_id, last_session_task_id, columns, created_at
		FROM dataframes WHERE session_id = $1
	`, sessionID); err != nil {
		return nil, fmt.Errorf("store: list dataframes for session %s: %w", sessionID, err)
	}
	dfs := make([]*types.Dataframe, 0, len(rows))
	for _, row := range rows {
		df, err := row.toType()
		if err != nil {
			return nil, err
		}
		dfs = append(dfs, df)
	}
	return dfs, nil
}

func (s *PostgresStore) UpdateDataframe(ctx context.Context, df *types.Dataframe) error {
	columns, err := json.Marshal(df.Columns)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE dataframes SET last_session_task_id = $2, columns = $3 WHERE id = $1
	`, df.ID, nullString(df.LastSessionTaskID), columns)
	return err
}

func (s *PostgresStore) DeleteDataframe(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dataframes WHERE id = $1`, id)
	return err
}

type taskRow struct {
	ID string `db:"id"`
	Name string `db:"name"`
	Image string `db:"image"`
	Action string `db:"action"`
	CollaborationID string `db:"collaboration_id"`
	SessionID string `db:"session_id"`
	StudyID sql.NullString `db:"study_id"`
	JobID int64 `db:"job_id"`
	ParentTaskID sql.NullString `db:"parent_task_id"`
	DependsOnTaskID sql.NullString `db:"depends_on_task_id"`
	InitOrgID string `db:"init_org_id"`
	InitUserID string `db:"init_user_id"`
	AlgorithmStoreID sql.NullString `db:"algorithm_store_id"`
	DatabasesRaw []byte `db:"databases"`
	DataframeID sql.NullString `db:"dataframe_id"`
	CreatedAt time.Time `db:"created_at"`
}

func (r taskRow) toType() (*types.Task, error) {
	var databases [][]types.DBRef
	if len(r.DatabasesRaw) > 0 {
		if err := json.Unmarshal(r.DatabasesRaw, &databases); err != nil {
			return nil, fmt.Errorf("store: unmarshal task databases: %w", err)
		}
	}
	return &types.Task{
		ID: r.ID,
		Name: r.Name,
		Image: r.Image,
		Action: types.ActionType(r.Action),
		CollaborationID: r.CollaborationID,
		SessionID: r.SessionID,
		StudyID: r.StudyID.String,
		JobID: r.JobID,
		ParentTaskID: r.ParentTaskID.String,
		DependsOnTaskID: r.DependsOnTaskID.String,
		InitOrgID: r.InitOrgID,
		InitUserID: r.InitUserID,
		AlgorithmStoreID: r.AlgorithmStoreID.String,
		Databases: databases,
		DataframeID: r.DataframeID.String,
		CreatedAt: r.CreatedAt,
	}, nil
}

func (s *PostgresStore) CreateTask(ctx context.Context, t *types.Task) error {
	databases, err := json.Marshal(t.Databases)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, name, image, action, collaboration_id, session_id, study_id, job_id,
			parent_task_id, depends_on_task_id, init_org_id, init_user_id, algorithm_store_id,
			databases, dataframe_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, t.ID, t.Name, t.Image, string(t.Action), t.CollaborationID, t.SessionID, nullString(t.StudyID), t.JobID,
		nullString(t.ParentTaskID), nullString(t.DependsOnTaskID), t.InitOrgID, t.InitUserID, nullString(t.AlgorithmStoreID),
		databases, nullString(t.DataframeID), t.CreatedAt)
	return err
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (*types.Task, error) {
	var row taskRow
	if err := s.db.GetContext(ctx, &row, `
		SELECT id, name, image, action, collaboration_id, session_id, study_id, job_id,
			parent_task_id, depends_on_task_id, init_org_id, init_user_id, algorithm_store_id,
			databases, dataframe_id, created_at
		FROM tasks WHERE id = $1
	`, id); err != nil {
		return nil, fmt.Errorf("store: get task %s: %w", id, err)
	}
	return row.toType()
}

func (s *PostgresStore) ListTasksByJobID(ctx context.Context, jobID int64) ([]*types.Task, error) {
	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, name, image, action, collaboration_id, session_id, study_id, job_id,
			parent_task_id, depends_on_task_id, init_org_id, init_user_id, algorithm_store_id,
			databases, dataframe_id, created_at
		FROM tasks WHERE job_id = $1
	`, jobID); err != nil {
		return nil, fmt.Errorf("store: list tasks for job %d: %w", jobID, err)
	}
	return rowsToTasks(rows)
}

func (s *PostgresStore) ListChildTasks(ctx context.Context, parentTaskID string) ([]*types.Task, error) {
	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, name, image, action, collaboration_id, session_id, study_id, job_id,
			parent_task_id, depends_on_task_id, init_org_id, init_user_id, algorithm_store_id,
			databases, dataframe_id, created_at
		FROM tasks WHERE parent_task_id = $1
	`, parentTaskID); err != nil {
		return nil, fmt.Errorf("store: list child tasks of %s: %w", parentTaskID, err)
	}
	return rowsToTasks(rows)
}

func (s *PostgresStore) ListTasksBySession(ctx context.Context, sessionID string) ([]*types.Task, error) {
	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, name, image, action, collaboration_id, session_id, study_id, job_id,
			parent_task_id, depends_on_task_id, init_org_id, init_user_id, algorithm_store_id,
			databases, dataframe_id, created_at
		FROM tasks WHERE session_id = $1
	`, sessionID); err != nil {
		return nil, fmt.Errorf("store: list tasks for session %s: %w", sessionID, err)
	}
	return rowsToTasks(rows)
}

func rowsToTasks(rows []taskRow) ([]*types.Task, error) {
	tasks := make([]*types.Task, 0, len(rows))
	for _, row := range rows {
		t, err := row.toType()
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// NextJobID allocates job_id from the task_job_id_seq sequence, relying
// on the sequence's own atomicity rather than an explicit row lock. Values
// increase but are not reused when a submission fails, so they can have
// gaps and are not always max(job_id)+1.
func (s *PostgresStore) NextJobID(ctx context.Context) (int64, error) {
	var jobID int64
	if err := s.db.GetContext(ctx, &jobID, `SELECT nextval('task_job_id_seq')`); err != nil {
		return 0, fmt.Errorf("store: allocate job id: %w", err)
	}
	return jobID, nil
}

type runRow struct {
	ID string `db:"id"`
	TaskID string `db:"task_id"`
	OrganizationID string `db:"organization_id"`
	Input string `db:"input"`
	Result string `db:"result"`
	Log string `db:"log"`
	Action string `db:"action"`
	Status string `db:"status"`
	AssignedAt sql.NullTime `db:"assigned_at"`
	StartedAt sql.NullTime `db:"started_at"`
	FinishedAt sql.NullTime `db:"finished_at"`
	CleanupAt sql.NullTime `db:"cleanup_at"`
	BlobStorageUsed bool `db:"blob_storage_used"`
	CreatedAt time.Time `db:"created_at"`
}

func (r runRow) toType() *types.Run {
	return &types.Run{
		ID: r.ID,
		TaskID: r.TaskID,
		OrganizationID: r.OrganizationID,
		Input: r.Input,
		Result: r.Result,
		Log: r.Log,
		Action: types.ActionType(r.Action),
		Status: types.RunStatus(r.Status),
		AssignedAt: r.AssignedAt.Time,
		StartedAt: r.StartedAt.Time,
		FinishedAt: r.FinishedAt.Time,
		CleanupAt: r.CleanupAt.Time,
		BlobStorageUsed: r.BlobStorageUsed,
		CreatedAt: r.CreatedAt,
	}
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *types.Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, task_id, organization_id, input, result, log, action, status,
			assigned_at, started_at, finished_at, cleanup_at, blob_storage_used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, run.ID, run.TaskID, run.OrganizationID, run.Input, run.Result, run.Log, string(run.Action), string(run.Status),
		nullTime(run.AssignedAt), nullTime(run.StartedAt), nullTime(run.FinishedAt), nullTime(run.CleanupAt),
		run.BlobStorageUsed, run.CreatedAt)
	return err
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*types.Run, error) {
	var row runRow
	if err := s.db.GetContext(ctx, &row, `
		SELECT id, task_id, organization_id, input, result, log, action, status,
			assigned_at, started_at, finished_at, cleanup_at, blob_storage_used, created_at
		FROM runs WHERE id = $1
	`, id); err != nil {
		return nil, fmt.Errorf("store: get run %s: %w", id, err)
	}
	return row.toType(), nil
}

func (s *PostgresStore) ListRunsByTask(ctx context.Context, taskID string) ([]*types.Run, error) {
	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, task_id, organization_id, input, result, log, action, status,
			assigned_at, started_at, finished_at, cleanup_at, blob_storage_used, created_at
		FROM runs WHERE task_id = $1
	`, taskID); err != nil {
		return nil, fmt.Errorf("store: list runs for task %s: %w", taskID, err)
	}
	runs := make([]*types.Run, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, row.toType())
	}
	return runs, nil
}

// UpdateRun persists run's mutable fields, serialized against concurrent
// writers by Postgres's own row-level locking on UPDATE.
func (s *PostgresStore) UpdateRun(ctx context.Context, run *types.Run) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = $2, input = $3, result = $4, log = $5, started_at = $6, finished_at = $7,
			cleanup_at = $8, blob_storage_used = $9
		WHERE id = $1
	`, run.ID, string(run.Status), run.Input, run.Result, run.Log, nullTime(run.StartedAt), nullTime(run.FinishedAt),
		nullTime(run.CleanupAt), run.BlobStorageUsed)
	return err
}

func (s *PostgresStore) ListRunsForCleanup(ctx context.Context, cutoff time.Time) ([]*types.Run, error) {
	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, task_id, organization_id, input, result, log, action, status,
			assigned_at, started_at, finished_at, cleanup_at, blob_storage_used, created_at
		FROM runs
		WHERE status = $1 AND finished_at < $2 AND cleanup_at IS NULL
	`, string(types.RunCompleted), cutoff); err != nil {
		return nil, fmt.Errorf("store: list runs for cleanup: %w", err)
	}
	runs := make([]*types.Run, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, row.toType())
	}
	return runs, nil
}

// ListRuns implements the Store.ListRuns filterable listing. node_id is
// resolved to the node's (organization_id, collaboration_id) pair and
// joined against tasks so only that node's own runs match, mirroring
// GetNodeByOrgAndCollaboration's scoping rule.
func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]*types.Run, int, error) {
	where := []string{"1=1"}
	var args []any

	if filter.NodeID != "" {
		node, err := s.GetNode(ctx, filter.NodeID)
		if err != nil {
			return nil, 0, fmt.Errorf("store: list runs: resolve node %s: %w", filter.NodeID, err)
		}
		args = append(args, node.OrganizationID, node.CollaborationID)
		where = append(where, fmt.Sprintf("r.organization_id = $%d AND t.collaboration_id = $%d", len(args)-1, len(args)))
	}
	if filter.TaskID != "" {
		args = append(args, filter.TaskID)
		where = append(where, fmt.Sprintf("r.task_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("r.status = $%d", len(args)))
	}
	whereClause := " WHERE " + joinAnd(where)

	var total int
	countQuery := `SELECT count(*) FROM runs r JOIN tasks t ON t.id = r.task_id` + whereClause
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("store: list runs: count: %w", err)
	}

	listQuery := `SELECT r.id, r.task_id, r.organization_id, r.input, r.result, r.log, r.action, r.status,
		r.assigned_at, r.started_at, r.finished_at, r.cleanup_at, r.blob_storage_used, r.created_at
		FROM runs r JOIN tasks t ON t.id = r.task_id` + whereClause + " ORDER BY r.created_at"
	listArgs := append([]any(nil), args...)
	if filter.Limit > 0 {
		listArgs = append(listArgs, filter.Limit)
		listQuery += fmt.Sprintf(" LIMIT $%d", len(listArgs))
	}
	if filter.Offset > 0 {
		listArgs = append(listArgs, filter.Offset)
		listQuery += fmt.Sprintf(" OFFSET $%d", len(listArgs))
	}

	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, listQuery, listArgs...); err != nil {
		return nil, 0, fmt.Errorf("store: list runs: %w", err)
	}
	runs := make([]*types.Run, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, row.toType())
	}
	return runs, total, nil
}

func joinAnd(clauses []string) string {
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += " AND " + c
	}
	return out
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// pqStringArray renders a Go string slice the way pgx expects a text[]
// parameter: as-is, since pgx's stdlib driver already maps []string to
// a Postgres array.
func pqStringArray(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
