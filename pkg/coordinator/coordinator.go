package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vantage6/vantage6-sub004/pkg/auth"
	"github.com/vantage6/vantage6-sub004/pkg/crypto"
	"github.com/vantage6/vantage6-sub004/pkg/dataframe"
	vterrors "github.com/vantage6/vantage6-sub004/pkg/errors"
	"github.com/vantage6/vantage6-sub004/pkg/log"
	"github.com/vantage6/vantage6-sub004/pkg/socket"
	"github.com/vantage6/vantage6-sub004/pkg/store"
	"github.com/vantage6/vantage6-sub004/pkg/types"
)

// Config holds the coordinator's tunables that aren't a matter of
// correctness, only of policy: how long finished run payloads are kept,
// and how often the cleanup job sweeps for expired ones.
type Config struct {
	// RunsDataCleanupDays is how long a completed Run's result/input is
	// kept after finished_at before the cleanup job scrubs it.
	RunsDataCleanupDays int
	// CleanupInterval is how often the background job runs. Defaults to
	// one hour if zero.
	CleanupInterval time.Duration
	// CleanupDeleteInput also scrubs Run.Input, not just Run.Result, on
	// cleanup. The default cleanup only clears Result; deployments that
	// also want the caller's plaintext-adjacent ciphertext gone opt in
	// here.
	CleanupDeleteInput bool
	// ContainerTokenTTL bounds how long a minted container token is
	// valid; it should outlive the longest expected algorithm run.
	ContainerTokenTTL time.Duration
}

func (c Config) cleanupInterval() time.Duration {
	if c.CleanupInterval <= 0 {
		return time.Hour
	}
	return c.CleanupInterval
}

func (c Config) containerTokenTTL() time.Duration {
	if c.ContainerTokenTTL <= 0 {
		return 24 * time.Hour
	}
	return c.ContainerTokenTTL
}

// BlobStore deletes a previously off-loaded large result blob: when a
// cleaned-up Run has BlobStorageUsed set, the cleanup job also deletes the
// remote blob via the configured adapter. No component currently
// off-loads a Run's result to blob storage at write time, so this
// interface exists for the cleanup job's sake and a deployment without a
// blob backend can wire NoopBlobStore.
type BlobStore interface {
	DeleteBlob(ctx context.Context, blobID string) error
}

// NoopBlobStore is the default BlobStore: it logs and does nothing,
// matching installations where every Run's result fits inline in the
// database.
type NoopBlobStore struct{}

func (NoopBlobStore) DeleteBlob(_ context.Context, blobID string) error {
	log.WithComponent("coordinator").Debug().Str("blob_id", blobID).Msg("no blob store configured, skipping remote delete")
	return nil
}

// Coordinator is the task state machine (C5): it validates and
// materializes task submissions, gates container-token issuance, accepts
// run status patches from nodes, and periodically scrubs finished runs'
// payloads. Every call re-derives its decision from Store; Coordinator
// itself carries no authoritative state.
type Coordinator struct {
	store store.Store
	hub *socket.Hub
	minter *auth.Minter
	dataframes *dataframe.Orchestrator
	policy AlgorithmStorePolicy
	blobs BlobStore
	cfg Config

	stopCh chan struct{}
	wg sync.WaitGroup
}

// New constructs a Coordinator. policy and blobs may be nil, in which
// case AllowAllPolicy and NoopBlobStore are used.
func New(s store.Store, hub *socket.Hub, minter *auth.Minter, dfs *dataframe.Orchestrator, policy AlgorithmStorePolicy, blobs BlobStore, cfg Config) *Coordinator {
	if policy == nil {
		policy = AllowAllPolicy{}
	}
	if blobs == nil {
		blobs = NoopBlobStore{}
	}
	return &Coordinator{
		store: s,
		hub: hub,
		minter: minter,
		dataframes: dfs,
		policy: policy,
		blobs: blobs,
		cfg: cfg,
		stopCh: make(chan struct{}),
	}
}

// SubmitTaskRequest is the validated form of a POST /task body: the
// task's shared definition, its target organizations each with their own
// encrypted input, and the organization on whose behalf the caller is
// acting (used for the scope check in validateSubmission).
type SubmitTaskRequest struct {
	Task *types.Task
	Organizations []types.OrgInput
	DataframeHandle string // required when Task.Action.IsSessionModifying()
	RequestingOrgID string
}

// SubmitTask validates req, allocates the task's id and job_id, fans it
// out to one pending Run per target organization, and dispatches a
// new_task event to the collaboration.
func (c *Coordinator) SubmitTask(ctx context.Context, req SubmitTaskRequest) (*types.Task, error) {
	collab, err := c.validateSubmission(ctx, req)
	if err != nil {
		return nil, err
	}

	task := req.Task
	task.ID = uuid.NewString()
	task.CreatedAt = time.Now()

	jobID, err := c.store.NextJobID(ctx)
	if err != nil {
		return nil, fmt.Errorf("coordinator: allocate job id: %w", err)
	}
	task.JobID = jobID

	if task.Action.IsSessionModifying() {
		df, err := c.dataframes.SubmitModifyingTask(ctx, task.SessionID, req.DataframeHandle, task.ID)
		if err != nil {
			return nil, err
		}
		task.DataframeID = df.ID
	} else if task.SessionID != "" {
		if _, err := c.dataframes.ResolveComputeRefs(ctx, task.SessionID, flattenDBRefs(task.Databases)); err != nil {
			return nil, err
		}
	}

	if err := c.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("coordinator: create task: %w", err)
	}

	for _, org := range req.Organizations {
		if collab.Encrypted != crypto.LooksFramed(org.Input) {
			return nil, fmt.Errorf("%w: organization %s", vterrors.ErrMixedEncryptionMode, org.OrganizationID)
		}
		run := &types.Run{
			ID: uuid.NewString(),
			TaskID: task.ID,
			OrganizationID: org.OrganizationID,
			Input: org.Input,
			Action: task.Action,
			Status: types.RunPending,
			AssignedAt: time.Now(),
			CreatedAt: time.Now(),
		}
		if err := c.store.CreateRun(ctx, run); err != nil {
			return nil, fmt.Errorf("coordinator: create run for organization %s: %w", org.OrganizationID, err)
		}
	}

	c.hub.Broadcast(socket.CollaborationRoom(task.CollaborationID), socket.EventNewTask, socket.NewTaskPayload{TaskID: task.ID})

	return task, nil
}

// validateSubmission checks scope, algorithm-store policy, and
// same-image session restriction, and returns the task's collaboration
// for the caller to reuse (e.g. its Encrypted flag).
func (c *Coordinator) validateSubmission(ctx context.Context, req SubmitTaskRequest) (*types.Collaboration, error) {
	task := req.Task
	collab, err := c.store.GetCollaboration(ctx, task.CollaborationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", vterrors.ErrCollaborationNotFound, task.CollaborationID)
	}

	scope := collab.OrganizationIDs
	if task.StudyID != "" {
		study, err := c.store.GetStudy(ctx, task.StudyID)
		if err != nil {
			return nil, fmt.Errorf("coordinator: get study %s: %w", task.StudyID, err)
		}
		scope = study.OrganizationIDs
	}

	if !containsStr(scope, req.RequestingOrgID) {
		return nil, fmt.Errorf("%w: requesting organization %s has no task:create permission here", vterrors.ErrOrganizationNotInScope, req.RequestingOrgID)
	}
	for _, org := range req.Organizations {
		if !containsStr(scope, org.OrganizationID) {
			return nil, fmt.Errorf("%w: %s", vterrors.ErrOrganizationNotInScope, org.OrganizationID)
		}
	}

	allowed, err := c.policy.ImageAllowed(ctx, task.AlgorithmStoreID, task.Image)
	if err != nil {
		return nil, fmt.Errorf("coordinator: check algorithm store policy: %w", err)
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s", vterrors.ErrImageNotAllowedByStore, task.Image)
	}

	argc, err := c.policy.ArgumentCount(ctx, task.AlgorithmStoreID, task.Image)
	if err != nil {
		return nil, fmt.Errorf("coordinator: check algorithm argument count: %w", err)
	}
	if argc >= 0 && len(task.Databases) != argc {
		return nil, fmt.Errorf("%w: algorithm declares %d, task has %d", vterrors.ErrDatabaseArgumentMismatch, argc, len(task.Databases))
	}

	if collab.SessionRestrictToSameImage && task.SessionID != "" {
		siblings, err := c.store.ListTasksBySession(ctx, task.SessionID)
		if err != nil {
			return nil, fmt.Errorf("coordinator: list tasks for session %s: %w", task.SessionID, err)
		}
		for _, sibling := range siblings {
			if sibling.Image != task.Image {
				return nil, fmt.Errorf("%w: session %s is restricted to image %s", vterrors.ErrImageMismatch, task.SessionID, sibling.Image)
			}
		}
	}

	return collab, nil
}

// ContainerTokenRequest is what a central-compute container's callback
// claims when asking for a token to create its own child task.
type ContainerTokenRequest struct {
	NodeID string
	OrganizationID string
	CollaborationID string
	ClaimedTaskID string
	ClaimedImage string
}

// RequestContainerToken verifies the child-task gating rules and mints a
// container-scoped JWT on success.
func (c *Coordinator) RequestContainerToken(ctx context.Context, req ContainerTokenRequest) (string, error) {
	task, err := c.store.GetTask(ctx, req.ClaimedTaskID)
	if err != nil {
		return "", fmt.Errorf("coordinator: get claimed task %s: %w", req.ClaimedTaskID, err)
	}

	if task.CollaborationID != req.CollaborationID {
		return "", fmt.Errorf("%w: node %s collaboration %s, task collaboration %s", vterrors.ErrNodeNotInCollaboration, req.NodeID, req.CollaborationID, task.CollaborationID)
	}
	if task.Action != types.ActionCentralCompute {
		return "", fmt.Errorf("%w: task %s is a %s task", vterrors.ErrNotCentralCompute, task.ID, task.Action)
	}

	collab, err := c.store.GetCollaboration(ctx, task.CollaborationID)
	if err != nil {
		return "", fmt.Errorf("coordinator: get collaboration %s: %w", task.CollaborationID, err)
	}
	if collab.SessionRestrictToSameImage && req.ClaimedImage != task.Image {
		return "", fmt.Errorf("%w: claimed %s, task image %s", vterrors.ErrImageMismatch, req.ClaimedImage, task.Image)
	}

	runs, err := c.store.ListRunsByTask(ctx, task.ID)
	if err != nil {
		return "", fmt.Errorf("coordinator: list runs for task %s: %w", task.ID, err)
	}
	if taskStatus := types.DeriveTaskStatus(runs); taskStatus == types.TaskCompleted || taskStatus == types.TaskFailed {
		return "", fmt.Errorf("%w: %s", vterrors.ErrTaskFinished, task.ID)
	}

	token, err := c.minter.MintContainerToken(auth.ContainerTokenParams{
		NodeID: req.NodeID,
		OrganizationID: req.OrganizationID,
		CollaborationID: task.CollaborationID,
		StudyID: task.StudyID,
		StoreID: task.AlgorithmStoreID,
		SessionID: task.SessionID,
		TaskID: task.ID,
		Image: req.ClaimedImage,
		Databases: groupDatabasesByPosition(task.Databases),
	}, c.cfg.containerTokenTTL())
	if err != nil {
		return "", fmt.Errorf("coordinator: mint container token: %w", err)
	}
	return token, nil
}

// RunPatch is the subset of a Run a node may set via PATCH /run/<id>,
// mirroring client.RunPatch's wire shape on the coordinator side of the
// same contract.
type RunPatch struct {
	Status *types.RunStatus
	StartedAt *time.Time
	FinishedAt *time.Time
	Log *string
	Result *string
	BlobStorageUsed *bool
}

// PatchRun applies a node's RunPatch to its own run: only the run's
// owning node, in its own collaboration, may update it. The server never
// re-encrypts result or log; it persists exactly what the node sends.
func (c *Coordinator) PatchRun(ctx context.Context, runID, requestingNodeID string, patch RunPatch) (*types.Run, error) {
	run, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("coordinator: get run %s: %w", runID, err)
	}

	node, err := c.store.GetNode(ctx, requestingNodeID)
	if err != nil {
		return nil, fmt.Errorf("coordinator: get node %s: %w", requestingNodeID, err)
	}
	if node.OrganizationID != run.OrganizationID {
		return nil, fmt.Errorf("%w: node %s does not own run %s", vterrors.ErrNotAllowed, requestingNodeID, runID)
	}

	if patch.Status != nil {
		if run.Status.IsFinished() {
			return nil, fmt.Errorf("%w: run %s is already %s", vterrors.ErrRunFinished, runID, run.Status)
		}
		run.Status = *patch.Status
	}
	if patch.StartedAt != nil {
		run.StartedAt = *patch.StartedAt
	}
	if patch.FinishedAt != nil {
		run.FinishedAt = *patch.FinishedAt
	}
	if patch.Log != nil {
		run.Log = *patch.Log
	}
	if patch.Result != nil {
		run.Result = *patch.Result
	}
	if patch.BlobStorageUsed != nil {
		run.BlobStorageUsed = *patch.BlobStorageUsed
	}

	if err := c.store.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("coordinator: update run %s: %w", runID, err)
	}

	task, err := c.store.GetTask(ctx, run.TaskID)
	if err == nil {
		c.hub.Broadcast(socket.CollaborationRoom(task.CollaborationID), socket.EventAlgorithmStatusChange, socket.AlgorithmStatusChangePayload{
			RunID: run.ID,
			TaskID: run.TaskID,
			CollaborationID: task.CollaborationID,
			NodeID: requestingNodeID,
			OrganizationID: run.OrganizationID,
			Status: string(run.Status),
			ParentID: task.ParentTaskID,
		})
	}

	return run, nil
}

func flattenDBRefs(databases [][]types.DBRef) []types.DBRef {
	var refs []types.DBRef
	for _, slot := range databases {
		refs = append(refs, slot...)
	}
	return refs
}

// groupDatabasesByPosition turns a task's declared databases into the
// container-token claim shape: one list of labels per slot, source refs only (a
// container token only ever needs to know which raw databases it may
// open; dataframe refs resolve through the proxy instead).
func groupDatabasesByPosition(databases [][]types.DBRef) [][]string {
	grouped := make([][]string, len(databases))
	for i, slot := range databases {
		var labels []string
		for _, ref := range slot {
			if ref.Type == types.DBRefSource {
				labels = append(labels, ref.Label)
			}
		}
		grouped[i] = labels
	}
	return grouped
}

func containsStr(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
