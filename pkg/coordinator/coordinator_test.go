package coordinator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vterrors "github.com/vantage6/vantage6-sub004/pkg/errors"
	"github.com/vantage6/vantage6-sub004/pkg/socket"
	"github.com/vantage6/vantage6-sub004/pkg/store"
	"github.com/vantage6/vantage6-sub004/pkg/types"
)

// fakeStore is a minimal in-memory store.Store covering only what
// Coordinator.PatchRun touches.
type fakeStore struct {
	store.Store
	runs map[string]*types.Run
	nodes map[string]*types.Node
	tasks map[string]*types.Task
	updated []*types.Run
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		runs: make(map[string]*types.Run),
		nodes: make(map[string]*types.Node),
		tasks: make(map[string]*types.Task),
	}
}

func (f *fakeStore) GetRun(_ context.Context, id string) (*types.Run, error) {
	if run, ok := f.runs[id]; ok {
		return run, nil
	}
	return nil, vterrors.ErrDataframeNotFound
}

func (f *fakeStore) GetNode(_ context.Context, id string) (*types.Node, error) {
	if node, ok := f.nodes[id]; ok {
		return node, nil
	}
	return nil, vterrors.ErrDataframeNotFound
}

func (f *fakeStore) GetTask(_ context.Context, id string) (*types.Task, error) {
	if task, ok := f.tasks[id]; ok {
		return task, nil
	}
	return nil, vterrors.ErrDataframeNotFound
}

func (f *fakeStore) UpdateRun(_ context.Context, run *types.Run) error {
	f.runs[run.ID] = run
	f.updated = append(f.updated, run)
	return nil
}

func newTestCoordinator(fs *fakeStore) *Coordinator {
	return New(fs, socket.NewHub(), nil, nil, nil, nil, Config{})
}

func TestPatchRunAppliesStatusTransitionOnAliveRun(t *testing.T) {
	fs := newFakeStore()
	fs.runs["run-1"] = &types.Run{ID: "run-1", TaskID: "task-1", OrganizationID: "org-1", Status: types.RunActive}
	fs.nodes["node-1"] = &types.Node{ID: "node-1", OrganizationID: "org-1"}
	fs.tasks["task-1"] = &types.Task{ID: "task-1", CollaborationID: "collab-1"}
	c := newTestCoordinator(fs)

	completed := types.RunCompleted
	result := "ciphertext"
	run, err := c.PatchRun(context.Background(), "run-1", "node-1", RunPatch{Status: &completed, Result: &result})
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, run.Status)
	assert.Equal(t, "ciphertext", run.Result)
	require.Len(t, fs.updated, 1)
	assert.Equal(t, types.RunCompleted, fs.updated[0].Status)
}

func TestPatchRunRejectsStatusChangeOnAlreadyFinishedRun(t *testing.T) {
	fs := newFakeStore()
	fs.runs["run-1"] = &types.Run{ID: "run-1", TaskID: "task-1", OrganizationID: "org-1", Status: types.RunCompleted, Result: "original"}
	fs.nodes["node-1"] = &types.Node{ID: "node-1", OrganizationID: "org-1"}
	c := newTestCoordinator(fs)

	active := types.RunActive
	_, err := c.PatchRun(context.Background(), "run-1", "node-1", RunPatch{Status: &active})
	require.ErrorIs(t, err, vterrors.ErrRunFinished)
	assert.Empty(t, fs.updated, "a rejected patch must not reach the store")
	assert.Equal(t, types.RunCompleted, fs.runs["run-1"].Status, "the stored run must be untouched")
}

func TestPatchRunRejectsNodeThatDoesNotOwnRun(t *testing.T) {
	fs := newFakeStore()
	fs.runs["run-1"] = &types.Run{ID: "run-1", TaskID: "task-1", OrganizationID: "org-1", Status: types.RunActive}
	fs.nodes["node-2"] = &types.Node{ID: "node-2", OrganizationID: "org-2"}
	c := newTestCoordinator(fs)

	completed := types.RunCompleted
	_, err := c.PatchRun(context.Background(), "run-1", "node-2", RunPatch{Status: &completed})
	require.ErrorIs(t, err, vterrors.ErrNotAllowed)
	assert.Empty(t, fs.updated)
}
