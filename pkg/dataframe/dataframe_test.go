package dataframe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vterrors "github.com/vantage6/vantage6-sub004/pkg/errors"
	"github.com/vantage6/vantage6-sub004/pkg/store"
	"github.com/vantage6/vantage6-sub004/pkg/types"
)

// fakeStore is a minimal in-memory store.Store covering only what the
// orchestrator touches; the interface-first design of store.Store is
// exactly what makes this substitution possible.
type fakeStore struct {
	store.Store
	dataframesByID map[string]*types.Dataframe
	dataframesByHandle map[string]*types.Dataframe
	runsByTask map[string][]*types.Run
	deletedSessions []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		dataframesByID: make(map[string]*types.Dataframe),
		dataframesByHandle: make(map[string]*types.Dataframe),
		runsByTask: make(map[string][]*types.Run),
	}
}

func (f *fakeStore) GetDataframeByHandle(_ context.Context, sessionID, handle string) (*types.Dataframe, error) {
	if df, ok := f.dataframesByHandle[sessionID+"/"+handle]; ok {
		return df, nil
	}
	return nil, vterrors.ErrDataframeNotFound
}

func (f *fakeStore) GetDataframe(_ context.Context, id string) (*types.Dataframe, error) {
	if df, ok := f.dataframesByID[id]; ok {
		return df, nil
	}
	return nil, vterrors.ErrDataframeNotFound
}

func (f *fakeStore) CreateDataframe(_ context.Context, df *types.Dataframe) error {
	f.dataframesByID[df.ID] = df
	f.dataframesByHandle[df.SessionID+"/"+df.Handle] = df
	return nil
}

func (f *fakeStore) UpdateDataframe(_ context.Context, df *types.Dataframe) error {
	f.dataframesByID[df.ID] = df
	f.dataframesByHandle[df.SessionID+"/"+df.Handle] = df
	return nil
}

func (f *fakeStore) DeleteDataframe(_ context.Context, id string) error {
	df := f.dataframesByID[id]
	delete(f.dataframesByID, id)
	if df != nil {
		delete(f.dataframesByHandle, df.SessionID+"/"+df.Handle)
	}
	return nil
}

func (f *fakeStore) ListDataframesBySession(_ context.Context, sessionID string) ([]*types.Dataframe, error) {
	var out []*types.Dataframe
	for _, df := range f.dataframesByID {
		if df.SessionID == sessionID {
			out = append(out, df)
		}
	}
	return out, nil
}

func (f *fakeStore) ListRunsByTask(_ context.Context, taskID string) ([]*types.Run, error) {
	return f.runsByTask[taskID], nil
}

func (f *fakeStore) DeleteSession(_ context.Context, id string) error {
	f.deletedSessions = append(f.deletedSessions, id)
	return nil
}

func TestSubmitModifyingTaskCreatesDataframeOnFirstUse(t *testing.T) {
	fs := newFakeStore()
	o := New(fs)

	df, err := o.SubmitModifyingTask(context.Background(), "session-1", "patients", "task-1")
	require.NoError(t, err)
	assert.Equal(t, "patients", df.Handle)
	assert.Equal(t, "task-1", df.LastSessionTaskID)
}

func TestSubmitModifyingTaskRejectsWhilePriorModifierAlive(t *testing.T) {
	fs := newFakeStore()
	o := New(fs)

	_, err := o.SubmitModifyingTask(context.Background(), "session-1", "patients", "task-1")
	require.NoError(t, err)
	fs.runsByTask["task-1"] = []*types.Run{{ID: "run-1", Status: types.RunActive}}

	_, err = o.SubmitModifyingTask(context.Background(), "session-1", "patients", "task-2")
	assert.ErrorIs(t, err, vterrors.ErrSessionModifierConflict)
}

func TestSubmitModifyingTaskSucceedsOncePriorModifierFinished(t *testing.T) {
	fs := newFakeStore()
	o := New(fs)

	_, err := o.SubmitModifyingTask(context.Background(), "session-1", "patients", "task-1")
	require.NoError(t, err)
	fs.runsByTask["task-1"] = []*types.Run{{ID: "run-1", Status: types.RunCompleted}}

	df, err := o.SubmitModifyingTask(context.Background(), "session-1", "patients", "task-2")
	require.NoError(t, err)
	assert.Equal(t, "task-2", df.LastSessionTaskID)
}

func TestIsReadyReflectsRunTerminalStatus(t *testing.T) {
	fs := newFakeStore()
	o := New(fs)

	df, err := o.SubmitModifyingTask(context.Background(), "session-1", "patients", "task-1")
	require.NoError(t, err)

	fs.runsByTask["task-1"] = []*types.Run{{ID: "run-1", Status: types.RunActive}}
	ready, err := o.IsReady(context.Background(), df)
	require.NoError(t, err)
	assert.False(t, ready)

	fs.runsByTask["task-1"] = []*types.Run{{ID: "run-1", Status: types.RunCompleted}}
	ready, err = o.IsReady(context.Background(), df)
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestCheckDependenciesDetectsFailedProducer(t *testing.T) {
	fs := newFakeStore()
	o := New(fs)

	df := &types.Dataframe{ID: "df-1", SessionID: "session-1", Handle: "patients", LastSessionTaskID: "task-1"}
	fs.dataframesByID[df.ID] = df
	fs.runsByTask["task-1"] = []*types.Run{{ID: "run-1", Status: types.RunFailed}}

	status, err := o.CheckDependencies(context.Background(), map[string]*types.Dataframe{df.ID: df})
	require.NoError(t, err)
	assert.Equal(t, DependencyFailed, status)
}

func TestDeleteSessionInvokesCleanupHookPerDataframe(t *testing.T) {
	fs := newFakeStore()
	o := New(fs)

	_, err := o.SubmitModifyingTask(context.Background(), "session-1", "patients", "task-1")
	require.NoError(t, err)

	var cleaned []string
	err = o.DeleteSession(context.Background(), "session-1", func(df *types.Dataframe) error {
		cleaned = append(cleaned, df.Handle)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"patients"}, cleaned)
	assert.Contains(t, fs.deletedSessions, "session-1")
	assert.Empty(t, fs.dataframesByID)
}
