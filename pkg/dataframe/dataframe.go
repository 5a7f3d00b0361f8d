// Package dataframe implements the session/dataframe orchestrator (C6):
// it serializes session-modifying tasks against the same dataframe
// handle, tracks dataframe readiness, and resolves dataframe references
// for compute tasks.
package dataframe

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	vterrors "github.com/vantage6/vantage6-sub004/pkg/errors"
	"github.com/vantage6/vantage6-sub004/pkg/log"
	"github.com/vantage6/vantage6-sub004/pkg/store"
	"github.com/vantage6/vantage6-sub004/pkg/types"
)

// Orchestrator gates submission of session-modifying tasks and resolves
// dataframe references for compute tasks.
type Orchestrator struct {
	store store.Store
}

// New constructs an Orchestrator over the coordinator's Store.
func New(s store.Store) *Orchestrator {
	return &Orchestrator{store: s}
}

// SubmitModifyingTask admits a data_extraction/preprocessing task against
// dataframeHandle within sessionID. It creates the Dataframe row on first
// use, or rejects the submission if a prior modifier on the same handle is
// still alive — modifiers on the same dataframe must execute strictly
// sequentially.
func (o *Orchestrator) SubmitModifyingTask(ctx context.Context, sessionID, dataframeHandle, taskID string) (*types.Dataframe, error) {
	df, err := o.store.GetDataframeByHandle(ctx, sessionID, dataframeHandle)
	if err != nil {
		df = &types.Dataframe{
			ID: uuid.NewString(),
			Handle: dataframeHandle,
			SessionID: sessionID,
			LastSessionTaskID: taskID,
		}
		if err := o.store.CreateDataframe(ctx, df); err != nil {
			return nil, fmt.Errorf("dataframe: create %s: %w", dataframeHandle, err)
		}
		return df, nil
	}

	alive, err := o.hasAliveModifier(ctx, df)
	if err != nil {
		return nil, err
	}
	if alive {
		return nil, vterrors.ErrSessionModifierConflict
	}

	df.LastSessionTaskID = taskID
	if err := o.store.UpdateDataframe(ctx, df); err != nil {
		return nil, fmt.Errorf("dataframe: update %s: %w", dataframeHandle, err)
	}
	return df, nil
}

// hasAliveModifier reports whether df.LastSessionTaskID has at least one
// Run that has not reached a finished status.
func (o *Orchestrator) hasAliveModifier(ctx context.Context, df *types.Dataframe) (bool, error) {
	if df.LastSessionTaskID == "" {
		return false, nil
	}
	runs, err := o.store.ListRunsByTask(ctx, df.LastSessionTaskID)
	if err != nil {
		return false, fmt.Errorf("dataframe: list runs of last modifier: %w", err)
	}
	for _, r := range runs {
		if r.Status.IsAlive() {
			return true, nil
		}
	}
	return false, nil
}

// IsReady reports whether df is ready to be read by a compute task, per
// types.DataframeReady: its last session task exists and every one of its
// runs has a finished status.
func (o *Orchestrator) IsReady(ctx context.Context, df *types.Dataframe) (bool, error) {
	if df.LastSessionTaskID == "" {
		return false, nil
	}
	runs, err := o.store.ListRunsByTask(ctx, df.LastSessionTaskID)
	if err != nil {
		return false, fmt.Errorf("dataframe: list runs for readiness check: %w", err)
	}
	return types.DataframeReady(df, runs), nil
}

// ResolveComputeRefs resolves each dataframe DBRef in refs to its
// Dataframe row, looked up by the ref's DataframeID alone (sessionID is
// not consulted). A ref whose DataframeID has no row returns
// vterrors.ErrDataframeNotFound; the caller decides whether that
// rejects the task outright or only the runs that try to read it.
func (o *Orchestrator) ResolveComputeRefs(ctx context.Context, sessionID string, refs []types.DBRef) (map[string]*types.Dataframe, error) {
	resolved := make(map[string]*types.Dataframe, len(refs))
	for _, ref := range refs {
		if ref.Type != types.DBRefDataframe {
			continue
		}
		if _, ok := resolved[ref.DataframeID]; ok {
			continue
		}
		df, err := o.store.GetDataframe(ctx, ref.DataframeID)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", vterrors.ErrDataframeNotFound, ref.DataframeID)
		}
		resolved[ref.DataframeID] = df
	}
	return resolved, nil
}

// DependencyStatus is the outcome of checking a compute run's referenced
// dataframes against the state of their producing tasks.
type DependencyStatus int

const (
	// DependencyPending means at least one referenced dataframe's last
	// modifier has not yet reached a terminal state.
	DependencyPending DependencyStatus = iota
	// DependencySatisfied means every referenced dataframe is ready.
	DependencySatisfied
	// DependencyFailed means at least one referenced dataframe's last
	// modifier failed outright.
	DependencyFailed
)

// CheckDependencies evaluates the readiness of every dataframe a compute
// task references, used both at dispatch time and by the run-failure path
// that marks pending runs "depended on failed task" once their producing
// chain fails.
func (o *Orchestrator) CheckDependencies(ctx context.Context, dfs map[string]*types.Dataframe) (DependencyStatus, error) {
	anyPending := false
	for _, df := range dfs {
		runs, err := o.store.ListRunsByTask(ctx, df.LastSessionTaskID)
		if err != nil {
			return DependencyPending, fmt.Errorf("dataframe: check dependency for %s: %w", df.Handle, err)
		}
		for _, r := range runs {
			switch {
			case r.Status.IsAlive():
				anyPending = true
			case r.Status.IsFailed():
				return DependencyFailed, nil
			}
		}
	}
	if anyPending {
		return DependencyPending, nil
	}
	return DependencySatisfied, nil
}

// DeleteSession hard-deletes sessionID's dataframes and tasks, then the
// session itself. Deleting a Dataframe must also
// instruct every node that hosts it to remove the underlying Parquet
// file; onCleanup is invoked once per dataframe so the caller can emit
// that event or enqueue a session task with action=delete.
func (o *Orchestrator) DeleteSession(ctx context.Context, sessionID string, onCleanup func(df *types.Dataframe) error) error {
	dfs, err := o.store.ListDataframesBySession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("dataframe: list dataframes for session delete: %w", err)
	}

	for _, df := range dfs {
		if onCleanup != nil {
			if err := onCleanup(df); err != nil {
				log.WithComponent("dataframe").Error().Err(err).Str("dataframe_id", df.ID).Msg("dataframe cleanup hook failed")
			}
		}
		if err := o.store.DeleteDataframe(ctx, df.ID); err != nil {
			return fmt.Errorf("dataframe: delete dataframe %s: %w", df.ID, err)
		}
	}

	if err := o.store.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("dataframe: delete session %s: %w", sessionID, err)
	}
	return nil
}
