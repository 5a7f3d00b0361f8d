package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vantage6/vantage6-sub004/pkg/client"
	vterrors "github.com/vantage6/vantage6-sub004/pkg/errors"
	"github.com/vantage6/vantage6-sub004/pkg/log"
	"github.com/vantage6/vantage6-sub004/pkg/runtime"
	"github.com/vantage6/vantage6-sub004/pkg/types"
)

// workerLoop dequeues runs from the agent's bounded queue and executes
// them one at a time, replacing a fixed-interval poll with a channel-fed
// pool so a burst of new_task events applies real backpressure instead
// of accumulating unboundedly.
func (a *Agent) workerLoop(ctx context.Context) {
	defer a.wg.Done()
	logger := log.WithComponent("node-worker")

	for {
		select {
		case run, ok := <-a.queue:
			if !ok {
				return
			}
			if err := a.executeRun(ctx, run); err != nil {
				logger.Error().Err(err).Str("run_id", run.ID).Msg("run execution failed")
			}
		case <-a.stopCh:
			return
		}
	}
}

// executeRun drives one run through per-run pipeline:
// request a container token, decrypt input, resolve databases, launch,
// wait, persist the dataframe or encrypt the result, and report status.
func (a *Agent) executeRun(ctx context.Context, run *types.Run) error {
	logger := log.WithRunID(run.ID)

	task, err := a.coordinator.GetTask(ctx, run.TaskID)
	if err != nil {
		return fmt.Errorf("node: fetch task %s: %w", run.TaskID, err)
	}

	if err := a.enforcePolicy(task.Image, task.AlgorithmStoreID); err != nil {
		a.reportTerminal(ctx, run, runStatusForPolicyError(err), "", err.Error())
		return nil
	}

	token, err := a.coordinator.RequestContainerToken(ctx, client.ContainerTokenRequest{TaskID: task.ID, Image: task.Image})
	if err != nil {
		return fmt.Errorf("node: request container token: %w", err)
	}

	plaintextInput, err := a.cryptor.Decrypt(run.Input)
	if err != nil {
		a.reportTerminal(ctx, run, types.RunUnknownError, "", "failed to decrypt input")
		return fmt.Errorf("node: decrypt run input: %w", err)
	}

	dbEnv, userRequestedDataframes, err := a.resolveDatabases(task)
	if err != nil {
		status := types.RunNotAllowed
		if errors.Is(err, vterrors.ErrDataframeNotFound) {
			status = types.RunDataframeNotFound
		}
		a.reportTerminal(ctx, run, status, "", err.Error())
		return nil
	}

	startedAt := time.Now()
	status := types.RunInitializing
	if err := a.coordinator.PatchRun(ctx, run.ID, client.RunPatch{Status: &status, StartedAt: &startedAt}); err != nil {
		logger.Warn().Err(err).Msg("failed to report initializing status")
	}

	scratch, err := a.scratchDirFor(task)
	if err != nil {
		return fmt.Errorf("node: prepare scratch dir: %w", err)
	}
	if err := writeRunFiles(scratch, plaintextInput, token); err != nil {
		return fmt.Errorf("node: write run files: %w", err)
	}

	env := a.buildRunEnv(task, run, token, userRequestedDataframes)
	for k, v := range dbEnv {
		env[k] = v
	}

	activeStatus := types.RunActive
	if err := a.coordinator.PatchRun(ctx, run.ID, client.RunPatch{Status: &activeStatus}); err != nil {
		logger.Warn().Err(err).Msg("failed to report active status")
	}

	handle, err := a.runtime.Launch(ctx, runtime.JobSpec{
		Image: task.Image,
		Env: env,
		ScratchDir: scratch,
		Mounts: runFileMounts(scratch),
		RunID: run.ID,
		TaskID: task.ID,
		Network: runtime.NetworkSpec{Isolated: true, AllowEgress: false},
	})
	if err != nil {
		status := types.RunStartFailed
		if errors.Is(err, vterrors.ErrImageUnresolvable) {
			status = types.RunNonExistingDockerImage
		}
		a.reportTerminal(ctx, run, status, "", err.Error())
		return nil
	}

	a.trackHandle(run.ID, task.ID, handle)
	defer a.untrackHandle(run.ID)

	result, err := handle.Wait(ctx)
	if err != nil {
		return fmt.Errorf("node: wait for run %s: %w", run.ID, err)
	}

	return a.finishRun(ctx, run, task, scratch, result)
}

// finishRun persists a data_extraction/preprocessing output as a
// dataframe or encrypts a compute result, then PATCHes the run's
// terminal state.
func (a *Agent) finishRun(ctx context.Context, run *types.Run, task *types.Task, scratch string, result runtime.Result) error {
	runStatus := mapRuntimeStatus(result.Status)

	if len(result.OutputData) == 0 && runStatus == types.RunCompleted {
		runStatus = types.RunUnexpectedOutput
	}

	if task.Action.IsSessionModifying() && runStatus == types.RunCompleted {
		mgr, err := a.sessionManagerFor(task.SessionID)
		if err != nil {
			return fmt.Errorf("node: session manager for %s: %w", task.SessionID, err)
		}
		if err := mgr.WriteDataframe(task.ID, result.OutputData); err != nil {
			a.reportTerminal(ctx, run, types.RunUnexpectedOutput, result.LogsUTF8, "failed to persist dataframe")
			return fmt.Errorf("node: write dataframe: %w", err)
		}
	}

	var encryptedResult string
	if len(result.OutputData) > 0 {
		peerKey, err := a.cachedOrganizationPublicKey(ctx, task.InitOrgID)
		if err != nil {
			return fmt.Errorf("node: fetch initiating org public key: %w", err)
		}
		encryptedResult, err = a.cryptor.EncryptFor(result.OutputData, peerKey)
		if err != nil {
			return fmt.Errorf("node: encrypt result: %w", err)
		}
	}

	a.reportTerminal(ctx, run, runStatus, result.LogsUTF8, encryptedResult)
	return nil
}

// reportTerminal PATCHes a run's final status, log, and (possibly empty)
// result in one call.
func (a *Agent) reportTerminal(ctx context.Context, run *types.Run, status types.RunStatus, logsUTF8, result string) {
	finishedAt := time.Now()
	patch := client.RunPatch{Status: &status, FinishedAt: &finishedAt}
	if logsUTF8 != "" {
		patch.Log = &logsUTF8
	}
	if result != "" {
		patch.Result = &result
	}
	if err := a.coordinator.PatchRun(ctx, run.ID, patch); err != nil {
		log.WithRunID(run.ID).Error().Err(err).Msg("failed to report terminal run status")
	}
}

// mapRuntimeStatus translates a runtime.Status into the corresponding
// types.RunStatus.
func mapRuntimeStatus(s runtime.Status) types.RunStatus {
	switch s {
	case runtime.StatusCompleted:
		return types.RunCompleted
	case runtime.StatusFailed:
		return types.RunFailed
	case runtime.StatusCrashed:
		return types.RunCrashed
	case runtime.StatusStartFailed:
		return types.RunStartFailed
	case runtime.StatusNoSuchImage:
		return types.RunNonExistingDockerImage
	case runtime.StatusKilled:
		return types.RunKilledByUser
	default:
		return types.RunUnknownError
	}
}

func runStatusForPolicyError(err error) types.RunStatus {
	if errors.Is(err, vterrors.ErrNotAllowed) {
		return types.RunNotAllowed
	}
	return types.RunUnknownError
}
