package node

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vantage6/vantage6-sub004/pkg/runtime"
	"github.com/vantage6/vantage6-sub004/pkg/types"
)

// scratchDirFor creates (or reuses) the task-<task_id>-scoped scratch
// subdirectory a container's input/output/token files live in.
func (a *Agent) scratchDirFor(task *types.Task) (string, error) {
	dir := filepath.Join(a.cfg.SessionDataRoot, "runs", "task-"+task.ID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("node: create scratch dir %s: %w", dir, err)
	}
	return dir, nil
}

// writeRunFiles writes the three files the container expects mounted at
// /app/input.txt, /app/output.txt, /app/token.txt.
func writeRunFiles(scratchDir string, plaintextInput []byte, token string) error {
	if err := os.WriteFile(filepath.Join(scratchDir, "input.txt"), plaintextInput, 0o640); err != nil {
		return fmt.Errorf("node: write input.txt: %w", err)
	}
	if err := os.WriteFile(filepath.Join(scratchDir, "output.txt"), nil, 0o640); err != nil {
		return fmt.Errorf("node: write output.txt: %w", err)
	}
	if err := os.WriteFile(filepath.Join(scratchDir, "token.txt"), []byte(token), 0o600); err != nil {
		return fmt.Errorf("node: write token.txt: %w", err)
	}
	return nil
}

// runFileMounts binds writeRunFiles' three scratch-dir files into the
// container at the paths its env vars (INPUT_FILE, OUTPUT_FILE, TOKEN_FILE)
// point at. output.txt is writable so the algorithm can populate it;
// input.txt and token.txt are read-only.
func runFileMounts(scratchDir string) []runtime.Mount {
	return []runtime.Mount{
		{HostPath: filepath.Join(scratchDir, "input.txt"), ContainerPath: "/app/input.txt", ReadOnly: true},
		{HostPath: filepath.Join(scratchDir, "output.txt"), ContainerPath: "/app/output.txt", ReadOnly: false},
		{HostPath: filepath.Join(scratchDir, "token.txt"), ContainerPath: "/app/token.txt", ReadOnly: true},
	}
}

// buildRunEnv assembles the container's base env-var set. Database
// source/dataframe URIs are merged in by the caller (resolveDatabases'
// return value), since they depend on per-slot resolution this function
// doesn't need to know about.
func (a *Agent) buildRunEnv(task *types.Task, run *types.Run, token, userRequestedDataframes string) map[string]string {
	return map[string]string{
		"TASK_ID": task.ID,
		"RUN_ID": run.ID,
		"HOST": "127.0.0.1",
		"PORT": a.cfg.ProxyListenAddr,
		"API_PATH": "/",
		"TOKEN_FILE": "/app/token.txt",
		"INPUT_FILE": "/app/input.txt",
		"OUTPUT_FILE": "/app/output.txt",
		"SESSION_FOLDER": "/mnt/sessions/session" + task.SessionID,
		"USER_REQUESTED_DATAFRAMES": userRequestedDataframes,
		"ACTION": string(task.Action),
		"PKG_NAME": task.Image,
	}
}
