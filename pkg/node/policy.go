package node

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	vterrors "github.com/vantage6/vantage6-sub004/pkg/errors"
	"github.com/vantage6/vantage6-sub004/pkg/types"
)

// enforcePolicy checks a task's image and algorithm-store against the
// node's local allowlists. Per-database sensitivity flags are enforced in
// resolveDatabases, since they depend on the task's declared databases.
func (a *Agent) enforcePolicy(image, algorithmStoreID string) error {
	if len(a.cfg.AllowedAlgorithms) > 0 && !matchesAnyGlob(a.cfg.AllowedAlgorithms, image) {
		return fmt.Errorf("%w: image %s not in allowed_algorithms", vterrors.ErrNotAllowed, image)
	}
	if len(a.cfg.AllowedStores) > 0 && !contains(a.cfg.AllowedStores, algorithmStoreID) {
		return fmt.Errorf("%w: algorithm store %s not in allowed_algorithm_stores", vterrors.ErrNotAllowed, algorithmStoreID)
	}
	return nil
}

func matchesAnyGlob(globs []string, image string) bool {
	for _, g := range globs {
		if ok, _ := filepath.Match(g, image); ok {
			return true
		}
	}
	return false
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// resolveDatabases resolves a task's declared DB-refs to concrete env
// vars and the USER_REQUESTED_DATAFRAMES value. `source` refs map to configured local URIs; `dataframe` refs
// map to this node's session scratch directory. Labels not present in
// DatabaseLabels reject with ErrNotAllowed; dataframe handles with no
// backing file reject with ErrDataframeNotFound.
func (a *Agent) resolveDatabases(task *types.Task) (env map[string]string, userRequestedDataframes string, err error) {
	env = make(map[string]string)
	var slots []string

	for slotIdx, slot := range task.Databases {
		var handles []string
		for _, ref := range slot {
			switch ref.Type {
			case types.DBRefSource:
				uri, ok := a.cfg.DatabaseLabels[ref.Label]
				if !ok {
					return nil, "", fmt.Errorf("%w: database label %q is not configured on this node", vterrors.ErrNotAllowed, ref.Label)
				}
				if a.cfg.DatabaseSensitivity[ref.Label] && !a.taskMayAccessSensitiveDB(task) {
					return nil, "", fmt.Errorf("%w: database label %q is restricted", vterrors.ErrNotAllowed, ref.Label)
				}
				env[fmt.Sprintf("DB_%d_URI", slotIdx)] = uri
			case types.DBRefDataframe:
				mgr, mErr := a.sessionManagerFor(task.SessionID)
				if mErr != nil {
					return nil, "", fmt.Errorf("node: session manager for dataframe resolution: %w", mErr)
				}
				path := mgr.DataframePathForExport(ref.DataframeID)
				if _, statErr := os.Stat(path); statErr != nil {
					return nil, "", fmt.Errorf("%w: %s", vterrors.ErrDataframeNotFound, ref.DataframeID)
				}
				handles = append(handles, ref.DataframeID)
			}
		}
		if len(handles) > 0 {
			slots = append(slots, strings.Join(handles, ","))
		}
	}

	return env, strings.Join(slots, ";"), nil
}

// taskMayAccessSensitiveDB is a policy seam for per-algorithm sensitivity
// overrides; the core node agent has no per-algorithm exception list
// today, so every sensitive database is refused uniformly.
func (a *Agent) taskMayAccessSensitiveDB(_ *types.Task) bool {
	return false
}
