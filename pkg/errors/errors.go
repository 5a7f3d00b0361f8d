// Package errors holds the sentinel errors for the coordinator and node
// agent's error taxonomy. Callers compare with errors.Is; the node agent
// and the coordinator translate these into RunStatus values or HTTP
// status codes at their respective boundaries.
package errors

import "errors"

var (
	// ErrNotAllowed is returned when a node's policy refuses to run an
	// algorithm or access a database for it.
	ErrNotAllowed = errors.New("not allowed")

	// ErrDataframeNotFound is returned when a task references a
	// dataframe handle that does not exist in the session.
	ErrDataframeNotFound = errors.New("dataframe not found")

	// ErrImageUnresolvable is returned when a container image cannot be
	// pulled or resolved by the runtime.
	ErrImageUnresolvable = errors.New("non-existing docker image")

	// ErrDependedOnFailedTask is returned when a compute task depends on
	// a dataframe whose producing task failed.
	ErrDependedOnFailedTask = errors.New("depended on failed task")

	// ErrUnexpectedOutput is returned when a container exits
	// successfully but its declared output file is missing or malformed.
	ErrUnexpectedOutput = errors.New("unexpected output")

	// ErrBadPeerKey is returned by the cryptor when a peer's public key
	// cannot be parsed.
	ErrBadPeerKey = errors.New("bad peer key")

	// ErrKeyMismatch names the case where the coordinator's cached public
	// key does not match the node's own. Boot does not return it; it
	// re-uploads the node's key instead.
	ErrKeyMismatch = errors.New("node public key out of sync with coordinator")

	// ErrNotCentralCompute is returned by the coordinator when a
	// container token is requested for a task that is not a central
	// compute task.
	ErrNotCentralCompute = errors.New("task is not a central compute task")

	// ErrTaskFinished is returned when a container token is requested
	// for a task that has already finished.
	ErrTaskFinished = errors.New("task is already finished")

	// ErrNodeNotInCollaboration is returned when a node that does not
	// belong to a task's collaboration requests a container token for
	// it.
	ErrNodeNotInCollaboration = errors.New("node does not belong to task's collaboration")

	// ErrImageMismatch is returned when a collaboration restricts child
	// tasks to the parent's image and the claimed image differs.
	ErrImageMismatch = errors.New("image does not match collaboration's restrict-to-same-image policy")

	// ErrLockTimeout is returned by the DatabaseLock when acquisition
	// does not succeed within the caller's timeout.
	ErrLockTimeout = errors.New("lock acquisition timed out")

	// ErrSessionModifierConflict is returned when a session-modifying
	// task is submitted against a dataframe that already has an alive
	// modifier.
	ErrSessionModifierConflict = errors.New("dataframe already has an in-flight modifying task")

	// ErrMixedEncryptionMode is returned when a collaboration's
	// encrypted flag and a payload's framing disagree.
	ErrMixedEncryptionMode = errors.New("mixed encryption mode within collaboration")

	// ErrCollaborationNotFound is returned when a task is submitted
	// against a collaboration_id that does not exist.
	ErrCollaborationNotFound = errors.New("collaboration not found")

	// ErrOrganizationNotInScope is returned when a task's target
	// organizations are not a subset of its collaboration (or study, if
	// study_id is set).
	ErrOrganizationNotInScope = errors.New("organization is not a member of the collaboration or study")

	// ErrImageNotAllowedByStore is returned when a task's image is not
	// permitted by the algorithm-store policy bound to its collaboration.
	ErrImageNotAllowedByStore = errors.New("image not permitted by algorithm store policy")

	// ErrDatabaseArgumentMismatch is returned when a task's databases
	// shape does not match the algorithm's declared argument count.
	ErrDatabaseArgumentMismatch = errors.New("databases do not match the algorithm's declared argument count")

	// ErrRunFinished is returned when a PATCH attempts to move a run that
	// has already reached a finished status back to an alive one.
	ErrRunFinished = errors.New("run has already reached a finished status")
)
