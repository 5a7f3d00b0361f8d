// Package runtime implements the container runtime adapter (C2): a
// uniform interface over Docker and Kubernetes for launching an isolated
// algorithm job with mounts, env, and network policy, then collecting its
// exit status, logs, and output-file bytes.
package runtime

import (
	"context"
	"time"
)

// Mount binds a host path into the job's filesystem.
type Mount struct {
	HostPath string
	ContainerPath string
	ReadOnly bool
}

// NetworkSpec describes the job's network isolation policy.
type NetworkSpec struct {
	Isolated bool
	NetworkName string
	AllowEgress bool
}

// JobSpec is the input to Launch: everything the runtime adapter needs to
// start one run's container.
type JobSpec struct {
	Image string
	Env map[string]string
	ScratchDir string
	Mounts []Mount
	Network NetworkSpec
	RunID string
	TaskID string
	Labels map[string]string

	// PullSecretRegistry/User/Password configure a private-registry
	// pull secret created before launch and deleted after completion.
	PullSecretRegistry string
	PullSecretUser string
	PullSecretPassword string
}

// Status is the terminal or in-flight state of a launched job, using the
// vocabulary shared with types.RunStatus rather than a runtime-specific
// enum, so callers can assign it directly to a Run.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusActive Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed Status = "failed"
	StatusStartFailed Status = "start failed"
	StatusNoSuchImage Status = "non-existing docker image"
	StatusCrashed Status = "crashed"
	StatusKilled Status = "killed by user"
	StatusUnknown Status = "unknown error"
)

// Result is what JobHandle.Wait returns once the job reaches a terminal
// state.
type Result struct {
	Status Status
	ExitCode int
	LogsUTF8 string
	OutputData []byte
}

// JobHandle represents one in-flight or completed job launch.
type JobHandle interface {
	// Wait blocks until the job reaches a terminal status, or ctx is
	// canceled.
	Wait(ctx context.Context) (Result, error)

	// Kill terminates the job and maps its resulting status to
	// StatusKilled. Side-effect artifacts (pod, job, pull secret) are
	// deleted; missing artifacts are logged at debug, not an error.
	Kill(ctx context.Context) error

	// RunID identifies the run this handle belongs to.
	RunID() string
}

// Runtime launches and supervises containerized algorithm runs. Docker
// and Kubernetes backends both implement it (docker.go, kubernetes.go).
type Runtime interface {
	// Launch starts spec's container and returns immediately with a
	// handle; the caller polls completion via JobHandle.Wait.
	Launch(ctx context.Context, spec JobSpec) (JobHandle, error)

	// ListFinished returns the RunIDs of jobs this runtime has observed
	// reach a terminal state since the last call, for reconciliation
	// after a node-agent restart.
	ListFinished(ctx context.Context) ([]string, error)

	// Close releases the runtime's backend connection.
	Close() error
}

// KillTimeout bounds how long Kill waits for graceful termination
// (SIGTERM) before forcing removal.
const KillTimeout = 10 * time.Second
