/*
Package runtime implements the container runtime adapter: a uniform
interface over Docker (containerd-backed) and Kubernetes for launching an
isolated algorithm run with mounts, env, and network policy, then
collecting its exit status, logs, and output-file bytes.

# Runtime interface

Launch starts a JobSpec and returns a JobHandle immediately; callers
block on JobHandle.Wait for the terminal Result. Kill terminates a run
and cleans up its side-effect artifacts (container/job, pod, pull
secret); a missing artifact is logged at debug, not treated as an error.

# Backends

DockerRuntime drives containerd directly: pull, create, start, and a
graceful SIGTERM-then-SIGKILL stop, namespaced under "vantage6" to avoid
colliding with other containerd tenants on the host.

KubernetesRuntime creates one Job (and its single Pod) per run, watches
the Pod's status.phase and per-container wait reasons, and maps them to
the shared Status vocabulary so callers never branch on backend-specific
detail:

	Pending + {ImagePullBackOff, InvalidImageName, ErrImageNeverPull, ErrImagePull} -> non-existing docker image
	Pending + {CrashLoopBackOff, CreateContainerConfigError, RunContainerError, ContainerCannotRun} -> crashed
	Pending + {ContainerCreating, PodInitializing} or no container status yet -> initializing
	Running -> active
	Failed -> failed
	Succeeded -> completed
	Unknown -> unknown error

# Image names

ParseImageName/FormatImageName implement Docker's registry/repository/tag
reference grammar, including digest references ("@sha256:...") and the
implicit docker.io/latest defaults.
*/
package runtime
