package runtime

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	vterrors "github.com/vantage6/vantage6-sub004/pkg/errors"
	"github.com/vantage6/vantage6-sub004/pkg/log"
)

const (
	// containerdNamespace isolates vantage6 node containers from any
	// other containerd tenant on the host.
	containerdNamespace = "vantage6"

	defaultContainerdSocket = "/run/containerd/containerd.sock"
)

// DockerRuntime launches algorithm containers via containerd.
type DockerRuntime struct {
	client *containerd.Client

	mu sync.Mutex
	finished []string
}

// NewDockerRuntime connects to the containerd socket at socketPath (the
// default socket is used when empty).
func NewDockerRuntime(socketPath string) (*DockerRuntime, error) {
	if socketPath == "" {
		socketPath = defaultContainerdSocket
	}
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("runtime: connect to containerd: %w", err)
	}
	return &DockerRuntime{client: client}, nil
}

func (r *DockerRuntime) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

// Launch implements Runtime.
func (r *DockerRuntime) Launch(ctx context.Context, spec JobSpec) (JobHandle, error) {
	ctx = namespaces.WithNamespace(ctx, containerdNamespace)
	logger := log.WithRunID(spec.RunID)

	image, err := r.client.Pull(ctx, spec.Image, containerd.WithPullUnpack)
	if err != nil {
		logger.Warn().Err(err).Msg("image pull failed, attempting run with any cached image")
		image, err = r.client.GetImage(ctx, spec.Image)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", vterrors.ErrImageUnresolvable, spec.Image)
		}
	}

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(env),
	}

	var mounts []specs.Mount
	for _, m := range spec.Mounts {
		options := []string{"bind"}
		if m.ReadOnly {
			options = append(options, "ro")
		} else {
			options = append(options, "rw")
		}
		mounts = append(mounts, specs.Mount{
			Source: m.HostPath,
			Destination: m.ContainerPath,
			Type: "bind",
			Options: options,
		})
	}
	if len(mounts) > 0 {
		opts = append(opts, oci.WithMounts(mounts))
	}

	containerID := "run-" + spec.RunID
	ctrdContainer, err := r.client.NewContainer(
		ctx,
		containerID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(containerID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errStartFailed, err)
	}

	logPath := filepath.Join(spec.ScratchDir, "container.log")
	task, err := ctrdContainer.NewTask(ctx, cio.LogFile(logPath))
	if err != nil {
		_ = ctrdContainer.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, fmt.Errorf("%w: %v", errStartFailed, err)
	}
	if err := task.Start(ctx); err != nil {
		_, _ = task.Delete(ctx)
		_ = ctrdContainer.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, fmt.Errorf("%w: %v", errStartFailed, err)
	}

	return &dockerJobHandle{
		runtime: r,
		runID: spec.RunID,
		container: ctrdContainer,
		task: task,
		logPath: logPath,
		outputPath: filepath.Join(spec.ScratchDir, "output.txt"),
	}, nil
}

// ListFinished implements Runtime.
func (r *DockerRuntime) ListFinished(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.finished
	r.finished = nil
	return ids, nil
}

func (r *DockerRuntime) markFinished(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, runID)
}

var errStartFailed = fmt.Errorf("start failed")

// dockerJobHandle implements JobHandle over a containerd task.
type dockerJobHandle struct {
	runtime *DockerRuntime
	runID string
	container containerd.Container
	task containerd.Task
	logPath string
	outputPath string
}

func (h *dockerJobHandle) RunID() string { return h.runID }

func (h *dockerJobHandle) Wait(ctx context.Context) (Result, error) {
	statusC, err := h.task.Wait(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("runtime: wait on task: %w", err)
	}

	exitStatus := <-statusC
	code, _, err := exitStatus.Result()
	if err != nil {
		return Result{}, fmt.Errorf("runtime: read exit status: %w", err)
	}

	status := StatusCompleted
	if code != 0 {
		status = StatusCrashed
	}

	h.runtime.markFinished(h.runID)
	h.cleanup(ctx)

	result := Result{
		Status: status,
		ExitCode: int(code),
	}
	if logs, err := os.ReadFile(h.logPath); err == nil {
		result.LogsUTF8 = string(logs)
	} else {
		log.WithRunID(h.runID).Debug().Err(err).Msg("read container log file")
	}
	if output, err := os.ReadFile(h.outputPath); err == nil {
		result.OutputData = output
	} else {
		log.WithRunID(h.runID).Debug().Err(err).Msg("read container output file")
	}
	return result, nil
}

func (h *dockerJobHandle) Kill(ctx context.Context) error {
	stopCtx, cancel := context.WithTimeout(ctx, KillTimeout)
	defer cancel()

	if err := h.task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		log.WithRunID(h.runID).Debug().Err(err).Msg("SIGTERM delivery failed, task may already be gone")
	}

	statusC, err := h.task.Wait(stopCtx)
	if err == nil {
		select {
		case <-statusC:
		case <-stopCtx.Done():
			_ = h.task.Kill(ctx, syscall.SIGKILL)
		}
	}

	h.runtime.markFinished(h.runID)
	h.cleanup(ctx)
	return nil
}

func (h *dockerJobHandle) cleanup(ctx context.Context) {
	if _, err := h.task.Delete(ctx); err != nil {
		log.WithRunID(h.runID).Debug().Err(err).Msg("task delete: artifact already absent")
	}
	if err := h.container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		log.WithRunID(h.runID).Debug().Err(err).Msg("container delete: artifact already absent")
	}
}

var _ io.Closer = (*DockerRuntime)(nil)
