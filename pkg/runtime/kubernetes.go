package runtime

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"

	"github.com/vantage6/vantage6-sub004/pkg/log"
)

// KubernetesRuntime launches algorithm containers as Kubernetes Jobs, one
// Pod per run, mapping the Pod's phase to the shared Status vocabulary.
type KubernetesRuntime struct {
	client kubernetes.Interface
	namespace string

	mu sync.Mutex
	finished []string
}

// NewKubernetesRuntime wraps an already-configured clientset. namespace is
// the Kubernetes namespace that holds vantage6 run Jobs, Pods and pull
// secrets.
func NewKubernetesRuntime(client kubernetes.Interface, namespace string) *KubernetesRuntime {
	return &KubernetesRuntime{client: client, namespace: namespace}
}

func (r *KubernetesRuntime) Close() error { return nil }

func jobName(runID string) string { return "run-" + runID }
func pullSecretName(runID string) string { return "docker-login-secret-run-id-" + runID }

// Launch implements Runtime by creating a Kubernetes Job with a single
// container, then returning a handle that watches the Job's Pod.
func (r *KubernetesRuntime) Launch(ctx context.Context, spec JobSpec) (JobHandle, error) {
	logger := log.WithRunID(spec.RunID)

	if spec.PullSecretRegistry != "" {
		if err := r.createPullSecret(ctx, spec); err != nil {
			return nil, fmt.Errorf("runtime: create pull secret: %w", err)
		}
	}

	env := make([]corev1.EnvVar, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, corev1.EnvVar{Name: k, Value: v})
	}

	var volumes []corev1.Volume
	var volumeMounts []corev1.VolumeMount
	for i, m := range spec.Mounts {
		name := fmt.Sprintf("mount-%d", i)
		volumes = append(volumes, corev1.Volume{
			Name: name,
			VolumeSource: corev1.VolumeSource{
				HostPath: &corev1.HostPathVolumeSource{Path: m.HostPath},
			},
		})
		volumeMounts = append(volumeMounts, corev1.VolumeMount{
			Name: name,
			MountPath: m.ContainerPath,
			ReadOnly: m.ReadOnly,
		})
	}

	var imagePullSecrets []corev1.LocalObjectReference
	if spec.PullSecretRegistry != "" {
		imagePullSecrets = append(imagePullSecrets, corev1.LocalObjectReference{Name: pullSecretName(spec.RunID)})
	}

	backoffLimit := int32(0)
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name: jobName(spec.RunID),
			Namespace: r.namespace,
			Labels: spec.Labels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoffLimit,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: spec.Labels},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					ImagePullSecrets: imagePullSecrets,
					Containers: []corev1.Container{{
						Name: "algorithm",
						Image: spec.Image,
						Env: env,
						VolumeMounts: volumeMounts,
					}},
					Volumes: volumes,
				},
			},
		},
	}

	if _, err := r.client.BatchV1().Jobs(r.namespace).Create(ctx, job, metav1.CreateOptions{}); err != nil {
		return nil, fmt.Errorf("%w: %v", errStartFailed, err)
	}

	logger.Debug().Str("job", job.Name).Msg("job created")

	return &kubernetesJobHandle{runtime: r, runID: spec.RunID, outputPath: filepath.Join(spec.ScratchDir, "output.txt")}, nil
}

func (r *KubernetesRuntime) createPullSecret(ctx context.Context, spec JobSpec) error {
	dockerConfigJSON := fmt.Sprintf(
		`{"auths":{%q:{"username":%q,"password":%q}}}`,
		spec.PullSecretRegistry, spec.PullSecretUser, spec.PullSecretPassword,
	)
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: pullSecretName(spec.RunID), Namespace: r.namespace},
		Type: corev1.SecretTypeDockerConfigJson,
		Data: map[string][]byte{
			corev1.DockerConfigJsonKey: []byte(dockerConfigJSON),
		},
	}
	_, err := r.client.CoreV1().Secrets(r.namespace).Create(ctx, secret, metav1.CreateOptions{})
	return err
}

// ListFinished implements Runtime.
func (r *KubernetesRuntime) ListFinished(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.finished
	r.finished = nil
	return ids, nil
}

func (r *KubernetesRuntime) markFinished(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, runID)
}

// kubernetesJobHandle watches the run's Pod via a job-name label-selector
// watch, and maps phase/reason combinations to a Status.
type kubernetesJobHandle struct {
	runtime *KubernetesRuntime
	runID string
	outputPath string
}

func (h *kubernetesJobHandle) RunID() string { return h.runID }

func (h *kubernetesJobHandle) Wait(ctx context.Context) (Result, error) {
	r := h.runtime

	watcher, err := r.client.CoreV1().Pods(r.namespace).Watch(ctx, metav1.ListOptions{
		LabelSelector: "job-name=" + jobName(h.runID),
	})
	if err != nil {
		return Result{}, fmt.Errorf("runtime: watch pod: %w", err)
	}
	defer watcher.Stop()

	for event := range watcher.ResultChan() {
		pod, ok := event.Object.(*corev1.Pod)
		if !ok {
			continue
		}
		if status, done := mapPodStatus(pod); done {
			r.markFinished(h.runID)
			result := Result{Status: status, ExitCode: exitCodeOf(pod)}
			result.LogsUTF8 = h.fetchLogs(ctx, pod.Name)
			h.cleanup(ctx)
			if output, err := os.ReadFile(h.outputPath); err == nil {
				result.OutputData = output
			} else {
				log.WithRunID(h.runID).Debug().Err(err).Msg("read pod output file")
			}
			return result, nil
		}
		if event.Type == watch.Deleted {
			break
		}
	}

	return Result{Status: StatusUnknown}, fmt.Errorf("runtime: watch channel closed before pod terminated")
}

// fetchLogs reads the terminated pod's combined container log via the
// Kubernetes API; a failure here is logged, not fatal, since the run's
// output and status are already known.
func (h *kubernetesJobHandle) fetchLogs(ctx context.Context, podName string) string {
	r := h.runtime
	stream, err := r.client.CoreV1().Pods(r.namespace).GetLogs(podName, &corev1.PodLogOptions{}).Stream(ctx)
	if err != nil {
		log.WithRunID(h.runID).Debug().Err(err).Msg("fetch pod logs")
		return ""
	}
	defer stream.Close()

	data, err := io.ReadAll(stream)
	if err != nil {
		log.WithRunID(h.runID).Debug().Err(err).Msg("read pod log stream")
		return ""
	}
	return string(data)
}

// mapPodStatus maps a Pod's phase (and, while pending, its container
// waiting reason) to a Status. done is false while the run is still
// initializing/active.
func mapPodStatus(pod *corev1.Pod) (status Status, done bool) {
	switch pod.Status.Phase {
	case corev1.PodSucceeded:
		return StatusCompleted, true
	case corev1.PodFailed:
		return StatusFailed, true
	case corev1.PodUnknown:
		return StatusUnknown, true
	case corev1.PodRunning:
		return StatusActive, false
	case corev1.PodPending:
		for _, cs := range pod.Status.ContainerStatuses {
			if cs.State.Waiting == nil {
				continue
			}
			switch cs.State.Waiting.Reason {
			case "ImagePullBackOff", "InvalidImageName", "ErrImageNeverPull", "ErrImagePull":
				return StatusNoSuchImage, true
			case "CrashLoopBackOff", "CreateContainerConfigError", "RunContainerError", "ContainerCannotRun":
				return StatusCrashed, true
			case "ContainerCreating", "PodInitializing":
				return StatusInitializing, false
			}
		}
		return StatusInitializing, false
	default:
		return StatusInitializing, false
	}
}

func exitCodeOf(pod *corev1.Pod) int {
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Terminated != nil {
			return int(cs.State.Terminated.ExitCode)
		}
	}
	return 0
}

func (h *kubernetesJobHandle) Kill(ctx context.Context) error {
	r := h.runtime
	propagation := metav1.DeletePropagationForeground
	err := r.client.BatchV1().Jobs(r.namespace).Delete(ctx, jobName(h.runID), metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("runtime: delete job: %w", err)
	}
	if apierrors.IsNotFound(err) {
		log.WithRunID(h.runID).Debug().Msg("job already absent on kill")
	}

	r.markFinished(h.runID)
	h.cleanup(ctx)
	return nil
}

func (h *kubernetesJobHandle) cleanup(ctx context.Context) {
	r := h.runtime
	if err := r.client.CoreV1().Secrets(r.namespace).Delete(ctx, pullSecretName(h.runID), metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		log.WithRunID(h.runID).Debug().Err(err).Msg("pull secret delete: artifact already absent")
	}
}

var _ io.Closer = (*KubernetesRuntime)(nil)
