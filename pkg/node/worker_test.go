package node

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantage6/vantage6-sub004/pkg/client"
	"github.com/vantage6/vantage6-sub004/pkg/crypto"
	"github.com/vantage6/vantage6-sub004/pkg/runtime"
	"github.com/vantage6/vantage6-sub004/pkg/types"
)

// fakeCoordinator implements coordinatorClient with only the calls
// executeRun's happy path makes; everything else panics if reached.
type fakeCoordinator struct {
	task *types.Task
	containerToken string
	orgPublicKey string

	mu sync.Mutex
	patches []client.RunPatch
}

func (f *fakeCoordinator) AuthenticateNode(context.Context, string) (*client.AuthTokens, error) {
	panic("not used by executeRun")
}
func (f *fakeCoordinator) RefreshAccessToken(context.Context) (*client.AuthTokens, error) {
	panic("not used by executeRun")
}
func (f *fakeCoordinator) GetNode(context.Context, string) (*types.Node, error) {
	panic("not used by executeRun")
}
func (f *fakeCoordinator) PostNodeConfig(context.Context, string, map[string]string) error {
	panic("not used by executeRun")
}
func (f *fakeCoordinator) GetOrganizationPublicKey(_ context.Context, _ string) (string, error) {
	return f.orgPublicKey, nil
}
func (f *fakeCoordinator) UploadOrganizationPublicKey(context.Context, string, string) error {
	panic("not used by executeRun")
}
func (f *fakeCoordinator) GetTask(_ context.Context, _ string) (*types.Task, error) {
	return f.task, nil
}
func (f *fakeCoordinator) PostTask(context.Context, client.TaskCreateRequest) (*types.Task, error) {
	panic("not used by executeRun")
}
func (f *fakeCoordinator) RequestContainerToken(context.Context, client.ContainerTokenRequest) (string, error) {
	return f.containerToken, nil
}
func (f *fakeCoordinator) ListPendingRunsForNode(context.Context, string) ([]*types.Run, error) {
	panic("not used by executeRun")
}
func (f *fakeCoordinator) PatchRun(_ context.Context, _ string, patch client.RunPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, patch)
	return nil
}

func (f *fakeCoordinator) lastPatch() client.RunPatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.patches[len(f.patches)-1]
}

// fakeRuntime launches one canned result and records the JobSpec it was
// given, so the test can assert on Mounts.
type fakeRuntime struct {
	result runtime.Result
	lastSpec runtime.JobSpec
}

func (f *fakeRuntime) Launch(_ context.Context, spec runtime.JobSpec) (runtime.JobHandle, error) {
	f.lastSpec = spec
	return &fakeJobHandle{result: f.result}, nil
}
func (f *fakeRuntime) ListFinished(context.Context) ([]string, error) { return nil, nil }
func (f *fakeRuntime) Close() error { return nil }

type fakeJobHandle struct {
	result runtime.Result
}

func (h *fakeJobHandle) Wait(context.Context) (runtime.Result, error) { return h.result, nil }
func (h *fakeJobHandle) Kill(context.Context) error { return nil }
func (h *fakeJobHandle) RunID() string { return "run-1" }

func TestExecuteRunHappyPathMountsLaunchesAndEncryptsResult(t *testing.T) {
	nodeKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	nodeCryptor := crypto.New(nodeKey)
	nodePub, err := nodeCryptor.PublicKeyBase64()
	require.NoError(t, err)

	initOrgKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	initOrgCryptor := crypto.New(initOrgKey)
	initOrgPub, err := initOrgCryptor.PublicKeyBase64()
	require.NoError(t, err)

	plaintextInput := []byte(`{"method":"average"}`)
	encryptedInput, err := nodeCryptor.EncryptFor(plaintextInput, nodePub)
	require.NoError(t, err)

	task := &types.Task{
		ID: "task-1",
		Action: types.ActionFederatedCompute,
		Image: "harbor.example/algorithms/average:1.0",
		InitOrgID: "org-initiator",
	}
	run := &types.Run{ID: "run-1", TaskID: task.ID, Input: encryptedInput}

	coord := &fakeCoordinator{
		task: task,
		containerToken: "container-token",
		orgPublicKey: initOrgPub,
	}
	rt := &fakeRuntime{result: runtime.Result{
		Status: runtime.StatusCompleted,
		OutputData: []byte(`{"average":42}`),
		LogsUTF8: "algorithm finished\n",
	}}

	a := &Agent{
		cfg: Config{SessionDataRoot: t.TempDir()},
		coordinator: coord,
		runtime: rt,
		cryptor: nodeCryptor,
		orgKeys: make(map[string]string),
		handles: make(map[string]liveRun),
	}

	err = a.executeRun(context.Background(), run)
	require.NoError(t, err)

	require.NotEmpty(t, rt.lastSpec.Mounts, "JobSpec must carry the scratch-dir file mounts")
	byContainerPath := map[string]runtime.Mount{}
	for _, m := range rt.lastSpec.Mounts {
		byContainerPath[m.ContainerPath] = m
	}
	require.Contains(t, byContainerPath, "/app/input.txt")
	require.Contains(t, byContainerPath, "/app/output.txt")
	require.Contains(t, byContainerPath, "/app/token.txt")
	assert.True(t, byContainerPath["/app/input.txt"].ReadOnly)
	assert.False(t, byContainerPath["/app/output.txt"].ReadOnly)
	assert.True(t, byContainerPath["/app/token.txt"].ReadOnly)

	final := coord.lastPatch()
	require.NotNil(t, final.Status)
	assert.Equal(t, types.RunCompleted, *final.Status)
	require.NotNil(t, final.Log)
	assert.Equal(t, "algorithm finished\n", *final.Log)
	require.NotNil(t, final.Result)
	assert.NotEmpty(t, *final.Result)

	decrypted, err := initOrgCryptor.Decrypt(*final.Result)
	require.NoError(t, err)
	assert.Equal(t, `{"average":42}`, string(decrypted))
}
