package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintAndVerifyNodeAccessToken(t *testing.T) {
	m := NewMinter([]byte("test-signing-key"))

	token, err := m.MintNodeAccessToken("node-1", "org-1", "collab-1")
	require.NoError(t, err)

	claims, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, ClientNode, claims.ClientType)
	assert.Equal(t, "node-1", claims.NodeID)
	assert.Equal(t, "org-1", claims.OrganizationID)
	assert.Equal(t, "collab-1", claims.CollaborationID)
}

func TestMintContainerTokenCarriesTaskScope(t *testing.T) {
	m := NewMinter([]byte("test-signing-key"))

	token, err := m.MintContainerToken(ContainerTokenParams{
		NodeID: "node-1",
		OrganizationID: "org-1",
		CollaborationID: "collab-1",
		TaskID: "task-1",
		Image: "harbor/algo:1",
		Databases: [][]string{{"default"}},
	}, time.Hour)
	require.NoError(t, err)

	claims, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, ClientContainer, claims.ClientType)
	assert.Equal(t, "task-1", claims.TaskID)
	assert.Equal(t, "harbor/algo:1", claims.Image)
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	m := NewMinter([]byte("key-a"))
	other := NewMinter([]byte("key-b"))

	token, err := m.MintNodeAccessToken("node-1", "org-1", "collab-1")
	require.NoError(t, err)

	_, err = other.Verify(token)
	assert.Error(t, err)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m := NewMinter([]byte("test-signing-key"))

	token, err := m.MintContainerToken(ContainerTokenParams{TaskID: "task-1"}, -time.Minute)
	require.NoError(t, err)

	_, err = m.Verify(token)
	assert.Error(t, err)
}
