package session

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManagerSeedsStateLog(t *testing.T) {
	dir := t.TempDir()

	m, err := NewManager(dir, "session-1")
	require.NoError(t, err)

	events, err := m.readState()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(ActionSeed), events[0].Action)
}

func TestWriteDataframeIsAtomicAndAppendsState(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, "session-1")
	require.NoError(t, err)

	fakeParquetBytes := []byte("PAR1fake-column-data")
	require.NoError(t, m.WriteDataframe("patients", fakeParquetBytes))

	_, err = os.Stat(m.dataframePath("patients"))
	require.NoError(t, err)
	_, err = os.Stat(m.dataframePath("patients") + ".tmp")
	assert.True(t, os.IsNotExist(err))

	events, err := m.readState()
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, string(ActionWrite), events[1].Action)
	assert.Equal(t, "patients", events[1].Dataframe)
}

func TestDeleteDataframeMissingFileIsWarningNotError(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, "session-1")
	require.NoError(t, err)

	err = m.DeleteDataframe("never-written")
	require.NoError(t, err)

	events, err := m.readState()
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, string(ActionDelete), events[1].Action)
}

func TestRemoveDeletesScratchDir(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, "session-1")
	require.NoError(t, err)

	require.NoError(t, m.Remove())
	_, err = os.Stat(m.root)
	assert.True(t, os.IsNotExist(err))
}
