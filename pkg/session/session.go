// Package session implements the per-session scratch directory (C3): an
// append-only Parquet event log plus atomic Parquet writes for the
// dataframes a session's data-extraction and preprocessing tasks produce.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/vantage6/vantage6-sub004/pkg/log"
)

// stateFileName is the append-only session-state log, seeded with a row-zero
// event at session creation.
const stateFileName = "session_state.parquet"

// StateAction is the kind of event recorded in session_state.parquet.
type StateAction string

const (
	ActionSeed StateAction = "seed"
	ActionWrite StateAction = "write"
	ActionDelete StateAction = "delete"
)

// StateEvent is one row of session_state.parquet.
type StateEvent struct {
	Action string `parquet:"action"`
	File string `parquet:"file"`
	Timestamp time.Time `parquet:"timestamp"`
	Message string `parquet:"message"`
	Dataframe string `parquet:"dataframe"`
}

// Manager owns one session's scratch directory on a single node: the
// state log and every dataframe handle's Parquet file beneath it.
type Manager struct {
	sessionID string
	root string
}

// NewManager opens (creating if absent) the scratch directory for
// sessionID under baseDir, seeding session_state.parquet if it does not
// yet exist.
func NewManager(baseDir, sessionID string) (*Manager, error) {
	root := filepath.Join(baseDir, sessionID)
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("session: create scratch dir: %w", err)
	}

	m := &Manager{sessionID: sessionID, root: root}

	statePath := filepath.Join(root, stateFileName)
	if _, err := os.Stat(statePath); os.IsNotExist(err) {
		if err := m.writeState([]StateEvent{{
			Action: string(ActionSeed),
			Timestamp: time.Now(),
			Message: "session created",
		}}); err != nil {
			return nil, fmt.Errorf("session: seed state log: %w", err)
		}
	}

	return m, nil
}

// dataframePath returns the on-disk path for a dataframe handle.
func (m *Manager) dataframePath(handle string) string {
	return filepath.Join(m.root, handle+".parquet")
}

// DataframePathForExport returns handle's on-disk Parquet path, for
// callers (the node agent's database resolution step) that need to bind-
// mount or stat a dataframe file without writing to it.
func (m *Manager) DataframePathForExport(handle string) string {
	return m.dataframePath(handle)
}

// WriteDataframe atomically writes an already Parquet-encoded table
// (the algorithm container's output file bytes) to <handle>.parquet
// (temp file then rename, so a reader never observes a partially written
// file) and appends a "write" event to the state log.
func (m *Manager) WriteDataframe(handle string, parquetBytes []byte) error {
	final := m.dataframePath(handle)
	tmp := final + ".tmp"

	if err := os.WriteFile(tmp, parquetBytes, 0o640); err != nil {
		return fmt.Errorf("session: write temp dataframe file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("session: rename dataframe %s into place: %w", handle, err)
	}

	return m.appendState(StateEvent{
		Action: string(ActionWrite),
		File: final,
		Timestamp: time.Now(),
		Dataframe: handle,
	})
}

// DeleteDataframe removes handle's Parquet file if present and appends a
// "delete" event. A missing file is logged as a warning, not returned as
// an error, since the node and the coordinator's cleanup event may race.
func (m *Manager) DeleteDataframe(handle string) error {
	final := m.dataframePath(handle)
	if err := os.Remove(final); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("session: delete dataframe %s: %w", handle, err)
	} else if os.IsNotExist(err) {
		log.WithComponent("session").Warn().Str("handle", handle).Msg("dataframe file already absent")
	}

	return m.appendState(StateEvent{
		Action: string(ActionDelete),
		File: final,
		Timestamp: time.Now(),
		Dataframe: handle,
	})
}

// AppendStateEvent records an arbitrary event (e.g. a task failure message)
// against the session's state log without touching a dataframe file.
func (m *Manager) AppendStateEvent(message string) error {
	return m.appendState(StateEvent{
		Action: string(ActionWrite),
		Timestamp: time.Now(),
		Message: message,
	})
}

// appendState reads the existing state log, appends event, and rewrites it
// atomically. Parquet has no native append; state logs are small enough
// (one row per session-modifying task) that read-modify-write is adequate.
func (m *Manager) appendState(event StateEvent) error {
	existing, err := m.readState()
	if err != nil {
		return fmt.Errorf("session: read state log before append: %w", err)
	}
	return m.writeState(append(existing, event))
}

func (m *Manager) readState() ([]StateEvent, error) {
	path := filepath.Join(m.root, stateFileName)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	rows, err := parquet.Read[StateEvent](f, info.Size())
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (m *Manager) writeState(rows []StateEvent) error {
	path := filepath.Join(m.root, stateFileName)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := parquet.Write(f, rows); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Remove deletes the entire session scratch directory, used when a Session
// is hard-deleted.
func (m *Manager) Remove() error {
	if err := os.RemoveAll(m.root); err != nil {
		return fmt.Errorf("session: remove scratch dir: %w", err)
	}
	return nil
}
