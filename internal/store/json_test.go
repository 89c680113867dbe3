package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONSeedsDocuments(t *testing.T) {
	dir := t.TempDir()
	_, err := NewJSON(dir, "", nil)
	require.NoError(t, err)

	users, err := os.ReadFile(filepath.Join(dir, "users.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"users":[]}`, string(users))

	sessions, err := os.ReadFile(filepath.Join(dir, "sessions.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"sessions":[]}`, string(sessions))

	assert.DirExists(t, filepath.Join(dir, "chats"))
}

func TestJSONAcceptsBareArrayUsersFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "users.json"),
		[]byte(`[{"id":"u-9","username":"carol","passwordHash":"x","createdAt":"2024-01-01T00:00:00Z"}]`), 0o644))

	s, err := NewJSON(dir, "", nil)
	require.NoError(t, err)

	u, err := s.GetUserByUsername(context.Background(), "CAROL")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "u-9", u.ID)
}

func TestJSONCorruptFilesReadAsEmpty(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSON(dir, "", nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sessions.json"), []byte("{not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chats", "u-1.json"), []byte(`{"oops":true}`), 0o644))

	sessions, err := s.LoadSessions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sessions)

	chats, err := s.ListChats(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Empty(t, chats)
}

func TestWriteJSONAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	require.NoError(t, writeJSONAtomic(path, map[string]int{"a": 1}))
	require.NoError(t, writeJSONAtomic(path, map[string]int{"a": 2}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2}`, string(raw))
}

func TestIsSQLiteConflict(t *testing.T) {
	assert.False(t, isSQLiteConflict(assert.AnError))
	assert.True(t, isSQLiteConflict(errString("database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, isSQLiteConflict(nil))
}

func TestWithBusyRetry(t *testing.T) {
	calls := 0
	err := withBusyRetry(context.Background(), "test", func() error {
		calls++
		if calls < 2 {
			return errString("SQLITE_BUSY")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	calls = 0
	err = withBusyRetry(context.Background(), "test", func() error {
		calls++
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, calls)
}

type errString string

func (e errString) Error() string { return string(e) }
