package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStoreRoundTrip(t *testing.T) {
	s, err := NewSessionStore(t.TempDir())
	require.NoError(t, err)

	assert.Nil(t, s.Load("default"))

	state := &SessionState{Cookies: json.RawMessage(`[{"name":"sid","value":"abc"}]`)}
	s.Save("default", state)

	got := s.Load("default")
	require.NotNil(t, got)
	assert.JSONEq(t, `[{"name":"sid","value":"abc"}]`, string(got.Cookies))
}

func TestSessionStoreSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	s1, err := NewSessionStore(dir)
	require.NoError(t, err)
	s1.Save("proxy-eu-1", &SessionState{Cookies: json.RawMessage(`[]`)})

	s2, err := NewSessionStore(dir)
	require.NoError(t, err)
	assert.NotNil(t, s2.Load("proxy-eu-1"))
}

func TestSessionStoreSanitizesIdentity(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSessionStore(dir)
	require.NoError(t, err)

	s.Save("../../../etc/passwd", &SessionState{Cookies: json.RawMessage(`[]`)})

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, dir, filepath.Dir(filepath.Join(dir, entries[0].Name())))
	assert.NotContains(t, entries[0].Name(), "/")
}

func TestSessionStoreClear(t *testing.T) {
	s, err := NewSessionStore(t.TempDir())
	require.NoError(t, err)

	s.Save("default", &SessionState{Cookies: json.RawMessage(`[]`)})
	s.Clear("default")
	assert.Nil(t, s.Load("default"))
}

func TestSessionStoreCorruptBlobIgnored(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "default.json"), []byte("{not json"), 0o600))

	s, err := NewSessionStore(dir)
	require.NoError(t, err)
	assert.Nil(t, s.Load("default"))
}
