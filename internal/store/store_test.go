package store

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestOpenCreatesSchema(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir+"/fs.db", logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	defer s.Close()

	s.Lock()
	defer s.Unlock()

	var name string
	err = s.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'paths'`).Scan(&name)
	require.NoError(t, err)
	require.Equal(t, "paths", name)

	err = s.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'files'`).Scan(&name)
	require.NoError(t, err)
	require.Equal(t, "files", name)
}

func TestPreparedStatementsAreCached(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir+"/fs.db", nil)
	require.NoError(t, err)
	defer s.Close()

	s.Lock()
	defer s.Unlock()

	const q = `SELECT count(*) FROM paths`
	stmt1, err := s.prepare(q)
	require.NoError(t, err)
	stmt2, err := s.prepare(q)
	require.NoError(t, err)
	require.Same(t, stmt1, stmt2)
}
