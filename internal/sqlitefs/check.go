package sqlitefs

import (
	"fmt"

	"github.com/sqlitefs/sqlitefs/internal/store"
)

// CheckInvariants runs a consistency sweep over the data model invariants
// every mutation is supposed to preserve, returning one description per
// violation found. An empty, non-nil slice means the database is
// consistent. It is safe to run concurrently with nothing else touching the
// store, which is why cmd/sqlitefs only offers it as a pre-mount -check
// flag rather than running it on every operation.
func CheckInvariants(s *store.Store) ([]string, error) {
	s.Lock()
	defer s.Unlock()

	var problems []string

	// Invariant: every paths.file_id (for non-directories) refers to a row
	// that exists in files.
	rows, err := s.Query(`
		SELECT p.id, p.path FROM paths p
		WHERE p.file_id IS NOT NULL
		AND NOT EXISTS (SELECT 1 FROM files f WHERE f.id = p.file_id)
	`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var id int64
		var path string
		if err := rows.Scan(&id, &path); err != nil {
			rows.Close()
			return nil, err
		}
		problems = append(problems, fmt.Sprintf("paths.id=%d (%s) references a missing files row", id, path))
	}
	rows.Close()

	// Invariant: every files.nlink equals the number of paths rows
	// referencing it.
	rows, err = s.Query(`
		SELECT f.id, f.nlink, (SELECT count(*) FROM paths p WHERE p.file_id = f.id) AS actual
		FROM files f
		WHERE f.nlink != (SELECT count(*) FROM paths p WHERE p.file_id = f.id)
	`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var id int64
		var nlink, actual int
		if err := rows.Scan(&id, &nlink, &actual); err != nil {
			rows.Close()
			return nil, err
		}
		problems = append(problems, fmt.Sprintf("files.id=%d has nlink=%d but %d paths rows reference it", id, nlink, actual))
	}
	rows.Close()

	// Invariant: files.size equals length(content).
	rows, err = s.Query(`SELECT id, size, length(content) FROM files WHERE size != length(content)`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var id int64
		var size, actual int64
		if err := rows.Scan(&id, &size, &actual); err != nil {
			rows.Close()
			return nil, err
		}
		problems = append(problems, fmt.Sprintf("files.id=%d has size=%d but content length=%d", id, size, actual))
	}
	rows.Close()

	// Invariant: every non-root path row's parent_id refers to an existing
	// directory row, or is 0 (parent is root).
	rows, err = s.Query(`
		SELECT p.id, p.path, p.parent_id FROM paths p
		WHERE p.parent_id IS NOT NULL AND p.parent_id != 0
		AND NOT EXISTS (SELECT 1 FROM paths r WHERE r.id = p.parent_id AND (r.mode & 61440) = 16384)
	`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var id, parentID int64
		var path string
		if err := rows.Scan(&id, &path, &parentID); err != nil {
			rows.Close()
			return nil, err
		}
		problems = append(problems, fmt.Sprintf("paths.id=%d (%s) has dangling parent_id=%d", id, path, parentID))
	}
	rows.Close()

	if problems == nil {
		problems = []string{}
	}
	return problems, nil
}
