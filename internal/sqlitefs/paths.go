package sqlitefs

import (
	"database/sql"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/sqlitefs/sqlitefs/internal/store"
)

// queryable is satisfied by both *store.Store and *sql.Tx, letting every
// helper in this package run either directly against the connection or
// inside a transaction without duplicating itself.
type queryable interface {
	QueryRow(query string, args ...interface{}) *sql.Row
	Query(query string, args ...interface{}) (*sql.Rows, error)
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// PathInfo is a single row of the paths table, plus the size and link count
// projected in from its file row when it names a regular file. Name and
// IsDir are not stored columns: the schema is bit-exact with spec.md §6,
// which gives paths no basename or type-flag column of its own, so both
// are derived here from path and mode respectively.
type PathInfo struct {
	ID       int64
	ParentID int64
	Name     string
	Path     string
	IsDir    bool
	Mode     uint32
	Uid      uint32
	Gid      uint32
	Atime    int64
	Mtime    int64
	Ctime    int64
	FileID   sql.NullInt64

	Size  uint64
	Nlink uint32
}

// rootInfo synthesizes the row for "/", which is never actually stored. It
// is owned by the uid/gid of the running process and stamped with the
// current time.
func rootInfo() *PathInfo {
	now := time.Now().Unix()
	return &PathInfo{
		ID:       store.RootPathID,
		ParentID: store.RootPathID,
		Name:     "",
		Path:     "/",
		IsDir:    true,
		Mode:     newRawMode(modeDir, 0755),
		Uid:      uint32(os.Getuid()),
		Gid:      uint32(os.Getgid()),
		Atime:    now,
		Mtime:    now,
		Ctime:    now,
		Nlink:    1,
	}
}

// basename returns the suffix of an absolute path after its last slash.
func basename(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

const selectPathColumns = `
	p.id, p.parent_id, p.path, p.mode, p.uid, p.gid,
	p.atime, p.mtime, p.ctime, p.file_id,
	COALESCE(f.size, 0), COALESCE(f.nlink, 0)
`

func scanPathInfo(row interface{ Scan(dest ...interface{}) error }) (*PathInfo, error) {
	var pi PathInfo
	err := row.Scan(
		&pi.ID, &pi.ParentID, &pi.Path, &pi.Mode, &pi.Uid, &pi.Gid,
		&pi.Atime, &pi.Mtime, &pi.Ctime, &pi.FileID,
		&pi.Size, &pi.Nlink,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	pi.Name = basename(pi.Path)
	pi.IsDir = isDirRaw(pi.Mode)
	return &pi, nil
}

// findPathInfo looks up a row by its absolute path, synthesizing the root.
func findPathInfo(q queryable, path string) (*PathInfo, error) {
	if path == "/" {
		return rootInfo(), nil
	}

	query := `
		SELECT ` + selectPathColumns + `
		FROM paths p LEFT JOIN files f ON f.id = p.file_id
		WHERE p.path = ?
	`
	return scanPathInfo(q.QueryRow(query, path))
}

// findPathByID looks up a row by its paths.id, synthesizing the root for 0.
func findPathByID(q queryable, id int64) (*PathInfo, error) {
	if id == store.RootPathID {
		return rootInfo(), nil
	}

	query := `
		SELECT ` + selectPathColumns + `
		FROM paths p LEFT JOIN files f ON f.id = p.file_id
		WHERE p.id = ?
	`
	return scanPathInfo(q.QueryRow(query, id))
}

// childPath joins a parent's absolute path with a child name.
func childPath(parentPath, name string) string {
	if parentPath == "/" {
		return "/" + name
	}
	return parentPath + "/" + name
}

// lookupChild resolves (parentID, name) to the child's row.
func lookupChild(q queryable, parentID int64, name string) (*PathInfo, error) {
	parent, err := findPathByID(q, parentID)
	if err != nil {
		return nil, err
	}
	if !parent.IsDir {
		return nil, ErrNotDir
	}
	return findPathInfo(q, childPath(parent.Path, name))
}

// InodeID and path-row id are related by a constant offset: the kernel
// reserves inode 1 for the mount root, which corresponds to path row id 0.
func inodeToPathID(inode uint64) int64 {
	return int64(inode) - 1
}

func pathIDToInode(id int64) uint64 {
	return uint64(id) + 1
}
