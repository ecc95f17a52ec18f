package sqlitefs

import (
	"os"

	bazilfuse "bazil.org/fuse"

	"github.com/sqlitefs/sqlitefs/internal/store"
)

// mkdir creates a directory row as a child of parentID. It returns
// ErrNotDir if the parent isn't a directory and ErrExists if name is
// already taken.
func mkdir(q queryable, now int64, parentID int64, name string, mode os.FileMode, uid, gid uint32) (*PathInfo, error) {
	parent, err := findPathByID(q, parentID)
	if err != nil {
		return nil, err
	}
	if !parent.IsDir {
		return nil, ErrNotDir
	}

	path := childPath(parent.Path, name)
	if existing, err := findPathInfo(q, path); err == nil && existing != nil {
		return nil, ErrExists
	} else if err != nil && err != ErrNotFound {
		return nil, err
	}

	rawMode := newRawMode(modeDir, mode)
	res, err := q.Exec(
		`INSERT INTO paths (parent_id, path, mode, uid, gid, atime, mtime, ctime, file_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		parentID, path, rawMode, uid, gid, now, now, now,
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return findPathByID(q, id)
}

// rmdir removes an empty directory. It returns ErrNotEmpty if the directory
// still has children, matching the EPERM-not-ENOTEMPTY quirk tracked in
// package errors.
func rmdir(q queryable, parentID int64, name string) error {
	child, err := lookupChild(q, parentID, name)
	if err != nil {
		return err
	}
	if !child.IsDir {
		return ErrNotDir
	}

	var count int
	if err := q.QueryRow(`SELECT count(*) FROM paths WHERE parent_id = ?`, child.ID).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return ErrNotEmpty
	}

	_, err = q.Exec(`DELETE FROM paths WHERE id = ?`, child.ID)
	return err
}

// listChildren returns the directory's children ordered by name, the order
// readdir's offset cookie is defined against.
func listChildren(q queryable, dirID int64) ([]*PathInfo, error) {
	rows, err := q.Query(
		`SELECT `+selectPathColumns+`
		 FROM paths p LEFT JOIN files f ON f.id = p.file_id
		 WHERE p.parent_id = ?
		 ORDER BY p.path`,
		dirID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PathInfo
	for rows.Next() {
		pi, err := scanPathInfo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pi)
	}
	return out, rows.Err()
}

// readdir encodes entries [offset, ...) of dirID's listing into the raw
// dirent format the kernel expects, stopping once size bytes have been
// produced. offset is a 1-based position within the name-ordered listing:
// the cookie for entry N is N itself, so resuming after entry N means
// passing offset=N.
func readdir(q queryable, dirID int64, offset uint64, size int) ([]byte, error) {
	children, err := listChildren(q, dirID)
	if err != nil {
		return nil, err
	}

	var data []byte
	appendEntry := func(inode uint64, name string, dtype bazilfuse.DirentType) bool {
		entry := bazilfuse.Dirent{Inode: inode, Type: dtype, Name: name}
		next := bazilfuse.AppendDirent(data, entry)
		if len(next) > size {
			return false
		}
		data = next
		return true
	}

	pos := offset
	if offset == 0 {
		if ok := appendEntry(pathIDToInode(dirID), ".", bazilfuse.DT_Dir); !ok {
			return data, nil
		}
		var parentID int64 = store.RootPathID
		if self, err := findPathByID(q, dirID); err == nil {
			parentID = self.ParentID
		}
		if ok := appendEntry(pathIDToInode(parentID), "..", bazilfuse.DT_Dir); !ok {
			return data, nil
		}
		pos = 2
	}

	for i, child := range children {
		entryPos := uint64(i) + 2
		if entryPos < pos {
			continue
		}

		dtype := bazilfuse.DT_File
		switch {
		case child.IsDir:
			dtype = bazilfuse.DT_Dir
		case isSymlinkRaw(child.Mode):
			dtype = bazilfuse.DT_Link
		}

		if ok := appendEntry(pathIDToInode(child.ID), child.Name, dtype); !ok {
			break
		}
	}

	return data, nil
}
