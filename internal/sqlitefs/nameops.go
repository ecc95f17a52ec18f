package sqlitefs

import (
	"os"
	"strings"
)

// mkNod creates a plain regular-file inode with no content, used for both
// mknod(2) (with a caller-supplied device identifier) and open(2) with
// O_CREAT (CreateFile), which always passes dev 0.
func mkNod(q queryable, now int64, parentID int64, name string, mode os.FileMode, uid, gid uint32, dev int64) (*PathInfo, error) {
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

	fileID, err := insertFile(q, 1, nil, dev)
	if err != nil {
		return nil, err
	}

	rawMode := newRawMode(modeRegular, mode)
	res, err := q.Exec(
		`INSERT INTO paths (parent_id, path, mode, uid, gid, atime, mtime, ctime, file_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		parentID, path, rawMode, uid, gid, now, now, now, fileID,
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

// createSymlink creates a symlink inode. Its target string, including a
// terminating null byte, is stored as the content of a files row the path
// row references exactly as a regular file would, since the schema gives
// symlinks no target column of their own.
func createSymlink(q queryable, now int64, parentID int64, name, target string, uid, gid uint32) (*PathInfo, error) {
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

	fileID, err := insertFile(q, 1, append([]byte(target), 0), 0)
	if err != nil {
		return nil, err
	}

	rawMode := newRawMode(modeSymlink, 0755)
	res, err := q.Exec(
		`INSERT INTO paths (parent_id, path, mode, uid, gid, atime, mtime, ctime, file_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		parentID, path, rawMode, uid, gid, now, now, now, fileID,
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

// createLink adds a new name pointing at an existing file's content,
// incrementing its link count. Hard links to directories are never valid.
func createLink(q queryable, now int64, parentID int64, name string, targetID int64) (*PathInfo, error) {
	parent, err := findPathByID(q, parentID)
	if err != nil {
		return nil, err
	}
	if !parent.IsDir {
		return nil, ErrNotDir
	}

	target, err := findPathByID(q, targetID)
	if err != nil {
		return nil, err
	}
	if target.IsDir {
		return nil, ErrIsDir
	}

	path := childPath(parent.Path, name)
	if existing, err := findPathInfo(q, path); err == nil && existing != nil {
		return nil, ErrExists
	} else if err != nil && err != ErrNotFound {
		return nil, err
	}

	if err := adjustNlink(q, target.FileID.Int64, 1); err != nil {
		return nil, err
	}

	res, err := q.Exec(
		`INSERT INTO paths (parent_id, path, mode, uid, gid, atime, mtime, ctime, file_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		parentID, path, target.Mode, target.Uid, target.Gid, now, now, now, target.FileID,
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

// unlink removes a non-directory entry, dropping the underlying file's link
// count and deleting its content once the last name referencing it is gone.
func unlink(q queryable, parentID int64, name string) error {
	child, err := lookupChild(q, parentID, name)
	if err != nil {
		return err
	}
	if child.IsDir {
		return ErrIsDir
	}

	if _, err := q.Exec(`DELETE FROM paths WHERE id = ?`, child.ID); err != nil {
		return err
	}

	if child.FileID.Valid {
		return adjustNlink(q, child.FileID.Int64, -1)
	}
	return nil
}

// readSymlink returns the stored target of a symlink inode, which lives as
// the content of the files row the symlink's path row references, with a
// terminating null byte stripped back off.
func readSymlink(q queryable, id int64) (string, error) {
	pi, err := findPathByID(q, id)
	if err != nil {
		return "", err
	}
	if !isSymlinkRaw(pi.Mode) || !pi.FileID.Valid {
		return "", ErrIO
	}
	data, err := readBlob(q, pi.FileID.Int64, 0, int(pi.Size))
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\x00"), nil
}

// rename moves src to newParentID/newName, replacing any existing
// destination per POSIX semantics. Renaming a non-empty directory onto any
// destination, or moving it into one of its own descendants, is rejected
// outright rather than silently orphaning children.
func rename(q queryable, oldParentID int64, oldName string, newParentID int64, newName string) error {
	src, err := lookupChild(q, oldParentID, oldName)
	if err != nil {
		return err
	}

	newParent, err := findPathByID(q, newParentID)
	if err != nil {
		return err
	}
	if !newParent.IsDir {
		return ErrNotDir
	}
	newPath := childPath(newParent.Path, newName)

	if dst, err := findPathInfo(q, newPath); err == nil && dst != nil {
		switch {
		case dst.ID == src.ID:
			return nil
		case dst.IsDir && !src.IsDir:
			return ErrIsDir
		case !dst.IsDir && src.IsDir:
			return ErrNotDir
		case dst.IsDir:
			var count int
			if err := q.QueryRow(`SELECT count(*) FROM paths WHERE parent_id = ?`, dst.ID).Scan(&count); err != nil {
				return err
			}
			if count > 0 {
				return ErrNotEmpty
			}
			if _, err := q.Exec(`DELETE FROM paths WHERE id = ?`, dst.ID); err != nil {
				return err
			}
		default:
			if _, err := q.Exec(`DELETE FROM paths WHERE id = ?`, dst.ID); err != nil {
				return err
			}
			if dst.FileID.Valid {
				if err := adjustNlink(q, dst.FileID.Int64, -1); err != nil {
					return err
				}
			}
		}
	} else if err != nil && err != ErrNotFound {
		return err
	}

	if src.IsDir {
		if newPath == src.Path || strings.HasPrefix(newPath, src.Path+"/") {
			return ErrNotEmpty
		}

		var count int
		if err := q.QueryRow(`SELECT count(*) FROM paths WHERE parent_id = ?`, src.ID).Scan(&count); err != nil {
			return err
		}
		if count > 0 {
			return ErrNotEmpty
		}

		if _, err := q.Exec(
			`UPDATE paths SET path = ? || substr(path, ?) WHERE path = ? OR path LIKE ? ESCAPE '\'`,
			newPath, len(src.Path)+1, src.Path, escapeLike(src.Path)+"/%",
		); err != nil {
			return err
		}
	} else {
		if _, err := q.Exec(`UPDATE paths SET path = ? WHERE id = ?`, newPath, src.ID); err != nil {
			return err
		}
	}

	_, err = q.Exec(
		`UPDATE paths SET parent_id = ? WHERE id = ?`,
		newParentID, src.ID,
	)
	return err
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' || c == '_' || c == '\\' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return string(out)
}
