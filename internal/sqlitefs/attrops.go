package sqlitefs

import "os"

// setMode replaces the permission bits of id's stored mode (chmod), keeping
// its type bits untouched.
func setMode(q queryable, now int64, id int64, newPerm os.FileMode) error {
	pi, err := findPathByID(q, id)
	if err != nil {
		return err
	}
	raw := chmodRaw(pi.Mode, newPerm)
	_, err = q.Exec(`UPDATE paths SET mode = ?, ctime = ? WHERE id = ?`, raw, now, id)
	return err
}

// setOwner updates uid and gid (chown), binding them to the correctly
// ordered columns.
func setOwner(q queryable, now int64, id int64, uid, gid uint32) error {
	_, err := q.Exec(`UPDATE paths SET uid = ?, gid = ?, ctime = ? WHERE id = ?`, uid, gid, now, id)
	return err
}

// setTimes updates atime/mtime (utimens), storing plain tv_sec values.
func setTimes(q queryable, id int64, atime, mtime *int64) error {
	pi, err := findPathByID(q, id)
	if err != nil {
		return err
	}
	a, m := pi.Atime, pi.Mtime
	if atime != nil {
		a = *atime
	}
	if mtime != nil {
		m = *mtime
	}
	_, err = q.Exec(`UPDATE paths SET atime = ?, mtime = ? WHERE id = ?`, a, m, id)
	return err
}

// truncateFile applies truncateTo to the file backing id, touching mtime
// only when the size actually changes.
func truncateFile(q queryable, now int64, id int64, newSize uint64) error {
	pi, err := findPathByID(q, id)
	if err != nil {
		return err
	}
	if pi.IsDir {
		return ErrIsDir
	}
	if !pi.FileID.Valid {
		return ErrIO
	}
	if uint64(newSize) >= pi.Size {
		return nil
	}
	if err := truncateTo(q, pi.FileID.Int64, int64(newSize)); err != nil {
		return err
	}
	_, err = q.Exec(`UPDATE paths SET mtime = ?, ctime = ? WHERE id = ?`, now, now, id)
	return err
}
