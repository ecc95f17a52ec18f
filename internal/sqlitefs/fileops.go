package sqlitefs

// insertFile creates a new files row with the given initial link count,
// content, and device identifier, returning its id. dev is only meaningful
// for device nodes created via mknod; mkNod forwards the dev it is given
// (FS.MkNod passes the kernel's Rdev, CreateFile passes 0), and
// createSymlink passes 0.
func insertFile(q queryable, nlink uint32, content []byte, dev int64) (int64, error) {
	res, err := q.Exec(
		`INSERT INTO files (nlink, size, content, dev) VALUES (?, ?, ?, ?)`,
		nlink, len(content), content, dev,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// adjustNlink adds delta (which may be negative) to a file's link count,
// deleting the row outright once it reaches zero. This is the hard-link
// reference counting invariant: a file's content is reachable only as long
// as at least one paths row points at it.
func adjustNlink(q queryable, fileID int64, delta int) error {
	if _, err := q.Exec(`UPDATE files SET nlink = nlink + ? WHERE id = ?`, delta, fileID); err != nil {
		return err
	}

	var nlink int
	if err := q.QueryRow(`SELECT nlink FROM files WHERE id = ?`, fileID).Scan(&nlink); err != nil {
		return err
	}
	if nlink <= 0 {
		_, err := q.Exec(`DELETE FROM files WHERE id = ?`, fileID)
		return err
	}
	return nil
}

// readBlob returns up to size bytes of a file's content starting at offset.
// SQLite's substr is 1-indexed, so the caller's 0-indexed offset is shifted
// by one here rather than at every call site.
func readBlob(q queryable, fileID int64, offset int64, size int) ([]byte, error) {
	var data []byte
	err := q.QueryRow(
		`SELECT substr(content, ?, ?) FROM files WHERE id = ?`,
		offset+1, size, fileID,
	).Scan(&data)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// writeBlob overwrites or extends a file's content starting at offset with
// data, via a single substr/concat UPDATE rather than round-tripping the
// whole blob through Go. A write that starts past the current end of file
// is padded with zero bytes first (this file system does not support
// sparse holes, so the pad is materialized). content and size are set by
// the same statement so a failure between them can never leave size out of
// sync with the blob it describes (invariant 5/3 in spec.md §8).
func writeBlob(q queryable, fileID int64, offset int64, data []byte) error {
	var size int64
	if err := q.QueryRow(`SELECT size FROM files WHERE id = ?`, fileID).Scan(&size); err != nil {
		return err
	}

	if offset > size {
		pad := make([]byte, offset-size)
		data = append(pad, data...)
		offset = size
	}

	const assembled = `CAST(substr(COALESCE(content, X''), 1, ?) || ? || substr(COALESCE(content, X''), ?) AS BLOB)`
	_, err := q.Exec(
		`UPDATE files
		 SET content = `+assembled+`,
		     size = length(`+assembled+`)
		 WHERE id = ?`,
		offset, data, offset+int64(len(data))+1,
		offset, data, offset+int64(len(data))+1,
		fileID,
	)
	return err
}

// truncateTo shrinks a file's content to newSize. Per the tested boundary
// behavior, requesting a size larger than the current size is a no-op: this
// file system never grows a file via truncate/ftruncate, only open-ended
// writes do that.
func truncateTo(q queryable, fileID int64, newSize int64) error {
	_, err := q.Exec(
		`UPDATE files SET content = substr(content, 1, ?), size = ?
		 WHERE id = ? AND size >= ?`,
		newSize, newSize, fileID, newSize,
	)
	return err
}
