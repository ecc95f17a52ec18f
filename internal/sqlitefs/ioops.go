package sqlitefs

// readFile reads up to size bytes of the file backing id starting at
// offset, clamping to the file's current size.
func readFile(q queryable, id int64, offset int64, size int) ([]byte, error) {
	pi, err := findPathByID(q, id)
	if err != nil {
		return nil, err
	}
	if pi.IsDir {
		return nil, ErrIsDir
	}
	if !pi.FileID.Valid {
		return nil, ErrIO
	}
	if offset >= int64(pi.Size) {
		return nil, nil
	}
	if remaining := int64(pi.Size) - offset; int64(size) > remaining {
		size = int(remaining)
	}
	return readBlob(q, pi.FileID.Int64, offset, size)
}

// writeFile writes data to the file backing id starting at offset, growing
// the file if the write extends past its current size, and touches mtime.
func writeFile(q queryable, now int64, id int64, offset int64, data []byte) error {
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
	if err := writeBlob(q, pi.FileID.Int64, offset, data); err != nil {
		return err
	}
	_, err = q.Exec(`UPDATE paths SET mtime = ?, ctime = ? WHERE id = ?`, now, now, id)
	return err
}
