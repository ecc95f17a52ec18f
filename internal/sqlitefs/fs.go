// Package sqlitefs implements a POSIX-like file system whose entire state
// -- directory tree, metadata, file content, symlink targets -- lives as
// rows in a SQLite database, fronted by the fuseadapter upcall interface.
package sqlitefs

import (
	"context"
	"time"

	"github.com/jacobsa/reqtrace"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/sqlitefs/sqlitefs/internal/fuseadapter"
	"github.com/sqlitefs/sqlitefs/internal/store"
)

// FS implements fuseadapter.FileSystem against a Store. File handles and
// directory handles are not separate resources: a file handle is the id of
// the files row it names, and a directory handle is the id of the paths
// row it names (0 for root), so Open/Release are pure validation.
type FS struct {
	fuseadapter.NotImplementedFileSystem

	store *store.Store
	log   *logrus.Entry
}

// New constructs an FS backed by s.
func New(s *store.Store, log *logrus.Entry) *FS {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &FS{store: s, log: log}
}

func attrsFromInfo(pi *PathInfo) fuseadapter.InodeAttributes {
	nlink := uint32(1)
	if !pi.IsDir {
		nlink = pi.Nlink
		if nlink == 0 {
			nlink = 1
		}
	}
	return fuseadapter.InodeAttributes{
		Size:  pi.Size,
		Nlink: nlink,
		Mode:  modeToFileMode(pi.Mode),
		Atime: time.Unix(pi.Atime, 0),
		Mtime: time.Unix(pi.Mtime, 0),
		Ctime: time.Unix(pi.Ctime, 0),
		Uid:   pi.Uid,
		Gid:   pi.Gid,
	}
}

func childEntry(pi *PathInfo) fuseadapter.ChildInodeEntry {
	return fuseadapter.ChildInodeEntry{
		Child:      fuseadapter.InodeID(pathIDToInode(pi.ID)),
		Generation: 1,
		Attributes: attrsFromInfo(pi),
	}
}

// withTx runs fn inside a database transaction, committing on success and
// rolling back on error. Used for the multi-statement operations
// (mknod, symlink, link, unlink, rename) that must be atomic.
func (fs *FS) withTx(fn func(q queryable) error) error {
	tx, err := fs.store.DB().Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (fs *FS) Init(ctx context.Context, req *fuseadapter.InitRequest) (*fuseadapter.InitResponse, error) {
	return &fuseadapter.InitResponse{}, nil
}

func (fs *FS) StatFS(ctx context.Context, req *fuseadapter.StatFSRequest) (*fuseadapter.StatFSResponse, error) {
	fs.store.Lock()
	defer fs.store.Unlock()

	var n int64
	if err := fs.store.QueryRow(`SELECT count(*) FROM paths`).Scan(&n); err != nil {
		return nil, AsErrno(err)
	}

	resp := &fuseadapter.StatFSResponse{
		Files:     uint64(n) + 1,
		FilesFree: 1 << 20,
		BlockSize: 4096,
		NameLen:   255,
	}

	// Report the capacity of the volume actually holding the database file,
	// rather than a fabricated number, when the store is backed by a real
	// path (tests may use an in-memory database, for which this is moot).
	var statfs unix.Statfs_t
	if path := fs.store.Path(); path != "" && unix.Statfs(path, &statfs) == nil {
		resp.BlockSize = uint32(statfs.Bsize)
		resp.Blocks = uint64(statfs.Blocks)
		resp.BlocksFree = uint64(statfs.Bavail)
	} else {
		resp.Blocks = 1 << 24
		resp.BlocksFree = 1 << 20
	}

	return resp, nil
}

func (fs *FS) LookUpInode(ctx context.Context, req *fuseadapter.LookUpInodeRequest) (resp *fuseadapter.LookUpInodeResponse, err error) {
	_, report := reqtrace.StartSpan(ctx, "sqlitefs.LookUpInode")
	defer func() { report(err) }()

	fs.store.Lock()
	defer fs.store.Unlock()

	pi, err := lookupChild(fs.store, inodeToPathID(uint64(req.Parent)), req.Name)
	if err != nil {
		return nil, AsErrno(err)
	}
	return &fuseadapter.LookUpInodeResponse{Entry: childEntry(pi)}, nil
}

func (fs *FS) GetInodeAttributes(ctx context.Context, req *fuseadapter.GetInodeAttributesRequest) (*fuseadapter.GetInodeAttributesResponse, error) {
	fs.store.Lock()
	defer fs.store.Unlock()

	pi, err := findPathByID(fs.store, inodeToPathID(uint64(req.Inode)))
	if err != nil {
		return nil, AsErrno(err)
	}
	return &fuseadapter.GetInodeAttributesResponse{Attributes: attrsFromInfo(pi)}, nil
}

func (fs *FS) SetInodeAttributes(ctx context.Context, req *fuseadapter.SetInodeAttributesRequest) (*fuseadapter.SetInodeAttributesResponse, error) {
	fs.store.Lock()
	defer fs.store.Unlock()

	id := inodeToPathID(uint64(req.Inode))
	now := fs.store.Now()

	if req.Mode != nil {
		if err := setMode(fs.store, now, id, req.Mode.Perm()); err != nil {
			return nil, AsErrno(err)
		}
	}
	if req.Uid != nil || req.Gid != nil {
		pi, err := findPathByID(fs.store, id)
		if err != nil {
			return nil, AsErrno(err)
		}
		uid, gid := pi.Uid, pi.Gid
		if req.Uid != nil {
			uid = *req.Uid
		}
		if req.Gid != nil {
			gid = *req.Gid
		}
		if err := setOwner(fs.store, now, id, uid, gid); err != nil {
			return nil, AsErrno(err)
		}
	}
	if req.Atime != nil || req.Mtime != nil {
		var a, m *int64
		if req.Atime != nil {
			v := req.Atime.Unix()
			a = &v
		}
		if req.Mtime != nil {
			v := req.Mtime.Unix()
			m = &v
		}
		if err := setTimes(fs.store, id, a, m); err != nil {
			return nil, AsErrno(err)
		}
	}
	if req.Size != nil {
		if err := truncateFile(fs.store, now, id, *req.Size); err != nil {
			return nil, AsErrno(err)
		}
	}

	pi, err := findPathByID(fs.store, id)
	if err != nil {
		return nil, AsErrno(err)
	}
	return &fuseadapter.SetInodeAttributesResponse{Attributes: attrsFromInfo(pi)}, nil
}

func (fs *FS) ForgetInode(ctx context.Context, req *fuseadapter.ForgetInodeRequest) (*fuseadapter.ForgetInodeResponse, error) {
	return &fuseadapter.ForgetInodeResponse{}, nil
}

func (fs *FS) MkDir(ctx context.Context, req *fuseadapter.MkDirRequest) (*fuseadapter.MkDirResponse, error) {
	fs.store.Lock()
	defer fs.store.Unlock()

	pi, err := mkdir(fs.store, fs.store.Now(), inodeToPathID(uint64(req.Parent)), req.Name, req.Mode.Perm(), req.Header.Uid, req.Header.Gid)
	if err != nil {
		return nil, AsErrno(err)
	}
	return &fuseadapter.MkDirResponse{Entry: childEntry(pi)}, nil
}

func (fs *FS) CreateFile(ctx context.Context, req *fuseadapter.CreateFileRequest) (*fuseadapter.CreateFileResponse, error) {
	var pi *PathInfo
	err := fs.withTxLocked(func(q queryable) (err error) {
		pi, err = mkNod(q, fs.store.Now(), inodeToPathID(uint64(req.Parent)), req.Name, req.Mode.Perm(), req.Header.Uid, req.Header.Gid, 0)
		return err
	})
	if err != nil {
		return nil, AsErrno(err)
	}
	return &fuseadapter.CreateFileResponse{
		Entry:  childEntry(pi),
		Handle: fuseadapter.HandleID(pi.FileID.Int64),
	}, nil
}

func (fs *FS) MkNod(ctx context.Context, req *fuseadapter.MkNodRequest) (*fuseadapter.MkNodResponse, error) {
	var pi *PathInfo
	err := fs.withTxLocked(func(q queryable) (err error) {
		pi, err = mkNod(q, fs.store.Now(), inodeToPathID(uint64(req.Parent)), req.Name, req.Mode.Perm(), req.Header.Uid, req.Header.Gid, int64(req.Rdev))
		return err
	})
	if err != nil {
		return nil, AsErrno(err)
	}
	return &fuseadapter.MkNodResponse{Entry: childEntry(pi)}, nil
}

func (fs *FS) CreateSymlink(ctx context.Context, req *fuseadapter.CreateSymlinkRequest) (*fuseadapter.CreateSymlinkResponse, error) {
	var pi *PathInfo
	err := fs.withTxLocked(func(q queryable) (err error) {
		pi, err = createSymlink(q, fs.store.Now(), inodeToPathID(uint64(req.Parent)), req.Name, req.Target, req.Header.Uid, req.Header.Gid)
		return err
	})
	if err != nil {
		return nil, AsErrno(err)
	}
	return &fuseadapter.CreateSymlinkResponse{Entry: childEntry(pi)}, nil
}

func (fs *FS) CreateLink(ctx context.Context, req *fuseadapter.CreateLinkRequest) (*fuseadapter.CreateLinkResponse, error) {
	var pi *PathInfo
	err := fs.withTxLocked(func(q queryable) (err error) {
		pi, err = createLink(q, fs.store.Now(), inodeToPathID(uint64(req.Parent)), req.Name, inodeToPathID(uint64(req.Target)))
		return err
	})
	if err != nil {
		return nil, AsErrno(err)
	}
	return &fuseadapter.CreateLinkResponse{Entry: childEntry(pi)}, nil
}

func (fs *FS) RmDir(ctx context.Context, req *fuseadapter.RmDirRequest) (*fuseadapter.RmDirResponse, error) {
	fs.store.Lock()
	defer fs.store.Unlock()

	if err := rmdir(fs.store, inodeToPathID(uint64(req.Parent)), req.Name); err != nil {
		return nil, AsErrno(err)
	}
	return &fuseadapter.RmDirResponse{}, nil
}

func (fs *FS) Unlink(ctx context.Context, req *fuseadapter.UnlinkRequest) (*fuseadapter.UnlinkResponse, error) {
	err := fs.withTxLocked(func(q queryable) error {
		return unlink(q, inodeToPathID(uint64(req.Parent)), req.Name)
	})
	if err != nil {
		return nil, AsErrno(err)
	}
	return &fuseadapter.UnlinkResponse{}, nil
}

func (fs *FS) Rename(ctx context.Context, req *fuseadapter.RenameRequest) (*fuseadapter.RenameResponse, error) {
	err := fs.withTxLocked(func(q queryable) error {
		return rename(q,
			inodeToPathID(uint64(req.OldDir)), req.OldName,
			inodeToPathID(uint64(req.NewDir)), req.NewName,
		)
	})
	if err != nil {
		return nil, AsErrno(err)
	}
	return &fuseadapter.RenameResponse{}, nil
}

func (fs *FS) ReadSymlink(ctx context.Context, req *fuseadapter.ReadSymlinkRequest) (*fuseadapter.ReadSymlinkResponse, error) {
	fs.store.Lock()
	defer fs.store.Unlock()

	target, err := readSymlink(fs.store, inodeToPathID(uint64(req.Inode)))
	if err != nil {
		return nil, AsErrno(err)
	}
	return &fuseadapter.ReadSymlinkResponse{Target: target}, nil
}

func (fs *FS) OpenDir(ctx context.Context, req *fuseadapter.OpenDirRequest) (*fuseadapter.OpenDirResponse, error) {
	fs.store.Lock()
	defer fs.store.Unlock()

	id := inodeToPathID(uint64(req.Inode))
	pi, err := findPathByID(fs.store, id)
	if err != nil {
		return nil, AsErrno(err)
	}
	if !pi.IsDir {
		return nil, AsErrno(ErrNotDir)
	}
	return &fuseadapter.OpenDirResponse{Handle: fuseadapter.HandleID(id)}, nil
}

func (fs *FS) ReadDir(ctx context.Context, req *fuseadapter.ReadDirRequest) (*fuseadapter.ReadDirResponse, error) {
	fs.store.Lock()
	defer fs.store.Unlock()

	data, err := readdir(fs.store, int64(req.Handle), uint64(req.Offset), req.Size)
	if err != nil {
		return nil, AsErrno(err)
	}
	return &fuseadapter.ReadDirResponse{Data: data}, nil
}

func (fs *FS) ReleaseDirHandle(ctx context.Context, req *fuseadapter.ReleaseDirHandleRequest) (*fuseadapter.ReleaseDirHandleResponse, error) {
	return &fuseadapter.ReleaseDirHandleResponse{}, nil
}

func (fs *FS) OpenFile(ctx context.Context, req *fuseadapter.OpenFileRequest) (*fuseadapter.OpenFileResponse, error) {
	fs.store.Lock()
	defer fs.store.Unlock()

	id := inodeToPathID(uint64(req.Inode))
	pi, err := findPathByID(fs.store, id)
	if err != nil {
		return nil, AsErrno(err)
	}
	if pi.IsDir {
		return nil, AsErrno(ErrIsDir)
	}
	return &fuseadapter.OpenFileResponse{Handle: fuseadapter.HandleID(pi.FileID.Int64)}, nil
}

func (fs *FS) ReadFile(ctx context.Context, req *fuseadapter.ReadFileRequest) (*fuseadapter.ReadFileResponse, error) {
	fs.store.Lock()
	defer fs.store.Unlock()

	data, err := readFile(fs.store, inodeToPathID(uint64(req.Inode)), req.Offset, req.Size)
	if err != nil {
		return nil, AsErrno(err)
	}
	return &fuseadapter.ReadFileResponse{Data: data}, nil
}

func (fs *FS) WriteFile(ctx context.Context, req *fuseadapter.WriteFileRequest) (*fuseadapter.WriteFileResponse, error) {
	err := fs.withTxLocked(func(q queryable) error {
		return writeFile(q, fs.store.Now(), inodeToPathID(uint64(req.Inode)), req.Offset, req.Data)
	})
	if err != nil {
		return nil, AsErrno(err)
	}
	return &fuseadapter.WriteFileResponse{}, nil
}

func (fs *FS) SyncFile(ctx context.Context, req *fuseadapter.SyncFileRequest) (*fuseadapter.SyncFileResponse, error) {
	return &fuseadapter.SyncFileResponse{}, nil
}

func (fs *FS) FlushFile(ctx context.Context, req *fuseadapter.FlushFileRequest) (*fuseadapter.FlushFileResponse, error) {
	return &fuseadapter.FlushFileResponse{}, nil
}

func (fs *FS) ReleaseFileHandle(ctx context.Context, req *fuseadapter.ReleaseFileHandleRequest) (*fuseadapter.ReleaseFileHandleResponse, error) {
	return &fuseadapter.ReleaseFileHandleResponse{}, nil
}

// withTxLocked holds the store lock for the duration of a transaction. The
// connection pool is already capped at one connection, but the explicit
// lock keeps every operation -- transactional or not -- serialized through
// the same discipline.
func (fs *FS) withTxLocked(fn func(q queryable) error) error {
	fs.store.Lock()
	defer fs.store.Unlock()
	return fs.withTx(fn)
}
