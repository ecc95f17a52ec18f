// Package fuseadapter defines the upcall-facing interface a mountable file
// system must implement, along with the request/response types the kernel's
// FUSE callbacks are translated into before reaching it.
//
// Each operation gets its own request and response struct rather than a
// single reflection-dispatched op type, extended with Mknod, CreateSymlink,
// ReadSymlink, CreateLink, and Rename alongside the core lookup/attribute/
// read/write/directory operations. Embed NotImplementedFileSystem to
// inherit defaults (ENOSYS for most operations) for anything you don't
// implement.
package fuseadapter

import (
	"context"
	"os"
	"time"
)

// InodeID is a 64-bit number used to identify a file or directory in the
// file system. InodeID 1 is reserved for the root of the file system.
type InodeID uint64

// RootInodeID is fixed by convention; the kernel addresses the mount root
// with this value without ever calling LookUpInode for it.
const RootInodeID InodeID = 1

// HandleID identifies an open file or directory handle, minted by OpenFile
// or OpenDir and later echoed back by reads, writes and releases.
type HandleID uint64

// DirOffset is an opaque cookie identifying a position within the sequence
// of entries returned by ReadDir. A value of zero corresponds to the start
// of the stream.
type DirOffset uint64

// RequestHeader carries the identity of the process that issued a request.
type RequestHeader struct {
	Uid uint32
	Gid uint32
}

// InodeAttributes describes the metadata the kernel caches for an inode.
type InodeAttributes struct {
	Size  uint64
	Nlink uint32
	Mode  os.FileMode

	Atime time.Time
	Mtime time.Time
	Ctime time.Time

	Uid uint32
	Gid uint32
}

// ChildInodeEntry describes a newly looked-up or created child inode.
type ChildInodeEntry struct {
	Child                InodeID
	Generation           uint64
	Attributes           InodeAttributes
	AttributesExpiration time.Time
	EntryExpiration      time.Time
}

////////////////////////////////////////////////////////////////////////////
// Init
////////////////////////////////////////////////////////////////////////////

type InitRequest struct {
	Header RequestHeader
}

type InitResponse struct{}

////////////////////////////////////////////////////////////////////////////
// Inodes
////////////////////////////////////////////////////////////////////////////

type LookUpInodeRequest struct {
	Header RequestHeader
	Parent InodeID
	Name   string
}

type LookUpInodeResponse struct {
	Entry ChildInodeEntry
}

type GetInodeAttributesRequest struct {
	Header RequestHeader
	Inode  InodeID
}

type GetInodeAttributesResponse struct {
	Attributes           InodeAttributes
	AttributesExpiration time.Time
}

type SetInodeAttributesRequest struct {
	Header RequestHeader
	Inode  InodeID

	Size  *uint64
	Mode  *os.FileMode
	Atime *time.Time
	Mtime *time.Time
	Uid   *uint32
	Gid   *uint32
}

type SetInodeAttributesResponse struct {
	Attributes           InodeAttributes
	AttributesExpiration time.Time
}

type ForgetInodeRequest struct {
	Header RequestHeader
	Inode  InodeID
}

type ForgetInodeResponse struct{}

////////////////////////////////////////////////////////////////////////////
// Inode creation
////////////////////////////////////////////////////////////////////////////

type MkDirRequest struct {
	Header RequestHeader
	Parent InodeID
	Name   string
	Mode   os.FileMode
}

type MkDirResponse struct {
	Entry ChildInodeEntry
}

type CreateFileRequest struct {
	Header RequestHeader
	Parent InodeID
	Name   string
	Mode   os.FileMode
}

type CreateFileResponse struct {
	Entry  ChildInodeEntry
	Handle HandleID
}

// MkNodRequest creates a non-directory, non-symlink inode (a plain regular
// file created via mknod(2) rather than open(2) with O_CREAT).
type MkNodRequest struct {
	Header RequestHeader
	Parent InodeID
	Name   string
	Mode   os.FileMode
	Rdev   uint32
}

type MkNodResponse struct {
	Entry ChildInodeEntry
}

type CreateSymlinkRequest struct {
	Header RequestHeader
	Parent InodeID
	Name   string
	Target string
}

type CreateSymlinkResponse struct {
	Entry ChildInodeEntry
}

type CreateLinkRequest struct {
	Header RequestHeader
	Parent InodeID
	Name   string
	Target InodeID
}

type CreateLinkResponse struct {
	Entry ChildInodeEntry
}

////////////////////////////////////////////////////////////////////////////
// Inode destruction
////////////////////////////////////////////////////////////////////////////

type RmDirRequest struct {
	Header RequestHeader
	Parent InodeID
	Name   string
}

type RmDirResponse struct{}

type UnlinkRequest struct {
	Header RequestHeader
	Parent InodeID
	Name   string
}

type UnlinkResponse struct{}

////////////////////////////////////////////////////////////////////////////
// Renaming
////////////////////////////////////////////////////////////////////////////

type RenameRequest struct {
	Header  RequestHeader
	OldDir  InodeID
	OldName string
	NewDir  InodeID
	NewName string
}

type RenameResponse struct{}

////////////////////////////////////////////////////////////////////////////
// Symlinks
////////////////////////////////////////////////////////////////////////////

type ReadSymlinkRequest struct {
	Header RequestHeader
	Inode  InodeID
}

type ReadSymlinkResponse struct {
	Target string
}

////////////////////////////////////////////////////////////////////////////
// Directory handles
////////////////////////////////////////////////////////////////////////////

type OpenDirRequest struct {
	Header RequestHeader
	Inode  InodeID
}

type OpenDirResponse struct {
	Handle HandleID
}

type ReadDirRequest struct {
	Header RequestHeader
	Inode  InodeID
	Handle HandleID
	Offset DirOffset
	Size   int
}

type ReadDirResponse struct {
	Data []byte
}

type ReleaseDirHandleRequest struct {
	Header RequestHeader
	Handle HandleID
}

type ReleaseDirHandleResponse struct{}

////////////////////////////////////////////////////////////////////////////
// File handles
////////////////////////////////////////////////////////////////////////////

type OpenFileRequest struct {
	Header RequestHeader
	Inode  InodeID
}

type OpenFileResponse struct {
	Handle HandleID
}

type ReadFileRequest struct {
	Header RequestHeader
	Inode  InodeID
	Handle HandleID
	Offset int64
	Size   int
}

type ReadFileResponse struct {
	Data []byte
}

type WriteFileRequest struct {
	Header RequestHeader
	Inode  InodeID
	Handle HandleID
	Data   []byte
	Offset int64
}

type WriteFileResponse struct{}

type SyncFileRequest struct {
	Header RequestHeader
	Inode  InodeID
	Handle HandleID
}

type SyncFileResponse struct{}

type FlushFileRequest struct {
	Header RequestHeader
	Inode  InodeID
	Handle HandleID
}

type FlushFileResponse struct{}

type ReleaseFileHandleRequest struct {
	Header RequestHeader
	Handle HandleID
}

type ReleaseFileHandleResponse struct{}

////////////////////////////////////////////////////////////////////////////
// Misc
////////////////////////////////////////////////////////////////////////////

type StatFSRequest struct {
	Header RequestHeader
}

type StatFSResponse struct {
	Blocks     uint64
	BlocksFree uint64
	Files      uint64
	FilesFree  uint64
	BlockSize  uint32
	NameLen    uint32
}

// FileSystem must be implemented by anything mounted with Mount. Not all
// methods need an interesting implementation; embed NotImplementedFileSystem
// to inherit its defaults (ENOSYS for most operations) for the rest.
//
// Implementations must be safe for concurrent use: the server dispatches
// each request on its own goroutine.
type FileSystem interface {
	Init(ctx context.Context, req *InitRequest) (*InitResponse, error)

	LookUpInode(ctx context.Context, req *LookUpInodeRequest) (*LookUpInodeResponse, error)
	GetInodeAttributes(ctx context.Context, req *GetInodeAttributesRequest) (*GetInodeAttributesResponse, error)
	SetInodeAttributes(ctx context.Context, req *SetInodeAttributesRequest) (*SetInodeAttributesResponse, error)
	ForgetInode(ctx context.Context, req *ForgetInodeRequest) (*ForgetInodeResponse, error)

	MkDir(ctx context.Context, req *MkDirRequest) (*MkDirResponse, error)
	CreateFile(ctx context.Context, req *CreateFileRequest) (*CreateFileResponse, error)
	MkNod(ctx context.Context, req *MkNodRequest) (*MkNodResponse, error)
	CreateSymlink(ctx context.Context, req *CreateSymlinkRequest) (*CreateSymlinkResponse, error)
	CreateLink(ctx context.Context, req *CreateLinkRequest) (*CreateLinkResponse, error)

	RmDir(ctx context.Context, req *RmDirRequest) (*RmDirResponse, error)
	Unlink(ctx context.Context, req *UnlinkRequest) (*UnlinkResponse, error)
	Rename(ctx context.Context, req *RenameRequest) (*RenameResponse, error)
	ReadSymlink(ctx context.Context, req *ReadSymlinkRequest) (*ReadSymlinkResponse, error)

	OpenDir(ctx context.Context, req *OpenDirRequest) (*OpenDirResponse, error)
	ReadDir(ctx context.Context, req *ReadDirRequest) (*ReadDirResponse, error)
	ReleaseDirHandle(ctx context.Context, req *ReleaseDirHandleRequest) (*ReleaseDirHandleResponse, error)

	OpenFile(ctx context.Context, req *OpenFileRequest) (*OpenFileResponse, error)
	ReadFile(ctx context.Context, req *ReadFileRequest) (*ReadFileResponse, error)
	WriteFile(ctx context.Context, req *WriteFileRequest) (*WriteFileResponse, error)
	SyncFile(ctx context.Context, req *SyncFileRequest) (*SyncFileResponse, error)
	FlushFile(ctx context.Context, req *FlushFileRequest) (*FlushFileResponse, error)
	ReleaseFileHandle(ctx context.Context, req *ReleaseFileHandleRequest) (*ReleaseFileHandleResponse, error)

	StatFS(ctx context.Context, req *StatFSRequest) (*StatFSResponse, error)
}
