package fuseadapter

import "context"

// NotImplementedFileSystem can be embedded to inherit default responses,
// then overridden selectively. Init, ForgetInode, ReleaseDirHandle,
// SyncFile, FlushFile, ReleaseFileHandle and StatFS succeed with empty
// responses; every other method returns ENOSYS.
type NotImplementedFileSystem struct{}

var _ FileSystem = &NotImplementedFileSystem{}

func (fs *NotImplementedFileSystem) Init(ctx context.Context, req *InitRequest) (*InitResponse, error) {
	return &InitResponse{}, nil
}

func (fs *NotImplementedFileSystem) LookUpInode(ctx context.Context, req *LookUpInodeRequest) (*LookUpInodeResponse, error) {
	return nil, ENOSYS
}

func (fs *NotImplementedFileSystem) GetInodeAttributes(ctx context.Context, req *GetInodeAttributesRequest) (*GetInodeAttributesResponse, error) {
	return nil, ENOSYS
}

func (fs *NotImplementedFileSystem) SetInodeAttributes(ctx context.Context, req *SetInodeAttributesRequest) (*SetInodeAttributesResponse, error) {
	return nil, ENOSYS
}

func (fs *NotImplementedFileSystem) ForgetInode(ctx context.Context, req *ForgetInodeRequest) (*ForgetInodeResponse, error) {
	return &ForgetInodeResponse{}, nil
}

func (fs *NotImplementedFileSystem) MkDir(ctx context.Context, req *MkDirRequest) (*MkDirResponse, error) {
	return nil, ENOSYS
}

func (fs *NotImplementedFileSystem) CreateFile(ctx context.Context, req *CreateFileRequest) (*CreateFileResponse, error) {
	return nil, ENOSYS
}

func (fs *NotImplementedFileSystem) MkNod(ctx context.Context, req *MkNodRequest) (*MkNodResponse, error) {
	return nil, ENOSYS
}

func (fs *NotImplementedFileSystem) CreateSymlink(ctx context.Context, req *CreateSymlinkRequest) (*CreateSymlinkResponse, error) {
	return nil, ENOSYS
}

func (fs *NotImplementedFileSystem) CreateLink(ctx context.Context, req *CreateLinkRequest) (*CreateLinkResponse, error) {
	return nil, ENOSYS
}

func (fs *NotImplementedFileSystem) RmDir(ctx context.Context, req *RmDirRequest) (*RmDirResponse, error) {
	return nil, ENOSYS
}

func (fs *NotImplementedFileSystem) Unlink(ctx context.Context, req *UnlinkRequest) (*UnlinkResponse, error) {
	return nil, ENOSYS
}

func (fs *NotImplementedFileSystem) Rename(ctx context.Context, req *RenameRequest) (*RenameResponse, error) {
	return nil, ENOSYS
}

func (fs *NotImplementedFileSystem) ReadSymlink(ctx context.Context, req *ReadSymlinkRequest) (*ReadSymlinkResponse, error) {
	return nil, ENOSYS
}

func (fs *NotImplementedFileSystem) OpenDir(ctx context.Context, req *OpenDirRequest) (*OpenDirResponse, error) {
	return nil, ENOSYS
}

func (fs *NotImplementedFileSystem) ReadDir(ctx context.Context, req *ReadDirRequest) (*ReadDirResponse, error) {
	return nil, ENOSYS
}

func (fs *NotImplementedFileSystem) ReleaseDirHandle(ctx context.Context, req *ReleaseDirHandleRequest) (*ReleaseDirHandleResponse, error) {
	return &ReleaseDirHandleResponse{}, nil
}

func (fs *NotImplementedFileSystem) OpenFile(ctx context.Context, req *OpenFileRequest) (*OpenFileResponse, error) {
	return nil, ENOSYS
}

func (fs *NotImplementedFileSystem) ReadFile(ctx context.Context, req *ReadFileRequest) (*ReadFileResponse, error) {
	return nil, ENOSYS
}

func (fs *NotImplementedFileSystem) WriteFile(ctx context.Context, req *WriteFileRequest) (*WriteFileResponse, error) {
	return nil, ENOSYS
}

func (fs *NotImplementedFileSystem) SyncFile(ctx context.Context, req *SyncFileRequest) (*SyncFileResponse, error) {
	return &SyncFileResponse{}, nil
}

func (fs *NotImplementedFileSystem) FlushFile(ctx context.Context, req *FlushFileRequest) (*FlushFileResponse, error) {
	return &FlushFileResponse{}, nil
}

func (fs *NotImplementedFileSystem) ReleaseFileHandle(ctx context.Context, req *ReleaseFileHandleRequest) (*ReleaseFileHandleResponse, error) {
	return &ReleaseFileHandleResponse{}, nil
}

func (fs *NotImplementedFileSystem) StatFS(ctx context.Context, req *StatFSRequest) (*StatFSResponse, error) {
	return &StatFSResponse{}, nil
}
