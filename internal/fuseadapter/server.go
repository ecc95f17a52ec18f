package fuseadapter

import (
	"context"
	"fmt"
	"io"
	"time"

	bazilfuse "bazil.org/fuse"
	"github.com/sirupsen/logrus"
)

// server relays kernel requests read from a bazil.org/fuse connection to a
// FileSystem, converting between wire types and the package's own
// request/response structs.
type server struct {
	log *logrus.Entry
	fs  FileSystem
}

func newServer(log *logrus.Entry, fs FileSystem) *server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &server{log: log, fs: fs}
}

// Serve reads requests from c until it reports EOF (the connection has been
// unmounted and closed), dispatching each to its own goroutine. The kernel
// guarantees to serialize operations that the user expects to happen in
// order, so processing concurrently is safe.
func (s *server) Serve(c *bazilfuse.Conn) error {
	for {
		req, err := c.ReadRequest()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("fuse: reading request: %w", err)
		}

		go s.handle(req)
	}
}

func convertExpirationTime(t time.Time) time.Duration {
	d := time.Until(t)
	if d < 0 {
		d = 0
	}
	return d
}

func convertHeader(in bazilfuse.Header) RequestHeader {
	return RequestHeader{Uid: in.Uid, Gid: in.Gid}
}

func convertAttributes(inode InodeID, attr InodeAttributes) bazilfuse.Attr {
	return bazilfuse.Attr{
		Inode: uint64(inode),
		Size:  attr.Size,
		Nlink: attr.Nlink,
		Mode:  attr.Mode,
		Atime: attr.Atime,
		Mtime: attr.Mtime,
		Ctime: attr.Ctime,
		Uid:   attr.Uid,
		Gid:   attr.Gid,
	}
}

func convertChildInodeEntry(in *ChildInodeEntry) bazilfuse.LookupResponse {
	var out bazilfuse.LookupResponse
	out.Node = bazilfuse.NodeID(in.Child)
	out.Generation = in.Generation
	out.Attr = convertAttributes(in.Child, in.Attributes)
	out.AttrValid = convertExpirationTime(in.AttributesExpiration)
	out.EntryValid = convertExpirationTime(in.EntryExpiration)
	return out
}

func (s *server) respondErr(req bazilfuse.Request, err error) {
	s.log.WithError(err).Debug("responding with error")
	req.RespondError(err)
}

func (s *server) handle(fuseReq bazilfuse.Request) {
	s.log.WithField("request", fuseReq).Debug("received")
	ctx := context.Background()

	switch typed := fuseReq.(type) {
	case *bazilfuse.InitRequest:
		req := &InitRequest{Header: convertHeader(typed.Header)}
		if _, err := s.fs.Init(ctx, req); err != nil {
			s.respondErr(typed, err)
			return
		}
		typed.Respond(&bazilfuse.InitResponse{})

	case *bazilfuse.StatfsRequest:
		req := &StatFSRequest{Header: convertHeader(typed.Header)}
		resp, err := s.fs.StatFS(ctx, req)
		if err != nil {
			s.respondErr(typed, err)
			return
		}
		typed.Respond(&bazilfuse.StatfsResponse{
			Blocks:  resp.Blocks,
			Bfree:   resp.BlocksFree,
			Bavail:  resp.BlocksFree,
			Files:   resp.Files,
			Ffree:   resp.FilesFree,
			Bsize:   resp.BlockSize,
			Namelen: resp.NameLen,
			Frsize:  resp.BlockSize,
		})

	case *bazilfuse.LookupRequest:
		req := &LookUpInodeRequest{
			Header: convertHeader(typed.Header),
			Parent: InodeID(typed.Header.Node),
			Name:   typed.Name,
		}
		resp, err := s.fs.LookUpInode(ctx, req)
		if err != nil {
			s.respondErr(typed, err)
			return
		}
		fuseResp := convertChildInodeEntry(&resp.Entry)
		typed.Respond(&fuseResp)

	case *bazilfuse.GetattrRequest:
		req := &GetInodeAttributesRequest{
			Header: convertHeader(typed.Header),
			Inode:  InodeID(typed.Header.Node),
		}
		resp, err := s.fs.GetInodeAttributes(ctx, req)
		if err != nil {
			s.respondErr(typed, err)
			return
		}
		typed.Respond(&bazilfuse.GetattrResponse{
			Attr:      convertAttributes(req.Inode, resp.Attributes),
			AttrValid: convertExpirationTime(resp.AttributesExpiration),
		})

	case *bazilfuse.SetattrRequest:
		req := &SetInodeAttributesRequest{
			Header: convertHeader(typed.Header),
			Inode:  InodeID(typed.Header.Node),
		}
		if typed.Valid&bazilfuse.SetattrSize != 0 {
			req.Size = &typed.Size
		}
		if typed.Valid&bazilfuse.SetattrMode != 0 {
			req.Mode = &typed.Mode
		}
		if typed.Valid&bazilfuse.SetattrAtime != 0 {
			req.Atime = &typed.Atime
		}
		if typed.Valid&bazilfuse.SetattrMtime != 0 {
			req.Mtime = &typed.Mtime
		}
		if typed.Valid&bazilfuse.SetattrUid != 0 {
			req.Uid = &typed.Uid
		}
		if typed.Valid&bazilfuse.SetattrGid != 0 {
			req.Gid = &typed.Gid
		}

		resp, err := s.fs.SetInodeAttributes(ctx, req)
		if err != nil {
			s.respondErr(typed, err)
			return
		}
		typed.Respond(&bazilfuse.SetattrResponse{
			Attr:      convertAttributes(req.Inode, resp.Attributes),
			AttrValid: convertExpirationTime(resp.AttributesExpiration),
		})

	case *bazilfuse.MkdirRequest:
		req := &MkDirRequest{
			Header: convertHeader(typed.Header),
			Parent: InodeID(typed.Header.Node),
			Name:   typed.Name,
			Mode:   typed.Mode,
		}
		resp, err := s.fs.MkDir(ctx, req)
		if err != nil {
			s.respondErr(typed, err)
			return
		}
		lookup := convertChildInodeEntry(&resp.Entry)
		typed.Respond(&bazilfuse.MkdirResponse{LookupResponse: lookup})

	case *bazilfuse.CreateRequest:
		req := &CreateFileRequest{
			Header: convertHeader(typed.Header),
			Parent: InodeID(typed.Header.Node),
			Name:   typed.Name,
			Mode:   typed.Mode,
		}
		resp, err := s.fs.CreateFile(ctx, req)
		if err != nil {
			s.respondErr(typed, err)
			return
		}
		lookup := convertChildInodeEntry(&resp.Entry)
		typed.Respond(&bazilfuse.CreateResponse{
			LookupResponse: lookup,
			OpenResponse:   bazilfuse.OpenResponse{Handle: bazilfuse.HandleID(resp.Handle)},
		})

	case *bazilfuse.MknodRequest:
		req := &MkNodRequest{
			Header: convertHeader(typed.Header),
			Parent: InodeID(typed.Header.Node),
			Name:   typed.Name,
			Mode:   typed.Mode,
			Rdev:   typed.Rdev,
		}
		resp, err := s.fs.MkNod(ctx, req)
		if err != nil {
			s.respondErr(typed, err)
			return
		}
		lookup := convertChildInodeEntry(&resp.Entry)
		typed.Respond(&lookup)

	case *bazilfuse.SymlinkRequest:
		req := &CreateSymlinkRequest{
			Header: convertHeader(typed.Header),
			Parent: InodeID(typed.Header.Node),
			Name:   typed.NewName,
			Target: typed.Target,
		}
		resp, err := s.fs.CreateSymlink(ctx, req)
		if err != nil {
			s.respondErr(typed, err)
			return
		}
		lookup := convertChildInodeEntry(&resp.Entry)
		typed.Respond(&lookup)

	case *bazilfuse.LinkRequest:
		req := &CreateLinkRequest{
			Header: convertHeader(typed.Header),
			Parent: InodeID(typed.Header.Node),
			Name:   typed.NewName,
			Target: InodeID(typed.OldNode),
		}
		resp, err := s.fs.CreateLink(ctx, req)
		if err != nil {
			s.respondErr(typed, err)
			return
		}
		lookup := convertChildInodeEntry(&resp.Entry)
		typed.Respond(&lookup)

	case *bazilfuse.ReadlinkRequest:
		req := &ReadSymlinkRequest{
			Header: convertHeader(typed.Header),
			Inode:  InodeID(typed.Header.Node),
		}
		resp, err := s.fs.ReadSymlink(ctx, req)
		if err != nil {
			s.respondErr(typed, err)
			return
		}
		typed.Respond(resp.Target)

	case *bazilfuse.RenameRequest:
		req := &RenameRequest{
			Header:  convertHeader(typed.Header),
			OldDir:  InodeID(typed.Header.Node),
			OldName: typed.OldName,
			NewDir:  InodeID(typed.NewDir),
			NewName: typed.NewName,
		}
		if _, err := s.fs.Rename(ctx, req); err != nil {
			s.respondErr(typed, err)
			return
		}
		typed.Respond()

	case *bazilfuse.RemoveRequest:
		if typed.Dir {
			req := &RmDirRequest{
				Header: convertHeader(typed.Header),
				Parent: InodeID(typed.Header.Node),
				Name:   typed.Name,
			}
			if _, err := s.fs.RmDir(ctx, req); err != nil {
				s.respondErr(typed, err)
				return
			}
		} else {
			req := &UnlinkRequest{
				Header: convertHeader(typed.Header),
				Parent: InodeID(typed.Header.Node),
				Name:   typed.Name,
			}
			if _, err := s.fs.Unlink(ctx, req); err != nil {
				s.respondErr(typed, err)
				return
			}
		}
		typed.Respond()

	case *bazilfuse.OpenRequest:
		if typed.Dir {
			req := &OpenDirRequest{Header: convertHeader(typed.Header), Inode: InodeID(typed.Header.Node)}
			resp, err := s.fs.OpenDir(ctx, req)
			if err != nil {
				s.respondErr(typed, err)
				return
			}
			typed.Respond(&bazilfuse.OpenResponse{Handle: bazilfuse.HandleID(resp.Handle)})
		} else {
			req := &OpenFileRequest{Header: convertHeader(typed.Header), Inode: InodeID(typed.Header.Node)}
			resp, err := s.fs.OpenFile(ctx, req)
			if err != nil {
				s.respondErr(typed, err)
				return
			}
			typed.Respond(&bazilfuse.OpenResponse{Handle: bazilfuse.HandleID(resp.Handle)})
		}

	case *bazilfuse.ReadRequest:
		if typed.Dir {
			req := &ReadDirRequest{
				Header: convertHeader(typed.Header),
				Inode:  InodeID(typed.Header.Node),
				Handle: HandleID(typed.Handle),
				Offset: DirOffset(typed.Offset),
				Size:   typed.Size,
			}
			resp, err := s.fs.ReadDir(ctx, req)
			if err != nil {
				s.respondErr(typed, err)
				return
			}
			typed.Respond(&bazilfuse.ReadResponse{Data: resp.Data})
		} else {
			req := &ReadFileRequest{
				Header: convertHeader(typed.Header),
				Inode:  InodeID(typed.Header.Node),
				Handle: HandleID(typed.Handle),
				Offset: typed.Offset,
				Size:   typed.Size,
			}
			resp, err := s.fs.ReadFile(ctx, req)
			if err != nil {
				s.respondErr(typed, err)
				return
			}
			typed.Respond(&bazilfuse.ReadResponse{Data: resp.Data})
		}

	case *bazilfuse.ReleaseRequest:
		if typed.Dir {
			req := &ReleaseDirHandleRequest{Header: convertHeader(typed.Header), Handle: HandleID(typed.Handle)}
			if _, err := s.fs.ReleaseDirHandle(ctx, req); err != nil {
				s.respondErr(typed, err)
				return
			}
		} else {
			req := &ReleaseFileHandleRequest{Header: convertHeader(typed.Header), Handle: HandleID(typed.Handle)}
			if _, err := s.fs.ReleaseFileHandle(ctx, req); err != nil {
				s.respondErr(typed, err)
				return
			}
		}
		typed.Respond()

	case *bazilfuse.WriteRequest:
		req := &WriteFileRequest{
			Header: convertHeader(typed.Header),
			Inode:  InodeID(typed.Header.Node),
			Handle: HandleID(typed.Handle),
			Data:   typed.Data,
			Offset: typed.Offset,
		}
		if _, err := s.fs.WriteFile(ctx, req); err != nil {
			s.respondErr(typed, err)
			return
		}
		typed.Respond(&bazilfuse.WriteResponse{Size: len(typed.Data)})

	case *bazilfuse.FsyncRequest:
		req := &SyncFileRequest{
			Header: convertHeader(typed.Header),
			Inode:  InodeID(typed.Header.Node),
			Handle: HandleID(typed.Handle),
		}
		if _, err := s.fs.SyncFile(ctx, req); err != nil {
			s.respondErr(typed, err)
			return
		}
		typed.Respond()

	case *bazilfuse.FlushRequest:
		req := &FlushFileRequest{
			Header: convertHeader(typed.Header),
			Inode:  InodeID(typed.Header.Node),
			Handle: HandleID(typed.Handle),
		}
		if _, err := s.fs.FlushFile(ctx, req); err != nil {
			s.respondErr(typed, err)
			return
		}
		typed.Respond()

	default:
		s.log.WithField("request", fuseReq).Debug("unhandled op, returning ENOSYS")
		typed.RespondError(ENOSYS)
	}
}
