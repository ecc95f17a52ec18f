package fuseadapter

import (
	"syscall"

	bazilfuse "bazil.org/fuse"
)

// Errno values that the server recognizes specially when returned by a
// FileSystem method. Any other error is reported to the kernel as EIO.
const (
	EIO       = bazilfuse.EIO
	ENOENT    = bazilfuse.ENOENT
	ENOSYS    = bazilfuse.ENOSYS
	EEXIST    = bazilfuse.Errno(syscall.EEXIST)
	ENOTDIR   = bazilfuse.Errno(syscall.ENOTDIR)
	EISDIR    = bazilfuse.Errno(syscall.EISDIR)
	EPERM     = bazilfuse.Errno(syscall.EPERM)
	ENOTEMPTY = bazilfuse.Errno(syscall.ENOTEMPTY)
)
