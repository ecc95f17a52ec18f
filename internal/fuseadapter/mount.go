package fuseadapter

import (
	"context"
	"fmt"
	"runtime"

	bazilfuse "bazil.org/fuse"
	"github.com/sirupsen/logrus"
)

// MountConfig carries options accepted by Mount, passed through to
// bazil.org/fuse.
type MountConfig struct {
	// ReadOnly mounts the file system read-only (-o ro).
	ReadOnly bool

	// AllowOther lets users other than the one who issued the mount access
	// the file system (-o allow_other).
	AllowOther bool

	// FSName is reported to the kernel as the mount's "fsname" option, shown
	// by tools like `mount` and `df`.
	FSName string

	// Log receives per-request tracing when non-nil.
	Log *logrus.Entry
}

func (c *MountConfig) options() (opts []bazilfuse.MountOption) {
	opts = append(opts, bazilfuse.DefaultPermissions())

	if c.ReadOnly {
		opts = append(opts, bazilfuse.ReadOnly())
	}
	if c.AllowOther {
		opts = append(opts, bazilfuse.AllowOther())
	}
	if c.FSName != "" {
		opts = append(opts, bazilfuse.FSName(c.FSName))
	}

	if runtime.GOOS == "darwin" {
		opts = append(opts, bazilfuse.VolumeName(c.FSName))
	}

	return
}

// MountedFileSystem represents a live mount, returned by Mount once the
// kernel has acknowledged the connection.
type MountedFileSystem struct {
	dir string

	joinStatus          error
	joinStatusAvailable chan struct{}
}

// Dir returns the directory the file system is mounted on.
func (mfs *MountedFileSystem) Dir() string {
	return mfs.dir
}

// Join blocks until the file system has been unmounted, returning any error
// encountered while serving. It may be called more than once.
func (mfs *MountedFileSystem) Join(ctx context.Context) error {
	select {
	case <-mfs.joinStatusAvailable:
		return mfs.joinStatus
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Mount mounts fs at dir, blocking until the mount has been acknowledged by
// the kernel. Serving continues on a background goroutine; call Join to wait
// for unmount.
func Mount(dir string, fs FileSystem, config *MountConfig) (mfs *MountedFileSystem, err error) {
	if config == nil {
		config = &MountConfig{}
	}
	log := config.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	mfs = &MountedFileSystem{
		dir:                 dir,
		joinStatusAvailable: make(chan struct{}),
	}

	log.WithField("dir", dir).Info("mounting")
	conn, err := bazilfuse.Mount(dir, config.options()...)
	if err != nil {
		return nil, fmt.Errorf("fuseadapter: mount: %w", err)
	}

	srv := newServer(log, fs)

	go func() {
		mfs.joinStatus = srv.Serve(conn)
		if cerr := conn.Close(); cerr != nil && mfs.joinStatus == nil {
			mfs.joinStatus = cerr
		}
		close(mfs.joinStatusAvailable)
	}()

	select {
	case <-conn.Ready:
	case <-mfs.joinStatusAvailable:
	}
	if err = conn.MountError; err != nil {
		return nil, fmt.Errorf("fuseadapter: mount: %w", err)
	}

	return mfs, nil
}

// Unmount unmounts the file system mounted at dir.
func Unmount(dir string) error {
	return bazilfuse.Unmount(dir)
}
