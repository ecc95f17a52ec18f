package sqlitefs

import (
	"context"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/sqlitefs/sqlitefs/internal/fuseadapter"
	"github.com/sqlitefs/sqlitefs/internal/store"
)

func newTestFS(t *testing.T) *FS {
	t.Helper()

	dir := t.TempDir()
	st, err := store.Open(dir+"/test.db", logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return New(st, nil)
}

func mustLookUp(t *testing.T, fs *FS, parent fuseadapter.InodeID, name string) *fuseadapter.ChildInodeEntry {
	t.Helper()
	resp, err := fs.LookUpInode(context.Background(), &fuseadapter.LookUpInodeRequest{
		Parent: parent,
		Name:   name,
	})
	require.NoError(t, err)
	return &resp.Entry
}

func TestMkDirAndLookUp(t *testing.T) {
	fs := newTestFS(t)
	ctx := context.Background()

	mkResp, err := fs.MkDir(ctx, &fuseadapter.MkDirRequest{
		Parent: fuseadapter.RootInodeID,
		Name:   "sub",
		Mode:   0755,
	})
	require.NoError(t, err)
	require.True(t, mkResp.Entry.Attributes.Mode.IsDir())

	entry := mustLookUp(t, fs, fuseadapter.RootInodeID, "sub")
	require.Equal(t, mkResp.Entry.Child, entry.Child)

	_, err = fs.LookUpInode(ctx, &fuseadapter.LookUpInodeRequest{Parent: fuseadapter.RootInodeID, Name: "missing"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMkDirDuplicateNameFails(t *testing.T) {
	fs := newTestFS(t)
	ctx := context.Background()

	req := &fuseadapter.MkDirRequest{Parent: fuseadapter.RootInodeID, Name: "dup", Mode: 0755}
	_, err := fs.MkDir(ctx, req)
	require.NoError(t, err)

	_, err = fs.MkDir(ctx, req)
	require.ErrorIs(t, err, ErrExists)
}

func TestRmDirRejectsNonEmpty(t *testing.T) {
	fs := newTestFS(t)
	ctx := context.Background()

	mkResp, err := fs.MkDir(ctx, &fuseadapter.MkDirRequest{Parent: fuseadapter.RootInodeID, Name: "d", Mode: 0755})
	require.NoError(t, err)

	_, err = fs.MkDir(ctx, &fuseadapter.MkDirRequest{Parent: mkResp.Entry.Child, Name: "child", Mode: 0755})
	require.NoError(t, err)

	_, err = fs.RmDir(ctx, &fuseadapter.RmDirRequest{Parent: fuseadapter.RootInodeID, Name: "d"})
	require.ErrorIs(t, err, ErrNotEmpty)
}

func TestCreateWriteReadRoundTrip(t *testing.T) {
	fs := newTestFS(t)
	ctx := context.Background()

	createResp, err := fs.CreateFile(ctx, &fuseadapter.CreateFileRequest{
		Parent: fuseadapter.RootInodeID,
		Name:   "hello.txt",
		Mode:   0644,
	})
	require.NoError(t, err)

	inode := createResp.Entry.Child
	payload := []byte("hello, world")

	_, err = fs.WriteFile(ctx, &fuseadapter.WriteFileRequest{Inode: inode, Offset: 0, Data: payload})
	require.NoError(t, err)

	readResp, err := fs.ReadFile(ctx, &fuseadapter.ReadFileRequest{Inode: inode, Offset: 0, Size: 1024})
	require.NoError(t, err)
	require.Equal(t, payload, readResp.Data)

	attrResp, err := fs.GetInodeAttributes(ctx, &fuseadapter.GetInodeAttributesRequest{Inode: inode})
	require.NoError(t, err)
	require.EqualValues(t, len(payload), attrResp.Attributes.Size)
}

func TestWritePastEndOfFilePadsWithZeroes(t *testing.T) {
	fs := newTestFS(t)
	ctx := context.Background()

	createResp, err := fs.CreateFile(ctx, &fuseadapter.CreateFileRequest{Parent: fuseadapter.RootInodeID, Name: "f", Mode: 0644})
	require.NoError(t, err)
	inode := createResp.Entry.Child

	_, err = fs.WriteFile(ctx, &fuseadapter.WriteFileRequest{Inode: inode, Offset: 4, Data: []byte("xy")})
	require.NoError(t, err)

	readResp, err := fs.ReadFile(ctx, &fuseadapter.ReadFileRequest{Inode: inode, Offset: 0, Size: 1024})
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0, 0, 'x', 'y'}, readResp.Data)
}

func TestTruncateShrinkRewritesContent(t *testing.T) {
	fs := newTestFS(t)
	ctx := context.Background()

	createResp, err := fs.CreateFile(ctx, &fuseadapter.CreateFileRequest{Parent: fuseadapter.RootInodeID, Name: "f", Mode: 0644})
	require.NoError(t, err)
	inode := createResp.Entry.Child

	_, err = fs.WriteFile(ctx, &fuseadapter.WriteFileRequest{Inode: inode, Offset: 0, Data: []byte("abcdef")})
	require.NoError(t, err)

	newSize := uint64(3)
	_, err = fs.SetInodeAttributes(ctx, &fuseadapter.SetInodeAttributesRequest{Inode: inode, Size: &newSize})
	require.NoError(t, err)

	readResp, err := fs.ReadFile(ctx, &fuseadapter.ReadFileRequest{Inode: inode, Offset: 0, Size: 1024})
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), readResp.Data)

	// Growing via truncate is a documented no-op: writes are the only way to
	// extend a file.
	bigger := uint64(100)
	_, err = fs.SetInodeAttributes(ctx, &fuseadapter.SetInodeAttributesRequest{Inode: inode, Size: &bigger})
	require.NoError(t, err)

	attrResp, err := fs.GetInodeAttributes(ctx, &fuseadapter.GetInodeAttributesRequest{Inode: inode})
	require.NoError(t, err)
	require.EqualValues(t, 3, attrResp.Attributes.Size)
}

func TestChmodReplacesPermissionBitsNotOr(t *testing.T) {
	fs := newTestFS(t)
	ctx := context.Background()

	createResp, err := fs.CreateFile(ctx, &fuseadapter.CreateFileRequest{Parent: fuseadapter.RootInodeID, Name: "f", Mode: 0644})
	require.NoError(t, err)
	inode := createResp.Entry.Child

	mode := os.FileMode(0600)
	_, err = fs.SetInodeAttributes(ctx, &fuseadapter.SetInodeAttributesRequest{Inode: inode, Mode: &mode})
	require.NoError(t, err)

	attrResp, err := fs.GetInodeAttributes(ctx, &fuseadapter.GetInodeAttributesRequest{Inode: inode})
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), attrResp.Attributes.Mode.Perm())
}

func TestHardLinkSharesContentAndIncrementsNlink(t *testing.T) {
	fs := newTestFS(t)
	ctx := context.Background()

	createResp, err := fs.CreateFile(ctx, &fuseadapter.CreateFileRequest{Parent: fuseadapter.RootInodeID, Name: "a", Mode: 0644})
	require.NoError(t, err)
	a := createResp.Entry.Child

	_, err = fs.WriteFile(ctx, &fuseadapter.WriteFileRequest{Inode: a, Offset: 0, Data: []byte("shared")})
	require.NoError(t, err)

	linkResp, err := fs.CreateLink(ctx, &fuseadapter.CreateLinkRequest{Parent: fuseadapter.RootInodeID, Name: "b", Target: a})
	require.NoError(t, err)
	require.EqualValues(t, 2, linkResp.Entry.Attributes.Nlink)

	readB, err := fs.ReadFile(ctx, &fuseadapter.ReadFileRequest{Inode: linkResp.Entry.Child, Offset: 0, Size: 1024})
	require.NoError(t, err)
	require.Equal(t, []byte("shared"), readB.Data)

	_, err = fs.Unlink(ctx, &fuseadapter.UnlinkRequest{Parent: fuseadapter.RootInodeID, Name: "a"})
	require.NoError(t, err)

	readBAgain, err := fs.ReadFile(ctx, &fuseadapter.ReadFileRequest{Inode: linkResp.Entry.Child, Offset: 0, Size: 1024})
	require.NoError(t, err)
	require.Equal(t, []byte("shared"), readBAgain.Data)
}

func TestUnlinkLastLinkDeletesFile(t *testing.T) {
	fs := newTestFS(t)
	ctx := context.Background()

	_, err := fs.CreateFile(ctx, &fuseadapter.CreateFileRequest{Parent: fuseadapter.RootInodeID, Name: "a", Mode: 0644})
	require.NoError(t, err)

	var before int
	fs.store.Lock()
	require.NoError(t, fs.store.QueryRow(`SELECT count(*) FROM files`).Scan(&before))
	fs.store.Unlock()

	_, err = fs.Unlink(ctx, &fuseadapter.UnlinkRequest{Parent: fuseadapter.RootInodeID, Name: "a"})
	require.NoError(t, err)

	_, err = fs.LookUpInode(ctx, &fuseadapter.LookUpInodeRequest{Parent: fuseadapter.RootInodeID, Name: "a"})
	require.ErrorIs(t, err, ErrNotFound)

	var after int
	fs.store.Lock()
	require.NoError(t, fs.store.QueryRow(`SELECT count(*) FROM files`).Scan(&after))
	fs.store.Unlock()
	require.Equal(t, before-1, after)
}

func TestRenameMovesAndOverwritesFile(t *testing.T) {
	fs := newTestFS(t)
	ctx := context.Background()

	_, err := fs.CreateFile(ctx, &fuseadapter.CreateFileRequest{Parent: fuseadapter.RootInodeID, Name: "src", Mode: 0644})
	require.NoError(t, err)
	_, err = fs.CreateFile(ctx, &fuseadapter.CreateFileRequest{Parent: fuseadapter.RootInodeID, Name: "dst", Mode: 0644})
	require.NoError(t, err)

	_, err = fs.Rename(ctx, &fuseadapter.RenameRequest{
		OldDir: fuseadapter.RootInodeID, OldName: "src",
		NewDir: fuseadapter.RootInodeID, NewName: "dst",
	})
	require.NoError(t, err)

	_, err = fs.LookUpInode(ctx, &fuseadapter.LookUpInodeRequest{Parent: fuseadapter.RootInodeID, Name: "src"})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = fs.LookUpInode(ctx, &fuseadapter.LookUpInodeRequest{Parent: fuseadapter.RootInodeID, Name: "dst"})
	require.NoError(t, err)
}

func TestRenameNonEmptyDirectoryRejected(t *testing.T) {
	fs := newTestFS(t)
	ctx := context.Background()

	mkResp, err := fs.MkDir(ctx, &fuseadapter.MkDirRequest{Parent: fuseadapter.RootInodeID, Name: "d1", Mode: 0755})
	require.NoError(t, err)
	_, err = fs.MkDir(ctx, &fuseadapter.MkDirRequest{Parent: mkResp.Entry.Child, Name: "child", Mode: 0755})
	require.NoError(t, err)

	_, err = fs.MkDir(ctx, &fuseadapter.MkDirRequest{Parent: fuseadapter.RootInodeID, Name: "d2", Mode: 0755})
	require.NoError(t, err)

	_, err = fs.Rename(ctx, &fuseadapter.RenameRequest{
		OldDir: fuseadapter.RootInodeID, OldName: "d1",
		NewDir: fuseadapter.RootInodeID, NewName: "d2",
	})
	require.ErrorIs(t, err, ErrNotEmpty)
}

func TestSymlinkCreateAndRead(t *testing.T) {
	fs := newTestFS(t)
	ctx := context.Background()

	resp, err := fs.CreateSymlink(ctx, &fuseadapter.CreateSymlinkRequest{
		Parent: fuseadapter.RootInodeID,
		Name:   "link",
		Target: "/hello.txt",
	})
	require.NoError(t, err)
	require.True(t, resp.Entry.Attributes.Mode&os.ModeSymlink != 0)

	readResp, err := fs.ReadSymlink(ctx, &fuseadapter.ReadSymlinkRequest{Inode: resp.Entry.Child})
	require.NoError(t, err)
	require.Equal(t, "/hello.txt", readResp.Target)
}

func TestReadDirListsDotAndChildren(t *testing.T) {
	fs := newTestFS(t)
	ctx := context.Background()

	_, err := fs.MkDir(ctx, &fuseadapter.MkDirRequest{Parent: fuseadapter.RootInodeID, Name: "a", Mode: 0755})
	require.NoError(t, err)
	_, err = fs.CreateFile(ctx, &fuseadapter.CreateFileRequest{Parent: fuseadapter.RootInodeID, Name: "b", Mode: 0644})
	require.NoError(t, err)

	openResp, err := fs.OpenDir(ctx, &fuseadapter.OpenDirRequest{Inode: fuseadapter.RootInodeID})
	require.NoError(t, err)

	readResp, err := fs.ReadDir(ctx, &fuseadapter.ReadDirRequest{
		Inode:  fuseadapter.RootInodeID,
		Handle: openResp.Handle,
		Offset: 0,
		Size:   4096,
	})
	require.NoError(t, err)
	require.NotEmpty(t, readResp.Data)
}

func TestCheckInvariantsCleanOnFreshDatabase(t *testing.T) {
	fs := newTestFS(t)
	ctx := context.Background()

	_, err := fs.MkDir(ctx, &fuseadapter.MkDirRequest{Parent: fuseadapter.RootInodeID, Name: "a", Mode: 0755})
	require.NoError(t, err)
	_, err = fs.CreateFile(ctx, &fuseadapter.CreateFileRequest{Parent: fuseadapter.RootInodeID, Name: "b", Mode: 0644})
	require.NoError(t, err)

	problems, err := CheckInvariants(fs.store)
	require.NoError(t, err)
	require.Empty(t, problems)
}
