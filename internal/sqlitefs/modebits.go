package sqlitefs

import "os"

// Raw POSIX mode bits, stored bit-exact in paths.mode so the on-disk format
// matches what a native implementation of this schema would write.
const (
	modeTypeMask = 0170000
	modeDir      = 0040000
	modeRegular  = 0100000
	modeSymlink  = 0120000
	modePermMask = 0007777
)

// modeToFileMode converts a raw stored mode into the os.FileMode bits the
// fuse adapter and Go tooling expect.
func modeToFileMode(raw uint32) os.FileMode {
	perm := os.FileMode(raw & modePermMask)
	switch raw & modeTypeMask {
	case modeDir:
		return perm | os.ModeDir
	case modeSymlink:
		return perm | os.ModeSymlink
	default:
		return perm
	}
}

// fileModeToRawType returns the raw type bits corresponding to m, ignoring
// permission bits.
func fileModeToRawType(m os.FileMode) uint32 {
	switch {
	case m&os.ModeDir != 0:
		return modeDir
	case m&os.ModeSymlink != 0:
		return modeSymlink
	default:
		return modeRegular
	}
}

// newRawMode builds a raw stored mode from a type and POSIX permission bits.
func newRawMode(rawType uint32, perm os.FileMode) uint32 {
	return rawType | (uint32(perm) & modePermMask)
}

// chmodRaw replaces the permission bits of raw while preserving its type
// bits. This is the corrected chmod semantics: the naive implementation
// ORs the new bits in instead of replacing, so permissions can only ever
// gain bits and chmod(..., 0) is a no-op.
func chmodRaw(raw uint32, newPerm os.FileMode) uint32 {
	return (raw & modeTypeMask) | (uint32(newPerm) & modePermMask)
}

func isDirRaw(raw uint32) bool {
	return raw&modeTypeMask == modeDir
}

func isSymlinkRaw(raw uint32) bool {
	return raw&modeTypeMask == modeSymlink
}
