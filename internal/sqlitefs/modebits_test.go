package sqlitefs

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChmodRawPreservesTypeBits(t *testing.T) {
	raw := newRawMode(modeDir, 0755)
	raw = chmodRaw(raw, 0700)

	require.True(t, isDirRaw(raw))
	require.Equal(t, os.FileMode(0700), modeToFileMode(raw).Perm())
}

func TestModeToFileModeRoundTrip(t *testing.T) {
	for _, rawType := range []uint32{modeDir, modeRegular, modeSymlink} {
		raw := newRawMode(rawType, 0644)
		got := modeToFileMode(raw)
		require.Equal(t, rawType, fileModeToRawType(got))
	}
}
