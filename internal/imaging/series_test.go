package imaging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSPIMCore/internal/acquisition"
	"github.com/KevinKickass/OpenSPIMCore/internal/hardware"
)

func frame(w, h int, base uint16) hardware.Frame {
	px := make([]uint16, w*h)
	for i := range px {
		px[i] = base + uint16(i)
	}
	return hardware.Frame{Width: w, Height: h, Pixels: px, Timestamp: time.Unix(0, 0)}
}

func TestWriteStackHeader(t *testing.T) {
	entry := acquisition.NewEntry()
	entry.Laser = "561 nm"

	var buf bytes.Buffer
	frames := []hardware.Frame{frame(4, 3, 0), frame(4, 3, 100)}
	require.NoError(t, WriteStack(&buf, entry, frames))

	f, err := fitsio.Open(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	hdr := f.HDU(0).Header()
	assert.Equal(t, []int{4, 3, 2}, hdr.Axes())
	assert.Equal(t, 16, hdr.Bitpix())

	card := hdr.Get("LASER")
	require.NotNil(t, card)
	laser, ok := card.Value.(string)
	require.True(t, ok)
	assert.Equal(t, "561 nm", strings.TrimSpace(laser))
}

func TestWriteStackRejectsMismatch(t *testing.T) {
	var buf bytes.Buffer
	err := WriteStack(&buf, acquisition.NewEntry(), []hardware.Frame{frame(4, 3, 0), frame(3, 3, 0)})
	assert.ErrorIs(t, err, ErrFrameMismatch)

	assert.ErrorIs(t, WriteStack(&buf, acquisition.NewEntry(), nil), ErrNoSeries)
}

func TestWriterSavesNamedEntries(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, zap.NewNop())

	entry := acquisition.NewEntry()
	entry.Filename = "stack.fits"
	require.NoError(t, w.Prepare(entry))
	require.NoError(t, w.Add(frame(2, 2, 0)))
	require.NoError(t, w.Add(frame(2, 2, 4)))
	assert.ErrorIs(t, w.Add(frame(3, 2, 0)), ErrFrameMismatch)
	require.NoError(t, w.End())

	info, err := os.Stat(filepath.Join(dir, "stack.fits"))
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestWriterSkipsUnnamedEntries(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, zap.NewNop())

	require.NoError(t, w.Prepare(acquisition.NewEntry()))
	require.NoError(t, w.Add(frame(2, 2, 0)))
	require.NoError(t, w.End())

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestWriterStaysInOutputDir(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "out")
	w := NewWriter(out, zap.NewNop())

	for _, name := range []string{"../escaped.fits", "/tmp/abs.fits", "sub/stack.fits", ".."} {
		entry := acquisition.NewEntry()
		entry.Filename = name
		assert.ErrorIs(t, w.Prepare(entry), ErrOutsideDir, name)

		// nothing is collected for a rejected entry
		require.NoError(t, w.Add(frame(2, 2, 0)))
		require.NoError(t, w.End())
	}

	_, err := os.Stat(filepath.Join(root, "escaped.fits"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(out)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
