// Package imaging stores the planes of one acquisition entry as a FITS cube.
package imaging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/astrogo/fitsio"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSPIMCore/internal/acquisition"
	"github.com/KevinKickass/OpenSPIMCore/internal/hardware"
)

var (
	ErrNoSeries      = errors.New("no image series prepared")
	ErrFrameMismatch = errors.New("frame size differs from series")
	ErrOutsideDir    = errors.New("series path outside output directory")
)

// Writer collects the planes of an entry and writes them when the entry ends.
// Entries without a filename are not saved.
type Writer struct {
	dir    string
	logger *zap.Logger

	mu     sync.Mutex
	series *Series
}

// Series is the in-memory stack of one entry.
type Series struct {
	Path   string
	Entry  acquisition.Entry
	Frames []hardware.Frame
}

func NewWriter(dir string, logger *zap.Logger) *Writer {
	return &Writer{dir: dir, logger: logger}
}

// Prepare starts a new series for entry. The file must land directly in the
// output directory.
func (w *Writer) Prepare(entry acquisition.Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.series = nil
	if entry.Filename == "" || w.dir == "" {
		return nil
	}
	if err := acquisition.CheckFilename(entry.Filename); err != nil {
		return fmt.Errorf("%w: %v", ErrOutsideDir, err)
	}
	w.series = &Series{
		Path:   filepath.Join(w.dir, entry.Filename),
		Entry:  entry,
		Frames: make([]hardware.Frame, 0, entry.ImageCount()),
	}
	return nil
}

func (w *Writer) Add(f hardware.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.series == nil {
		return nil
	}
	if n := len(w.series.Frames); n > 0 {
		first := w.series.Frames[0]
		if first.Width != f.Width || first.Height != f.Height {
			return fmt.Errorf("%w: %dx%d vs %dx%d", ErrFrameMismatch, f.Width, f.Height, first.Width, first.Height)
		}
	}
	w.series.Frames = append(w.series.Frames, f)
	return nil
}

// End writes the series, if any, and resets the writer.
func (w *Writer) End() error {
	w.mu.Lock()
	s := w.series
	w.series = nil
	w.mu.Unlock()

	if s == nil || len(s.Frames) == 0 {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	file, err := os.Create(s.Path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", s.Path, err)
	}
	defer file.Close()

	if err := WriteStack(file, s.Entry, s.Frames); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.Path, err)
	}

	w.logger.Info("Image series saved",
		zap.String("path", s.Path),
		zap.Int("planes", len(s.Frames)))
	return nil
}

// Discard drops the current series without writing it.
func (w *Writer) Discard() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.series = nil
}

// WriteStack streams frames as a 16-bit FITS cube. Unsigned pixels are stored
// with the usual BZERO=32768 offset.
func WriteStack(out io.Writer, entry acquisition.Entry, frames []hardware.Frame) error {
	if len(frames) == 0 {
		return ErrNoSeries
	}

	width, height := frames[0].Width, frames[0].Height
	dims := []int{width, height, len(frames)}

	f, err := fitsio.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()

	im := fitsio.NewImage(16, dims)
	defer im.Close()

	cards := []fitsio.Card{
		{Name: "BZERO", Value: 32768},
		{Name: "BSCALE", Value: 1.0},
		{Name: "XPOS", Value: entry.XPos},
		{Name: "YPOS", Value: entry.YPos},
		{Name: "ZSTART", Value: entry.ZStart},
		{Name: "ZEND", Value: entry.ZEnd},
		{Name: "ZSTEP", Value: entry.ZStep},
		{Name: "ROT", Value: entry.Rot},
		{Name: "FPOS", Value: entry.FPos},
		{Name: "LASER", Value: entry.Laser},
		{Name: "INTENS", Value: entry.Intensity},
		{Name: "FILTER", Value: entry.Filter},
		{Name: "ZOOM", Value: entry.Zoom},
		{Name: "SHUTTER", Value: entry.Shutter},
		{Name: "DATE-OBS", Value: frames[0].Timestamp.UTC().Format(time.RFC3339)},
	}
	if err := im.Header().Append(cards...); err != nil {
		return err
	}

	ints := make([]int16, 0, width*height*len(frames))
	for i, fr := range frames {
		if fr.Width != width || fr.Height != height || len(fr.Pixels) != width*height {
			return fmt.Errorf("%w: plane %d", ErrFrameMismatch, i)
		}
		for _, px := range fr.Pixels {
			ints = append(ints, int16(int32(px)-32768))
		}
	}

	if err := im.Write(ints); err != nil {
		return err
	}
	return f.Write(im)
}
