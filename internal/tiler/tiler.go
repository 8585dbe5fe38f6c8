// Package tiler cuts a georeferenced raster into square PNG tiles of a
// fixed physical size. The tile edge is given in the raster's map units
// and converted to pixels through the source's affine transform; tiles
// that are entirely empty are skipped, edge tiles are clipped.
package tiler

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/fatih/color"

	"github.com/orthotools/tilecut/pkg/raster"
)

var (
	// ErrSourceNotFound is returned when the input path does not name an
	// existing regular file. It is raised before any raster I/O.
	ErrSourceNotFound = errors.New("tiler: source image not found")
	// ErrInvalidResolution is returned when the source's affine transform
	// yields a zero horizontal or vertical resolution.
	ErrInvalidResolution = errors.New("tiler: invalid source resolution")
)

// RasterReader is the windowed view of an open raster source the engine
// needs. *geotiff.Reader satisfies it in production.
type RasterReader interface {
	Metadata() raster.Metadata
	ReadWindow(win raster.Window) (*raster.BandData, error)
	Close() error
}

// OpenFunc opens a raster source for tiling.
type OpenFunc func(path string) (RasterReader, error)

// ImageWriter persists one interleaved tile image.
type ImageWriter interface {
	Write(path string, img *raster.Image) error
}

// Options control one tiling run.
type Options struct {
	// TileSize is the tile edge length in map units. Must be positive.
	TileSize float64
	// OutDir receives the tiles; it is created if absent.
	OutDir string
	// Project prefixes every output filename.
	Project string
	// SwapRB4 exchanges channels 0 and 2 of 4-band sources. This is the
	// historical output format and the production default.
	SwapRB4 bool
	// SwapRB3 exchanges channels 0 and 2 of 3-band sources. Historically
	// 3-band output kept the source order, so this defaults to off.
	SwapRB3 bool
	// WorldFiles writes a .pgw sidecar next to every tile.
	WorldFiles bool
}

// Tiler runs the split. Progress text goes to out; diagnostics go to slog.
type Tiler struct {
	opts   Options
	open   OpenFunc
	writer ImageWriter
	out    io.Writer
}

// New builds a Tiler. A nil out defaults to os.Stdout.
func New(opts Options, open OpenFunc, writer ImageWriter, out io.Writer) *Tiler {
	if out == nil {
		out = os.Stdout
	}
	return &Tiler{opts: opts, open: open, writer: writer, out: out}
}

// Split cuts the raster at path into tiles per the Tiler's options.
// The source must exist before any raster I/O happens; the output
// directory is created (with a warning) before the source is opened,
// matching the historical behavior.
func (t *Tiler) Split(path string) error {
	fmt.Fprintf(t.out, "Tiling %s into %g x %g map-unit tiles\n", path, t.opts.TileSize, t.opts.TileSize)
	if t.opts.TileSize <= 0 {
		return fmt.Errorf("tiler: tile size must be positive, got %g", t.opts.TileSize)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSourceNotFound, path)
		}
		return fmt.Errorf("tiler: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrSourceNotFound, path)
	}
	if err := t.ensureOutDir(); err != nil {
		return err
	}
	src, err := t.open(path)
	if err != nil {
		return fmt.Errorf("tiler: open %s: %w", path, err)
	}
	defer src.Close()
	return t.run(src)
}

func (t *Tiler) ensureOutDir() error {
	if _, err := os.Stat(t.opts.OutDir); errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(t.out, color.YellowString("Warning: save directory does not exist and will be created."))
		if err := os.MkdirAll(t.opts.OutDir, 0o755); err != nil {
			return fmt.Errorf("tiler: create save directory: %w", err)
		}
	}
	return nil
}

func (t *Tiler) run(src RasterReader) error {
	meta := src.Metadata()
	pw, ph := meta.Transform.PixelWidth(), meta.Transform.PixelHeight()
	if pw == 0 || ph == 0 {
		return fmt.Errorf("%w: horizontal %g, vertical %g map units/pixel", ErrInvalidResolution, pw, ph)
	}
	tilePx := int(math.Ceil(t.opts.TileSize / pw))
	grid := NewGrid(meta.Width, meta.Height, tilePx)
	t.printMetadata(meta, pw, ph, grid.TilePx)
	slog.Debug("tile grid computed",
		"tile_px", grid.TilePx, "cols", grid.Cols, "rows", grid.Rows)
	fmt.Fprintf(t.out, "Creating %d tiles (%d x %d).\n", grid.Tiles(), grid.Cols, grid.Rows)

	// The index advances for skipped tiles too, so the file sequence may
	// have gaps but a given index always names the same grid cell.
	index := 0
	for row := 0; row < grid.Rows; row++ {
		for col := 0; col < grid.Cols; col++ {
			if err := t.tile(src, meta, grid.Window(col, row), index); err != nil {
				return err
			}
			index++
		}
	}
	fmt.Fprintln(t.out, "Done.")
	return nil
}

func (t *Tiler) printMetadata(meta raster.Metadata, pw, ph float64, tilePx int) {
	fmt.Fprintln(t.out, "=== Source metadata ===")
	fmt.Fprintf(t.out, "  Size:        %d x %d pixels\n", meta.Width, meta.Height)
	fmt.Fprintf(t.out, "  Bands:       %d\n", meta.Bands)
	fmt.Fprintf(t.out, "  Pixel size:  %.6f x %.6f map units\n", pw, ph)
	fmt.Fprintf(t.out, "  Tile size:   %g map units = %d pixels\n", t.opts.TileSize, tilePx)
	fmt.Fprintf(t.out, "  Data type:   %s\n", meta.DataType)
	fmt.Fprintln(t.out, "=======================")
}

func (t *Tiler) tile(src RasterReader, meta raster.Metadata, win raster.Window, index int) error {
	switch meta.Bands {
	case 4:
		data, err := src.ReadWindow(win)
		if err != nil {
			return fmt.Errorf("tiler: read tile %d: %w", index, err)
		}
		if data.PlaneAllZero(3) {
			fmt.Fprintf(t.out, "Tile %d empty (alpha=0), skipping.\n", index)
			return nil
		}
		return t.write(index, win, meta.Transform, data.Interleave(t.opts.SwapRB4))
	case 3:
		data, err := src.ReadWindow(win)
		if err != nil {
			return fmt.Errorf("tiler: read tile %d: %w", index, err)
		}
		if data.AllZero() {
			fmt.Fprintf(t.out, "Tile %d empty, skipping.\n", index)
			return nil
		}
		return t.write(index, win, meta.Transform, data.Interleave(t.opts.SwapRB3))
	default:
		fmt.Fprintf(t.out, "Tile %d has %d bands, not supported, skipping.\n", index, meta.Bands)
		return nil
	}
}

func (t *Tiler) write(index int, win raster.Window, tr raster.Transform, img *raster.Image) error {
	path := filepath.Join(t.opts.OutDir, fmt.Sprintf("%s_tile_%d.png", t.opts.Project, index))
	if err := t.writer.Write(path, img); err != nil {
		return fmt.Errorf("tiler: write tile %d: %w", index, err)
	}
	if t.opts.WorldFiles {
		if err := t.writeWorldFile(path, tr, win); err != nil {
			return fmt.Errorf("tiler: world file for tile %d: %w", index, err)
		}
	}
	fmt.Fprintf(t.out, "Tile %d saved to %s\n", index, path)
	return nil
}
