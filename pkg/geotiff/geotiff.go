// Package geotiff reads the subset of TIFF 6.0 / GeoTIFF that orthophoto
// pipelines produce: stripped or tiled layouts, chunky or planar sample
// organization, 8- or 16-bit unsigned samples, and None, LZW, Deflate or
// PackBits compression. Reads are windowed, touching only the blocks a
// window intersects, so memory stays bounded by one block regardless of
// source size.
//
// Georeferencing is taken from the ModelTransformation tag when present,
// else from ModelPixelScale plus ModelTiepoint. A source carrying neither
// yields a zero transform, which callers treat as "no resolution".
package geotiff

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"

	"github.com/orthotools/tilecut/pkg/raster"
)

// NewSubfileType bits marking directories we do not tile.
const (
	subfileReducedImage = 0x1
	subfileMask         = 0x4
)

// ifdData receives the tags of one image directory. Missing tags keep
// their zero value.
type ifdData struct {
	SubfileType         uint32    `tiff:"field,tag=254"`
	ImageWidth          uint64    `tiff:"field,tag=256"`
	ImageLength         uint64    `tiff:"field,tag=257"`
	BitsPerSample       []uint16  `tiff:"field,tag=258"`
	Compression         uint16    `tiff:"field,tag=259"`
	Photometric         uint16    `tiff:"field,tag=262"`
	StripOffsets        []uint64  `tiff:"field,tag=273"`
	SamplesPerPixel     uint16    `tiff:"field,tag=277"`
	RowsPerStrip        uint64    `tiff:"field,tag=278"`
	StripByteCounts     []uint64  `tiff:"field,tag=279"`
	PlanarConfiguration uint16    `tiff:"field,tag=284"`
	Predictor           uint16    `tiff:"field,tag=317"`
	TileWidth           uint16    `tiff:"field,tag=322"`
	TileLength          uint16    `tiff:"field,tag=323"`
	TileOffsets         []uint64  `tiff:"field,tag=324"`
	TileByteCounts      []uint64  `tiff:"field,tag=325"`
	SampleFormat        []uint16  `tiff:"field,tag=339"`
	ModelPixelScale     []float64 `tiff:"field,tag=33550"`
	ModelTiepoint       []float64 `tiff:"field,tag=33922"`
	ModelTransformation []float64 `tiff:"field,tag=34264"`
}

// Reader provides windowed access to one GeoTIFF image. It keeps the file
// handle open until Close.
type Reader struct {
	f     *os.File
	br    tiff.BReader
	order binary.ByteOrder
	meta  raster.Metadata

	tiled       bool
	blockW      int // strips: image width
	blockH      int // strips: rows per strip
	across      int // blocks per block-row (strips: 1)
	down        int // block-rows per plane
	planar      bool
	predictor   uint16
	compression uint16
	offsets     []uint64
	counts      []uint64
}

// Open parses the TIFF structure of the file at path and prepares windowed
// reads on its first full-resolution image directory. Sources with sample
// types outside 8/16-bit unsigned still open, so their metadata can be
// reported, but reads on them fail with ErrUnsupportedDataType.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geotiff: %w", err)
	}
	tif, err := tiff.Parse(f, nil, nil)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("geotiff: parse %s: %w", path, err)
	}
	var d ifdData
	found := false
	for _, ifd := range tif.IFDs() {
		var cand ifdData
		if err := tiff.UnmarshalIFD(ifd, &cand); err != nil {
			f.Close()
			return nil, fmt.Errorf("geotiff: read image directory of %s: %w", path, err)
		}
		if cand.SubfileType&(subfileReducedImage|subfileMask) != 0 {
			continue
		}
		d = cand
		found = true
		break
	}
	if !found {
		f.Close()
		return nil, fmt.Errorf("geotiff: %s has no full-resolution image directory", path)
	}
	r := &Reader{f: f, br: tif.R()}
	r.order = r.br.ByteOrder()
	if err := r.init(&d); err != nil {
		f.Close()
		return nil, err
	}
	slog.Debug("opened geotiff",
		"path", path,
		"width", r.meta.Width,
		"height", r.meta.Height,
		"bands", r.meta.Bands,
		"type", r.meta.DataType.String(),
		"tiled", r.tiled,
		"planar", r.planar,
		"compression", r.compression,
	)
	return r, nil
}

func (r *Reader) init(d *ifdData) error {
	w, h := int(d.ImageWidth), int(d.ImageLength)
	if w <= 0 || h <= 0 {
		return fmt.Errorf("geotiff: bad image dimensions %dx%d", w, h)
	}
	bands := int(d.SamplesPerPixel)
	if bands == 0 {
		bands = len(d.BitsPerSample)
		if bands == 0 {
			bands = 1
		}
	}
	r.meta = raster.Metadata{
		Width:     w,
		Height:    h,
		Bands:     bands,
		DataType:  dataTypeOf(d.BitsPerSample, d.SampleFormat),
		Transform: transformOf(d),
	}
	r.compression = d.Compression
	if r.compression == 0 {
		r.compression = compNone
	}
	r.predictor = d.Predictor
	r.planar = d.PlanarConfiguration == 2

	r.tiled = d.TileWidth > 0
	if r.tiled {
		if d.TileLength == 0 {
			return errors.New("geotiff: tiled image missing tile length")
		}
		r.blockW, r.blockH = int(d.TileWidth), int(d.TileLength)
		r.offsets, r.counts = d.TileOffsets, d.TileByteCounts
	} else {
		rps := int(d.RowsPerStrip)
		if rps <= 0 || rps > h {
			rps = h
		}
		r.blockW, r.blockH = w, rps
		r.offsets, r.counts = d.StripOffsets, d.StripByteCounts
	}
	r.across = (w + r.blockW - 1) / r.blockW
	r.down = (h + r.blockH - 1) / r.blockH

	planes := 1
	if r.planar {
		planes = bands
	}
	want := r.across * r.down * planes
	if len(r.offsets) != want || len(r.counts) != want {
		return fmt.Errorf("geotiff: block table mismatch: %d offsets and %d byte counts for %d blocks",
			len(r.offsets), len(r.counts), want)
	}
	return nil
}

// Metadata returns the dimensions, band count, sample type and affine
// transform of the open image.
func (r *Reader) Metadata() raster.Metadata {
	return r.meta
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.f.Close()
}

func dataTypeOf(bits, formats []uint16) raster.DataType {
	if len(bits) == 0 {
		return raster.Unknown
	}
	for _, b := range bits {
		if b != bits[0] {
			return raster.Unknown
		}
	}
	for _, f := range formats {
		if f != 1 { // 1 = unsigned integer
			return raster.Unknown
		}
	}
	switch bits[0] {
	case 8:
		return raster.U8
	case 16:
		return raster.U16
	}
	return raster.Unknown
}

func transformOf(d *ifdData) raster.Transform {
	if m := d.ModelTransformation; len(m) >= 8 {
		return raster.Transform{A: m[0], B: m[1], C: m[3], D: m[4], E: m[5], F: m[7]}
	}
	if s := d.ModelPixelScale; len(s) >= 2 {
		// North-up convention: the vertical scale is stored positive.
		t := raster.Transform{A: s[0], E: -s[1]}
		if p := d.ModelTiepoint; len(p) >= 6 {
			t.C = p[3] - p[0]*t.A
			t.F = p[4] - p[1]*t.E
		}
		return t
	}
	return raster.Transform{}
}
