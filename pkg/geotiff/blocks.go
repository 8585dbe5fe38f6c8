package geotiff

import (
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/image/tiff/lzw"

	"github.com/orthotools/tilecut/pkg/raster"
)

// TIFF compression schemes handled by ReadWindow.
const (
	compNone       = 1
	compLZW        = 5
	compDeflate    = 8
	compPackBits   = 32773
	compDeflateOld = 32946
)

// ErrUnsupportedDataType marks reads on sources whose samples are not
// 8- or 16-bit unsigned integers.
var ErrUnsupportedDataType = errors.New("geotiff: unsupported sample type")

// ReadWindow reads the pixels of win into band-major planes, decoding only
// the blocks the window intersects. The window is clipped to the image
// bounds first; a window entirely outside them is an error.
func (r *Reader) ReadWindow(win raster.Window) (*raster.BandData, error) {
	if r.meta.DataType == raster.Unknown {
		return nil, fmt.Errorf("%w (want 8- or 16-bit unsigned samples)", ErrUnsupportedDataType)
	}
	win = win.Clip(r.meta.Width, r.meta.Height)
	if win.Empty() {
		return nil, errors.New("geotiff: window outside image bounds")
	}

	bd := raster.NewBandData(r.meta.Bands, win.Width, win.Height, r.meta.DataType)
	bytesPer := r.meta.DataType.Bytes()
	samples := r.meta.Bands // samples per pixel within one block
	planes := 1
	if r.planar {
		samples = 1
		planes = r.meta.Bands
	}

	bx0, bx1 := win.X/r.blockW, (win.X+win.Width-1)/r.blockW
	by0, by1 := win.Y/r.blockH, (win.Y+win.Height-1)/r.blockH
	for p := 0; p < planes; p++ {
		for by := by0; by <= by1; by++ {
			// Tile blocks are padded to full size; the last strip is not.
			rows := r.blockH
			if !r.tiled {
				if rem := r.meta.Height - by*r.blockH; rem < rows {
					rows = rem
				}
			}
			for bx := bx0; bx <= bx1; bx++ {
				idx := p*r.across*r.down + by*r.across + bx
				if r.counts[idx] == 0 { // sparse block, all zero
					continue
				}
				expected := rows * r.blockW * samples * bytesPer
				buf, err := r.readBlock(idx, expected)
				if err != nil {
					return nil, fmt.Errorf("geotiff: block (%d,%d) plane %d: %w", bx, by, p, err)
				}
				if r.predictor == 2 {
					undoHorizontalPredictor(buf, rows, r.blockW, samples, bytesPer, r.order)
				}
				r.copyBlock(bd, win, buf, bx, by, p, samples, bytesPer)
			}
		}
	}
	return bd, nil
}

// readBlock returns the decompressed bytes of block idx, expected long.
// Short tile blocks are zero-padded; short strips are an error.
func (r *Reader) readBlock(idx, expected int) ([]byte, error) {
	off, n := int64(r.offsets[idx]), int64(r.counts[idx])
	switch r.compression {
	case compNone:
		if n > int64(expected) {
			n = int64(expected)
		}
		buf := make([]byte, expected)
		if _, err := r.br.ReadAt(buf[:n], off); err != nil {
			return nil, err
		}
		return buf, nil
	case compLZW:
		lr := lzw.NewReader(io.NewSectionReader(r.br, off, n), lzw.MSB, 8)
		defer lr.Close()
		return readFull(lr, expected, r.tiled)
	case compDeflate, compDeflateOld:
		zr, err := zlib.NewReader(io.NewSectionReader(r.br, off, n))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return readFull(zr, expected, r.tiled)
	case compPackBits:
		raw := make([]byte, n)
		if _, err := r.br.ReadAt(raw, off); err != nil {
			return nil, err
		}
		return unpackBits(raw, expected)
	default:
		return nil, fmt.Errorf("unsupported compression %d", r.compression)
	}
}

func readFull(src io.Reader, expected int, padOK bool) ([]byte, error) {
	buf := make([]byte, expected)
	n, err := io.ReadFull(src, buf)
	switch {
	case err == nil:
	case errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF):
		if !padOK {
			return nil, fmt.Errorf("short block: %d of %d bytes", n, expected)
		}
	default:
		return nil, err
	}
	return buf, nil
}

// unpackBits decodes PackBits run-length data: a signed header byte n
// means copy n+1 literal bytes when n >= 0, repeat the next byte -n+1
// times when n < 0, and do nothing when n == -128.
func unpackBits(src []byte, expected int) ([]byte, error) {
	dst := make([]byte, 0, expected)
	i := 0
	for i < len(src) && len(dst) < expected {
		h := int8(src[i])
		i++
		switch {
		case h == -128:
		case h >= 0:
			n := int(h) + 1
			if i+n > len(src) {
				return nil, errors.New("packbits: truncated literal run")
			}
			dst = append(dst, src[i:i+n]...)
			i += n
		default:
			if i >= len(src) {
				return nil, errors.New("packbits: truncated replicate run")
			}
			n := -int(h) + 1
			for j := 0; j < n; j++ {
				dst = append(dst, src[i])
			}
			i++
		}
	}
	if len(dst) < expected {
		return nil, fmt.Errorf("packbits: short block: %d of %d bytes", len(dst), expected)
	}
	return dst[:expected], nil
}

// undoHorizontalPredictor reverses TIFF predictor 2 in place: each sample
// was stored as the difference from the sample one pixel to its left.
func undoHorizontalPredictor(buf []byte, rows, cols, samples, bytesPer int, order binary.ByteOrder) {
	rowBytes := cols * samples * bytesPer
	for y := 0; y < rows; y++ {
		row := buf[y*rowBytes : (y+1)*rowBytes]
		switch bytesPer {
		case 1:
			for i := samples; i < len(row); i++ {
				row[i] += row[i-samples]
			}
		case 2:
			stride := samples * 2
			for i := stride; i+1 < len(row); i += 2 {
				order.PutUint16(row[i:], order.Uint16(row[i:])+order.Uint16(row[i-stride:]))
			}
		}
	}
}

func (r *Reader) copyBlock(bd *raster.BandData, win raster.Window, buf []byte, bx, by, plane, samples, bytesPer int) {
	ox, oy := bx*r.blockW, by*r.blockH // block origin in image coordinates
	gx0 := max(win.X, ox)
	gy0 := max(win.Y, oy)
	gx1 := min(win.X+win.Width, ox+r.blockW)
	gy1 := min(win.Y+win.Height, oy+r.blockH)
	rowStride := r.blockW * samples * bytesPer
	pixStride := samples * bytesPer
	for gy := gy0; gy < gy1; gy++ {
		src := (gy-oy)*rowStride + (gx0-ox)*pixStride
		dst := (gy-win.Y)*win.Width + (gx0 - win.X)
		for gx := gx0; gx < gx1; gx++ {
			for s := 0; s < samples; s++ {
				var v uint16
				if bytesPer == 1 {
					v = uint16(buf[src+s])
				} else {
					v = r.order.Uint16(buf[src+2*s:])
				}
				band := s
				if r.planar {
					band = plane
				}
				bd.Planes[band][dst] = v
			}
			src += pixStride
			dst++
		}
	}
}
