package geotiff_test

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

// tiffFixture builds a classic little-endian TIFF byte by byte, so reader
// tests run against real files rather than mocks. Pixel values come from
// the sample function; coordinates outside the image pad tiles with zeros.
type tiffFixture struct {
	width, height  int
	bands          int
	bits           int // 0 defaults to 8
	rowsPerStrip   int // 0 means one strip covering the image
	noRowsPerStrip bool
	tileW, tileH   int // nonzero tileW switches to the tiled layout
	compression    uint16
	planar         bool
	predictor      bool
	sampleFormat   uint16 // 0 omits the tag
	pixelScale     []float64
	tiepoint       []float64
	transform      []float64
	sparse         map[int]bool // block index -> zero offset and count
	sample         func(band, x, y int) uint16
}

const (
	typeShort  = 3
	typeLong   = 4
	typeDouble = 12
)

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

func leU16(vs ...uint16) []byte {
	b := make([]byte, 2*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint16(b[2*i:], v)
	}
	return b
}

func leU32(vs ...uint32) []byte {
	b := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint32(b[4*i:], v)
	}
	return b
}

func leF64(vs ...float64) []byte {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(v))
	}
	return b
}

func (fx tiffFixture) build(t *testing.T) []byte {
	t.Helper()
	if fx.bits == 0 {
		fx.bits = 8
	}
	if fx.sample == nil {
		fx.sample = func(band, x, y int) uint16 { return 0 }
	}
	bytesPer := fx.bits / 8
	if bytesPer == 0 {
		bytesPer = 1
	}

	tiled := fx.tileW > 0
	blockW, blockH := fx.width, fx.rowsPerStrip
	if tiled {
		blockW, blockH = fx.tileW, fx.tileH
	}
	if blockH <= 0 || blockH > fx.height {
		blockH = fx.height
	}
	across := (fx.width + blockW - 1) / blockW
	down := (fx.height + blockH - 1) / blockH
	planes := 1
	if fx.planar {
		planes = fx.bands
	}

	var data []byte
	nblocks := across * down * planes
	offsets := make([]uint32, nblocks)
	counts := make([]uint32, nblocks)
	for p := 0; p < planes; p++ {
		for by := 0; by < down; by++ {
			for bx := 0; bx < across; bx++ {
				idx := p*across*down + by*across + bx
				if fx.sparse[idx] {
					continue
				}
				enc := fx.encode(t, fx.rawBlock(bx, by, p, blockW, blockH, tiled, bytesPer))
				offsets[idx] = uint32(8 + len(data))
				counts[idx] = uint32(len(enc))
				data = append(data, enc...)
			}
		}
	}
	if len(data)%2 == 1 {
		data = append(data, 0)
	}

	var entries []ifdEntry
	add := func(tag, typ uint16, count uint32, val []byte) {
		entries = append(entries, ifdEntry{tag, typ, count, val})
	}
	add(256, typeLong, 1, leU32(uint32(fx.width)))
	add(257, typeLong, 1, leU32(uint32(fx.height)))
	bps := make([]uint16, fx.bands)
	for i := range bps {
		bps[i] = uint16(fx.bits)
	}
	add(258, typeShort, uint32(fx.bands), leU16(bps...))
	comp := fx.compression
	if comp == 0 {
		comp = 1
	}
	add(259, typeShort, 1, leU16(comp))
	add(262, typeShort, 1, leU16(2)) // RGB
	add(277, typeShort, 1, leU16(uint16(fx.bands)))
	if tiled {
		add(322, typeShort, 1, leU16(uint16(blockW)))
		add(323, typeShort, 1, leU16(uint16(blockH)))
		add(324, typeLong, uint32(len(offsets)), leU32(offsets...))
		add(325, typeLong, uint32(len(counts)), leU32(counts...))
	} else {
		add(273, typeLong, uint32(len(offsets)), leU32(offsets...))
		if !fx.noRowsPerStrip {
			add(278, typeLong, 1, leU32(uint32(blockH)))
		}
		add(279, typeLong, uint32(len(counts)), leU32(counts...))
	}
	if fx.planar {
		add(284, typeShort, 1, leU16(2))
	}
	if fx.predictor {
		add(317, typeShort, 1, leU16(2))
	}
	if fx.bands == 4 {
		add(338, typeShort, 1, leU16(2)) // unassociated alpha
	}
	if fx.sampleFormat != 0 {
		sf := make([]uint16, fx.bands)
		for i := range sf {
			sf[i] = fx.sampleFormat
		}
		add(339, typeShort, uint32(fx.bands), leU16(sf...))
	}
	if len(fx.pixelScale) > 0 {
		add(33550, typeDouble, uint32(len(fx.pixelScale)), leF64(fx.pixelScale...))
	}
	if len(fx.tiepoint) > 0 {
		add(33922, typeDouble, uint32(len(fx.tiepoint)), leF64(fx.tiepoint...))
	}
	if len(fx.transform) > 0 {
		add(34264, typeDouble, uint32(len(fx.transform)), leF64(fx.transform...))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	ifdOff := 8 + len(data)
	overflowOff := ifdOff + 2 + 12*len(entries) + 4

	out := []byte{'I', 'I'}
	out = append(out, leU16(42)...)
	out = append(out, leU32(uint32(ifdOff))...)
	out = append(out, data...)
	out = append(out, leU16(uint16(len(entries)))...)
	var overflow []byte
	for _, e := range entries {
		out = append(out, leU16(e.tag, e.typ)...)
		out = append(out, leU32(e.count)...)
		if len(e.data) <= 4 {
			v := make([]byte, 4)
			copy(v, e.data)
			out = append(out, v...)
		} else {
			out = append(out, leU32(uint32(overflowOff+len(overflow)))...)
			overflow = append(overflow, e.data...)
		}
	}
	out = append(out, leU32(0)...) // no next IFD
	out = append(out, overflow...)
	return out
}

func (fx tiffFixture) rawBlock(bx, by, plane, blockW, blockH int, tiled bool, bytesPer int) []byte {
	rows := blockH
	if !tiled {
		if rem := fx.height - by*blockH; rem < rows {
			rows = rem
		}
	}
	samples := fx.bands
	if fx.planar {
		samples = 1
	}
	vals := make([]uint16, rows*blockW*samples)
	i := 0
	for y := 0; y < rows; y++ {
		for x := 0; x < blockW; x++ {
			gx, gy := bx*blockW+x, by*blockH+y
			for s := 0; s < samples; s++ {
				band := s
				if fx.planar {
					band = plane
				}
				if gx < fx.width && gy < fx.height {
					vals[i] = fx.sample(band, gx, gy)
				}
				i++
			}
		}
	}
	if fx.predictor {
		rowLen := blockW * samples
		for y := 0; y < rows; y++ {
			row := vals[y*rowLen : (y+1)*rowLen]
			for i := len(row) - 1; i >= samples; i-- {
				row[i] -= row[i-samples]
			}
		}
	}
	buf := make([]byte, len(vals)*bytesPer)
	for i, v := range vals {
		if bytesPer == 1 {
			buf[i] = byte(v)
		} else {
			binary.LittleEndian.PutUint16(buf[2*i:], v)
		}
	}
	return buf
}

func (fx tiffFixture) encode(t *testing.T, raw []byte) []byte {
	t.Helper()
	switch fx.compression {
	case 0, 1:
		return raw
	case 8, 32946:
		var b bytes.Buffer
		zw := zlib.NewWriter(&b)
		_, err := zw.Write(raw)
		require.NoError(t, err)
		require.NoError(t, zw.Close())
		return b.Bytes()
	case 32773:
		return packBitsEncode(raw)
	default:
		t.Fatalf("fixture: no encoder for compression %d", fx.compression)
		return nil
	}
}

// packBitsEncode emits maximal literal runs: valid PackBits, if not minimal.
func packBitsEncode(src []byte) []byte {
	var dst []byte
	for len(src) > 0 {
		n := min(len(src), 128)
		dst = append(dst, byte(n-1))
		dst = append(dst, src[:n]...)
		src = src[n:]
	}
	return dst
}

func writeFixture(t *testing.T, fx tiffFixture) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.tif")
	require.NoError(t, os.WriteFile(path, fx.build(t), 0o644))
	return path
}
