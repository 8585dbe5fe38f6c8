// Package raster holds the shared pixel-data model used by raster readers
// and the tiling engine: pixel windows, the six-parameter affine transform,
// and band-major sample buffers.
package raster

import "math"

// DataType identifies the sample depth of a raster source.
type DataType uint8

const (
	// Unknown marks sample types the pipeline does not process
	// (signed, floating point, unusual bit depths).
	Unknown DataType = iota
	// U8 is 8-bit unsigned samples.
	U8
	// U16 is 16-bit unsigned samples.
	U16
)

func (d DataType) String() string {
	switch d {
	case U8:
		return "uint8"
	case U16:
		return "uint16"
	default:
		return "unknown"
	}
}

// Bytes returns the encoded size of one sample, or 0 for Unknown.
func (d DataType) Bytes() int {
	switch d {
	case U8:
		return 1
	case U16:
		return 2
	default:
		return 0
	}
}

// Window is a rectangular pixel region in image coordinates,
// origin at the top-left corner.
type Window struct {
	X, Y          int
	Width, Height int
}

// Empty reports whether the window covers no pixels.
func (w Window) Empty() bool {
	return w.Width <= 0 || w.Height <= 0
}

// Clip intersects the window with an image of the given dimensions.
func (w Window) Clip(imageW, imageH int) Window {
	if w.X < 0 {
		w.Width += w.X
		w.X = 0
	}
	if w.Y < 0 {
		w.Height += w.Y
		w.Y = 0
	}
	if w.X+w.Width > imageW {
		w.Width = imageW - w.X
	}
	if w.Y+w.Height > imageH {
		w.Height = imageH - w.Y
	}
	if w.Width < 0 {
		w.Width = 0
	}
	if w.Height < 0 {
		w.Height = 0
	}
	return w
}

// Transform is the affine transform mapping pixel space to georeferenced
// space:
//
//	x = C + A*col + B*row
//	y = F + D*col + E*row
//
// For a north-up raster B and D are zero and E is negative. The zero value
// means the source carries no georeferencing.
type Transform struct {
	A, B, C float64
	D, E, F float64
}

// PixelWidth returns the horizontal resolution in map units per pixel.
func (t Transform) PixelWidth() float64 {
	return math.Abs(t.A)
}

// PixelHeight returns the vertical resolution in map units per pixel.
func (t Transform) PixelHeight() float64 {
	return math.Abs(t.E)
}

// Apply evaluates the transform at fractional pixel coordinates.
func (t Transform) Apply(col, row float64) (x, y float64) {
	x = t.C + t.A*col + t.B*row
	y = t.F + t.D*col + t.E*row
	return x, y
}

// Metadata describes an open raster source.
type Metadata struct {
	Width, Height int
	Bands         int
	DataType      DataType
	Transform     Transform
}

// BandData holds the pixels of a windowed read, one plane per band,
// row-major within a plane. Samples are widened to uint16 so 8- and 16-bit
// sources share one code path; Depth records the source depth.
type BandData struct {
	Width, Height int
	Bands         int
	Depth         DataType
	Planes        [][]uint16
}

// NewBandData allocates zeroed planes for the given shape.
func NewBandData(bands, width, height int, depth DataType) *BandData {
	planes := make([][]uint16, bands)
	for i := range planes {
		planes[i] = make([]uint16, width*height)
	}
	return &BandData{
		Width:  width,
		Height: height,
		Bands:  bands,
		Depth:  depth,
		Planes: planes,
	}
}

// PlaneAllZero reports whether every sample in band i is zero.
func (b *BandData) PlaneAllZero(i int) bool {
	for _, v := range b.Planes[i] {
		if v != 0 {
			return false
		}
	}
	return true
}

// AllZero reports whether every sample in every band is zero.
func (b *BandData) AllZero() bool {
	for i := range b.Planes {
		if !b.PlaneAllZero(i) {
			return false
		}
	}
	return true
}

// Image is an interleaved pixel buffer ready for encoding.
type Image struct {
	Width, Height int
	Channels      int
	Depth         DataType
	Pix           []uint16
}

// Interleave converts the band-major planes to a channel-interleaved image.
// When swapRB is set and the data has at least three bands, channels 0 and 2
// trade places; channels beyond the first three are never reordered.
func (b *BandData) Interleave(swapRB bool) *Image {
	img := &Image{
		Width:    b.Width,
		Height:   b.Height,
		Channels: b.Bands,
		Depth:    b.Depth,
		Pix:      make([]uint16, b.Width*b.Height*b.Bands),
	}
	for c := 0; c < b.Bands; c++ {
		src := c
		if swapRB && b.Bands >= 3 {
			switch c {
			case 0:
				src = 2
			case 2:
				src = 0
			}
		}
		plane := b.Planes[src]
		for i, v := range plane {
			img.Pix[i*b.Bands+c] = v
		}
	}
	return img
}
